package store

import (
	"context"
	"database/sql"
)

// Execer runs statements that only report affected rows, such as
// deactivating a pair or normalizing it during repair.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Getter scans a single row. Inserts use it with RETURNING so the caller
// sees the timestamps the database assigned.
type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// DB is satisfied by both *sqlx.DB and *sqlx.Tx. Reads go through the pool;
// writes receive the transaction explicitly so they share its snapshot.
type DB interface {
	Execer
	Getter
	Selecter
}
