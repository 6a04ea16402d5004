package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"pos/internal/logx"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const maxAttempts = 5

var ErrRetryLimitExceeded = errors.New("transaction retry limit exceeded")

type TxRunner interface {
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
}

type SQLXTxRunner struct {
	db *sqlx.DB
}

func NewTxRunner(db *sqlx.DB) SQLXTxRunner {
	return SQLXTxRunner{db: db}
}

func (r SQLXTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return WithTx(ctx, r.db, fn)
}

func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// WithTx runs fn in a SERIALIZABLE transaction. The whole closure is re-run
// when Postgres reports a serialization conflict, so fn must not have side
// effects outside the transaction.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := runOnce(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			return fmt.Errorf("%w: %w", ErrRetryLimitExceeded, err)
		}
		logx.From(ctx).Warn("retrying transaction",
			zap.Int("attempt", attempt),
			zap.String("sqlstate", SQLState(err)),
		)
		if err := sleepWithBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

func runOnce(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SQLState returns the Postgres error code carried by err, or "".
func SQLState(err error) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ""
	}
	return string(pqErr.Code)
}

// IsRetryable reports serialization failures, deadlocks and the deferred
// one-active-rate exclusion check firing for two concurrent writers.
func IsRetryable(err error) bool {
	switch SQLState(err) {
	case "40001", "40P01", "23P01":
		return true
	}
	return false
}

// IsConstraintViolation reports CHECK failures, the immutability trigger and
// values outside a column's numeric range.
func IsConstraintViolation(err error) bool {
	switch SQLState(err) {
	case "23514", "23001", "23502", "22003":
		return true
	}
	return false
}

func sleepWithBackoff(ctx context.Context, attempt int) error {
	base := 20 * time.Millisecond
	backoff := time.Duration(attempt*attempt) * base
	jitter := time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
	timer := time.NewTimer(backoff + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
