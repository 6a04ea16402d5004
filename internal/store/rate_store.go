package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pos/internal/db"
	"pos/internal/models"

	"github.com/shopspring/decimal"
)

// ErrConstraintViolation covers writes the ledger schema refuses: a
// non-positive rate, a mutation of an immutable column or a delete.
var ErrConstraintViolation = errors.New("constraint violation")

const DefaultHistoryLimit = 5

const rateColumns = `id, from_currency, to_currency, rate, is_active, updated_by, created_at, updated_at`

// Ordering that defines "most recent" for a pair.
const recencyOrder = `updated_at DESC, created_at DESC, id DESC`

type RateInput struct {
	Pair      models.CurrencyPair
	Rate      decimal.Decimal
	IsActive  bool
	UpdatedBy *string
}

type PairViolation struct {
	FromCurrency string `db:"from_currency" json:"from_currency"`
	ToCurrency   string `db:"to_currency" json:"to_currency"`
	ActiveCount  int    `db:"active_count" json:"active_count"`
	TotalCount   int    `db:"total_count" json:"total_count"`
	NewestActive bool   `db:"newest_active" json:"newest_active"`
}

// RateStore persists RateRecords. Write methods take the transaction they
// run in; reads go to the pool.
type RateStore struct {
	db DB
}

func NewRateStore(db DB) *RateStore {
	return &RateStore{db: db}
}

// Insert appends a record. created_at and updated_at share one clock reading.
func (s *RateStore) Insert(ctx context.Context, tx Getter, in RateInput) (models.RateRecord, error) {
	if !in.Rate.IsPositive() {
		return models.RateRecord{}, fmt.Errorf("%w: rate must be positive, got %s", ErrConstraintViolation, in.Rate)
	}
	var rec models.RateRecord
	err := tx.GetContext(ctx, &rec, `
		WITH stamp AS (SELECT clock_timestamp() AS ts)
		INSERT INTO exchange_rates (id, from_currency, to_currency, rate, is_active, updated_by, created_at, updated_at)
		SELECT gen_random_uuid()::text, $1, $2, $3, $4, $5, stamp.ts, stamp.ts
		FROM stamp
		RETURNING `+rateColumns,
		in.Pair.From, in.Pair.To, in.Rate, in.IsActive, in.UpdatedBy)
	if err != nil {
		return models.RateRecord{}, wrapErr("insert rate", err)
	}
	return rec, nil
}

// Deactivate clears the active flag on every active record of the pair and
// stamps updated_at. Running it on a pair with no active record is a no-op.
func (s *RateStore) Deactivate(ctx context.Context, tx Execer, pair models.CurrencyPair) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE exchange_rates
		SET is_active = FALSE, updated_at = clock_timestamp()
		WHERE from_currency = $1 AND to_currency = $2 AND is_active
	`, pair.From, pair.To)
	if err != nil {
		return 0, wrapErr("deactivate rates", err)
	}
	return res.RowsAffected()
}

// QueryActive returns false when the pair has never been set.
func (s *RateStore) QueryActive(ctx context.Context, pair models.CurrencyPair) (models.RateRecord, bool, error) {
	var rec models.RateRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT `+rateColumns+`
		FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2 AND is_active
		ORDER BY `+recencyOrder+`
		LIMIT 1
	`, pair.From, pair.To)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RateRecord{}, false, nil
		}
		return models.RateRecord{}, false, wrapErr("query active rate", err)
	}
	return rec, true, nil
}

// QueryHistory returns up to limit records of the pair, most recent first,
// active or not.
func (s *RateStore) QueryHistory(ctx context.Context, pair models.CurrencyPair, limit int) ([]models.RateRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	records := []models.RateRecord{}
	err := s.db.SelectContext(ctx, &records, `
		SELECT `+rateColumns+`
		FROM exchange_rates
		WHERE from_currency = $1 AND to_currency = $2
		ORDER BY `+recencyOrder+`
		LIMIT $3
	`, pair.From, pair.To, limit)
	if err != nil {
		return nil, wrapErr("query rate history", err)
	}
	return records, nil
}

// Normalize makes the most recent record of the pair the only active one in a
// single statement. Only is_active is touched, so a second run changes
// nothing. Returns the number of rows whose flag flipped.
func (s *RateStore) Normalize(ctx context.Context, tx Execer, pair models.CurrencyPair) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE exchange_rates AS r
		SET is_active = (ranked.rn = 1)
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY `+recencyOrder+`) AS rn
			FROM exchange_rates
			WHERE from_currency = $1 AND to_currency = $2
		) AS ranked
		WHERE r.id = ranked.id
		  AND r.is_active IS DISTINCT FROM (ranked.rn = 1)
	`, pair.From, pair.To)
	if err != nil {
		return 0, wrapErr("normalize rates", err)
	}
	return res.RowsAffected()
}

// NormalizeAll is Normalize over every pair at once.
func (s *RateStore) NormalizeAll(ctx context.Context, tx Execer) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE exchange_rates AS r
		SET is_active = (ranked.rn = 1)
		FROM (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY from_currency, to_currency
				ORDER BY `+recencyOrder+`
			) AS rn
			FROM exchange_rates
		) AS ranked
		WHERE r.id = ranked.id
		  AND r.is_active IS DISTINCT FROM (ranked.rn = 1)
	`)
	if err != nil {
		return 0, wrapErr("normalize all rates", err)
	}
	return res.RowsAffected()
}

// ListActive returns the active record of every pair.
func (s *RateStore) ListActive(ctx context.Context) ([]models.RateRecord, error) {
	records := []models.RateRecord{}
	err := s.db.SelectContext(ctx, &records, `
		SELECT `+rateColumns+`
		FROM exchange_rates
		WHERE is_active
		ORDER BY from_currency, to_currency, `+recencyOrder)
	if err != nil {
		return nil, wrapErr("list active rates", err)
	}
	return records, nil
}

// ListViolations reports pairs that do not have exactly one active record, or
// whose active record is not the most recent one.
func (s *RateStore) ListViolations(ctx context.Context) ([]PairViolation, error) {
	violations := []PairViolation{}
	err := s.db.SelectContext(ctx, &violations, `
		SELECT from_currency,
		       to_currency,
		       COUNT(*) FILTER (WHERE is_active) AS active_count,
		       COUNT(*) AS total_count,
		       COALESCE(BOOL_OR(is_active AND rn = 1), FALSE) AS newest_active
		FROM (
			SELECT from_currency, to_currency, is_active,
			       ROW_NUMBER() OVER (
			           PARTITION BY from_currency, to_currency
			           ORDER BY `+recencyOrder+`
			       ) AS rn
			FROM exchange_rates
		) AS ranked
		GROUP BY from_currency, to_currency
		HAVING COUNT(*) FILTER (WHERE is_active) <> 1
		    OR NOT COALESCE(BOOL_OR(is_active AND rn = 1), FALSE)
		ORDER BY from_currency, to_currency
	`)
	if err != nil {
		return nil, wrapErr("list rate violations", err)
	}
	return violations, nil
}

func wrapErr(op string, err error) error {
	if db.IsConstraintViolation(err) {
		return fmt.Errorf("%w: %s: %w", ErrConstraintViolation, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
