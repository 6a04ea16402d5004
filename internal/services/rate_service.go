package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pos/internal/db"
	"pos/internal/logx"
	"pos/internal/models"
	"pos/internal/money"
	"pos/internal/store"
	"pos/internal/validator"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidRate = errors.New("invalid rate")
	ErrInvalidPair = errors.New("invalid currency pair")
	ErrStorage     = errors.New("storage error")
	// ErrConstraintViolation is the store sentinel, re-exported so callers
	// only match on service errors.
	ErrConstraintViolation = store.ErrConstraintViolation
)

const (
	DefaultHistoryLimit = store.DefaultHistoryLimit
	MaxHistoryLimit     = 100
)

type RateStore interface {
	Insert(ctx context.Context, tx store.Getter, in store.RateInput) (models.RateRecord, error)
	Deactivate(ctx context.Context, tx store.Execer, pair models.CurrencyPair) (int64, error)
	QueryActive(ctx context.Context, pair models.CurrencyPair) (models.RateRecord, bool, error)
	QueryHistory(ctx context.Context, pair models.CurrencyPair, limit int) ([]models.RateRecord, error)
	Normalize(ctx context.Context, tx store.Execer, pair models.CurrencyPair) (int64, error)
	NormalizeAll(ctx context.Context, tx store.Execer) (int64, error)
	ListActive(ctx context.Context) ([]models.RateRecord, error)
	ListViolations(ctx context.Context) ([]store.PairViolation, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
}

type RateHub interface {
	BroadcastRate(record models.RateRecord)
}

// RateService owns the single-active-rate rule. It keeps no state of its own;
// concurrent writers on one pair are serialized by the database.
type RateService struct {
	txRunner     db.TxRunner
	rates        RateStore
	audit        AuditStore
	hub          RateHub
	defaultPair  models.CurrencyPair
	historyLimit int
}

// NewRateService panics on an invalid default pair: that is a configuration
// error that should stop the process at startup. hub may be nil.
func NewRateService(txRunner db.TxRunner, rates RateStore, audit AuditStore, hub RateHub, defaultPair models.CurrencyPair, historyLimit int) *RateService {
	defaultPair = models.NewCurrencyPair(defaultPair.From, defaultPair.To)
	if err := validator.ValidatePair(defaultPair); err != nil {
		panic(fmt.Sprintf("default currency pair %s: %v", defaultPair, err))
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &RateService{
		txRunner:     txRunner,
		rates:        rates,
		audit:        audit,
		hub:          hub,
		defaultPair:  defaultPair,
		historyLimit: historyLimit,
	}
}

func (s *RateService) DefaultPair() models.CurrencyPair {
	return s.defaultPair
}

// ResolvePair normalizes raw currency codes. A missing side falls back to the
// same side of the default pair.
func (s *RateService) ResolvePair(from, to string) (models.CurrencyPair, error) {
	pair := models.NewCurrencyPair(from, to)
	if pair.From == "" {
		pair.From = s.defaultPair.From
	}
	if pair.To == "" {
		pair.To = s.defaultPair.To
	}
	if err := validator.ValidatePair(pair); err != nil {
		return models.CurrencyPair{}, fmt.Errorf("%w: %s: %w", ErrInvalidPair, pair, err)
	}
	return pair, nil
}

// GetCurrent returns false when the pair has never been set.
func (s *RateService) GetCurrent(ctx context.Context, pair models.CurrencyPair) (models.RateRecord, bool, error) {
	pair, err := checkPair(pair)
	if err != nil {
		return models.RateRecord{}, false, err
	}
	rec, ok, err := s.rates.QueryActive(ctx, pair)
	if err != nil {
		return models.RateRecord{}, false, fmt.Errorf("%w: current rate %s: %w", ErrStorage, pair, err)
	}
	return rec, ok, nil
}

// GetHistory returns the most recent records of the pair, newest first.
// limit <= 0 means the configured default.
func (s *RateService) GetHistory(ctx context.Context, pair models.CurrencyPair, limit int) ([]models.RateRecord, error) {
	pair, err := checkPair(pair)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	records, err := s.rates.QueryHistory(ctx, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: rate history %s: %w", ErrStorage, pair, err)
	}
	return records, nil
}

// SetRate supersedes the pair's active record with a new one in a single
// transaction. Either both writes commit or neither does.
func (s *RateService) SetRate(ctx context.Context, pair models.CurrencyPair, rate decimal.Decimal, actorID string) (models.RateRecord, error) {
	if !rate.IsPositive() {
		return models.RateRecord{}, fmt.Errorf("%w: rate must be greater than zero, got %s", ErrInvalidRate, rate)
	}
	if !money.RateFits(rate) {
		return models.RateRecord{}, fmt.Errorf("%w: rate %s has more than %d integer digits", ErrInvalidRate, rate, money.MaxRateIntegerDigits)
	}
	pair, err := checkPair(pair)
	if err != nil {
		return models.RateRecord{}, err
	}
	var updatedBy *string
	if actorID != "" {
		updatedBy = &actorID
	}

	var created models.RateRecord
	var superseded int64
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		n, err := s.rates.Deactivate(ctx, tx, pair)
		if err != nil {
			return err
		}
		superseded = n
		rec, err := s.rates.Insert(ctx, tx, store.RateInput{
			Pair:      pair,
			Rate:      rate,
			IsActive:  true,
			UpdatedBy: updatedBy,
		})
		if err != nil {
			return err
		}
		created = rec
		data, _ := json.Marshal(map[string]any{
			"from_currency": pair.From,
			"to_currency":   pair.To,
			"rate":          rate.String(),
			"superseded":    n,
		})
		return s.audit.Log(ctx, tx, actorID, store.ActionSetRate, "exchange_rate", rec.ID, string(data))
	})
	if err != nil {
		logx.From(ctx).Error("set rate failed",
			zap.String("pair", pair.String()),
			zap.String("actor", actorID),
			zap.Error(err),
		)
		return models.RateRecord{}, classify("set rate "+pair.String(), err)
	}

	logx.From(ctx).Info("rate set",
		zap.String("pair", pair.String()),
		zap.String("rate", rate.String()),
		zap.String("record_id", created.ID),
		zap.String("actor", actorID),
		zap.Int64("superseded", superseded),
	)
	if s.hub != nil {
		s.hub.BroadcastRate(created)
	}
	return created, nil
}

// RepairInvariant re-derives the active flag of the pair from recency. It
// returns true if any record changed; a second call returns false.
func (s *RateService) RepairInvariant(ctx context.Context, pair models.CurrencyPair) (bool, error) {
	pair, err := checkPair(pair)
	if err != nil {
		return false, err
	}
	var changed int64
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		n, err := s.rates.Normalize(ctx, tx, pair)
		if err != nil {
			return err
		}
		changed = n
		if n == 0 {
			return nil
		}
		data, _ := json.Marshal(map[string]any{
			"from_currency": pair.From,
			"to_currency":   pair.To,
			"changed_rows":  n,
		})
		return s.audit.Log(ctx, tx, "", store.ActionRepairRates, "exchange_rate", "", string(data))
	})
	if err != nil {
		return false, classify("repair "+pair.String(), err)
	}
	if changed > 0 {
		logx.From(ctx).Warn("repaired rate invariant", zap.String("pair", pair.String()), zap.Int64("changed_rows", changed))
	}
	return changed > 0, nil
}

// RepairAll normalizes every pair in one statement and returns the number of
// rows whose active flag changed.
func (s *RateService) RepairAll(ctx context.Context) (int64, error) {
	var changed int64
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		n, err := s.rates.NormalizeAll(ctx, tx)
		if err != nil {
			return err
		}
		changed = n
		if n == 0 {
			return nil
		}
		data, _ := json.Marshal(map[string]any{"changed_rows": n})
		return s.audit.Log(ctx, tx, "", store.ActionRepairRates, "exchange_rate", "", string(data))
	})
	if err != nil {
		return 0, classify("repair all", err)
	}
	if changed > 0 {
		logx.From(ctx).Warn("repaired rate invariant on all pairs", zap.Int64("changed_rows", changed))
	}
	return changed, nil
}

func (s *RateService) ListCurrent(ctx context.Context) ([]models.RateRecord, error) {
	records, err := s.rates.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list current rates: %w", ErrStorage, err)
	}
	return records, nil
}

func (s *RateService) Violations(ctx context.Context) ([]store.PairViolation, error) {
	violations, err := s.rates.ListViolations(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list violations: %w", ErrStorage, err)
	}
	return violations, nil
}

func checkPair(pair models.CurrencyPair) (models.CurrencyPair, error) {
	pair = models.NewCurrencyPair(pair.From, pair.To)
	if err := validator.ValidatePair(pair); err != nil {
		return models.CurrencyPair{}, fmt.Errorf("%w: %s: %w", ErrInvalidPair, pair, err)
	}
	return pair, nil
}

// classify keeps constraint violations distinct and reports everything else
// as a storage failure.
func classify(op string, err error) error {
	if errors.Is(err, ErrConstraintViolation) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
