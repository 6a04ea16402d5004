package services

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"pos/internal/models"
	"pos/internal/store"

	"github.com/jmoiron/sqlx"
)

// memLedger is an in-memory stand-in for exchange_rates and audit_logs.
// Transactions hold txMu exclusively, which gives serializable behaviour;
// reads take it shared so they never observe uncommitted rows.
type memLedger struct {
	txMu    sync.RWMutex
	records []models.RateRecord
	audit   []auditEntry
	tick    int64
	nextID  int

	failDeactivate error
	failInsert     error
	failAudit      error
	failNormalize  error
}

type auditEntry struct {
	actorID, action, entityID, data string
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newMemLedger() *memLedger {
	return &memLedger{}
}

func (m *memLedger) now() time.Time {
	m.tick++
	return epoch.Add(time.Duration(m.tick) * time.Microsecond)
}

func (m *memLedger) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	records := slices.Clone(m.records)
	audit := slices.Clone(m.audit)
	if err := fn(nil); err != nil {
		m.records = records
		m.audit = audit
		return err
	}
	if err := ctx.Err(); err != nil {
		m.records = records
		m.audit = audit
		return err
	}
	return nil
}

func (m *memLedger) Insert(ctx context.Context, tx store.Getter, in store.RateInput) (models.RateRecord, error) {
	if m.failInsert != nil {
		return models.RateRecord{}, m.failInsert
	}
	if !in.Rate.IsPositive() {
		return models.RateRecord{}, fmt.Errorf("%w: rate must be positive", store.ErrConstraintViolation)
	}
	m.nextID++
	ts := m.now()
	rec := models.RateRecord{
		ID:           fmt.Sprintf("rate-%04d", m.nextID),
		FromCurrency: in.Pair.From,
		ToCurrency:   in.Pair.To,
		Rate:         in.Rate,
		IsActive:     in.IsActive,
		UpdatedBy:    in.UpdatedBy,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memLedger) Deactivate(ctx context.Context, tx store.Execer, pair models.CurrencyPair) (int64, error) {
	if m.failDeactivate != nil {
		return 0, m.failDeactivate
	}
	var n int64
	for i := range m.records {
		if m.records[i].Pair() == pair && m.records[i].IsActive {
			m.records[i].IsActive = false
			m.records[i].UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

func (m *memLedger) QueryActive(ctx context.Context, pair models.CurrencyPair) (models.RateRecord, bool, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	for _, rec := range m.byRecency(pair) {
		if rec.IsActive {
			return rec, true, nil
		}
	}
	return models.RateRecord{}, false, nil
}

func (m *memLedger) QueryHistory(ctx context.Context, pair models.CurrencyPair, limit int) ([]models.RateRecord, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	ordered := m.byRecency(pair)
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered, nil
}

func (m *memLedger) Normalize(ctx context.Context, tx store.Execer, pair models.CurrencyPair) (int64, error) {
	if m.failNormalize != nil {
		return 0, m.failNormalize
	}
	return m.normalize(pair), nil
}

func (m *memLedger) NormalizeAll(ctx context.Context, tx store.Execer) (int64, error) {
	if m.failNormalize != nil {
		return 0, m.failNormalize
	}
	var n int64
	for _, pair := range m.pairs() {
		n += m.normalize(pair)
	}
	return n, nil
}

func (m *memLedger) ListActive(ctx context.Context) ([]models.RateRecord, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	var out []models.RateRecord
	for _, rec := range m.records {
		if rec.IsActive {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memLedger) ListViolations(ctx context.Context) ([]store.PairViolation, error) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	var out []store.PairViolation
	for _, pair := range m.pairs() {
		ordered := m.byRecency(pair)
		v := store.PairViolation{FromCurrency: pair.From, ToCurrency: pair.To, TotalCount: len(ordered)}
		for _, rec := range ordered {
			if rec.IsActive {
				v.ActiveCount++
			}
		}
		v.NewestActive = ordered[0].IsActive
		if v.ActiveCount != 1 || !v.NewestActive {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memLedger) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if m.failAudit != nil {
		return m.failAudit
	}
	m.audit = append(m.audit, auditEntry{actorID: actorID, action: action, entityID: entityID, data: data})
	return nil
}

func (m *memLedger) normalize(pair models.CurrencyPair) int64 {
	ordered := m.byRecency(pair)
	var n int64
	for i, rec := range ordered {
		want := i == 0
		if rec.IsActive == want {
			continue
		}
		idx := slices.IndexFunc(m.records, func(r models.RateRecord) bool { return r.ID == rec.ID })
		m.records[idx].IsActive = want
		n++
	}
	return n
}

func (m *memLedger) byRecency(pair models.CurrencyPair) []models.RateRecord {
	var out []models.RateRecord
	for _, rec := range m.records {
		if rec.Pair() == pair {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b models.RateRecord) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (m *memLedger) pairs() []models.CurrencyPair {
	var out []models.CurrencyPair
	for _, rec := range m.records {
		if !slices.Contains(out, rec.Pair()) {
			out = append(out, rec.Pair())
		}
	}
	return out
}

// corrupt sets the active flag of the records with the given ids and clears it
// on every other record of their pair.
func (m *memLedger) corrupt(pair models.CurrencyPair, activeIDs ...string) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	for i := range m.records {
		if m.records[i].Pair() == pair {
			m.records[i].IsActive = slices.Contains(activeIDs, m.records[i].ID)
		}
	}
}

func (m *memLedger) count(pair models.CurrencyPair) (total, active int) {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	for _, rec := range m.records {
		if rec.Pair() != pair {
			continue
		}
		total++
		if rec.IsActive {
			active++
		}
	}
	return total, active
}

func (m *memLedger) snapshot() []models.RateRecord {
	m.txMu.RLock()
	defer m.txMu.RUnlock()
	return slices.Clone(m.records)
}

type recordingHub struct {
	mu      sync.Mutex
	records []models.RateRecord
}

func (h *recordingHub) BroadcastRate(record models.RateRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record)
}

func newTestService(ledger *memLedger, hub RateHub) *RateService {
	return NewRateService(ledger, ledger, ledger, hub, models.CurrencyPair{From: "USD", To: "LBP"}, 5)
}
