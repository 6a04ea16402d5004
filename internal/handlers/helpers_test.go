package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pos/internal/auth"
	"pos/internal/config"
	"pos/internal/db"
	"pos/internal/idempotency"
	"pos/internal/middleware"
	"pos/internal/models"
	"pos/internal/services"
	"pos/internal/store"
	"pos/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/ulule/limiter/v3"
)

const testSecret = "secret"

type fakeTxRunner struct {
	withTxFn func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func (f fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if f.withTxFn != nil {
		return f.withTxFn(ctx, fn)
	}
	return fn(nil)
}

type stubUserStore struct {
	createFn     func(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	getByEmailFn func(ctx context.Context, email string) (models.User, error)
	getByIDFn    func(ctx context.Context, userID string) (models.User, error)
}

func (s stubUserStore) Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error {
	if s.createFn == nil {
		return nil
	}
	return s.createFn(ctx, tx, id, username, email, passwordHash)
}

func (s stubUserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, store.ErrUserNotFound
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{}, store.ErrUserNotFound
	}
	return s.getByIDFn(ctx, userID)
}

type stubAdminStore struct {
	lookupFn      func(ctx context.Context, userID string) (store.Admin, bool, error)
	createAdminFn func(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	grantRoleFn   func(ctx context.Context, tx store.Execer, adminUserID, role string) error
	hasAnyAdminFn func(ctx context.Context) (bool, error)
}

func (s stubAdminStore) Lookup(ctx context.Context, userID string) (store.Admin, bool, error) {
	if s.lookupFn == nil {
		return store.Admin{}, false, nil
	}
	return s.lookupFn(ctx, userID)
}

func (s stubAdminStore) CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error {
	if s.createAdminFn == nil {
		return nil
	}
	return s.createAdminFn(ctx, tx, userID, isSuper, createdBy)
}

func (s stubAdminStore) GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error {
	if s.grantRoleFn == nil {
		return nil
	}
	return s.grantRoleFn(ctx, tx, adminUserID, role)
}

func (s stubAdminStore) HasAnyAdmin(ctx context.Context, tx store.Getter) (bool, error) {
	if s.hasAnyAdminFn == nil {
		return true, nil
	}
	return s.hasAnyAdminFn(ctx)
}

// adminWithRoles answers every lookup with a regular admin holding roles.
func adminWithRoles(roles ...string) stubAdminStore {
	return stubAdminStore{
		lookupFn: func(_ context.Context, userID string) (store.Admin, bool, error) {
			return store.Admin{UserID: userID, Roles: roles}, true, nil
		},
	}
}

type auditCall struct {
	actorID, action, entityType, entityID, data string
}

type stubAuditStore struct {
	calls  *[]auditCall
	logFn  func(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	listFn func(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

func (s stubAuditStore) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	if s.calls != nil {
		*s.calls = append(*s.calls, auditCall{actorID, action, entityType, entityID, data})
	}
	if s.logFn == nil {
		return nil
	}
	return s.logFn(ctx, tx, actorID, action, entityType, entityID, data)
}

func (s stubAuditStore) List(ctx context.Context, limit, offset int) ([]models.AuditLog, error) {
	if s.listFn == nil {
		return []models.AuditLog{}, nil
	}
	return s.listFn(ctx, limit, offset)
}

// stubRateService resolves pairs like the real service, defaulting to
// USD/LBP, and delegates everything else to its function fields.
type stubRateService struct {
	getCurrentFn func(ctx context.Context, pair models.CurrencyPair) (models.RateRecord, bool, error)
	getHistoryFn func(ctx context.Context, pair models.CurrencyPair, limit int) ([]models.RateRecord, error)
	setRateFn    func(ctx context.Context, pair models.CurrencyPair, rate decimal.Decimal, actorID string) (models.RateRecord, error)
	repairFn     func(ctx context.Context, pair models.CurrencyPair) (bool, error)
	repairAllFn  func(ctx context.Context) (int64, error)
	listFn       func(ctx context.Context) ([]models.RateRecord, error)
	violationsFn func(ctx context.Context) ([]store.PairViolation, error)
}

var testDefaultPair = models.CurrencyPair{From: "USD", To: "LBP"}

func (s stubRateService) DefaultPair() models.CurrencyPair {
	return testDefaultPair
}

func (s stubRateService) ResolvePair(from, to string) (models.CurrencyPair, error) {
	pair := models.NewCurrencyPair(from, to)
	if pair.From == "" {
		pair.From = testDefaultPair.From
	}
	if pair.To == "" {
		pair.To = testDefaultPair.To
	}
	if pair.From == pair.To {
		return models.CurrencyPair{}, fmt.Errorf("%w: %s", services.ErrInvalidPair, pair)
	}
	return pair, nil
}

func (s stubRateService) GetCurrent(ctx context.Context, pair models.CurrencyPair) (models.RateRecord, bool, error) {
	if s.getCurrentFn == nil {
		return models.RateRecord{}, false, nil
	}
	return s.getCurrentFn(ctx, pair)
}

func (s stubRateService) GetHistory(ctx context.Context, pair models.CurrencyPair, limit int) ([]models.RateRecord, error) {
	if s.getHistoryFn == nil {
		return nil, nil
	}
	return s.getHistoryFn(ctx, pair, limit)
}

func (s stubRateService) SetRate(ctx context.Context, pair models.CurrencyPair, rate decimal.Decimal, actorID string) (models.RateRecord, error) {
	if s.setRateFn == nil {
		return models.RateRecord{}, nil
	}
	return s.setRateFn(ctx, pair, rate, actorID)
}

func (s stubRateService) RepairInvariant(ctx context.Context, pair models.CurrencyPair) (bool, error) {
	if s.repairFn == nil {
		return false, nil
	}
	return s.repairFn(ctx, pair)
}

func (s stubRateService) RepairAll(ctx context.Context) (int64, error) {
	if s.repairAllFn == nil {
		return 0, nil
	}
	return s.repairAllFn(ctx)
}

func (s stubRateService) ListCurrent(ctx context.Context) ([]models.RateRecord, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx)
}

func (s stubRateService) Violations(ctx context.Context) ([]store.PairViolation, error) {
	if s.violationsFn == nil {
		return nil, nil
	}
	return s.violationsFn(ctx)
}

type stubPinger struct {
	err error
}

func (p stubPinger) PingContext(context.Context) error {
	return p.err
}

type testDeps struct {
	txRunner db.TxRunner
	pinger   Pinger
	users    UserStore
	admin    AdminStore
	audit    AuditStore
	rates    RateService
	idem     idempotency.Store
	limiter  *limiter.Limiter
}

func newTestHandler(deps testDeps) *Handler {
	cfg := config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      testSecret,
		TokenTTL:       time.Minute,
		AllowedOrigins: []string{"*"},
	}
	if deps.txRunner == nil {
		deps.txRunner = fakeTxRunner{}
	}
	if deps.users == nil {
		deps.users = stubUserStore{}
	}
	if deps.admin == nil {
		deps.admin = stubAdminStore{}
	}
	if deps.audit == nil {
		deps.audit = stubAuditStore{}
	}
	if deps.rates == nil {
		deps.rates = stubRateService{}
	}
	return New(cfg, deps.txRunner, deps.pinger, deps.users, deps.admin, deps.audit, deps.rates, websocket.NewHub(), deps.idem, deps.limiter)
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, userID, time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return "Bearer " + token
}

// serveWithAuth runs handler behind the auth middleware as userID.
func serveWithAuth(t *testing.T, handler http.HandlerFunc, req *http.Request, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req.Header.Set("Authorization", bearer(t, userID))
	rr := httptest.NewRecorder()
	middleware.Auth(testSecret)(handler).ServeHTTP(rr, req)
	return rr
}

func stringPtr(value string) *string {
	return &value
}
