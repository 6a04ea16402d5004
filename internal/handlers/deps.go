package handlers

import (
	"context"

	"pos/internal/models"
	"pos/internal/store"

	"github.com/shopspring/decimal"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, id, username, email, passwordHash string) error
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, userID string) (models.User, error)
}

type AdminStore interface {
	Lookup(ctx context.Context, userID string) (store.Admin, bool, error)
	CreateAdmin(ctx context.Context, tx store.Execer, userID string, isSuper bool, createdBy *string) error
	GrantRole(ctx context.Context, tx store.Execer, adminUserID, role string) error
	HasAnyAdmin(ctx context.Context, tx store.Getter) (bool, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error
	List(ctx context.Context, limit, offset int) ([]models.AuditLog, error)
}

// RateService is implemented by services.RateService.
type RateService interface {
	DefaultPair() models.CurrencyPair
	ResolvePair(from, to string) (models.CurrencyPair, error)
	GetCurrent(ctx context.Context, pair models.CurrencyPair) (models.RateRecord, bool, error)
	GetHistory(ctx context.Context, pair models.CurrencyPair, limit int) ([]models.RateRecord, error)
	SetRate(ctx context.Context, pair models.CurrencyPair, rate decimal.Decimal, actorID string) (models.RateRecord, error)
	RepairInvariant(ctx context.Context, pair models.CurrencyPair) (bool, error)
	RepairAll(ctx context.Context) (int64, error)
	ListCurrent(ctx context.Context) ([]models.RateRecord, error)
	Violations(ctx context.Context) ([]store.PairViolation, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}
