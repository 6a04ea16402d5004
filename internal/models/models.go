package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CurrencyPair is ordered: USD/LBP and LBP/USD are different pairs.
type CurrencyPair struct {
	From string `json:"from_currency"`
	To   string `json:"to_currency"`
}

func NewCurrencyPair(from, to string) CurrencyPair {
	return CurrencyPair{
		From: strings.ToUpper(strings.TrimSpace(from)),
		To:   strings.ToUpper(strings.TrimSpace(to)),
	}
}

func (p CurrencyPair) String() string {
	return p.From + "/" + p.To
}

// RateRecord is one row of the append-only rate ledger. Only IsActive and
// UpdatedAt change after insert.
type RateRecord struct {
	ID           string          `db:"id" json:"id"`
	FromCurrency string          `db:"from_currency" json:"from_currency"`
	ToCurrency   string          `db:"to_currency" json:"to_currency"`
	Rate         decimal.Decimal `db:"rate" json:"rate"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	UpdatedBy    *string         `db:"updated_by" json:"updated_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

func (r RateRecord) Pair() CurrencyPair {
	return CurrencyPair{From: r.FromCurrency, To: r.ToCurrency}
}

type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   *string   `db:"entity_id" json:"entity_id,omitempty"`
	Data       string    `db:"data" json:"data"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
