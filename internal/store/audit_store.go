package store

import (
	"context"

	"pos/internal/models"
)

// Audit actions written by the rate ledger and the account endpoints.
const (
	ActionSetRate     = "set_rate"
	ActionRepairRates = "repair_rates"
	ActionPromote     = "promote_admin"
	ActionGrantRole   = "grant_role"
	ActionRegister    = "register"
	ActionLogin       = "login"
)

type AuditStore struct {
	db DB
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log appends an audit row inside tx. An empty actorID or entityID is stored
// as NULL.
func (s *AuditStore) Log(ctx context.Context, tx Execer, actorID, action, entityType, entityID, data string) error {
	if data == "" {
		data = "{}"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_user_id, action, entity_type, entity_id, data)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5)
	`, nullIfEmpty(actorID), action, entityType, nullIfEmpty(entityID), data)
	return err
}

func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]models.AuditLog, error) {
	logs := []models.AuditLog{}
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, actor_user_id, action, entity_type, entity_id, data, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func nullIfEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
