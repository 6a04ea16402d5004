package store

import (
	"context"
	"database/sql"
	"errors"
)

// Roles checked by the rate routes. Super admins pass every role check.
const (
	RoleSetRates    = "CanSetRates"
	RoleRepairRates = "CanRepairRates"
	RoleViewAudit   = "CanViewAudit"
)

type Admin struct {
	UserID  string   `db:"user_id" json:"user_id"`
	IsSuper bool     `db:"is_super" json:"is_super"`
	Roles   []string `db:"-" json:"roles"`
}

type AdminStore struct {
	db DB
}

func NewAdminStore(db DB) *AdminStore {
	return &AdminStore{db: db}
}

// Lookup returns false when userID is not an admin.
func (s *AdminStore) Lookup(ctx context.Context, userID string) (Admin, bool, error) {
	var admin Admin
	err := s.db.GetContext(ctx, &admin, `
		SELECT user_id, is_super
		FROM admins
		WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Admin{}, false, nil
		}
		return Admin{}, false, err
	}
	roles := []string{}
	if err := s.db.SelectContext(ctx, &roles, `
		SELECT role
		FROM admin_roles
		WHERE admin_user_id = $1
		ORDER BY role
	`, userID); err != nil {
		return Admin{}, false, err
	}
	admin.Roles = roles
	return admin, true, nil
}

func (s *AdminStore) CreateAdmin(ctx context.Context, tx Execer, userID string, isSuper bool, createdBy *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admins (user_id, is_super, created_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, isSuper, createdBy)
	return err
}

func (s *AdminStore) GrantRole(ctx context.Context, tx Execer, adminUserID, role string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admin_roles (admin_user_id, role)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, adminUserID, role)
	return err
}

// HasAnyAdmin runs inside tx so the first-user-becomes-super-admin check and
// the insert that follows see the same snapshot.
func (s *AdminStore) HasAnyAdmin(ctx context.Context, tx Getter) (bool, error) {
	var count int
	err := tx.GetContext(ctx, &count, `SELECT COUNT(1) FROM admins`)
	return count > 0, err
}
