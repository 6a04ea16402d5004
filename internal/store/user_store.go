package store

import (
	"context"
	"database/sql"
	"errors"

	"pos/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, tx Execer, id, username, email, passwordHash string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, id, username, email, passwordHash)
	return err
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (models.User, error) {
	return s.getOne(ctx, `SELECT id, username, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	return s.getOne(ctx, `SELECT id, username, email, created_at FROM users WHERE id = $1`, userID)
}

func (s *UserStore) getOne(ctx context.Context, query string, arg string) (models.User, error) {
	var user models.User
	if err := s.db.GetContext(ctx, &user, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}
	return user, nil
}
