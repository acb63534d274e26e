package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
)

// GetUserByUsername возвращает принципала для выдачи токена.
// nil без ошибки — пользователь не найден (не раскрываем это наружу).
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u := &domain.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, timezone, created_at, updated_at
		FROM users WHERE username = $1`, username).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Timezone, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get user by username: %w", err)
	}
	return u, nil
}

// GetUser возвращает принципала по id (валидация target при invite).
func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u := &domain.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, timezone, created_at, updated_at
		FROM users WHERE id = $1`, id).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Timezone, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("postgres: failed to get user: %w", err)
	}
	return u, nil
}
