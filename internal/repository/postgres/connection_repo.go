package postgres

/*
Файл connection_repo.go — хранение permissioned-связей между принципалами
и их permission-строк (scopes + constraints, один-к-одному).
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
)

// uniqueViolation — SQLSTATE для нарушения unique-констрейнта.
// Частичный индекс по неупорядоченной паре (status <> 'revoked') закрывает
// гонку двух одновременных invite.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateConnection атомарно создает connection вместе с его permission-строкой.
func (s *Store) CreateConnection(ctx context.Context, conn *domain.Connection, perm *domain.ConnectionPermission) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO agent_connections (id, requester_user_id, target_user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		conn.ID, conn.RequesterID, conn.TargetID, conn.Status, conn.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: active connection for this pair already exists", domain.ErrConflict)
		}
		return fmt.Errorf("postgres: failed to create connection: %w", err)
	}

	if err := upsertPermission(ctx, tx, perm); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func upsertPermission(ctx context.Context, tx pgx.Tx, perm *domain.ConnectionPermission) error {
	constraints, err := json.Marshal(perm.Constraints)
	if err != nil {
		return fmt.Errorf("postgres: marshal constraints: %w", err)
	}

	scopes := make([]string, 0, len(perm.Scopes))
	for _, sc := range perm.Scopes {
		scopes = append(scopes, string(sc))
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO connection_permissions (connection_id, scopes, constraints, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (connection_id)
		DO UPDATE SET scopes = EXCLUDED.scopes, constraints = EXCLUDED.constraints, updated_at = EXCLUDED.updated_at`,
		perm.ConnectionID, scopes, constraints, perm.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert permission: %w", err)
	}
	return nil
}

// GetConnection возвращает связь по id.
func (s *Store) GetConnection(ctx context.Context, id string) (*domain.Connection, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, requester_user_id, target_user_id, status, created_at, updated_at
		FROM agent_connections WHERE id = $1`, id)

	var c domain.Connection
	err := row.Scan(&c.ID, &c.RequesterID, &c.TargetID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: connection %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("postgres: failed to get connection: %w", err)
	}
	return &c, nil
}

// FindLiveByPair ищет не-revoked связь для неупорядоченной пары.
// Возвращает nil без ошибки, если связи нет.
func (s *Store) FindLiveByPair(ctx context.Context, userA, userB string) (*domain.Connection, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, requester_user_id, target_user_id, status, created_at, updated_at
		FROM agent_connections
		WHERE status <> 'revoked'
		  AND ((requester_user_id = $1 AND target_user_id = $2) OR (requester_user_id = $2 AND target_user_id = $1))`,
		userA, userB)

	var c domain.Connection
	err := row.Scan(&c.ID, &c.RequesterID, &c.TargetID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to find connection by pair: %w", err)
	}
	return &c, nil
}

// ListConnections возвращает связи, в которых участвует userID, новые первыми.
func (s *Store) ListConnections(ctx context.Context, userID string, limit, offset int) ([]*domain.Connection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, requester_user_id, target_user_id, status, created_at, updated_at
		FROM agent_connections
		WHERE requester_user_id = $1 OR target_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query connections: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Connection, 0)
	for rows.Next() {
		var c domain.Connection
		if err := rows.Scan(&c.ID, &c.RequesterID, &c.TargetID, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan connection: %w", err)
		}
		results = append(results, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// AcceptConnection переводит pending-связь в active и переписывает
// permission-строку грантами принимающей стороны.
// Условие status = 'pending' защищает от двойного accept.
func (s *Store) AcceptConnection(ctx context.Context, perm *domain.ConnectionPermission, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE agent_connections SET status = 'active', updated_at = $2
		WHERE id = $1 AND status = 'pending'`,
		perm.ConnectionID, now,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to accept connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: connection is not pending", domain.ErrConflict)
	}

	if err := upsertPermission(ctx, tx, perm); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetPermission возвращает permission-строку связи.
func (s *Store) GetPermission(ctx context.Context, connectionID string) (*domain.ConnectionPermission, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT connection_id, scopes, constraints, updated_at
		FROM connection_permissions WHERE connection_id = $1`, connectionID)

	var p domain.ConnectionPermission
	var scopes []string
	var constraints []byte
	if err := row.Scan(&p.ConnectionID, &scopes, &constraints, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: permission for connection %s", domain.ErrNotFound, connectionID)
		}
		return nil, fmt.Errorf("postgres: failed to get permission: %w", err)
	}

	p.Scopes = make([]domain.Scope, 0, len(scopes))
	for _, sc := range scopes {
		p.Scopes = append(p.Scopes, domain.Scope(sc))
	}
	if len(constraints) > 0 {
		if err := json.Unmarshal(constraints, &p.Constraints); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal constraints: %w", err)
		}
	}
	return &p, nil
}

// UpdatePermission сохраняет уже слитую (merge на уровне сервиса) permission-строку.
func (s *Store) UpdatePermission(ctx context.Context, perm *domain.ConnectionPermission) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertPermission(ctx, tx, perm); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RevokeConnection терминально разрывает связь. Идемпотентна: повторный
// revoke не затрагивает строк и не считается ошибкой. Возвращает, была ли
// связь действительно разорвана этим вызовом.
func (s *Store) RevokeConnection(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agent_connections SET status = 'revoked', updated_at = $2
		WHERE id = $1 AND status <> 'revoked'`,
		id, now,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to revoke connection: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
