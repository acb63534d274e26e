package postgres

/*
Файл session_repo.go — хранение сессий переговоров. Все переходы статусов
выполняются условными UPDATE (compare-and-set), без блокировок: строка сессии —
единственный ресурс, требующий взаимного исключения, и оно достигается
предикатом по статусу + RowsAffected.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
)

// CreateSession сохраняет новую сессию в статусе initiated.
func (s *Store) CreateSession(ctx context.Context, sess *domain.AgentSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_sessions (id, type, initiator_user_id, counterpart_user_id, connection_id, status, ttl_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		sess.ID, sess.Type, sess.InitiatorID, sess.CounterpartID, sess.ConnectionID, sess.Status, sess.TTLExpiresAt, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create session: %w", err)
	}
	return nil
}

// GetSession возвращает сессию по id вместе с outcome (если терминальная).
func (s *Store) GetSession(ctx context.Context, id string) (*domain.AgentSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, type, initiator_user_id, counterpart_user_id, connection_id, status, ttl_expires_at, outcome, created_at, updated_at
		FROM agent_sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("postgres: failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions возвращает сессии, где userID — участник, новые первыми.
func (s *Store) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*domain.AgentSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, initiator_user_id, counterpart_user_id, connection_id, status, ttl_expires_at, outcome, created_at, updated_at
		FROM agent_sessions
		WHERE initiator_user_id = $1 OR counterpart_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query sessions: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.AgentSession, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan session: %w", err)
		}
		results = append(results, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.AgentSession, error) {
	var sess domain.AgentSession
	var outcome []byte
	err := row.Scan(
		&sess.ID, &sess.Type, &sess.InitiatorID, &sess.CounterpartID, &sess.ConnectionID,
		&sess.Status, &sess.TTLExpiresAt, &outcome, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(outcome) > 0 {
		var o domain.SessionOutcome
		if err := json.Unmarshal(outcome, &o); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
		sess.Outcome = &o
	}
	return &sess, nil
}

// MarkNegotiating переводит initiated -> negotiating. Повторный вызов на
// уже negotiating сессии — no-op (0 строк), это не ошибка.
func (s *Store) MarkNegotiating(ctx context.Context, id string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_sessions SET status = 'negotiating', updated_at = $2
		WHERE id = $1 AND status = 'initiated'`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to mark session negotiating: %w", err)
	}
	return nil
}

// TransitionTerminal атомарно переводит сессию в терминальный статус,
// только если она еще не терминальна. Возвращает, была ли затронута строка:
// false означает, что другой вызов успел закрыть сессию первым —
// это точка разрешения гонки двух confirm.
func (s *Store) TransitionTerminal(ctx context.Context, id string, to domain.SessionStatus, outcome *domain.SessionOutcome, now time.Time) (bool, error) {
	var payload []byte
	if outcome != nil {
		var err error
		if payload, err = json.Marshal(outcome); err != nil {
			return false, fmt.Errorf("postgres: marshal outcome: %w", err)
		}
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE agent_sessions SET status = $2, outcome = $3, updated_at = $4
		WHERE id = $1 AND status IN ('initiated', 'negotiating')`,
		id, to, payload, now,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to transition session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireStale пакетно закрывает сессии, вышедшие за TTL. Возвращает число
// закрытых строк. LIMIT ограничивает размер одного прохода sweeper'а.
func (s *Store) ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agent_sessions SET status = 'expired', updated_at = $1
		WHERE id IN (
			SELECT id FROM agent_sessions
			WHERE status IN ('initiated', 'negotiating') AND ttl_expires_at < $1
			LIMIT $2
		)`,
		now, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to expire stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountConfirmedInWindow считает подтвержденные встречи участника, чей
// выбранный слот начинается внутри [from, to). Нужен для лимита встреч в неделю.
func (s *Store) CountConfirmedInWindow(ctx context.Context, userID string, from, to time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM agent_sessions
		WHERE status = 'confirmed'
		  AND (initiator_user_id = $1 OR counterpart_user_id = $1)
		  AND (outcome->'selected_slot'->>'start')::timestamptz >= $2
		  AND (outcome->'selected_slot'->>'start')::timestamptz < $3`,
		userID, from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count confirmed sessions: %w", err)
	}
	return n, nil
}
