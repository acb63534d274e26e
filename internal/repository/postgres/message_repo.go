package postgres

/*
Файл message_repo.go — append-only транскрипт переговоров. Сообщения
неизменяемы; порядок чтения — persisted created_at.
*/

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/schedmesh-engine/internal/domain"
)

// CreateMessage добавляет сообщение в транскрипт сессии.
func (s *Store) CreateMessage(ctx context.Context, m *domain.AgentMessage) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal message payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO agent_messages (id, session_id, from_user_id, to_user_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.SessionID, m.FromID, m.ToID, m.Type, payload, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create message: %w", err)
	}
	return nil
}

// ListMessages возвращает страницу транскрипта в порядке created_at ASC.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*domain.AgentMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, from_user_id, to_user_id, type, payload, created_at
		FROM agent_messages
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`,
		sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query messages: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.AgentMessage, 0)
	for rows.Next() {
		var m domain.AgentMessage
		var payload []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &m.FromID, &m.ToID, &m.Type, &payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan message: %w", err)
		}
		if len(payload) > 0 {
			p, err := domain.DecodePayload(m.Type, payload)
			if err != nil {
				return nil, fmt.Errorf("postgres: decode payload of message %s: %w", m.ID, err)
			}
			m.Payload = p
		}
		results = append(results, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
