package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store — репозиторий движка поверх pgxpool. Методы по доменам разнесены
// по файлам: connection_repo, session_repo, message_repo, idempotency_repo, user_repo.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore открывает пул соединений и настраивает его лимиты.
// Нулевые значения maxConns/minConns оставляют дефолты pgxpool.
func NewStore(ctx context.Context, connString string, maxConns, minConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse conn string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping проверяет доступность базы при старте.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close возвращает соединения пулу.
func (s *Store) Close() {
	s.pool.Close()
}
