package postgres

/*
Файл idempotency_repo.go — insert-once реестр ключей. Uniqueness-констрейнт
по key работает как легковесный распределенный mutex: неудачная вставка
означает "эту операцию уже заявил другой запрос".
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/schedmesh-engine/internal/domain"
)

// RegisterKey регистрирует ключ идемпотентности. Первый пишущий выигрывает;
// повторная вставка того же ключа возвращает ErrConflict.
// Ключ никогда не обновляется и не переиспользуется: неудавшаяся попытка
// confirm оставляет его занятым, ретраи обязаны брать новый ключ.
func (s *Store) RegisterKey(ctx context.Context, key, scope string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (key, scope, created_at) VALUES ($1, $2, $3)`,
		key, scope, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: idempotency key already registered", domain.ErrConflict)
		}
		return fmt.Errorf("postgres: failed to register idempotency key: %w", err)
	}
	return nil
}

// PurgeKeysOlderThan удаляет ключи старше cutoff (retention-очистка sweeper'а).
func (s *Store) PurgeKeysOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to purge idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
