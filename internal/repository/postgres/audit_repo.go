package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/schedmesh-engine/internal/audit"
)

// AuditRepo — отдельный репозиторий для compliance-трейла. Делит пул
// со Store, но живет за узким интерфейсом audit.StorageInterface.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(store *Store) *AuditRepo {
	return &AuditRepo{pool: store.pool}
}

// WriteBatch вставляет пачку записей одним запросом.
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_logs
	const numFields = 7
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7)

		details, _ := json.Marshal(e.Details)
		vals = append(vals, e.ID, e.UserID, e.Action, e.ResourceType, e.ResourceID, details, e.CreatedAt)
	}

	query := fmt.Sprintf(
		"INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, details, created_at) VALUES %s",
		strings.TrimSuffix(placeholders.String(), ","),
	)

	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write audit batch: %w", err)
	}
	return nil
}
