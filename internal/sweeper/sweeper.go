package sweeper

/*
Файл sweeper.go — фоновая уборка движка.

Два дела за проход:
- закрыть терминальным expired сессии, просидевшие дольше TTL
  (ленивая проверка в сервисе ловит только те, к которым обращаются);
- удалить ключи идемпотентности старше retention-окна.

Проходы идут под распределенным lease: в многоинстансном развертывании
уборку делает ровно один процесс.
*/

import (
	"context"
	"time"

	"github.com/xela07ax/schedmesh-engine/internal/audit"
	"go.uber.org/zap"
)

// Актор системных записей трейла: уборка не привязана к пользователю.
const systemActor = "system:sweeper"

// Store — персистентные операции уборки.
type Store interface {
	ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error)
	PurgeKeysOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Lease — право на проход. Реализуется Locker-ом на Redis SetNX.
type Lease interface {
	TryAcquire(ctx context.Context) bool
	Release(ctx context.Context)
}

type Config struct {
	Interval     time.Duration // Период проходов
	BatchSize    int           // Максимум закрываемых сессий за проход
	KeyRetention time.Duration // Сколько живут ключи идемпотентности
}

type Sweeper struct {
	store   Store
	lease   Lease
	auditor audit.Auditor
	logger  *zap.Logger
	cfg     Config

	now func() time.Time
}

func New(cfg Config, store Store, lease Lease, auditor audit.Auditor, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.KeyRetention <= 0 {
		cfg.KeyRetention = 24 * time.Hour
	}
	return &Sweeper{
		store:   store,
		lease:   lease,
		auditor: auditor,
		logger:  logger.Named("sweeper"),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run крутит цикл уборки до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Duration("key_retention", s.cfg.KeyRetention))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep — один проход под lease.
func (s *Sweeper) Sweep(ctx context.Context) {
	if !s.lease.TryAcquire(ctx) {
		return
	}
	defer s.lease.Release(ctx)

	now := s.now()

	// 1. Протухшие сессии -> терминальный expired
	expired, err := s.store.ExpireStale(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to expire stale sessions", zap.Error(err))
	} else if expired > 0 {
		s.logger.Info("expired stale sessions", zap.Int64("count", expired))
		s.auditor.Record(audit.Entry{
			UserID:       systemActor,
			Action:       audit.ActionSessionExpired,
			ResourceType: audit.ResourceSession,
			Details:      map[string]interface{}{"count": expired},
		})
	}

	// 2. Ключи идемпотентности старше retention
	purged, err := s.store.PurgeKeysOlderThan(ctx, now.Add(-s.cfg.KeyRetention))
	if err != nil {
		s.logger.Error("failed to purge idempotency keys", zap.Error(err))
	} else if purged > 0 {
		s.logger.Info("purged idempotency keys", zap.Int64("count", purged))
	}
}
