package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/schedmesh-engine/internal/infra"
	"go.uber.org/zap"
)

// RedisDispatcher публикует уведомления в per-user каналы Redis.
// Доставку до устройств (push/email) делает внешний воркер, вычитывающий каналы.
type RedisDispatcher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisDispatcher(rdb *redis.Client, logger *zap.Logger) *RedisDispatcher {
	return &RedisDispatcher{
		rdb:    rdb,
		logger: logger.Named("notify"),
	}
}

func (d *RedisDispatcher) Notify(ctx context.Context, userID, kind, title, body string, data map[string]interface{}) {
	payload, err := json.Marshal(Notification{
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: time.Now(),
	})
	if err != nil {
		d.logger.Warn("notification marshal failed", zap.String("kind", kind), zap.Error(err))
		return
	}

	// Сбой доставки логируем и проглатываем: бронирование уже состоялось
	if err := d.rdb.Publish(ctx, infra.NotifyChannel(userID), payload).Err(); err != nil {
		d.logger.Warn("notification delivery failed",
			zap.String("user_id", userID),
			zap.String("kind", kind),
			zap.Error(err))
		return
	}

	d.logger.Debug("notification published",
		zap.String("user_id", userID),
		zap.String("kind", kind))
}
