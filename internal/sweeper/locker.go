package sweeper

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker — распределенный lease на Redis SetNX: уборку в каждый момент
// выполняет ровно один инстанс. TTL страхует от зависшего держателя.
type Locker struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewLocker(rdb *redis.Client, key string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{rdb: rdb, key: key, ttl: ttl}
}

// TryAcquire берет lease. false — лизу держит другой инстанс, либо Redis
// недоступен: в обоих случаях проход пропускается, работу не дублируем.
func (l *Locker) TryAcquire(ctx context.Context) bool {
	ok, err := l.rdb.SetNX(ctx, l.key, "processing", l.ttl).Result()
	if err != nil {
		return false
	}
	return ok
}

// Release отпускает lease досрочно, не дожидаясь истечения TTL.
func (l *Locker) Release(ctx context.Context) {
	l.rdb.Del(ctx, l.key)
}
