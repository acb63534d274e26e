package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "schedmesh"
)

// Ключи блокировок (распределенные lease)
const (
	// RedisKeyLockSweep — lease мейнтенанс-джобы: sweep выполняет один инстанс.
	RedisKeyLockSweep = RedisNamespace + ":lock:sweep"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanNotifications — базовый канал трансляции уведомлений принципалам.
	// Доставка (push/email) вычитывает эти каналы снаружи движка.
	RedisChanNotifications = RedisNamespace + ":notify"
)

// NotifyChannel — канал уведомлений конкретного принципала.
func NotifyChannel(userID string) string {
	return fmt.Sprintf("%s:%s", RedisChanNotifications, userID)
}
