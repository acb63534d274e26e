package connectors

import (
	"context"
	"time"
)

// EventSpec — данные создаваемого календарного события.
type EventSpec struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string // IANA
}

// BusyInterval — занятый промежуток в календаре владельца.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// CalendarProvider — внешний календарный шлюз. Единственная абстракция
// провайдера в движке: мульти-провайдерность не поддерживается.
// Получение и обновление OAuth-токенов владельцев — забота TokenSource.
type CalendarProvider interface {
	// CreateEvent создает событие в календаре владельца и возвращает его id.
	CreateEvent(ctx context.Context, ownerID string, spec EventSpec) (string, error)

	// DeleteEvent удаляет событие. Удаление уже отсутствующего события —
	// успех: компенсация может приходить повторно.
	DeleteEvent(ctx context.Context, ownerID, eventID string) error

	// FetchBusy возвращает занятые промежутки владельца внутри [from, to).
	FetchBusy(ctx context.Context, ownerID string, from, to time.Time) ([]BusyInterval, error)
}

// TokenSource выдает bearer-токен владельца календаря.
// Acquisition/refresh токенов живет вне движка.
type TokenSource interface {
	Token(ctx context.Context, ownerID string) (string, error)
}

// StaticTokenSource — один токен на всех владельцев (dev/тесты).
type StaticTokenSource string

func (s StaticTokenSource) Token(_ context.Context, _ string) (string, error) {
	return string(s), nil
}
