package notify

import (
	"context"
	"time"
)

// Типы уведомлений, которые шлет движок.
const (
	KindProposalReceived = "agent.proposal.received"
	KindMeetingConfirmed = "agent.meeting.confirmed"
	KindSessionFailed    = "agent.session.failed"
	KindSessionCanceled  = "agent.session.canceled"
)

// Notification — полезная нагрузка бокового канала.
type Notification struct {
	UserID    string                 `json:"user_id"`
	Kind      string                 `json:"kind"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Dispatcher — fire-and-forget уведомление принципала. Реализации обязаны
// проглатывать сбои доставки: уведомление никогда не валит операцию,
// внутри которой отправлено. Поэтому метод без error.
type Dispatcher interface {
	Notify(ctx context.Context, userID, kind, title, body string, data map[string]interface{})
}

// Noop — заглушка для тестов и конфигураций без уведомлений.
type Noop struct{}

func (Noop) Notify(_ context.Context, _, _, _, _ string, _ map[string]interface{}) {}
