package domain

import "time"

type SessionType string

const (
	SessionScheduleMeeting SessionType = "schedule_meeting" // Полный цикл: proposals + confirm
	SessionProposalOnly    SessionType = "proposal_only"    // Только генерация слотов, confirm запрещён
)

// Known проверяет, что тип сессии входит в закрытый набор.
func (t SessionType) Known() bool {
	return t == SessionScheduleMeeting || t == SessionProposalOnly
}

// Статусы State Machine сессии (см. переходы в SessionCoordinator).
type SessionStatus string

const (
	SessionInitiated   SessionStatus = "initiated"   // Начальный
	SessionNegotiating SessionStatus = "negotiating" // После первого proposal
	SessionConfirmed   SessionStatus = "confirmed"   // Терминальный: встреча забронирована
	SessionError       SessionStatus = "error"       // Терминальный: сбой протокола после компенсации
	SessionCanceled    SessionStatus = "canceled"    // Терминальный: ручная отмена участником
	SessionExpired     SessionStatus = "expired"     // Терминальный: вышли за TTL
)

// Terminal сообщает, запрещены ли дальнейшие переходы из статуса.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionConfirmed, SessionError, SessionCanceled, SessionExpired:
		return true
	}
	return false
}

// BookedEvents — идентификаторы событий, созданных в календарях обеих сторон.
type BookedEvents struct {
	InitiatorEventID   string `json:"initiator_cal_event_id"`
	CounterpartEventID string `json:"counterpart_cal_event_id"`
}

// SessionOutcome заполняется только в терминальных статусах:
// SelectedSlot и EventIDs — при confirmed, Reason — при error.
type SessionOutcome struct {
	SelectedSlot *Slot         `json:"selected_slot,omitempty"`
	EventIDs     *BookedEvents `json:"event_ids,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// AgentSession — одна ограниченная по времени попытка переговоров между
// двумя связанными принципалами. Никогда не удаляется, только переходит по статусам.
type AgentSession struct {
	ID            string          `json:"id"` // UUID
	Type          SessionType     `json:"type"`
	InitiatorID   string          `json:"initiator_user_id"`
	CounterpartID string          `json:"counterpart_user_id"`
	ConnectionID  string          `json:"connection_id"`
	Status        SessionStatus   `json:"status"`
	TTLExpiresAt  time.Time       `json:"ttl_expires_at"`
	Outcome       *SessionOutcome `json:"outcome,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Member проверяет, что userID является участником сессии.
func (s *AgentSession) Member(userID string) bool {
	return userID == s.InitiatorID || userID == s.CounterpartID
}

// Other возвращает второго участника сессии относительно userID.
func (s *AgentSession) Other(userID string) string {
	if userID == s.InitiatorID {
		return s.CounterpartID
	}
	return s.InitiatorID
}

// ExpiredAt сообщает, вышла ли сессия за TTL к моменту now.
// Проверяется лениво на каждой мутирующей операции, без фоновых тредов.
func (s *AgentSession) ExpiredAt(now time.Time) bool {
	return now.After(s.TTLExpiresAt)
}
