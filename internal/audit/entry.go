package audit

import "time"

// Действия, попадающие в compliance-трейл переговоров.
const (
	ActionConnectionInvited  = "connection.invited"
	ActionConnectionAccepted = "connection.accepted"
	ActionConnectionUpdated  = "connection.permissions_updated"
	ActionConnectionRevoked  = "connection.revoked"

	ActionSessionStarted  = "session.started"
	ActionSessionCanceled = "session.canceled"
	ActionSessionExpired  = "session.expired"

	ActionProposalGenerated  = "proposal.generated"
	ActionMeetingConfirmed   = "meeting.confirmed"
	ActionConfirmCompensated = "confirm.compensated"
)

// Типы ресурсов в трейле.
const (
	ResourceConnection = "connection"
	ResourceSession    = "session"
)

// Entry — одна append-only запись трейла. Движок ее только пишет,
// никогда не читает.
type Entry struct {
	ID           string                 `json:"id"` // UUID записи
	UserID       string                 `json:"user_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Details      map[string]interface{} `json:"details"` // Контекст: слот, id событий, причина
	CreatedAt    time.Time              `json:"created_at"`
}
