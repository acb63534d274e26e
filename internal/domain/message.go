package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type MessageType string

const (
	MessageProposal MessageType = "proposal" // Список слотов-кандидатов (генерируется движком)
	MessageAccept   MessageType = "accept"   // Участник принял один из слотов
	MessageConfirm  MessageType = "confirm"  // Слот забронирован в обоих календарях (генерируется движком)
	MessageCancel   MessageType = "cancel"   // Ручная отмена переговоров
	MessageError    MessageType = "error"    // Машиночитаемая ошибка в транскрипте
)

// Slot — кандидат на время встречи.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Tz    string    `json:"tz"` // IANA-таймзона, в которой слот был сгенерирован
}

// Payload — tagged union полезной нагрузки сообщения.
// Ровно один вариант на каждый MessageType, без untyped-блобов.
type Payload interface {
	MessageType() MessageType
}

// ProposalPayload — список взаимно свободных слотов, отсортированных earliest-first.
// Пустой список — валидный результат ("нет доступности"), не ошибка.
type ProposalPayload struct {
	Slots        []Slot `json:"slots"`
	DurationMins int    `json:"duration_mins"`
}

// AcceptPayload — выбранный участником слот.
type AcceptPayload struct {
	Slot Slot `json:"slot"`
}

// ConfirmPayload — забронированный слот плюс id событий в обоих календарях.
type ConfirmPayload struct {
	Slot     Slot         `json:"slot"`
	EventIDs BookedEvents `json:"event_ids"`
	Title    string       `json:"title,omitempty"`
}

// CancelPayload — причина отмены.
type CancelPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload — код и сообщение ошибки для транскрипта.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ProposalPayload) MessageType() MessageType { return MessageProposal }
func (AcceptPayload) MessageType() MessageType   { return MessageAccept }
func (ConfirmPayload) MessageType() MessageType  { return MessageConfirm }
func (CancelPayload) MessageType() MessageType   { return MessageCancel }
func (ErrorPayload) MessageType() MessageType    { return MessageError }

// DecodePayload разбирает сырой jsonb-пейлоад согласно типу сообщения.
func DecodePayload(t MessageType, raw []byte) (Payload, error) {
	switch t {
	case MessageProposal:
		var p ProposalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: bad proposal payload: %v", ErrValidation, err)
		}
		return p, nil
	case MessageAccept:
		var p AcceptPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: bad accept payload: %v", ErrValidation, err)
		}
		return p, nil
	case MessageConfirm:
		var p ConfirmPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: bad confirm payload: %v", ErrValidation, err)
		}
		return p, nil
	case MessageCancel:
		var p CancelPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: bad cancel payload: %v", ErrValidation, err)
		}
		return p, nil
	case MessageError:
		var p ErrorPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: bad error payload: %v", ErrValidation, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrValidation, t)
	}
}

// AgentMessage — неизменяемая запись транскрипта, упорядоченная по created_at.
// Всегда адресована from -> to внутри ровно одной сессии.
type AgentMessage struct {
	ID        string      `json:"id"` // UUID
	SessionID string      `json:"session_id"`
	FromID    string      `json:"from_user_id"`
	ToID      string      `json:"to_user_id"`
	Type      MessageType `json:"type"`
	Payload   Payload     `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// UnmarshalJSON восстанавливает конкретный вариант Payload по полю type.
func (m *AgentMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		SessionID string          `json:"session_id"`
		FromID    string          `json:"from_user_id"`
		ToID      string          `json:"to_user_id"`
		Type      MessageType     `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		CreatedAt time.Time       `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.ID = raw.ID
	m.SessionID = raw.SessionID
	m.FromID = raw.FromID
	m.ToID = raw.ToID
	m.Type = raw.Type
	m.CreatedAt = raw.CreatedAt

	if len(raw.Payload) == 0 {
		m.Payload = nil
		return nil
	}
	p, err := DecodePayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	m.Payload = p
	return nil
}
