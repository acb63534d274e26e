package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/schedmesh-engine/internal/audit"
	"github.com/xela07ax/schedmesh-engine/internal/connectors"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
	"github.com/xela07ax/schedmesh-engine/internal/notify"
	"github.com/xela07ax/schedmesh-engine/internal/policy"
	"go.uber.org/zap"
)

// ConfirmRequest — выбранный слот и атрибуты создаваемых событий.
type ConfirmRequest struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Tz          string    `json:"tz,omitempty"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`

	// Ключ идемпотентности из заголовка; пустой — выводится из сессии и слота
	IdempotencyKey string `json:"-"`
}

const defaultEventTitle = "Scheduled meeting"

// Confirm бронирует слот в календарях обеих сторон.
//
// Компенсирующая сага без глобального координатора и durable-лога шагов:
// дорогие внешние записи выполняются ДО дешевого атомарного коммита,
// проигравший гонку сам удаляет свои события. Блокировка строки сессии
// не удерживается через удаленные вызовы — вместо предотвращения гонки
// используется компенсация.
func (s *SessionService) Confirm(ctx context.Context, sessionID, callerID string, req ConfirmRequest) (*domain.AgentMessage, error) {
	// Прекондиции: членство, терминальный гард, TTL
	sess, err := s.forMutation(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}

	// proposal_only-сессии бронировать нельзя
	if sess.Type == domain.SessionProposalOnly {
		return nil, fmt.Errorf("%w: proposal-only session cannot confirm a meeting", domain.ErrValidation)
	}

	// Связь активна + любой из write-скоупов достаточен
	perm, err := s.checker.RequireAny(ctx, sess, callerID, policy.ScopesConfirmAny...)
	if err != nil {
		return nil, err
	}

	// Валидация слота
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, fmt.Errorf("%w: start and end are required", domain.ErrValidation)
	}
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("%w: end must be after start", domain.ErrValidation)
	}
	tzName := req.Tz
	if tzName == "" {
		tzName = domain.DefaultTimezone
	}
	if _, err := time.LoadLocation(tzName); err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrValidation, tzName)
	}

	// Недельный лимит встреч любой из сторон
	if err := s.checkWeeklyCap(ctx, sess, perm.Constraints, req.Start); err != nil {
		return nil, err
	}

	now := s.now()
	key := req.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("confirm:%s:%d:%d", sessionID, req.Start.Unix(), req.End.Unix())
	}

	// 1. Регистрация ключа — единственная безотзывная точка "этот запрос
	// пойдет дальше". Конфликт здесь означает ноль побочных эффектов.
	if err := s.idem.RegisterKey(ctx, key, "confirm", now); err != nil {
		return nil, err
	}

	title := req.Title
	if title == "" {
		title = defaultEventTitle
	}
	spec := connectors.EventSpec{
		Summary:     title,
		Description: req.Description,
		Location:    req.Location,
		Start:       req.Start,
		End:         req.End,
		TimeZone:    tzName,
	}

	// 2. Событие в календаре инициатора. Id держим локально,
	// в сессию он попадет только на шаге 4.
	initiatorEventID, err := s.calendar.CreateEvent(ctx, sess.InitiatorID, spec)
	if err != nil {
		s.logger.Error("initiator event creation failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil, s.failSession(ctx, sess, fmt.Sprintf("calendar event creation failed: %v", err))
	}

	// 3. Событие в календаре второй стороны. При сбое компенсируем шаг 2
	// и закрываем сессию как error: ключ из шага 1 остается занятым,
	// ретрай обязан идти с новым ключом.
	counterpartEventID, err := s.calendar.CreateEvent(ctx, sess.CounterpartID, spec)
	if err != nil {
		s.logger.Error("counterpart event creation failed, compensating",
			zap.String("session_id", sessionID), zap.Error(err))
		s.deleteEvent(ctx, sess.InitiatorID, initiatorEventID, sessionID)
		s.auditCompensation(callerID, sessionID, map[string]interface{}{
			"initiator_event_id": initiatorEventID,
			"cause":              "counterpart_event_failed",
		})
		return nil, s.failSession(ctx, sess, fmt.Sprintf("counterpart calendar event creation failed: %v", err))
	}

	outcome := &domain.SessionOutcome{
		SelectedSlot: &domain.Slot{Start: req.Start, End: req.End, Tz: tzName},
		EventIDs: &domain.BookedEvents{
			InitiatorEventID:   initiatorEventID,
			CounterpartEventID: counterpartEventID,
		},
	}

	// 4. Атомарный коммит: условный UPDATE по нетерминальному статусу.
	// Из двух одновременных confirm ровно один затронет строку.
	won, err := s.repo.TransitionTerminal(ctx, sessionID, domain.SessionConfirmed, outcome, now)
	if err != nil {
		// Сбой хранилища после внешних записей: исход коммита неизвестен,
		// считаем попытку проваленной и убираем оба события
		s.logger.Error("confirm commit failed, compensating both events",
			zap.String("session_id", sessionID), zap.Error(err))
		s.deleteEvent(ctx, sess.InitiatorID, initiatorEventID, sessionID)
		s.deleteEvent(ctx, sess.CounterpartID, counterpartEventID, sessionID)
		return nil, s.failSession(ctx, sess, fmt.Sprintf("session commit failed: %v", err))
	}

	// 5. Проигравший гонку удаляет ОБА своих события и получает конфликт.
	// Ключ идемпотентности остается занятым — автоповтора не будет.
	if !won {
		s.logger.Warn("confirm race lost, compensating",
			zap.String("session_id", sessionID),
			zap.String("caller_id", callerID))
		s.deleteEvent(ctx, sess.InitiatorID, initiatorEventID, sessionID)
		s.deleteEvent(ctx, sess.CounterpartID, counterpartEventID, sessionID)
		s.auditCompensation(callerID, sessionID, map[string]interface{}{
			"initiator_event_id":   initiatorEventID,
			"counterpart_event_id": counterpartEventID,
			"cause":                "confirm_race_lost",
		})
		s.metrics.ConfirmOutcomes.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("%w: session already confirmed", domain.ErrConflict)
	}

	// 6. Победитель: confirm-сообщение, по аудит-записи на каждую сторону,
	// уведомления обоим. Сбои после коммита не откатывают бронь.
	msg := newMessage(sessionID, callerID, sess.Other(callerID), domain.ConfirmPayload{
		Slot:     domain.Slot{Start: req.Start, End: req.End, Tz: tzName},
		EventIDs: *outcome.EventIDs,
		Title:    title,
	}, now)
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		s.logger.Error("confirm message write failed, booking stands",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	for _, member := range []string{sess.InitiatorID, sess.CounterpartID} {
		s.auditor.Record(audit.Entry{
			UserID:       member,
			Action:       audit.ActionMeetingConfirmed,
			ResourceType: audit.ResourceSession,
			ResourceID:   sessionID,
			Details: map[string]interface{}{
				"start":                req.Start,
				"end":                  req.End,
				"initiator_event_id":   initiatorEventID,
				"counterpart_event_id": counterpartEventID,
			},
		})
		s.notifier.Notify(ctx, member, notify.KindMeetingConfirmed,
			"Meeting confirmed", fmt.Sprintf("Booked %s - %s", req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339)),
			map[string]interface{}{"session_id": sessionID, "start": req.Start, "end": req.End})
	}

	s.metrics.ConfirmOutcomes.WithLabelValues("confirmed").Inc()
	s.logger.Info("meeting confirmed",
		zap.String("session_id", sessionID),
		zap.String("caller_id", callerID),
		zap.Time("start", req.Start),
		zap.Time("end", req.End))

	return msg, nil
}

// checkWeeklyCap отклоняет бронь, если у любой из сторон исчерпан лимит
// встреч на ISO-неделю, в которую попадает начало слота.
func (s *SessionService) checkWeeklyCap(ctx context.Context, sess *domain.AgentSession, c domain.Constraints, start time.Time) error {
	weeklyCap := c.WeeklyCap()
	if weeklyCap <= 0 {
		return nil
	}
	weekStart, weekEnd := weekWindow(start)
	for _, member := range []string{sess.InitiatorID, sess.CounterpartID} {
		n, err := s.repo.CountConfirmedInWindow(ctx, member, weekStart, weekEnd)
		if err != nil {
			return err
		}
		if n >= weeklyCap {
			return fmt.Errorf("%w: max meetings per week (%d) reached for %s", domain.ErrValidation, weeklyCap, member)
		}
	}
	return nil
}

// weekWindow возвращает [понедельник 00:00 UTC, +7 суток) недели, в которую
// попадает t.
func weekWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	sinceMonday := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -sinceMonday)
	return start, start.AddDate(0, 0, 7)
}

// failSession закрывает сессию терминальным error с причиной в outcome
// и возвращает InternalError для вызывающего. Сессия никогда не остается
// висеть в negotiating после сбоя протокола.
func (s *SessionService) failSession(ctx context.Context, sess *domain.AgentSession, reason string) error {
	closed, err := s.repo.TransitionTerminal(ctx, sess.ID, domain.SessionError, &domain.SessionOutcome{Reason: reason}, s.now())
	if err != nil {
		s.logger.Error("failed to mark session error",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
	if closed {
		for _, member := range []string{sess.InitiatorID, sess.CounterpartID} {
			s.notifier.Notify(ctx, member, notify.KindSessionFailed,
				"Negotiation failed", reason,
				map[string]interface{}{"session_id": sess.ID})
		}
	}
	s.metrics.ConfirmOutcomes.WithLabelValues("compensated").Inc()
	return fmt.Errorf("%w: %s", domain.ErrInternal, reason)
}

// deleteEvent — компенсационное удаление. Сбой удаления уже не остановить:
// логируем event id, чтобы осиротевшее событие можно было убрать руками.
func (s *SessionService) deleteEvent(ctx context.Context, ownerID, eventID, sessionID string) {
	if err := s.calendar.DeleteEvent(ctx, ownerID, eventID); err != nil {
		s.logger.Error("compensation delete failed, event orphaned",
			zap.String("session_id", sessionID),
			zap.String("owner_id", ownerID),
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

func (s *SessionService) auditCompensation(callerID, sessionID string, details map[string]interface{}) {
	s.auditor.Record(audit.Entry{
		UserID:       callerID,
		Action:       audit.ActionConfirmCompensated,
		ResourceType: audit.ResourceSession,
		ResourceID:   sessionID,
		Details:      details,
	})
}
