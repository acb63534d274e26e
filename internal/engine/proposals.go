package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/schedmesh-engine/internal/audit"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
	"github.com/xela07ax/schedmesh-engine/internal/notify"
	"github.com/xela07ax/schedmesh-engine/internal/policy"
	"github.com/xela07ax/schedmesh-engine/internal/scheduling"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultProposalLimit = 5
	maxProposalLimit     = 20
	defaultSearchHorizon = 7 * 24 * time.Hour
)

// ProposalRequest — параметры генерации слотов.
type ProposalRequest struct {
	DurationMins int        `json:"duration_mins"`
	Earliest     *time.Time `json:"earliest,omitempty"` // Дефолт: сейчас
	Latest       *time.Time `json:"latest,omitempty"`   // Дефолт: сейчас + горизонт поиска
	Tz           string     `json:"tz,omitempty"`       // Дефолт: UTC
	Limit        int        `json:"limit,omitempty"`    // Дефолт 5, максимум 20

	// Ключ идемпотентности из заголовка; пустой — выводится из параметров
	IdempotencyKey string `json:"-"`
}

// Propose считает взаимно свободные слоты обеих сторон и кладет их
// proposal-сообщением в транскрипт. Пустой список слотов — валидный
// результат ("нет доступности"), не ошибка.
//
// Ключ идемпотентности регистрируется ДО походов в календарь: повторный
// идентичный запрос отклоняется конфликтом с нулем внешних вызовов.
func (s *SessionService) Propose(ctx context.Context, sessionID, callerID string, req ProposalRequest) (*domain.AgentMessage, error) {
	// 1. Сессия: членство, терминальный гард, TTL
	sess, err := s.forMutation(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}

	// 2. Связь активна + выданы оба скоупа чтения доступности и предложений
	perm, err := s.checker.RequireAll(ctx, sess, callerID, policy.ScopesPropose...)
	if err != nil {
		return nil, err
	}

	// 3. Валидация параметров против ограничений связи
	if req.DurationMins <= 0 {
		return nil, fmt.Errorf("%w: duration_mins must be positive", domain.ErrValidation)
	}
	if req.DurationMins < perm.Constraints.MinLengthMins() || req.DurationMins > perm.Constraints.MaxLengthMins() {
		return nil, fmt.Errorf("%w: duration_mins %d outside allowed bounds [%d, %d]",
			domain.ErrValidation, req.DurationMins, perm.Constraints.MinLengthMins(), perm.Constraints.MaxLengthMins())
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", domain.ErrValidation)
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultProposalLimit
	}
	if limit > maxProposalLimit {
		limit = maxProposalLimit
	}

	tzName := req.Tz
	if tzName == "" {
		tzName = domain.DefaultTimezone
	}
	if _, err := time.LoadLocation(tzName); err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrValidation, tzName)
	}

	now := s.now()
	earliest := now
	if req.Earliest != nil {
		earliest = *req.Earliest
	}
	latest := now.Add(s.horizon)
	if req.Latest != nil {
		latest = *req.Latest
	}
	if !latest.After(earliest) {
		return nil, fmt.Errorf("%w: search window is empty", domain.ErrValidation)
	}

	// 4. Ключ идемпотентности — единственная точка отсечения дублей.
	// Выведенный ключ детерминирован по сессии и параметрам окна.
	key := req.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("proposal:%s:%d:%d:%d", sessionID, req.DurationMins, earliest.Unix(), latest.Unix())
	}
	if err := s.idem.RegisterKey(ctx, key, "proposal", now); err != nil {
		return nil, err
	}

	// 5. Занятость обеих сторон из календарного шлюза. Походы независимы,
	// ходим параллельно; сбой любого из них отменяет второй.
	window := scheduling.Interval{Start: earliest, End: latest}
	dur := time.Duration(req.DurationMins) * time.Minute

	var initiatorCal, counterpartCal scheduling.MemberCalendar
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		initiatorCal, err = s.memberCalendar(gctx, sess.InitiatorID, perm.Constraints, window, now)
		return err
	})
	g.Go(func() error {
		var err error
		counterpartCal, err = s.memberCalendar(gctx, sess.CounterpartID, perm.Constraints, window, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// 6. Свободное-минус-занятое каждой стороны, пересечение, нарезка на слоты.
	// Результат отсортирован earliest-first; других эвристик ранжирования нет.
	mutual := scheduling.MutualSlots(window, dur, initiatorCal, counterpartCal)
	if len(mutual) > limit {
		mutual = mutual[:limit]
	}

	slots := make([]domain.Slot, 0, len(mutual))
	for _, iv := range mutual {
		slots = append(slots, domain.Slot{Start: iv.Start, End: iv.End, Tz: tzName})
	}

	// 7. Сообщение в транскрипт + переход initiated -> negotiating (идемпотентный)
	msg := newMessage(sessionID, callerID, sess.Other(callerID), domain.ProposalPayload{
		Slots:        slots,
		DurationMins: req.DurationMins,
	}, now)
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.repo.MarkNegotiating(ctx, sessionID, now); err != nil {
		return nil, err
	}

	s.metrics.ProposalSlots.Observe(float64(len(slots)))
	s.auditor.Record(audit.Entry{
		UserID:       callerID,
		Action:       audit.ActionProposalGenerated,
		ResourceType: audit.ResourceSession,
		ResourceID:   sessionID,
		Details:      map[string]interface{}{"slots": len(slots), "duration_mins": req.DurationMins},
	})
	s.notifier.Notify(ctx, sess.Other(callerID), notify.KindProposalReceived,
		"New meeting proposals", fmt.Sprintf("%d candidate slots to review", len(slots)),
		map[string]interface{}{"session_id": sessionID, "slots": len(slots)})

	s.logger.Info("proposals generated",
		zap.String("session_id", sessionID),
		zap.String("caller_id", callerID),
		zap.Int("slots", len(slots)))

	return msg, nil
}

// memberCalendar собирает вход одной стороны для расчета доступности:
// занятость из календаря + рабочее окно и notice из ограничений связи.
// Constraints одни на связь, busy-интервалы у каждой стороны свои.
func (s *SessionService) memberCalendar(ctx context.Context, ownerID string, c domain.Constraints, window scheduling.Interval, now time.Time) (scheduling.MemberCalendar, error) {
	busyRaw, err := s.calendar.FetchBusy(ctx, ownerID, window.Start, window.End)
	if err != nil {
		s.logger.Error("busy fetch failed", zap.String("owner_id", ownerID), zap.Error(err))
		return scheduling.MemberCalendar{}, fmt.Errorf("calendar busy fetch for %s: %w", ownerID, err)
	}
	busy := make([]scheduling.Interval, 0, len(busyRaw))
	for _, b := range busyRaw {
		busy = append(busy, scheduling.Interval{Start: b.Start, End: b.End})
	}

	startH, startM, err := scheduling.ParseHHMM(c.HoursStart())
	if err != nil {
		return scheduling.MemberCalendar{}, fmt.Errorf("stored working hours corrupt: %w", err)
	}
	endH, endM, err := scheduling.ParseHHMM(c.HoursEnd())
	if err != nil {
		return scheduling.MemberCalendar{}, fmt.Errorf("stored working hours corrupt: %w", err)
	}
	loc, err := time.LoadLocation(c.Timezone())
	if err != nil {
		return scheduling.MemberCalendar{}, fmt.Errorf("stored timezone corrupt: %w", err)
	}

	return scheduling.MemberCalendar{
		Busy:        busy,
		NoticeFloor: now.Add(time.Duration(c.NoticeHours()) * time.Hour),
		WorkStartH:  startH,
		WorkStartM:  startM,
		WorkEndH:    endH,
		WorkEndM:    endM,
		Tz:          loc,
		Weekdays:    c.WeekdaySet(),
	}, nil
}
