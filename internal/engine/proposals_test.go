package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/schedmesh-engine/internal/audit"
	"github.com/xela07ax/schedmesh-engine/internal/connectors"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
	"github.com/xela07ax/schedmesh-engine/internal/notify"
)

// Оба участника свободны, рабочее окно дефолтное 09:00-17:00 UTC:
// слоты идут с 09:00 по возрастанию и обрезаются дефолтным лимитом 5.
func TestPropose_GeneratesAscendingSlots(t *testing.T) {
	w := newWorld(t)
	connID := w.activeConnection(proposeScopes, noNotice())
	sess := w.startSession(t, connID, domain.SessionScheduleMeeting)

	latest := testBase.Add(10 * time.Hour) // понедельник 18:00Z
	msg, err := w.svc.Propose(context.Background(), sess.ID, userAlice, ProposalRequest{
		DurationMins: 30,
		Latest:       &latest,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.MessageProposal, msg.Type)
	assert.Equal(t, userAlice, msg.FromID)
	assert.Equal(t, userBob, msg.ToID)

	payload, ok := msg.Payload.(domain.ProposalPayload)
	require.True(t, ok, "payload обязан быть ProposalPayload")
	assert.Equal(t, 30, payload.DurationMins)
	require.Len(t, payload.Slots, 5, "дефолтный limit 5")

	first := payload.Slots[0]
	assert.Equal(t, testBase.Add(time.Hour), first.Start, "первый слот 09:00")
	assert.Equal(t, testBase.Add(90*time.Minute), first.End)
	for i := 1; i < len(payload.Slots); i++ {
		assert.True(t, payload.Slots[i].Start.After(payload.Slots[i-1].Start), "сортировка earliest-first")
	}

	stored := w.sessions.get(t, sess.ID)
	assert.Equal(t, domain.SessionNegotiating, stored.Status, "первый proposal переводит в negotiating")

	assert.Equal(t, 2, w.cal.fetches(), "по одному busy-запросу на сторону")
	assert.Equal(t, 1, w.auditor.countAction(audit.ActionProposalGenerated))
	assert.Equal(t, 1, w.notifier.countKind(notify.KindProposalReceived))
}

func TestPropose_RespectsBusyIntervals(t *testing.T) {
	w := newWorld(t)
	connID := w.activeConnection(proposeScopes, noNotice())
	sess := w.startSession(t, connID, domain.SessionScheduleMeeting)

	busy := connectors.BusyInterval{Start: testBase.Add(time.Hour), End: testBase.Add(4 * time.Hour)} // 09:00-12:00
	w.cal.busy[userBob] = []connectors.BusyInterval{busy}

	latest := testBase.Add(10 * time.Hour)
	msg, err := w.svc.Propose(context.Background(), sess.ID, userAlice, ProposalRequest{
		DurationMins: 60,
		Latest:       &latest,
		Limit:        20,
	})
	require.NoError(t, err)

	payload := msg.Payload.(domain.ProposalPayload)
	require.NotEmpty(t, payload.Slots)
	assert.Equal(t, testBase.Add(4*time.Hour), payload.Slots[0].Start, "первый слот после busy-блока")
	for _, slot := range payload.Slots {
		overlap := slot.Start.Before(busy.End) && busy.Start.Before(slot.End)
		assert.False(t, overlap, "слот %v пересекает занятость", slot)
	}
}

func TestPropose_EmptyResultIsValidProposal(t *testing.T) {
	w := newWorld(t)
	connID := w.activeConnection(proposeScopes, noNotice())
	sess := w.startSession(t, connID, domain.SessionScheduleMeeting)

	latest := testBase.Add(10 * time.Hour)
	w.cal.busy[userAlice] = []connectors.BusyInterval{{Start: testBase, End: latest}}

	msg, err := w.svc.Propose(context.Background(), sess.ID, userAlice, ProposalRequest{
		DurationMins: 30,
		Latest:       &latest,
	})
	require.NoError(t, err, "пустой список слотов — валидный результат, не ошибка")

	payload := msg.Payload.(domain.ProposalPayload)
	assert.NotNil(t, payload.Slots, "в JSON должен уйти [], а не null")
	assert.Empty(t, payload.Slots)
	assert.Equal(t, domain.SessionNegotiating, w.sessions.get(t, sess.ID).Status)
}

// Повторный идентичный запрос отсекается ключом идемпотентности
// до единого похода в календарь.
func TestPropose_DuplicateDerivedKeyConflictsWithoutRemoteCalls(t *testing.T) {
	w := newWorld(t)
	connID := w.activeConnection(proposeScopes, noNotice())
	sess := w.startSession(t, connID, domain.SessionScheduleMeeting)

	latest := testBase.Add(10 * time.Hour)
	req := ProposalRequest{DurationMins: 30, Latest: &latest}

	_, err := w.svc.Propose(context.Background(), sess.ID, userAlice, req)
	require.NoError(t, err)
	require.Equal(t, 2, w.cal.fetches())

	_, err = w.svc.Propose(context.Background(), sess.ID, userAlice, req)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 2, w.cal.fetches(), "дубль не ходит в календарь")
	assert.Len(t, w.messages.byType(domain.MessageProposal), 1, "второго proposal-сообщения нет")
}

func TestPropose_CallerSuppliedKey(t *testing.T) {
	w := newWorld(t)
	connID := w.activeConnection(proposeScopes, noNotice())
	sess := w.startSession(t, connID, domain.SessionScheduleMeeting)

	latest := testBase.Add(10 * time.Hour)
	req := ProposalRequest{DurationMins: 30, Latest: &latest, IdempotencyKey: "client-key-7"}

	_, err := w.svc.Propose(context.Background(), sess.ID, userAlice, req)
	require.NoError(t, err)
	assert.True(t, w.idem.has("client-key-7"))

	// Другие параметры, но тот же ключ — все равно конфликт
	req.DurationMins = 60
	_, err = w.svc.Propose(context.Background(), sess.ID, userAlice, req)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 2, w.cal.fetches())
}

func TestPropose_ScopeRequired(t *testing.T) {
	w := newWorld(t)
	// Только чтение доступности, без events.propose
	connID := w.activeConnection([]domain.Scope{domain.ScopeAvailabilityRead}, noNotice())
	sess := w.startSession(t, connID, domain.SessionScheduleMeeting)

	_, err := w.svc.Propose(context.Background(), sess.ID, userAlice, ProposalRequest{DurationMins: 30})
	require.ErrorIs(t, err, domain.ErrAuthz)
	assert.Zero(t, w.cal.fetches())
	assert.Zero(t, w.idem.size(), "ключ не регистрируется до прохождения авторизации")
}

func TestPropose_RevokedConnectionRejected(t *testing.T) {
	w := newWorld(t)
	connID := w.activeConnection(proposeScopes, noNotice())
	sess := w.startSession(t, connID, domain.SessionScheduleMeeting)

	require.NoError(t, w.connSvc.Revoke(context.Background(), connID, userBob))

	_, err := w.svc.Propose(context.Background(), sess.ID, userAlice, ProposalRequest{DurationMins: 30})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "Connection not active")
}

func TestPropose_ExpiredSessionRejected(t *testing.T) {
	w := newWorld(t)
	connID := w.activeConnection(proposeScopes, noNotice())
	sess := w.startSession(t, connID, domain.SessionScheduleMeeting)

	w.clock.Advance(31 * time.Minute)

	_, err := w.svc.Propose(context.Background(), sess.ID, userAlice, ProposalRequest{DurationMins: 30})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "Session expired")
}

func TestPropose_DurationBounds(t *testing.T) {
	w := newWorld(t)
	connID := w.activeConnection(proposeScopes, noNotice())
	sess := w.startSession(t, connID, domain.SessionScheduleMeeting)

	// Дефолтные границы длительности 15-120 минут
	_, err := w.svc.Propose(context.Background(), sess.ID, userAlice, ProposalRequest{DurationMins: 10})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = w.svc.Propose(context.Background(), sess.ID, userAlice, ProposalRequest{DurationMins: 240})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = w.svc.Propose(context.Background(), sess.ID, userAlice, ProposalRequest{DurationMins: 0})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPropose_LimitClampedToMax(t *testing.T) {
	w := newWorld(t)
	connID := w.activeConnection(proposeScopes, noNotice())
	sess := w.startSession(t, connID, domain.SessionScheduleMeeting)

	latest := testBase.Add(10 * time.Hour)
	msg, err := w.svc.Propose(context.Background(), sess.ID, userAlice, ProposalRequest{
		DurationMins: 15,
		Latest:       &latest,
		Limit:        50,
	})
	require.NoError(t, err)

	payload := msg.Payload.(domain.ProposalPayload)
	assert.Len(t, payload.Slots, 20, "limit обрезается до максимума 20")
}

func TestPropose_ProposalOnlySessionAllowed(t *testing.T) {
	w := newWorld(t)
	connID := w.activeConnection(proposeScopes, noNotice())
	sess := w.startSession(t, connID, domain.SessionProposalOnly)

	latest := testBase.Add(10 * time.Hour)
	_, err := w.svc.Propose(context.Background(), sess.ID, userBob, ProposalRequest{
		DurationMins: 30,
		Latest:       &latest,
	})
	assert.NoError(t, err, "proposal_only ограничивает только confirm")
}
