package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/schedmesh-engine/internal/audit"
	"github.com/xela07ax/schedmesh-engine/internal/connectors"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
	"github.com/xela07ax/schedmesh-engine/internal/notify"
	"github.com/xela07ax/schedmesh-engine/internal/policy"
	"go.uber.org/zap"
)

// SessionRepository описывает требования к хранилищу сессий.
// Терминальные переходы — условные UPDATE: Transition возвращает,
// была ли затронута строка.
type SessionRepository interface {
	CreateSession(ctx context.Context, sess *domain.AgentSession) error
	GetSession(ctx context.Context, id string) (*domain.AgentSession, error)
	ListSessions(ctx context.Context, userID string, limit, offset int) ([]*domain.AgentSession, error)
	MarkNegotiating(ctx context.Context, id string, now time.Time) error
	TransitionTerminal(ctx context.Context, id string, to domain.SessionStatus, outcome *domain.SessionOutcome, now time.Time) (bool, error)
	CountConfirmedInWindow(ctx context.Context, userID string, from, to time.Time) (int, error)
}

// MessageRepository — append-only транскрипт переговоров.
type MessageRepository interface {
	CreateMessage(ctx context.Context, m *domain.AgentMessage) error
	ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*domain.AgentMessage, error)
}

// IdempotencyRegistry — insert-once реестр ключей; повторная регистрация
// того же ключа возвращает конфликт.
type IdempotencyRegistry interface {
	RegisterKey(ctx context.Context, key, scope string, now time.Time) error
}

// SessionConfig — параметры жизненного цикла сессий.
// Нулевые значения заменяются дефолтами реф-системы.
type SessionConfig struct {
	TTL           time.Duration // Жесткий дедлайн переговоров (30m)
	SearchHorizon time.Duration // Глубина поиска слотов при незаданном latest (7d)
}

// SessionService владеет машиной состояний сессии и обеими операциями
// переговоров: генерацией слотов (proposals.go) и протоколом бронирования
// (confirm.go). Разделение по файлам — по компонентам, состояние общее.
type SessionService struct {
	repo        SessionRepository
	messages    MessageRepository
	idem        IdempotencyRegistry
	connections policy.ConnectionSource
	checker     *policy.Checker
	calendar    connectors.CalendarProvider
	auditor     audit.Auditor
	notifier    notify.Dispatcher
	metrics     *Metrics
	logger      *zap.Logger

	ttl     time.Duration
	horizon time.Duration
	now     func() time.Time
}

func NewSessionService(
	cfg SessionConfig,
	repo SessionRepository,
	messages MessageRepository,
	idem IdempotencyRegistry,
	connections policy.ConnectionSource,
	checker *policy.Checker,
	calendar connectors.CalendarProvider,
	auditor audit.Auditor,
	notifier notify.Dispatcher,
	metrics *Metrics,
	logger *zap.Logger,
) *SessionService {
	if cfg.TTL <= 0 {
		cfg.TTL = domain.DefaultSessionTTLMins * time.Minute
	}
	if cfg.SearchHorizon <= 0 {
		cfg.SearchHorizon = defaultSearchHorizon
	}
	return &SessionService{
		repo:        repo,
		messages:    messages,
		idem:        idem,
		connections: connections,
		checker:     checker,
		calendar:    calendar,
		auditor:     auditor,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger.Named("sessions"),
		ttl:         cfg.TTL,
		horizon:     cfg.SearchHorizon,
		now:         time.Now,
	}
}

func newMessage(sessionID, from, to string, payload domain.Payload, now time.Time) *domain.AgentMessage {
	return &domain.AgentMessage{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		FromID:    from,
		ToID:      to,
		Type:      payload.MessageType(),
		Payload:   payload,
		CreatedAt: now,
	}
}

// Start открывает сессию переговоров поверх существующей активной связи.
// Connection должна связывать ровно вызывающего и указанного counterpart.
func (s *SessionService) Start(ctx context.Context, callerID, counterpartID, connectionID string, sessType domain.SessionType) (*domain.AgentSession, error) {
	// 1. Валидация запроса
	if !sessType.Known() {
		return nil, fmt.Errorf("%w: unknown session type %q", domain.ErrValidation, sessType)
	}
	if counterpartID == "" || connectionID == "" {
		return nil, fmt.Errorf("%w: counterpart_user_id and connection_id are required", domain.ErrValidation)
	}
	if counterpartID == callerID {
		return nil, fmt.Errorf("%w: cannot negotiate with yourself", domain.ErrValidation)
	}

	// 2. Связь: членство, соответствие пары, активность
	conn, err := s.connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.Member(callerID) {
		return nil, fmt.Errorf("%w: caller is not a connection member", domain.ErrAuthz)
	}
	if conn.Other(callerID) != counterpartID {
		return nil, fmt.Errorf("%w: counterpart does not match connection", domain.ErrValidation)
	}
	if conn.Status != domain.ConnectionActive {
		return nil, fmt.Errorf("%w: Connection not active", domain.ErrValidation)
	}

	now := s.now()
	sess := &domain.AgentSession{
		ID:            uuid.New().String(),
		Type:          sessType,
		InitiatorID:   callerID,
		CounterpartID: counterpartID,
		ConnectionID:  connectionID,
		Status:        domain.SessionInitiated,
		TTLExpiresAt:  now.Add(s.ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	s.auditor.Record(audit.Entry{
		UserID:       callerID,
		Action:       audit.ActionSessionStarted,
		ResourceType: audit.ResourceSession,
		ResourceID:   sess.ID,
		Details:      map[string]interface{}{"type": string(sessType), "connection_id": connectionID},
	})

	s.logger.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("initiator_id", callerID),
		zap.String("counterpart_id", counterpartID),
		zap.String("type", string(sessType)))

	return sess, nil
}

// Get возвращает сессию участнику. Статус отдается как записан:
// просроченная, но еще не тронутая мутацией сессия остается в своем
// статусе до ленивого перевода или прохода sweeper'а.
func (s *SessionService) Get(ctx context.Context, sessionID, callerID string) (*domain.AgentSession, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Member(callerID) {
		return nil, fmt.Errorf("%w: caller is not a session member", domain.ErrAuthz)
	}
	return sess, nil
}

// List возвращает сессии вызывающего, новые первыми.
func (s *SessionService) List(ctx context.Context, callerID string, limit, offset int) ([]*domain.AgentSession, error) {
	return s.repo.ListSessions(ctx, callerID, limit, offset)
}

// forMutation загружает сессию для мутирующей операции: членство,
// терминальный гард, ленивое TTL. Порядок фиксирован — посторонний
// получает отказ в доступе раньше, чем узнает статус сессии.
func (s *SessionService) forMutation(ctx context.Context, sessionID, callerID string) (*domain.AgentSession, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Member(callerID) {
		return nil, fmt.Errorf("%w: caller is not a session member", domain.ErrAuthz)
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("%w: session is already %s", domain.ErrConflict, sess.Status)
	}
	if sess.ExpiredAt(s.now()) {
		// Ленивый перевод: просроченную сессию закрываем прямо здесь,
		// не дожидаясь sweeper'а. Проигрыш гонки с другим closer'ом не важен —
		// ответ в любом случае "Session expired".
		if _, err := s.repo.TransitionTerminal(ctx, sessionID, domain.SessionExpired, nil, s.now()); err != nil {
			s.logger.Error("failed to expire session lazily", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: Session expired", domain.ErrValidation)
	}
	return sess, nil
}

// Cancel — ручной терминальный переход участником. Причина попадает
// в транскрипт (cancel-сообщение), но не в outcome: outcome.reason
// зарезервирован за протокольными сбоями.
func (s *SessionService) Cancel(ctx context.Context, sessionID, callerID, reason string) (*domain.AgentMessage, error) {
	sess, err := s.forMutation(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.checker.RequireMember(ctx, sess, callerID); err != nil {
		return nil, err
	}

	now := s.now()
	closed, err := s.repo.TransitionTerminal(ctx, sessionID, domain.SessionCanceled, nil, now)
	if err != nil {
		return nil, err
	}
	if !closed {
		// Кто-то успел закрыть сессию между загрузкой и переходом
		return nil, fmt.Errorf("%w: session is already closed", domain.ErrConflict)
	}

	msg := newMessage(sessionID, callerID, sess.Other(callerID), domain.CancelPayload{Reason: reason}, now)
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.auditor.Record(audit.Entry{
		UserID:       callerID,
		Action:       audit.ActionSessionCanceled,
		ResourceType: audit.ResourceSession,
		ResourceID:   sessionID,
		Details:      map[string]interface{}{"reason": reason},
	})
	s.notifier.Notify(ctx, sess.Other(callerID), notify.KindSessionCanceled,
		"Negotiation canceled", reason,
		map[string]interface{}{"session_id": sessionID})

	s.logger.Info("session canceled",
		zap.String("session_id", sessionID),
		zap.String("caller_id", callerID))

	return msg, nil
}

// PostMessage добавляет сообщение участника в транскрипт. Типы proposal и
// confirm порождаются только движком; cancel дополнительно закрывает сессию.
func (s *SessionService) PostMessage(ctx context.Context, sessionID, callerID string, payload domain.Payload) (*domain.AgentMessage, error) {
	switch p := payload.(type) {
	case domain.CancelPayload:
		return s.Cancel(ctx, sessionID, callerID, p.Reason)
	case domain.AcceptPayload, domain.ErrorPayload:
		// ниже
	default:
		return nil, fmt.Errorf("%w: message type %q cannot be posted directly", domain.ErrValidation, payload.MessageType())
	}

	sess, err := s.forMutation(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.checker.RequireMember(ctx, sess, callerID); err != nil {
		return nil, err
	}

	msg := newMessage(sessionID, callerID, sess.Other(callerID), payload, s.now())
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Messages возвращает страницу транскрипта в порядке created_at ASC.
// Чтение доступно только участникам, но не требует активной связи:
// история остается читаемой и после revoke.
func (s *SessionService) Messages(ctx context.Context, sessionID, callerID string, limit, offset int) ([]*domain.AgentMessage, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Member(callerID) {
		return nil, fmt.Errorf("%w: caller is not a session member", domain.ErrAuthz)
	}
	return s.messages.ListMessages(ctx, sessionID, limit, offset)
}
