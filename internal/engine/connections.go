package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/schedmesh-engine/internal/audit"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
	"github.com/xela07ax/schedmesh-engine/internal/scheduling"
	"go.uber.org/zap"
)

// ConnectionRepository описывает требования к хранилищу связей и их permission-строк
type ConnectionRepository interface {
	CreateConnection(ctx context.Context, conn *domain.Connection, perm *domain.ConnectionPermission) error
	GetConnection(ctx context.Context, id string) (*domain.Connection, error)
	FindLiveByPair(ctx context.Context, userA, userB string) (*domain.Connection, error)
	ListConnections(ctx context.Context, userID string, limit, offset int) ([]*domain.Connection, error)
	AcceptConnection(ctx context.Context, perm *domain.ConnectionPermission, now time.Time) error
	GetPermission(ctx context.Context, connectionID string) (*domain.ConnectionPermission, error)
	UpdatePermission(ctx context.Context, perm *domain.ConnectionPermission) error
	RevokeConnection(ctx context.Context, id string, now time.Time) (bool, error)
}

// UserSource — проверка существования принципала.
type UserSource interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// ConnectionService — реестр permissioned-связей: приглашение, принятие,
// изменение грантов и разрыв. Каждая мутация проверяет, что вызывающий —
// сторона связи.
type ConnectionService struct {
	repo    ConnectionRepository
	users   UserSource
	auditor audit.Auditor
	logger  *zap.Logger
	now     func() time.Time
}

func NewConnectionService(repo ConnectionRepository, users UserSource, auditor audit.Auditor, logger *zap.Logger) *ConnectionService {
	return &ConnectionService{
		repo:    repo,
		users:   users,
		auditor: auditor,
		logger:  logger.Named("connections"),
		now:     time.Now,
	}
}

// PermissionPatch — частичное обновление permission-строки.
// nil-поле означает "не трогать"; scopes при наличии заменяются целиком.
type PermissionPatch struct {
	Scopes      []domain.Scope      `json:"scopes,omitempty"`
	Constraints *domain.Constraints `json:"constraints,omitempty"`
}

func validateScopes(scopes []domain.Scope) error {
	for _, sc := range scopes {
		if !sc.Known() {
			return fmt.Errorf("%w: unknown scope %q", domain.ErrValidation, sc)
		}
	}
	return nil
}

// validateConstraints проверяет структурную корректность ограничений.
// Дефолты здесь не подставляются: незаданные поля остаются nil,
// аксессоры domain.Constraints подставят дефолты при чтении.
func validateConstraints(c *domain.Constraints) error {
	if c == nil {
		return nil
	}
	if wh := c.WorkingHours; wh != nil {
		if _, _, err := scheduling.ParseHHMM(wh.Start); wh.Start != "" && err != nil {
			return fmt.Errorf("%w: bad working_hours.start: %v", domain.ErrValidation, err)
		}
		if _, _, err := scheduling.ParseHHMM(wh.End); wh.End != "" && err != nil {
			return fmt.Errorf("%w: bad working_hours.end: %v", domain.ErrValidation, err)
		}
		if wh.Timezone != "" {
			if _, err := time.LoadLocation(wh.Timezone); err != nil {
				return fmt.Errorf("%w: unknown timezone %q", domain.ErrValidation, wh.Timezone)
			}
		}
		for _, d := range wh.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: weekday out of range: %d", domain.ErrValidation, d)
			}
		}
	}
	if c.MinNoticeHours != nil && *c.MinNoticeHours < 0 {
		return fmt.Errorf("%w: min_notice_hours must not be negative", domain.ErrValidation)
	}
	if c.MinMeetingLengthMins != nil && *c.MinMeetingLengthMins <= 0 {
		return fmt.Errorf("%w: min_meeting_length_mins must be positive", domain.ErrValidation)
	}
	if c.MaxMeetingLengthMins != nil && *c.MaxMeetingLengthMins <= 0 {
		return fmt.Errorf("%w: max_meeting_length_mins must be positive", domain.ErrValidation)
	}
	if c.MinMeetingLengthMins != nil && c.MaxMeetingLengthMins != nil && *c.MaxMeetingLengthMins < *c.MinMeetingLengthMins {
		return fmt.Errorf("%w: max_meeting_length_mins is below min_meeting_length_mins", domain.ErrValidation)
	}
	if c.MaxMeetingsPerWeek != nil && *c.MaxMeetingsPerWeek < 0 {
		return fmt.Errorf("%w: max_meetings_per_week must not be negative", domain.ErrValidation)
	}
	return nil
}

// Invite создает pending-связь с предложенными грантами. Пара неупорядоченная:
// вторая не-revoked связь между теми же принципалами отклоняется как конфликт.
func (s *ConnectionService) Invite(ctx context.Context, requesterID, targetID string, scopes []domain.Scope, constraints *domain.Constraints) (*domain.Connection, error) {
	// 1. Валидация запроса
	if targetID == "" {
		return nil, fmt.Errorf("%w: target_user_id is required", domain.ErrValidation)
	}
	if targetID == requesterID {
		return nil, fmt.Errorf("%w: cannot create a connection with yourself", domain.ErrValidation)
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", domain.ErrValidation)
	}
	if err := validateScopes(scopes); err != nil {
		return nil, err
	}
	if err := validateConstraints(constraints); err != nil {
		return nil, err
	}

	// 2. Адресат должен существовать
	if _, err := s.users.GetUser(ctx, targetID); err != nil {
		return nil, err
	}

	// 3. Живая связь пары уже есть — конфликт до вставки. Гонку двух
	// одновременных invite все равно закрывает unique-индекс по паре.
	existing, err := s.repo.FindLiveByPair(ctx, requesterID, targetID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: connection %s already exists for this pair", domain.ErrConflict, existing.ID)
	}

	now := s.now()
	conn := &domain.Connection{
		ID:          uuid.New().String(),
		RequesterID: requesterID,
		TargetID:    targetID,
		Status:      domain.ConnectionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	perm := &domain.ConnectionPermission{
		ConnectionID: conn.ID,
		Scopes:       scopes,
		UpdatedAt:    now,
	}
	if constraints != nil {
		perm.Constraints = *constraints
	}

	// 4. Атомарная запись связи + permission-строки; unique-индекс
	// остается последним рубежом (репозиторий вернет конфликт)
	if err := s.repo.CreateConnection(ctx, conn, perm); err != nil {
		return nil, err
	}

	s.auditor.Record(audit.Entry{
		UserID:       requesterID,
		Action:       audit.ActionConnectionInvited,
		ResourceType: audit.ResourceConnection,
		ResourceID:   conn.ID,
		Details:      map[string]interface{}{"target_user_id": targetID},
	})

	s.logger.Info("connection invited",
		zap.String("connection_id", conn.ID),
		zap.String("requester_id", requesterID),
		zap.String("target_id", targetID))

	return conn, nil
}

// Accept переводит pending-связь в active. Принять может только приглашенная
// сторона, и именно здесь она выставляет СВОИ гранты — они могут отличаться
// от предложенных в invite. Constraints без явной замены сохраняются.
func (s *ConnectionService) Accept(ctx context.Context, connectionID, accepterID string, scopes []domain.Scope, constraints *domain.Constraints) (*domain.Connection, error) {
	conn, err := s.repo.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	// 1. Принимает только адресат приглашения
	if accepterID != conn.TargetID {
		return nil, fmt.Errorf("%w: only the invited party can accept", domain.ErrAuthz)
	}
	if conn.Status != domain.ConnectionPending {
		return nil, fmt.Errorf("%w: connection is not pending", domain.ErrConflict)
	}

	// 2. Валидация грантов принимающей стороны
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", domain.ErrValidation)
	}
	if err := validateScopes(scopes); err != nil {
		return nil, err
	}
	if err := validateConstraints(constraints); err != nil {
		return nil, err
	}

	now := s.now()
	perm := &domain.ConnectionPermission{
		ConnectionID: connectionID,
		Scopes:       scopes,
		UpdatedAt:    now,
	}
	if constraints != nil {
		perm.Constraints = *constraints
	} else {
		// Accept без constraints не стирает предложенные в invite
		current, err := s.repo.GetPermission(ctx, connectionID)
		if err != nil {
			return nil, err
		}
		perm.Constraints = current.Constraints
	}

	// 3. CAS по статусу pending закрывает гонку двойного accept
	if err := s.repo.AcceptConnection(ctx, perm, now); err != nil {
		return nil, err
	}

	conn.Status = domain.ConnectionActive
	conn.UpdatedAt = now

	s.auditor.Record(audit.Entry{
		UserID:       accepterID,
		Action:       audit.ActionConnectionAccepted,
		ResourceType: audit.ResourceConnection,
		ResourceID:   connectionID,
		Details:      map[string]interface{}{"scopes": scopes},
	})

	s.logger.Info("connection accepted",
		zap.String("connection_id", connectionID),
		zap.String("accepter_id", accepterID))

	return conn, nil
}

// UpdatePermissions меняет гранты активной связи. Доступно обеим сторонам.
// Scopes при наличии заменяются целиком, constraints сливаются shallow:
// заданные поля перезаписывают, отсутствующие сохраняются.
func (s *ConnectionService) UpdatePermissions(ctx context.Context, connectionID, callerID string, patch PermissionPatch) (*domain.ConnectionPermission, error) {
	conn, err := s.repo.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !conn.Member(callerID) {
		return nil, fmt.Errorf("%w: caller is not a connection member", domain.ErrAuthz)
	}
	if conn.Status != domain.ConnectionActive {
		return nil, fmt.Errorf("%w: Connection not active", domain.ErrValidation)
	}

	if err := validateScopes(patch.Scopes); err != nil {
		return nil, err
	}
	if err := validateConstraints(patch.Constraints); err != nil {
		return nil, err
	}

	perm, err := s.repo.GetPermission(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	if patch.Scopes != nil {
		perm.Scopes = patch.Scopes
	}
	if patch.Constraints != nil {
		perm.Constraints = perm.Constraints.Merge(*patch.Constraints)
	}
	perm.UpdatedAt = s.now()

	if err := s.repo.UpdatePermission(ctx, perm); err != nil {
		return nil, err
	}

	s.auditor.Record(audit.Entry{
		UserID:       callerID,
		Action:       audit.ActionConnectionUpdated,
		ResourceType: audit.ResourceConnection,
		ResourceID:   connectionID,
		Details:      map[string]interface{}{"scopes_replaced": patch.Scopes != nil, "constraints_merged": patch.Constraints != nil},
	})

	s.logger.Info("connection permissions updated",
		zap.String("connection_id", connectionID),
		zap.String("caller_id", callerID))

	return perm, nil
}

// Revoke терминально разрывает связь. Идемпотентен: повторный revoke —
// успех без эффекта. Уже подтвержденные сессии разрыв не откатывает.
func (s *ConnectionService) Revoke(ctx context.Context, connectionID, callerID string) error {
	conn, err := s.repo.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	if !conn.Member(callerID) {
		return fmt.Errorf("%w: caller is not a connection member", domain.ErrAuthz)
	}

	revoked, err := s.repo.RevokeConnection(ctx, connectionID, s.now())
	if err != nil {
		return err
	}
	if !revoked {
		// Уже revoked — no-op, без повторной записи в аудит
		return nil
	}

	s.auditor.Record(audit.Entry{
		UserID:       callerID,
		Action:       audit.ActionConnectionRevoked,
		ResourceType: audit.ResourceConnection,
		ResourceID:   connectionID,
	})

	s.logger.Info("connection revoked",
		zap.String("connection_id", connectionID),
		zap.String("caller_id", callerID))

	return nil
}

// List возвращает связи, в которых участвует вызывающий, новые первыми.
func (s *ConnectionService) List(ctx context.Context, callerID string, limit, offset int) ([]*domain.Connection, error) {
	conns, err := s.repo.ListConnections(ctx, callerID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list connections", zap.String("caller_id", callerID), zap.Error(err))
		return nil, err
	}
	return conns, nil
}
