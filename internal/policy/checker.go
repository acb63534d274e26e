package policy

import (
	"context"
	"fmt"

	"github.com/xela07ax/schedmesh-engine/internal/domain"
	"go.uber.org/zap"
)

// ConnectionSource — доступ к связи и ее permission-строке.
type ConnectionSource interface {
	GetConnection(ctx context.Context, id string) (*domain.Connection, error)
	GetPermission(ctx context.Context, connectionID string) (*domain.ConnectionPermission, error)
}

// Наборы скоупов по операциям движка.
var (
	// ScopesPropose — генерация слотов требует оба скоупа.
	ScopesPropose = []domain.Scope{domain.ScopeAvailabilityRead, domain.ScopeEventsPropose}

	// ScopesConfirmAny — для confirm достаточно любого write-скоупа:
	// различие auto/confirm на этом слое не интерпретируется.
	ScopesConfirmAny = []domain.Scope{domain.ScopeEventsWriteAuto, domain.ScopeEventsWriteConfirm}
)

// Checker — гейт авторизации сессионных операций. Default deny:
// нет permission-строки или нужного скоупа — отказ, независимо от остального.
type Checker struct {
	connections ConnectionSource
	logger      *zap.Logger
}

func NewChecker(connections ConnectionSource, logger *zap.Logger) *Checker {
	return &Checker{
		connections: connections,
		logger:      logger.Named("policy"),
	}
}

// authorize — общая часть: участник сессии + активная связь.
// Порядок проверок фиксирован: членство, статус связи, затем скоупы.
func (c *Checker) authorize(ctx context.Context, sess *domain.AgentSession, callerID string) (*domain.ConnectionPermission, error) {
	if !sess.Member(callerID) {
		c.logger.Warn("non-member attempted session operation",
			zap.String("session_id", sess.ID),
			zap.String("caller_id", callerID),
		)
		return nil, fmt.Errorf("%w: caller is not a session member", domain.ErrAuthz)
	}

	conn, err := c.connections.GetConnection(ctx, sess.ConnectionID)
	if err != nil {
		return nil, err
	}
	if conn.Status != domain.ConnectionActive {
		return nil, fmt.Errorf("%w: Connection not active", domain.ErrValidation)
	}

	return c.connections.GetPermission(ctx, sess.ConnectionID)
}

// RequireAll проверяет, что выданы все перечисленные скоупы (proposals).
func (c *Checker) RequireAll(ctx context.Context, sess *domain.AgentSession, callerID string, scopes ...domain.Scope) (*domain.ConnectionPermission, error) {
	perm, err := c.authorize(ctx, sess, callerID)
	if err != nil {
		return nil, err
	}
	for _, sc := range scopes {
		if !perm.HasScope(sc) {
			return nil, fmt.Errorf("%w: missing scope %s", domain.ErrAuthz, sc)
		}
	}
	return perm, nil
}

// RequireAny проверяет, что выдан хотя бы один из скоупов (confirm).
func (c *Checker) RequireAny(ctx context.Context, sess *domain.AgentSession, callerID string, scopes ...domain.Scope) (*domain.ConnectionPermission, error) {
	perm, err := c.authorize(ctx, sess, callerID)
	if err != nil {
		return nil, err
	}
	if !perm.HasAnyScope(scopes...) {
		return nil, fmt.Errorf("%w: none of required scopes granted", domain.ErrAuthz)
	}
	return perm, nil
}

// RequireMember проверяет только членство и активность связи
// (чтение сессии, постинг в транскрипт).
func (c *Checker) RequireMember(ctx context.Context, sess *domain.AgentSession, callerID string) (*domain.ConnectionPermission, error) {
	return c.authorize(ctx, sess, callerID)
}
