package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/schedmesh-engine/internal/audit"
	"github.com/xela07ax/schedmesh-engine/internal/connectors"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
	"github.com/xela07ax/schedmesh-engine/internal/policy"
	"go.uber.org/zap"
)

const (
	userAlice = "alice"
	userBob   = "bob"
	userCarol = "carol"
)

// Понедельник, 08:00 UTC — фиксированная точка отсчета всех сценариев.
var testBase = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

func intp(v int) *int { return &v }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeUsers struct {
	users map[string]*domain.User
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	return u, nil
}

// fakeConnRepo реализует и ConnectionRepository, и policy.ConnectionSource.
type fakeConnRepo struct {
	mu    sync.Mutex
	conns map[string]*domain.Connection
	perms map[string]*domain.ConnectionPermission
}

func newFakeConnRepo() *fakeConnRepo {
	return &fakeConnRepo{
		conns: make(map[string]*domain.Connection),
		perms: make(map[string]*domain.ConnectionPermission),
	}
}

func (f *fakeConnRepo) CreateConnection(_ context.Context, conn *domain.Connection, perm *domain.ConnectionPermission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Имитация частичного unique-индекса по неупорядоченной паре
	for _, existing := range f.conns {
		if existing.Status == domain.ConnectionRevoked {
			continue
		}
		samePair := (existing.RequesterID == conn.RequesterID && existing.TargetID == conn.TargetID) ||
			(existing.RequesterID == conn.TargetID && existing.TargetID == conn.RequesterID)
		if samePair {
			return fmt.Errorf("%w: active connection for this pair already exists", domain.ErrConflict)
		}
	}
	c := *conn
	p := *perm
	f.conns[conn.ID] = &c
	f.perms[perm.ConnectionID] = &p
	return nil
}

func (f *fakeConnRepo) GetConnection(_ context.Context, id string) (*domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: connection %s", domain.ErrNotFound, id)
	}
	c := *conn
	return &c, nil
}

func (f *fakeConnRepo) FindLiveByPair(_ context.Context, userA, userB string) (*domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		if conn.Status == domain.ConnectionRevoked {
			continue
		}
		samePair := (conn.RequesterID == userA && conn.TargetID == userB) ||
			(conn.RequesterID == userB && conn.TargetID == userA)
		if samePair {
			c := *conn
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeConnRepo) ListConnections(_ context.Context, userID string, limit, offset int) ([]*domain.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Connection, 0)
	for _, conn := range f.conns {
		if conn.RequesterID == userID || conn.TargetID == userID {
			c := *conn
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*domain.Connection{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeConnRepo) AcceptConnection(_ context.Context, perm *domain.ConnectionPermission, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.conns[perm.ConnectionID]
	if !ok {
		return fmt.Errorf("%w: connection %s", domain.ErrNotFound, perm.ConnectionID)
	}
	if conn.Status != domain.ConnectionPending {
		return fmt.Errorf("%w: connection is not pending", domain.ErrConflict)
	}
	conn.Status = domain.ConnectionActive
	conn.UpdatedAt = now
	p := *perm
	f.perms[perm.ConnectionID] = &p
	return nil
}

func (f *fakeConnRepo) GetPermission(_ context.Context, connectionID string) (*domain.ConnectionPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	perm, ok := f.perms[connectionID]
	if !ok {
		return nil, fmt.Errorf("%w: permission for connection %s", domain.ErrNotFound, connectionID)
	}
	p := *perm
	return &p, nil
}

func (f *fakeConnRepo) UpdatePermission(_ context.Context, perm *domain.ConnectionPermission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := *perm
	f.perms[perm.ConnectionID] = &p
	return nil
}

func (f *fakeConnRepo) RevokeConnection(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.conns[id]
	if !ok || conn.Status == domain.ConnectionRevoked {
		return false, nil
	}
	conn.Status = domain.ConnectionRevoked
	conn.UpdatedAt = now
	return true, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.AgentSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*domain.AgentSession)}
}

func (f *fakeSessionRepo) CreateSession(_ context.Context, sess *domain.AgentSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := *sess
	f.sessions[sess.ID] = &s
	return nil
}

func (f *fakeSessionRepo) GetSession(_ context.Context, id string) (*domain.AgentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	s := *sess
	return &s, nil
}

func (f *fakeSessionRepo) ListSessions(_ context.Context, userID string, limit, offset int) ([]*domain.AgentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.AgentSession, 0)
	for _, sess := range f.sessions {
		if sess.InitiatorID == userID || sess.CounterpartID == userID {
			s := *sess
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*domain.AgentSession{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSessionRepo) MarkNegotiating(_ context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[id]; ok && sess.Status == domain.SessionInitiated {
		sess.Status = domain.SessionNegotiating
		sess.UpdatedAt = now
	}
	return nil
}

// TransitionTerminal повторяет CAS-семантику хранилища: строка затрагивается,
// только пока статус нетерминальный, под одним локом.
func (f *fakeSessionRepo) TransitionTerminal(_ context.Context, id string, to domain.SessionStatus, outcome *domain.SessionOutcome, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return false, nil
	}
	if sess.Status != domain.SessionInitiated && sess.Status != domain.SessionNegotiating {
		return false, nil
	}
	sess.Status = to
	sess.UpdatedAt = now
	if outcome != nil {
		o := *outcome
		sess.Outcome = &o
	} else {
		sess.Outcome = nil
	}
	return true, nil
}

func (f *fakeSessionRepo) CountConfirmedInWindow(_ context.Context, userID string, from, to time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sess := range f.sessions {
		if sess.Status != domain.SessionConfirmed || sess.Outcome == nil || sess.Outcome.SelectedSlot == nil {
			continue
		}
		if sess.InitiatorID != userID && sess.CounterpartID != userID {
			continue
		}
		start := sess.Outcome.SelectedSlot.Start
		if !start.Before(from) && start.Before(to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionRepo) get(t *testing.T, id string) *domain.AgentSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		t.Fatalf("session %s missing from fake repo", id)
	}
	s := *sess
	return &s
}

type fakeMessageRepo struct {
	mu        sync.Mutex
	messages  []*domain.AgentMessage
	createErr error
}

func (f *fakeMessageRepo) CreateMessage(_ context.Context, m *domain.AgentMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	msg := *m
	f.messages = append(f.messages, &msg)
	return nil
}

func (f *fakeMessageRepo) ListMessages(_ context.Context, sessionID string, limit, offset int) ([]*domain.AgentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.AgentMessage, 0)
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			msg := *m
			out = append(out, &msg)
		}
	}
	if offset >= len(out) {
		return []*domain.AgentMessage{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessageRepo) byType(mt domain.MessageType) []*domain.AgentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.AgentMessage, 0)
	for _, m := range f.messages {
		if m.Type == mt {
			out = append(out, m)
		}
	}
	return out
}

type fakeIdemRegistry struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeIdemRegistry() *fakeIdemRegistry {
	return &fakeIdemRegistry{keys: make(map[string]string)}
}

func (f *fakeIdemRegistry) RegisterKey(_ context.Context, key, scope string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.keys[key]; exists {
		return fmt.Errorf("%w: idempotency key already registered", domain.ErrConflict)
	}
	f.keys[key] = scope
	return nil
}

func (f *fakeIdemRegistry) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}

func (f *fakeIdemRegistry) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAuditor) Record(e audit.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

func (f *fakeAuditor) countAction(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type fakeNote struct {
	UserID string
	Kind   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []fakeNote
}

func (f *fakeNotifier) Notify(_ context.Context, userID, kind, _, _ string, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, fakeNote{UserID: userID, Kind: kind})
}

func (f *fakeNotifier) countKind(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, note := range f.notes {
		if note.Kind == kind {
			n++
		}
	}
	return n
}

// fakeCalendar — управляемый провайдер: ошибки по владельцу, счетчики
// вызовов, учет удалений для проверок компенсации.
type fakeCalendar struct {
	mu           sync.Mutex
	nextID       int
	events       map[string]map[string]connectors.EventSpec
	busy         map[string][]connectors.BusyInterval
	createErrFor map[string]error
	createDelay  time.Duration
	createCalls  int
	fetchCalls   int
	deleted      []string
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		events:       make(map[string]map[string]connectors.EventSpec),
		busy:         make(map[string][]connectors.BusyInterval),
		createErrFor: make(map[string]error),
	}
}

func (f *fakeCalendar) CreateEvent(_ context.Context, ownerID string, spec connectors.EventSpec) (string, error) {
	if d := f.createDelay; d > 0 {
		time.Sleep(d)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if err := f.createErrFor[ownerID]; err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("evt-%d", f.nextID)
	if f.events[ownerID] == nil {
		f.events[ownerID] = make(map[string]connectors.EventSpec)
	}
	f.events[ownerID][id] = spec
	return id, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, ownerID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events[ownerID], eventID)
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeCalendar) FetchBusy(_ context.Context, ownerID string, _, _ time.Time) ([]connectors.BusyInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	return f.busy[ownerID], nil
}

func (f *fakeCalendar) EventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, owned := range f.events {
		n += len(owned)
	}
	return n
}

func (f *fakeCalendar) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *fakeCalendar) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeCalendar) deletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

// world — собранный движок на фейках c фиксированными часами.
type world struct {
	clock    *fakeClock
	users    *fakeUsers
	conns    *fakeConnRepo
	sessions *fakeSessionRepo
	messages *fakeMessageRepo
	idem     *fakeIdemRegistry
	cal      *fakeCalendar
	auditor  *fakeAuditor
	notifier *fakeNotifier

	connSvc *ConnectionService
	svc     *SessionService
}

func newWorld(_ *testing.T) *world {
	logger := zap.NewNop()
	w := &world{
		clock: &fakeClock{t: testBase},
		users: &fakeUsers{users: map[string]*domain.User{
			userAlice: {ID: userAlice, Username: userAlice},
			userBob:   {ID: userBob, Username: userBob},
			userCarol: {ID: userCarol, Username: userCarol},
		}},
		conns:    newFakeConnRepo(),
		sessions: newFakeSessionRepo(),
		messages: &fakeMessageRepo{},
		idem:     newFakeIdemRegistry(),
		cal:      newFakeCalendar(),
		auditor:  &fakeAuditor{},
		notifier: &fakeNotifier{},
	}

	checker := policy.NewChecker(w.conns, logger)

	w.connSvc = NewConnectionService(w.conns, w.users, w.auditor, logger)
	w.connSvc.now = w.clock.Now

	w.svc = NewSessionService(SessionConfig{}, w.sessions, w.messages, w.idem, w.conns, checker,
		w.cal, w.auditor, w.notifier, NewMetrics(nil), logger)
	w.svc.now = w.clock.Now

	return w
}

// activeConnection кладет готовую активную связь alice-bob напрямую в фейк.
func (w *world) activeConnection(scopes []domain.Scope, constraints *domain.Constraints) string {
	id := "conn-" + fmt.Sprint(len(w.conns.conns)+1)
	now := w.clock.Now()
	perm := &domain.ConnectionPermission{ConnectionID: id, Scopes: scopes, UpdatedAt: now}
	if constraints != nil {
		perm.Constraints = *constraints
	}
	w.conns.mu.Lock()
	defer w.conns.mu.Unlock()
	w.conns.conns[id] = &domain.Connection{
		ID: id, RequesterID: userAlice, TargetID: userBob,
		Status: domain.ConnectionActive, CreatedAt: now, UpdatedAt: now,
	}
	w.conns.perms[id] = perm
	return id
}

// startSession открывает сессию alice -> bob через сервис.
func (w *world) startSession(t *testing.T, connID string, typ domain.SessionType) *domain.AgentSession {
	t.Helper()
	sess, err := w.svc.Start(context.Background(), userAlice, userBob, connID, typ)
	if err != nil {
		t.Fatalf("startSession: %v", err)
	}
	return sess
}

// proposeScopes — минимальный набор для генерации слотов.
var proposeScopes = []domain.Scope{domain.ScopeAvailabilityRead, domain.ScopeEventsPropose}

// fullScopes — генерация плюс автозапись в календарь.
var fullScopes = []domain.Scope{domain.ScopeAvailabilityRead, domain.ScopeEventsPropose, domain.ScopeEventsWriteAuto}

// noNotice — ограничения без minimum notice, чтобы слоты были доступны сразу.
func noNotice() *domain.Constraints {
	return &domain.Constraints{MinNoticeHours: intp(0)}
}
