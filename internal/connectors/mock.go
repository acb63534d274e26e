package connectors

import (
	"context"
	"fmt"
	"math/rand/v2" // Используем v2 для Go 1.25
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockCalendar — in-memory календарь для локальной разработки и демо.
// Созданные события сразу видны как busy; владелец "unstable.user"
// имитирует сбой провайдера на create.
type MockCalendar struct {
	mu     sync.Mutex
	events map[string]map[string]EventSpec // ownerID -> eventID -> spec
	busy   map[string][]BusyInterval       // Предзаданная занятость владельца
}

func NewMockCalendar() *MockCalendar {
	return &MockCalendar{
		events: make(map[string]map[string]EventSpec),
		busy:   make(map[string][]BusyInterval),
	}
}

// SeedBusy задает фоновую занятость владельца.
func (c *MockCalendar) SeedBusy(ownerID string, intervals ...BusyInterval) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy[ownerID] = append(c.busy[ownerID], intervals...)
}

// EventCount возвращает число живых событий владельца.
func (c *MockCalendar) EventCount(ownerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events[ownerID])
}

func (c *MockCalendar) CreateEvent(ctx context.Context, ownerID string, spec EventSpec) (string, error) {
	if err := c.simulateLatency(ctx); err != nil {
		return "", err
	}

	if ownerID == "unstable.user" {
		return "", fmt.Errorf("calendar backend unavailable")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events[ownerID] == nil {
		c.events[ownerID] = make(map[string]EventSpec)
	}
	id := uuid.NewString()
	c.events[ownerID][id] = spec
	return id, nil
}

func (c *MockCalendar) DeleteEvent(ctx context.Context, ownerID, eventID string) error {
	if err := c.simulateLatency(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Удаление отсутствующего события — успех, как и у реального провайдера
	delete(c.events[ownerID], eventID)
	return nil
}

func (c *MockCalendar) FetchBusy(ctx context.Context, ownerID string, from, to time.Time) ([]BusyInterval, error) {
	if err := c.simulateLatency(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]BusyInterval, 0)
	for _, b := range c.busy[ownerID] {
		if b.Start.Before(to) && from.Before(b.End) {
			out = append(out, b)
		}
	}
	for _, e := range c.events[ownerID] {
		if e.Start.Before(to) && from.Before(e.End) {
			out = append(out, BusyInterval{Start: e.Start, End: e.End})
		}
	}
	return out, nil
}

// Имитируем задержку внешнего API 10-60мс
func (c *MockCalendar) simulateLatency(ctx context.Context) error {
	latency := time.Duration(10+rand.IntN(50)) * time.Millisecond
	select {
	case <-time.After(latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
