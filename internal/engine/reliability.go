package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/schedmesh-engine/internal/connectors"

	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliableCalendar оборачивает провайдер календаря в защитные механизмы.
// Все вызовы наружу (Google API) идут только через него.
type ReliableCalendar struct {
	next    connectors.CalendarProvider
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableCalendar(next connectors.CalendarProvider) *ReliableCalendar {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "calendar-provider",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
	})

	// Настройка лимитера (например, 100 запросов в секунду)
	limiter := rate.NewLimiter(rate.Limit(100), 20)

	return &ReliableCalendar{
		next:    next,
		cb:      cb,
		limiter: limiter,
	}
}

// CircuitState отдает текущее состояние предохранителя для метрик.
func (w *ReliableCalendar) CircuitState() gobreaker.State {
	return w.cb.State()
}

func (w *ReliableCalendar) CreateEvent(ctx context.Context, ownerID string, spec connectors.EventSpec) (string, error) {
	var eventID string
	err := w.execute(ctx, func(tCtx context.Context) error {
		var callErr error
		eventID, callErr = w.next.CreateEvent(tCtx, ownerID, spec)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return eventID, nil
}

func (w *ReliableCalendar) DeleteEvent(ctx context.Context, ownerID, eventID string) error {
	return w.execute(ctx, func(tCtx context.Context) error {
		return w.next.DeleteEvent(tCtx, ownerID, eventID)
	})
}

func (w *ReliableCalendar) FetchBusy(ctx context.Context, ownerID string, from, to time.Time) ([]connectors.BusyInterval, error) {
	var busy []connectors.BusyInterval
	err := w.execute(ctx, func(tCtx context.Context) error {
		var callErr error
		busy, callErr = w.next.FetchBusy(tCtx, ownerID, from, to)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return busy, nil
}

func (w *ReliableCalendar) execute(ctx context.Context, call func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если коннектор вернул ThrottleError (например, считал Retry-After заголовок)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			return call(tCtx)
		})

		return nil, retryErr
	})

	return err
}
