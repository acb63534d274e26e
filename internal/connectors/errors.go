package connectors

import (
	"fmt"
	"time"
)

// ThrottleError — провайдер попросил сбавить темп (HTTP 429).
// Retry-слой использует RetryAfter как задержку перед следующей попыткой.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}

// ProviderError — ответ провайдера с не-2xx статусом.
type ProviderError struct {
	StatusCode int
	Op         string // "create_event", "delete_event", "free_busy"
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("calendar provider %s failed [%d]: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary: 5xx стоит ретраить, 4xx — нет.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode >= 500
}
