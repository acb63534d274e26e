package engine

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// CallerLimiter ограничивает частоту запросов на каждого принципала отдельно.
// Общий лимитер здесь не годится: болтливый агент одного пользователя
// не должен выедать квоту остальных.
type CallerLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

func NewCallerLimiter(rps float64, burst int) *CallerLimiter {
	return &CallerLimiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

func (cl *CallerLimiter) bucket(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	lim, ok := cl.buckets[key]
	if !ok {
		lim = rate.NewLimiter(cl.rps, cl.burst)
		cl.buckets[key] = lim
	}
	return lim
}

// Middleware отдает 429, если принципал превысил свою квоту.
func (cl *CallerLimiter) Middleware(next http.Handler) http.Handler {
	return cl.ForRoute("")(next)
}

// ForRoute — бакеты на пару (принципал, группа маршрутов): болтливые
// переговоры не выедают квоту управляющих вызовов того же принципала.
// Метка фиксируется при монтировании, кардинальность ключей ограничена.
func (cl *CallerLimiter) ForRoute(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Ключ — ID пользователя из контекста (проставлен auth-middleware)
			caller, _ := r.Context().Value("user_id").(string)

			// 2. До аутентификации (login, health) лимитируем по адресу клиента
			if caller == "" {
				caller = r.RemoteAddr
			}

			if !cl.bucket(route+"|"+caller).Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "rate_limited", "message": "too many requests"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
