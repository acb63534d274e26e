package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/schedmesh-engine/internal/engine"
	"github.com/xela07ax/schedmesh-engine/internal/infra"
	"github.com/xela07ax/schedmesh-engine/internal/infra/auth"
	"github.com/xela07ax/schedmesh-engine/internal/negotiator/handler"
	"go.uber.org/zap"
)

type NegotiatorServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	validator auth.TokenValidator
	limiter   *engine.CallerLimiter
	metrics   *engine.Metrics

	// Обработчики бизнес-доменов
	authHandler *handler.AuthHandler       // /auth/token
	connHandler *handler.ConnectionHandler // /connections
	sessHandler *handler.SessionHandler    // /sessions
}

// NewNegotiatorServer инициализирует API переговорного движка со всеми зависимостями
func NewNegotiatorServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	limiter *engine.CallerLimiter,
	metrics *engine.Metrics,
	authH *handler.AuthHandler,
	connH *handler.ConnectionHandler,
	sessH *handler.SessionHandler,
) *NegotiatorServer {
	s := &NegotiatorServer{
		router:      chi.NewRouter(),
		logger:      logger.Named("negotiator-api"),
		cfg:         cfg,
		validator:   validator,
		limiter:     limiter,
		metrics:     metrics,
		authHandler: authH,
		connHandler: connH,
		sessHandler: sessH,
	}

	s.routes()
	return s
}

func (s *NegotiatorServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)
	r.Use(s.observe)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// До аутентификации лимитер работает по адресу клиента
		r.Use(s.limiter.Middleware)

		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы.
		// Лимитеры стоят после него, квота — на пару (принципал, ресурс)
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		// Связи между принципалами (invite / accept / permissions / revoke)
		r.Route("/connections", func(r chi.Router) {
			r.Use(s.limiter.ForRoute("connections"))
			r.Post("/", s.connHandler.Invite)
			r.Get("/", s.connHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				// Принять приглашение может только вторая сторона
				r.Post("/accept", s.connHandler.Accept)
				// Скоупы заменяются целиком, ограничения merge-ом
				r.Put("/permissions", s.connHandler.UpdatePermissions)
				r.Delete("/", s.connHandler.Revoke)
			})
		})

		// Переговорные сессии агентов
		r.Route("/sessions", func(r chi.Router) {
			r.Use(s.limiter.ForRoute("sessions"))
			r.Post("/", s.sessHandler.Start)
			r.Get("/", s.sessHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.sessHandler.Get)
				// Генерация слотов и бронирование принимают Idempotency-Key
				r.Post("/proposals", s.sessHandler.Propose)
				r.Post("/confirm", s.sessHandler.Confirm)
				r.Post("/messages", s.sessHandler.PostMessage)
				r.Get("/messages", s.sessHandler.Messages)
			})
		})
	})
}

// observe снимает длительность и счетчик запросов по шаблону роута,
// чтобы кардинальность метрик не росла с каждым UUID в пути.
func (s *NegotiatorServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		op := r.Method + " " + pattern
		s.metrics.OpDuration.WithLabelValues(op, strconv.Itoa(ww.Status())).Observe(time.Since(start).Seconds())
		s.metrics.OpsTotal.WithLabelValues(op).Inc()
	})
}

// ServeHTTP позволяет использовать NegotiatorServer как стандартный http.Handler
func (s *NegotiatorServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
