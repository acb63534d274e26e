package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/xela07ax/schedmesh-engine/internal/domain"
	"github.com/xela07ax/schedmesh-engine/internal/engine"
	"go.uber.org/zap"
)

// ErrorBody — единый конверт ошибки API: машинный код + человекочитаемый текст.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Responder пишет ответы и раскладывает доменные ошибки по HTTP-статусам.
// Общий для всех обработчиков, чтобы маппинг жил в одном месте.
type Responder struct {
	logger  *zap.Logger
	metrics *engine.Metrics
}

func NewResponder(logger *zap.Logger, metrics *engine.Metrics) *Responder {
	return &Responder{logger: logger, metrics: metrics}
}

func (rp *Responder) JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error переводит доменную ошибку в статус и конверт.
// Перебор вариантов через errors.Is, поэтому обертки fmt.Errorf("%w: ...")
// с любой глубиной вложенности распознаются.
func (rp *Responder) Error(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	if status >= http.StatusInternalServerError {
		rp.logger.Error("request failed", zap.Error(err))
	}
	rp.metrics.ErrorTotal.WithLabelValues(strings.TrimSuffix(code, "_error")).Inc()
	rp.JSON(w, status, ErrorBody{Error: code, Message: messageOf(err)})
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrAuthz):
		return http.StatusForbidden, "authz_error"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// messageOf срезает префикс сентинела ("validation failed: ..."),
// оставляя клиенту только содержательную часть.
func messageOf(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{domain.ErrValidation, domain.ErrAuthz, domain.ErrNotFound, domain.ErrConflict, domain.ErrInternal} {
		prefix := sentinel.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

// callerID — идентичность, положенная в контекст auth-middleware.
func callerID(r *http.Request) string {
	id, _ := r.Context().Value("user_id").(string)
	return id
}

// pageParams разбирает limit/offset из query. Limit по умолчанию 20, максимум 100.
func pageParams(r *http.Request) (limit, offset int) {
	limit = 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
