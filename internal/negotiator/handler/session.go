package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/schedmesh-engine/internal/domain"
	"github.com/xela07ax/schedmesh-engine/internal/engine"
)

// SessionService Описываем, что нам нужно от сервиса
type SessionService interface {
	Start(ctx context.Context, callerID, counterpartID, connectionID string, sessType domain.SessionType) (*domain.AgentSession, error)
	Get(ctx context.Context, sessionID, callerID string) (*domain.AgentSession, error)
	List(ctx context.Context, callerID string, limit, offset int) ([]*domain.AgentSession, error)
	Propose(ctx context.Context, sessionID, callerID string, req engine.ProposalRequest) (*domain.AgentMessage, error)
	Confirm(ctx context.Context, sessionID, callerID string, req engine.ConfirmRequest) (*domain.AgentMessage, error)
	PostMessage(ctx context.Context, sessionID, callerID string, payload domain.Payload) (*domain.AgentMessage, error)
	Messages(ctx context.Context, sessionID, callerID string, limit, offset int) ([]*domain.AgentMessage, error)
}

type SessionHandler struct {
	service SessionService
	rp      *Responder
}

func NewSessionHandler(s SessionService, rp *Responder) *SessionHandler {
	return &SessionHandler{service: s, rp: rp}
}

type StartSessionRequest struct {
	Type              domain.SessionType `json:"type"`
	CounterpartUserID string             `json:"counterpart_user_id"`
	ConnectionID      string             `json:"connection_id"`
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rp.Error(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	sess, err := h.service.Start(r.Context(), callerID(r), req.CounterpartUserID, req.ConnectionID, req.Type)
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusOK, sess)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	list, err := h.service.List(r.Context(), callerID(r), limit, offset)
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusOK, list)
}

// Propose генерирует слоты. Idempotency-Key опционален: без него ключ
// выводится из параметров запроса.
func (h *SessionHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req engine.ProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rp.Error(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	msg, err := h.service.Propose(r.Context(), chi.URLParam(r, "id"), callerID(r), req)
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusOK, msg)
}

func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req engine.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rp.Error(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")

	msg, err := h.service.Confirm(r.Context(), chi.URLParam(r, "id"), callerID(r), req)
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusOK, msg)
}

type PostMessageRequest struct {
	Type    domain.MessageType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

// PostMessage кладет типизированное сообщение в транскрипт.
// Какие типы разрешены снаружи — решает сервис, не хендлер.
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rp.Error(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	raw := req.Payload
	if len(raw) == 0 {
		raw = []byte("{}") // Пейлоад опционален: cancel без причины — валидный запрос
	}
	payload, err := domain.DecodePayload(req.Type, raw)
	if err != nil {
		h.rp.Error(w, err)
		return
	}

	msg, err := h.service.PostMessage(r.Context(), chi.URLParam(r, "id"), callerID(r), payload)
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusCreated, msg)
}

func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	list, err := h.service.Messages(r.Context(), chi.URLParam(r, "id"), callerID(r), limit, offset)
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusOK, list)
}
