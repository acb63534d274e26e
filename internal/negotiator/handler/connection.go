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

// ConnectionService Описываем, что нам нужно от сервиса
type ConnectionService interface {
	Invite(ctx context.Context, requesterID, targetID string, scopes []domain.Scope, constraints *domain.Constraints) (*domain.Connection, error)
	Accept(ctx context.Context, connectionID, accepterID string, scopes []domain.Scope, constraints *domain.Constraints) (*domain.Connection, error)
	UpdatePermissions(ctx context.Context, connectionID, callerID string, patch engine.PermissionPatch) (*domain.ConnectionPermission, error)
	Revoke(ctx context.Context, connectionID, callerID string) error
	List(ctx context.Context, callerID string, limit, offset int) ([]*domain.Connection, error)
}

type ConnectionHandler struct {
	service ConnectionService
	rp      *Responder
}

func NewConnectionHandler(s ConnectionService, rp *Responder) *ConnectionHandler {
	return &ConnectionHandler{service: s, rp: rp}
}

type InviteRequest struct {
	TargetUserID string              `json:"target_user_id"`
	Scopes       []domain.Scope      `json:"scopes"`
	Constraints  *domain.Constraints `json:"constraints,omitempty"`
}

func (h *ConnectionHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rp.Error(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	conn, err := h.service.Invite(r.Context(), callerID(r), req.TargetUserID, req.Scopes, req.Constraints)
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusCreated, conn)
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	list, err := h.service.List(r.Context(), callerID(r), limit, offset)
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusOK, list)
}

type AcceptRequest struct {
	Scopes      []domain.Scope      `json:"scopes"`
	Constraints *domain.Constraints `json:"constraints,omitempty"`
}

func (h *ConnectionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rp.Error(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	conn, err := h.service.Accept(r.Context(), id, callerID(r), req.Scopes, req.Constraints)
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusOK, conn)
}

func (h *ConnectionHandler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch engine.PermissionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.rp.Error(w, fmt.Errorf("%w: invalid request body", domain.ErrValidation))
		return
	}

	perm, err := h.service.UpdatePermissions(r.Context(), id, callerID(r), patch)
	if err != nil {
		h.rp.Error(w, err)
		return
	}
	h.rp.JSON(w, http.StatusOK, perm)
}

func (h *ConnectionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Revoke(r.Context(), id, callerID(r)); err != nil {
		h.rp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
