package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/perkledger/internal/audit"
	"github.com/hitoshi/perkledger/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, ownerID string) (*model.Profile, error)
	Ensure(ctx context.Context, ownerID, email string) (*model.Profile, bool, error)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
	audit   audit.Appender
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface, auditor audit.Appender) *ProfileHandler {
	return &ProfileHandler{service: service, audit: auditor}
}

// Ensure は呼び出し元のプロフィールを作成する。既に存在する場合はそのまま返す。
// POST /api/profile
func (h *ProfileHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	p, created, err := h.service.Ensure(r.Context(), caller.ID, caller.Email)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.audit.Append(audit.ActionInitProfile, caller.ID, map[string]any{"tier": p.Tier})
	}
	writeJSON(w, status, p)
}

// Get は呼び出し元のプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), caller.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if p == nil {
		handleServiceError(w, r, model.NewProfileMissingError())
		return
	}
	writeJSON(w, http.StatusOK, p)
}
