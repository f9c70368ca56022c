package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/perkledger/internal/model"
)

// UsernameServiceInterface はユーザー名ハンドラーが必要とするサービスインターフェース。
type UsernameServiceInterface interface {
	Reserve(ctx context.Context, rawName, ownerID string, metadata map[string]string) (*model.NameReservation, error)
	Release(ctx context.Context, rawName, ownerID string) error
	Lookup(ctx context.Context, rawName string) (*model.NameReservation, error)
}

// UsernameHandler はユーザー名予約のHTTPハンドラー。
type UsernameHandler struct {
	service   UsernameServiceInterface
	sanitizer TextSanitizer
}

// NewUsernameHandler はUsernameHandlerを生成する。
func NewUsernameHandler(service UsernameServiceInterface, sanitizer TextSanitizer) *UsernameHandler {
	return &UsernameHandler{service: service, sanitizer: sanitizer}
}

type reserveUsernameRequest struct {
	Metadata map[string]string `json:"metadata"`
}

// usernameResponse は予約情報のレスポンス。パスコードとメールアドレスは返さない。
type usernameResponse struct {
	Name    string `json:"name"`
	OwnerID string `json:"uid"`
}

// Reserve はユーザー名を予約する。
// PUT /api/usernames/{name}
func (h *UsernameHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req reserveUsernameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	res, err := h.service.Reserve(r.Context(), chi.URLParam(r, "name"), caller.ID, h.sanitizer.SanitizeMap(req.Metadata))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usernameResponse{Name: res.Name, OwnerID: res.OwnerID})
}

// Release は呼び出し元自身の予約を解除する。
// DELETE /api/usernames/{name}
func (h *UsernameHandler) Release(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	if err := h.service.Release(r.Context(), chi.URLParam(r, "name"), caller.ID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Lookup はユーザー名の予約者を返す。
// GET /api/usernames/{name}
func (h *UsernameHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Lookup(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usernameResponse{Name: res.Name, OwnerID: res.OwnerID})
}
