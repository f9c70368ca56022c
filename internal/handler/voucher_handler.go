package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/voucher"
)

// VoucherServiceInterface はバウチャーハンドラーが必要とするサービスインターフェース。
type VoucherServiceInterface interface {
	Issue(ctx context.Context, issuerID string, caps identity.Capabilities, perk string) (*voucher.Issued, error)
	Redeem(ctx context.Context, rawCode, actorID string) (*voucher.Redeemed, error)
	List(ctx context.Context, limit int) ([]*model.Voucher, error)
}

// VoucherHandler はバウチャーのHTTPハンドラー。
type VoucherHandler struct {
	service VoucherServiceInterface
}

// NewVoucherHandler はVoucherHandlerを生成する。
func NewVoucherHandler(service VoucherServiceInterface) *VoucherHandler {
	return &VoucherHandler{service: service}
}

type issueVoucherRequest struct {
	Perk string `json:"perk"`
}

// Issue はバウチャーを発行する。
// POST /api/vouchers
func (h *VoucherHandler) Issue(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req issueVoucherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	issued, err := h.service.Issue(r.Context(), caller.ID, capabilitiesFrom(r.Context()), req.Perk)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

// Redeem はバウチャーを使用済みにする。
// POST /api/vouchers/{code}/redeem
func (h *VoucherHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	redeemed, err := h.service.Redeem(r.Context(), chi.URLParam(r, "code"), caller.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemed)
}

// List はバウチャーを新しい順に返す。
// GET /api/vouchers
func (h *VoucherHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	vouchers, err := h.service.List(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if vouchers == nil {
		vouchers = []*model.Voucher{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"vouchers": vouchers})
}
