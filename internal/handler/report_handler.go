package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/perkledger/internal/model"
)

// AuditLister は監査ログの一覧を返す。
type AuditLister interface {
	List(ctx context.Context, limit int) ([]*model.AuditRecord, error)
}

// RateWindowLister はレートウィンドウの一覧を返す。
type RateWindowLister interface {
	List(ctx context.Context, limit int) ([]*model.RateWindow, error)
}

// ReportHandler は読み取り専用の一覧APIのハンドラー。
type ReportHandler struct {
	audit       AuditLister
	rateWindows RateWindowLister
}

// NewReportHandler はReportHandlerを生成する。
func NewReportHandler(auditLister AuditLister, rateWindows RateWindowLister) *ReportHandler {
	return &ReportHandler{audit: auditLister, rateWindows: rateWindows}
}

// ListAudit は監査ログを新しい順に返す。
// GET /api/audit
func (h *ReportHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	records, err := h.audit.List(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []*model.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// ListRateWindows はレートウィンドウを更新日時の新しい順に返す。
// GET /api/rate-windows
func (h *ReportHandler) ListRateWindows(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	windows, err := h.rateWindows.List(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if windows == nil {
		windows = []*model.RateWindow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rateWindows": windows})
}
