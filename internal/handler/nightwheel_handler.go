package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/nightwheel"
)

// NightWheelServiceInterface はナイトホイールハンドラーが必要とするサービスインターフェース。
type NightWheelServiceInterface interface {
	Spin(ctx context.Context, ownerID string, caps identity.Capabilities) (*nightwheel.Result, error)
}

// NightWheelHandler はナイトホイールのHTTPハンドラー。
type NightWheelHandler struct {
	service NightWheelServiceInterface
}

// NewNightWheelHandler はNightWheelHandlerを生成する。
func NewNightWheelHandler(service NightWheelServiceInterface) *NightWheelHandler {
	return &NightWheelHandler{service: service}
}

// Spin は今週のスピンを1回行う。
// POST /api/night-wheel/spins
func (h *NightWheelHandler) Spin(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	res, err := h.service.Spin(r.Context(), caller.ID, capabilitiesFrom(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
