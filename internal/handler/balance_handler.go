package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/perkledger/internal/balance"
	"github.com/hitoshi/perkledger/internal/catalog"
	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/model"
)

// BalanceServiceInterface は残高ハンドラーが必要とするサービスインターフェース。
type BalanceServiceInterface interface {
	Get(ctx context.Context, ownerID, kind string, currentCycle *string) (*model.Balance, error)
	AwardPoints(ctx context.Context, ownerID string, delta int, reason string) (int, error)
	AdminAdjust(ctx context.Context, actorID, ownerID, kind string, delta int, cycleKey *string) (int, error)
	ApplyPack(ctx context.Context, actorID, ownerID, tier, packID string) (*balance.PackResult, error)
	CurrentCycle() string
}

// TextSanitizer は自由入力のテキストをサニタイズする。
type TextSanitizer interface {
	Sanitize(raw string) string
	SanitizeMap(in map[string]string) map[string]string
}

// BalanceHandler は残高のHTTPハンドラー。
type BalanceHandler struct {
	service   BalanceServiceInterface
	profiles  identity.ProfileReader
	sanitizer TextSanitizer
}

// NewBalanceHandler はBalanceHandlerを生成する。
func NewBalanceHandler(service BalanceServiceInterface, profiles identity.ProfileReader, sanitizer TextSanitizer) *BalanceHandler {
	return &BalanceHandler{service: service, profiles: profiles, sanitizer: sanitizer}
}

type balanceResponse struct {
	OwnerID  string  `json:"ownerId"`
	Kind     string  `json:"kind"`
	Value    int     `json:"value"`
	CycleKey *string `json:"cycleKey,omitempty"`
}

type awardPointsRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type adjustBalanceRequest struct {
	Delta    int     `json:"delta"`
	CycleKey *string `json:"cycleKey"`
}

type applyPackRequest struct {
	Tier string `json:"tier"`
}

// Get は呼び出し元自身の残高を返す。トークンは現在の期間の値を返す。
// GET /api/balances/{kind}
func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	kind := strings.TrimSpace(chi.URLParam(r, "kind"))

	var cycle *string
	if kind == model.BalanceKindTokens {
		c := h.service.CurrentCycle()
		cycle = &c
	}
	b, err := h.service.Get(r.Context(), caller.ID, kind, cycle)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{OwnerID: b.OwnerID, Kind: b.Kind, Value: b.Value, CycleKey: b.CycleKey})
}

// AwardPoints は呼び出し元自身のポイントを加減算する。
// プロフィールが作成されていない場合は412を返す。
// POST /api/points
func (h *BalanceHandler) AwardPoints(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req awardPointsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidBody(w)
		return
	}
	if err := balance.ValidateDelta(req.Delta); err != nil {
		handleServiceError(w, r, err)
		return
	}

	p, err := h.profiles.Get(r.Context(), caller.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if p == nil {
		handleServiceError(w, r, model.NewProfileMissingError())
		return
	}

	total, err := h.service.AwardPoints(r.Context(), caller.ID, req.Delta, h.sanitizer.Sanitize(req.Reason))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "delta": req.Delta})
}

// Adjust は指定メンバーの残高を加減算する。
// POST /api/members/{ownerID}/balances/{kind}
func (h *BalanceHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req adjustBalanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidBody(w)
		return
	}
	if err := balance.ValidateDelta(req.Delta); err != nil {
		handleServiceError(w, r, err)
		return
	}

	ownerID := chi.URLParam(r, "ownerID")
	kind := chi.URLParam(r, "kind")
	value, err := h.service.AdminAdjust(r.Context(), caller.ID, ownerID, kind, req.Delta, req.CycleKey)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{OwnerID: ownerID, Kind: kind, Value: value, CycleKey: req.CycleKey})
}

// ApplyPack は購入済みのバウチャーパックを指定メンバーの残高に反映する。
// ティアが指定されない場合はメンバーのプロフィールのティアを使用する。
// POST /api/members/{ownerID}/packs/{packID}
func (h *BalanceHandler) ApplyPack(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req applyPackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	ownerID := chi.URLParam(r, "ownerID")
	tier := strings.TrimSpace(req.Tier)
	if tier == "" {
		tier = catalog.TierStandard
		p, err := h.profiles.Get(r.Context(), ownerID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if p != nil && p.Tier != "" {
			tier = p.Tier
		}
	}

	res, err := h.service.ApplyPack(r.Context(), caller.ID, ownerID, tier, chi.URLParam(r, "packID"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
