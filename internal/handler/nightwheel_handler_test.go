package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/perkledger/internal/allowance"
	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/nightwheel"
)

// mockNightWheelService はNightWheelServiceInterfaceのモック実装。
type mockNightWheelService struct {
	spinFn func(ctx context.Context, ownerID string, caps identity.Capabilities) (*nightwheel.Result, error)
}

func (m *mockNightWheelService) Spin(ctx context.Context, ownerID string, caps identity.Capabilities) (*nightwheel.Result, error) {
	return m.spinFn(ctx, ownerID, caps)
}

func TestNightWheelHandler_Spin(t *testing.T) {
	svc := &mockNightWheelService{
		spinFn: func(_ context.Context, ownerID string, caps identity.Capabilities) (*nightwheel.Result, error) {
			if !caps.Has(identity.CapabilityCEO) {
				t.Error("権限がサービスに渡されていない")
			}
			return &nightwheel.Result{
				Bar:         "FoCo Bar District",
				Points:      20,
				TotalPoints: 60,
				Week:        "2024-W24",
				Usage:       &allowance.Usage{Spent: 1, Remaining: -1, Unlimited: true},
			}, nil
		},
	}
	h := NewNightWheelHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/night-wheel/spins", nil)
	req = withCaps(withCaller(req, "ceo-1"), identity.CapabilityCEO)
	w := httptest.NewRecorder()

	h.Spin(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	var got nightwheel.Result
	decodeBody(t, w, &got)
	if got.Week != "2024-W24" || got.TotalPoints != 60 || got.Usage == nil || !got.Usage.Unlimited {
		t.Errorf("response = %+v", got)
	}
}

func TestNightWheelHandler_Spin_Exhausted(t *testing.T) {
	svc := &mockNightWheelService{
		spinFn: func(context.Context, string, identity.Capabilities) (*nightwheel.Result, error) {
			return nil, model.NewAllowanceExhaustedError()
		},
	}
	h := NewNightWheelHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/night-wheel/spins", nil)
	req = withCaller(req, "member-1")
	w := httptest.NewRecorder()

	h.Spin(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := parseAPIErrorResponse(t, w)["code"]; got != model.ErrCodeAllowanceExhausted {
		t.Errorf("code = %q, want %q", got, model.ErrCodeAllowanceExhausted)
	}
}
