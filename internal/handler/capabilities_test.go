package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/perkledger/internal/identity"
)

type mockCapabilityResolver struct {
	resolveFn func(ctx context.Context, caller identity.Caller) (identity.Capabilities, error)
}

func (m *mockCapabilityResolver) Resolve(ctx context.Context, caller identity.Caller) (identity.Capabilities, error) {
	return m.resolveFn(ctx, caller)
}

func TestWithCapabilities_StoresResolvedCapabilities(t *testing.T) {
	resolver := &mockCapabilityResolver{
		resolveFn: func(_ context.Context, caller identity.Caller) (identity.Capabilities, error) {
			if caller.ID != "admin-1" {
				t.Errorf("caller.ID = %q, want admin-1", caller.ID)
			}
			return identity.Capabilities{identity.CapabilityAdmin: true}, nil
		},
	}

	var got identity.Capabilities
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = capabilitiesFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := withCapabilities(resolver)(next)

	req := withCaller(httptest.NewRequest(http.MethodGet, "/", nil), "admin-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !got.Has(identity.CapabilityAdmin) {
		t.Errorf("capabilities = %v", got)
	}
}

func TestWithCapabilities_ResolveError(t *testing.T) {
	resolver := &mockCapabilityResolver{
		resolveFn: func(context.Context, identity.Caller) (identity.Capabilities, error) {
			return nil, errors.New("store down")
		},
	}
	called := false
	h := withCapabilities(resolver)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := withCaller(httptest.NewRequest(http.MethodGet, "/", nil), "member-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if called {
		t.Error("解決に失敗したのに後続ハンドラーが呼ばれた")
	}
}

func TestRequireAny(t *testing.T) {
	tests := []struct {
		name       string
		caps       []identity.Capability
		wantStatus int
	}{
		{name: "admin", caps: []identity.Capability{identity.CapabilityAdmin}, wantStatus: http.StatusOK},
		{name: "ceo", caps: []identity.Capability{identity.CapabilityCEO}, wantStatus: http.StatusOK},
		{name: "staffのみ", caps: []identity.Capability{identity.CapabilityStaff}, wantStatus: http.StatusForbidden},
		{name: "権限なし", caps: nil, wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := requireAny(identity.CapabilityAdmin, identity.CapabilityCEO)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := withCaps(httptest.NewRequest(http.MethodGet, "/", nil), tt.caps...)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
