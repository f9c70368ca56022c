package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/model"
)

// --- 共通モック ---

// recordingAuditor はaudit.Appenderのモック実装。
type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAuditor) Append(action, _ string, _ map[string]any) {
	a.mu.Lock()
	a.actions = append(a.actions, action)
	a.mu.Unlock()
}

func (a *recordingAuditor) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

// mockProfileReader はidentity.ProfileReaderのモック実装。
type mockProfileReader struct {
	getFn func(ctx context.Context, ownerID string) (*model.Profile, error)
}

func (m *mockProfileReader) Get(ctx context.Context, ownerID string) (*model.Profile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, ownerID)
	}
	return nil, nil
}

// passthroughSanitizer はTextSanitizerのモック実装。入力を空白除去のみで返す。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(raw string) string { return strings.TrimSpace(raw) }

func (passthroughSanitizer) SanitizeMap(in map[string]string) map[string]string { return in }

// --- テストヘルパー ---

// withCaller はテスト用にリクエストコンテキストに呼び出し元を注入するヘルパー。
func withCaller(r *http.Request, id string) *http.Request {
	ctx := identity.WithCaller(r.Context(), identity.Caller{ID: id, Email: id + "@example.com"})
	return r.WithContext(ctx)
}

// withCaps はテスト用にリクエストコンテキストに権限を注入するヘルパー。
func withCaps(r *http.Request, caps ...identity.Capability) *http.Request {
	set := identity.Capabilities{}
	for _, c := range caps {
		set[c] = true
	}
	return r.WithContext(context.WithValue(r.Context(), capabilitiesKey{}, set))
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
