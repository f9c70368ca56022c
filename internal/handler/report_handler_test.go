package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/perkledger/internal/model"
)

type mockAuditLister struct {
	listFn func(ctx context.Context, limit int) ([]*model.AuditRecord, error)
}

func (m *mockAuditLister) List(ctx context.Context, limit int) ([]*model.AuditRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit)
	}
	return nil, nil
}

type mockRateWindowLister struct {
	listFn func(ctx context.Context, limit int) ([]*model.RateWindow, error)
}

func (m *mockRateWindowLister) List(ctx context.Context, limit int) ([]*model.RateWindow, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit)
	}
	return nil, nil
}

func TestReportHandler_ListAudit(t *testing.T) {
	lister := &mockAuditLister{
		listFn: func(_ context.Context, limit int) ([]*model.AuditRecord, error) {
			if limit != defaultListLimit {
				t.Errorf("limit = %d, want %d", limit, defaultListLimit)
			}
			return []*model.AuditRecord{
				{ID: "a1", Action: "useCeoVoucher", ActorID: "member-1", Timestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
			}, nil
		},
	}
	h := NewReportHandler(lister, &mockRateWindowLister{})

	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	w := httptest.NewRecorder()

	h.ListAudit(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got map[string][]*model.AuditRecord
	decodeBody(t, w, &got)
	if len(got["records"]) != 1 || got["records"][0].Action != "useCeoVoucher" {
		t.Errorf("response = %+v", got)
	}
}

func TestReportHandler_ListRateWindows(t *testing.T) {
	lister := &mockRateWindowLister{
		listFn: func(_ context.Context, limit int) ([]*model.RateWindow, error) {
			if limit != 10 {
				t.Errorf("limit = %d, want 10", limit)
			}
			return []*model.RateWindow{{OwnerID: "ceo-1", MinuteCount: 2, DayCount: 7}}, nil
		},
	}
	h := NewReportHandler(&mockAuditLister{}, lister)

	req := httptest.NewRequest(http.MethodGet, "/api/rate-windows?limit=10", nil)
	w := httptest.NewRecorder()

	h.ListRateWindows(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got map[string][]*model.RateWindow
	decodeBody(t, w, &got)
	if len(got["rateWindows"]) != 1 || got["rateWindows"][0].DayCount != 7 {
		t.Errorf("response = %+v", got)
	}
}

func TestReportHandler_ListAudit_Error(t *testing.T) {
	lister := &mockAuditLister{
		listFn: func(context.Context, int) ([]*model.AuditRecord, error) {
			return nil, errors.New("db down")
		},
	}
	h := NewReportHandler(lister, &mockRateWindowLister{})

	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	w := httptest.NewRecorder()

	h.ListAudit(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
