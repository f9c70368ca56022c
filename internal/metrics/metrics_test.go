package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily は指定名のメトリクスファミリーを返す。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labeledCounterValue はラベル値が一致するカウンタの値を返す。
func labeledCounterValue(t *testing.T, mf *dto.MetricFamily, label, value string) float64 {
	t.Helper()
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("%s{%s=%q} not found", mf.GetName(), label, value)
	return 0
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordVoucherIssued_LabelsByPerk は発行数がperk別に記録されることを検証する。
func TestRecordVoucherIssued_LabelsByPerk(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordVoucherIssued("drink")
	c.RecordVoucherIssued("drink")
	c.RecordVoucherIssued("shot")

	mf := findMetricFamily(t, reg, "perkledger_vouchers_issued_total")
	if v := labeledCounterValue(t, mf, "perk", "drink"); v != 2 {
		t.Errorf("drink = %v, want 2", v)
	}
	if v := labeledCounterValue(t, mf, "perk", "shot"); v != 1 {
		t.Errorf("shot = %v, want 1", v)
	}
}

// TestRecordVoucherRedeemed_IncrementsCounter は使用数カウンタが増加することを検証する。
func TestRecordVoucherRedeemed_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordVoucherRedeemed()

	mf := findMetricFamily(t, reg, "perkledger_vouchers_redeemed_total")
	if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("vouchers_redeemed_total = %v, want 1", v)
	}
}

// TestRecordRateLimited_LabelsByScope はレート制限の拒否がウィンドウ別に記録されることを検証する。
func TestRecordRateLimited_LabelsByScope(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRateLimited("minute")
	c.RecordRateLimited("day")
	c.RecordRateLimited("minute")

	mf := findMetricFamily(t, reg, "perkledger_rate_limited_total")
	if v := labeledCounterValue(t, mf, "scope", "minute"); v != 2 {
		t.Errorf("minute = %v, want 2", v)
	}
	if v := labeledCounterValue(t, mf, "scope", "day"); v != 1 {
		t.Errorf("day = %v, want 1", v)
	}
}

// TestRecordAuditCounters は監査ログ関連のカウンタを検証する。
func TestRecordAuditCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuditWritten()
	c.RecordAuditDropped()
	c.RecordAuditDropped()
	c.RecordAuditFailure()

	tests := []struct {
		name string
		want float64
	}{
		{"perkledger_audit_written_total", 1},
		{"perkledger_audit_dropped_total", 2},
		{"perkledger_audit_failures_total", 1},
	}
	for _, tt := range tests {
		mf := findMetricFamily(t, reg, tt.name)
		if v := mf.GetMetric()[0].GetCounter().GetValue(); v != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, v, tt.want)
		}
	}
}

// TestRecordCleanupDeleted_AddsCount は削除件数が加算されることを検証する。
func TestRecordCleanupDeleted_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCleanupDeleted("audit_logs", 120)
	c.RecordCleanupDeleted("audit_logs", 30)

	mf := findMetricFamily(t, reg, "perkledger_cleanup_deleted_total")
	if v := labeledCounterValue(t, mf, "table", "audit_logs"); v != 150 {
		t.Errorf("audit_logs = %v, want 150", v)
	}
}

// TestRecordHTTPStatus_LabelsByStatusCode はステータスコード別に記録されることを検証する。
func TestRecordHTTPStatus_LabelsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(429)
	c.RecordHTTPStatus(200)

	mf := findMetricFamily(t, reg, "perkledger_http_status_total")
	if v := labeledCounterValue(t, mf, "status_code", "200"); v != 2 {
		t.Errorf("200 = %v, want 2", v)
	}
	if v := labeledCounterValue(t, mf, "status_code", "429"); v != 1 {
		t.Errorf("429 = %v, want 1", v)
	}
}

// TestRecordOperationLatency_ObservesHistogram はレイテンシが記録されることを検証する。
func TestRecordOperationLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOperationLatency("redeem", 150*time.Millisecond)

	mf := findMetricFamily(t, reg, "perkledger_operation_latency_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() < 0.14 || h.GetSampleSum() > 0.16 {
		t.Errorf("sample sum = %v, want ~0.15", h.GetSampleSum())
	}
}

// TestNop_SatisfiesInterface はNopがすべてのメソッドを呼び出せることを検証する。
func TestNop_SatisfiesInterface(t *testing.T) {
	var c MetricsCollector = Nop{}
	c.RecordVoucherIssued("drink")
	c.RecordTxConflict("redeem")
	c.RecordOperationLatency("issue", time.Second)
}
