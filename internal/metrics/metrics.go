// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 各コンポーネントやミドルウェアから利用する。
type MetricsCollector interface {
	RecordVoucherIssued(perk string)
	RecordVoucherRedeemed()
	RecordRateLimited(scope string)
	RecordTxConflict(operation string)
	RecordNightWheelSpin()
	RecordAuditWritten()
	RecordAuditDropped()
	RecordAuditFailure()
	RecordCleanupDeleted(table string, count int64)
	RecordHTTPStatus(statusCode int)
	RecordOperationLatency(operation string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	vouchersIssued   *prometheus.CounterVec
	vouchersRedeemed prometheus.Counter
	rateLimited      *prometheus.CounterVec
	txConflicts      *prometheus.CounterVec
	wheelSpins       prometheus.Counter
	auditWritten     prometheus.Counter
	auditDropped     prometheus.Counter
	auditFailures    prometheus.Counter
	cleanupDeleted   *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	opLatency        *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		vouchersIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perkledger_vouchers_issued_total",
			Help: "発行されたバウチャーの合計数",
		}, []string{"perk"}),
		vouchersRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perkledger_vouchers_redeemed_total",
			Help: "使用されたバウチャーの合計数",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perkledger_rate_limited_total",
			Help: "レート制限により拒否された発行の合計数",
		}, []string{"scope"}),
		txConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perkledger_tx_conflicts_total",
			Help: "リトライ上限を超えたトランザクション競合の合計数",
		}, []string{"operation"}),
		wheelSpins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perkledger_night_wheel_spins_total",
			Help: "ナイトホイールのスピンの合計数",
		}),
		auditWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perkledger_audit_written_total",
			Help: "書き込まれた監査ログの合計数",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perkledger_audit_dropped_total",
			Help: "バッファ溢れにより破棄された監査ログの合計数",
		}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perkledger_audit_failures_total",
			Help: "書き込みに失敗した監査ログの合計数",
		}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perkledger_cleanup_deleted_total",
			Help: "保持期間超過により削除された行の合計数",
		}, []string{"table"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perkledger_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perkledger_operation_latency_seconds",
			Help:    "操作ごとのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.vouchersIssued,
		c.vouchersRedeemed,
		c.rateLimited,
		c.txConflicts,
		c.wheelSpins,
		c.auditWritten,
		c.auditDropped,
		c.auditFailures,
		c.cleanupDeleted,
		c.httpStatus,
		c.opLatency,
	)

	return c
}

// RecordVoucherIssued はバウチャー発行を記録する。
func (c *Collector) RecordVoucherIssued(perk string) {
	c.vouchersIssued.WithLabelValues(perk).Inc()
}

// RecordVoucherRedeemed はバウチャー使用を記録する。
func (c *Collector) RecordVoucherRedeemed() {
	c.vouchersRedeemed.Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(scope string) {
	c.rateLimited.WithLabelValues(scope).Inc()
}

// RecordTxConflict はトランザクション競合を記録する。
func (c *Collector) RecordTxConflict(operation string) {
	c.txConflicts.WithLabelValues(operation).Inc()
}

// RecordNightWheelSpin はスピンを記録する。
func (c *Collector) RecordNightWheelSpin() {
	c.wheelSpins.Inc()
}

// RecordAuditWritten は監査ログの書き込みを記録する。
func (c *Collector) RecordAuditWritten() {
	c.auditWritten.Inc()
}

// RecordAuditDropped は監査ログの破棄を記録する。
func (c *Collector) RecordAuditDropped() {
	c.auditDropped.Inc()
}

// RecordAuditFailure は監査ログの書き込み失敗を記録する。
func (c *Collector) RecordAuditFailure() {
	c.auditFailures.Inc()
}

// RecordCleanupDeleted はクリーンアップで削除された行数を記録する。
func (c *Collector) RecordCleanupDeleted(table string, count int64) {
	c.cleanupDeleted.WithLabelValues(table).Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordOperationLatency は操作のレイテンシを記録する。
func (c *Collector) RecordOperationLatency(operation string, duration time.Duration) {
	c.opLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordVoucherIssued(string)                   {}
func (Nop) RecordVoucherRedeemed()                       {}
func (Nop) RecordRateLimited(string)                     {}
func (Nop) RecordTxConflict(string)                      {}
func (Nop) RecordNightWheelSpin()                        {}
func (Nop) RecordAuditWritten()                          {}
func (Nop) RecordAuditDropped()                          {}
func (Nop) RecordAuditFailure()                          {}
func (Nop) RecordCleanupDeleted(string, int64)           {}
func (Nop) RecordHTTPStatus(int)                         {}
func (Nop) RecordOperationLatency(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
