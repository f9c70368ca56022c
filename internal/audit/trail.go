// Package audit は変更操作の監査ログを非同期に記録する。
//
// Appendは呼び出し元をブロックせず、失敗させることもない。
// レコードは有界バッファに積まれ、バックグラウンドのゴルーチンが
// AuditRepositoryに書き込む。バッファが満杯の場合は破棄する。
// 追加のSinkはSinkごとの有界キューとゴルーチンで配信し、
// 遅いSinkがAuditRepositoryへの書き込みを止めることはない。
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/perkledger/internal/metrics"
	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/repository"
)

// 監査ログのアクション名。
const (
	ActionGenerateCeoVoucher = "generateCeoVoucher"
	ActionUseCeoVoucher      = "useCeoVoucher"
	ActionAdjustBalance      = "adjustBalance"
	ActionAwardPoints        = "awardPoints"
	ActionApplyVoucherPack   = "applyVoucherPack"
	ActionReserveUsername    = "reserveUsername"
	ActionReleaseUsername    = "releaseUsername"
	ActionSpinNightWheel     = "spinNightWheel"
	ActionInitProfile        = "initUserProfile"
)

// DefaultBufferSize はバッファサイズのデフォルト値。
const DefaultBufferSize = 256

// writeTimeout はAuditRepositoryへの1レコードの書き込みのタイムアウト。
const writeTimeout = 5 * time.Second

// sinkTimeout はSinkへの1レコードの配信のタイムアウト。Sink側の再試行を含む。
const sinkTimeout = 30 * time.Second

// Appender は監査ログの追記インターフェース。
type Appender interface {
	Append(action, actorID string, details map[string]any)
}

// Sink は監査ログの下流の受信者。
type Sink interface {
	Write(ctx context.Context, record *model.AuditRecord) error
}

// Trail は非同期の監査ログ記録器。
type Trail struct {
	repo    repository.AuditRepository
	sinks   []*sinkWorker
	metrics metrics.MetricsCollector
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan *model.AuditRecord
	done   chan struct{}
}

// NewTrail はTrailを生成し、書き込み用のゴルーチンを起動する。
func NewTrail(repo repository.AuditRepository, bufferSize int, m metrics.MetricsCollector, sinks ...Sink) *Trail {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if m == nil {
		m = metrics.Nop{}
	}
	t := &Trail{
		repo:    repo,
		metrics: m,
		now:     time.Now,
		queue:   make(chan *model.AuditRecord, bufferSize),
		done:    make(chan struct{}),
	}
	for _, sink := range sinks {
		w := &sinkWorker{
			sink:  sink,
			queue: make(chan *model.AuditRecord, bufferSize),
			done:  make(chan struct{}),
		}
		t.sinks = append(t.sinks, w)
		go w.run()
	}
	go t.run()
	return t
}

// sinkWorker は1つのSinkへの配信を担当する。
type sinkWorker struct {
	sink  Sink
	queue chan *model.AuditRecord
	done  chan struct{}
}

func (w *sinkWorker) enqueue(rec *model.AuditRecord) {
	select {
	case w.queue <- rec:
	default:
		slog.Warn("audit sink queue full, record not delivered",
			slog.String("action", rec.Action),
			slog.String("actor_id", rec.ActorID),
		)
	}
}

func (w *sinkWorker) run() {
	defer close(w.done)
	for rec := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := w.sink.Write(ctx, rec); err != nil {
			slog.Warn("audit sink failed",
				slog.String("action", rec.Action),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// Append は監査ログをバッファに積む。バッファが満杯またはクローズ済みの場合は破棄する。
func (t *Trail) Append(action, actorID string, details map[string]any) {
	rec := &model.AuditRecord{
		ID:        uuid.NewString(),
		Action:    action,
		ActorID:   actorID,
		Timestamp: t.now().UTC(),
		Details:   details,
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.drop(rec, "closed")
		return
	}
	select {
	case t.queue <- rec:
	default:
		t.drop(rec, "buffer full")
	}
}

func (t *Trail) drop(rec *model.AuditRecord, reason string) {
	t.metrics.RecordAuditDropped()
	slog.Warn("audit record dropped",
		slog.String("action", rec.Action),
		slog.String("actor_id", rec.ActorID),
		slog.String("reason", reason),
	)
}

// List は監査ログを新しい順に返す。
func (t *Trail) List(ctx context.Context, limit int) ([]*model.AuditRecord, error) {
	return t.repo.List(ctx, limit)
}

// Close は新規の受け付けを停止し、バッファ内のレコードを書き終え、
// Sinkへの配信が終わるまで待つ。
// ctxが先に終了した場合はctx.Err()を返す。
func (t *Trail) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Trail) run() {
	defer close(t.done)
	for rec := range t.queue {
		t.write(rec)
		for _, w := range t.sinks {
			w.enqueue(rec)
		}
	}
	for _, w := range t.sinks {
		close(w.queue)
	}
	for _, w := range t.sinks {
		<-w.done
	}
}

func (t *Trail) write(rec *model.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := t.repo.Insert(ctx, rec); err != nil {
		t.metrics.RecordAuditFailure()
		slog.Warn("failed to write audit record",
			slog.String("action", rec.Action),
			slog.String("actor_id", rec.ActorID),
			slog.String("error", err.Error()),
		)
		return
	}
	t.metrics.RecordAuditWritten()
}

// compile-time interface check
var _ Appender = (*Trail)(nil)
