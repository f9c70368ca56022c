// Package cleanup は保持期間を超過した監査ログとレートウィンドウの削除ジョブを提供する。
// 1回の実行で削除する件数はテーブルごとにBatchLimit件までとし、
// 残りは次回以降の実行で削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/perkledger/internal/metrics"
	"github.com/hitoshi/perkledger/internal/repository"
)

// デフォルト値。
const (
	DefaultRetentionDays = 30
	DefaultBatchLimit    = 500
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// target は削除対象のテーブルと条件。
type target struct {
	name  string
	query string
	args  []any
}

// Job は保持期間を超過したデータの削除ジョブ。冪等に実行できる。
type Job struct {
	db            Executor
	logger        *slog.Logger
	metrics       metrics.MetricsCollector
	RetentionDays int
	BatchLimit    int
}

// NewJob は新しいJobを生成する。
func NewJob(db Executor, logger *slog.Logger, m metrics.MetricsCollector) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Job{
		db:            db,
		logger:        logger,
		metrics:       m,
		RetentionDays: DefaultRetentionDays,
		BatchLimit:    DefaultBatchLimit,
	}
}

func (j *Job) targets(interval string, limit int) []target {
	return []target{
		{
			name: "audit_logs",
			query: `DELETE FROM audit_logs WHERE id IN (
				SELECT id FROM audit_logs
				WHERE created_at < now() - $1::interval
				ORDER BY created_at
				LIMIT $2)`,
			args: []any{interval, limit},
		},
		{
			name: repository.CollectionRateLimits,
			query: `DELETE FROM documents WHERE collection = $1 AND id IN (
				SELECT id FROM documents
				WHERE collection = $1 AND updated_at < now() - $2::interval
				ORDER BY updated_at
				LIMIT $3)`,
			args: []any{repository.CollectionRateLimits, interval, limit},
		},
	}
}

// Run は保持期間を超過したレコードを削除する。
// 1つのテーブルで失敗しても残りのテーブルの削除は続行し、最初のエラーを返す。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	days := j.RetentionDays
	if days <= 0 {
		days = DefaultRetentionDays
	}
	limit := j.BatchLimit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	interval := fmt.Sprintf("%d days", days)

	var (
		firstErr error
		total    int64
	)
	for _, t := range j.targets(interval, limit) {
		deleted, err := j.deleteExpired(ctx, t)
		if err != nil {
			j.logger.Error("cleanup failed",
				slog.String("table", t.name),
				slog.String("error", err.Error()),
				slog.Int("retention_days", days),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("cleanup %s: %w", t.name, err)
			}
			continue
		}
		j.metrics.RecordCleanupDeleted(t.name, deleted)
		total += deleted
		j.logger.Info("cleanup table completed",
			slog.String("table", t.name),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("cleanup job completed",
		slog.Int64("deleted_count", total),
		slog.Int("retention_days", days),
		slog.Int("batch_limit", limit),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return firstErr
}

func (j *Job) deleteExpired(ctx context.Context, t target) (int64, error) {
	result, err := j.db.ExecContext(ctx, t.query, t.args...)
	if err != nil {
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}
