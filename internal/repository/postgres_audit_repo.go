package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/perkledger/internal/model"
)

// PostgresAuditRepo はPostgreSQLを使用したAuditRepositoryの実装。
// 監査ログは追記専用のため、DocumentStoreではなく専用テーブルに格納する。
type PostgresAuditRepo struct {
	db *sql.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sql.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// Insert は監査ログを1件追記する。
func (r *PostgresAuditRepo) Insert(ctx context.Context, record *model.AuditRecord) error {
	details, err := json.Marshal(record.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, actor_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.Action, record.ActorID, details, record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// List は監査ログを新しい順に返す。
func (r *PostgresAuditRepo) List(ctx context.Context, limit int) ([]*model.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, action, actor_id, details, created_at
		 FROM audit_logs
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*model.AuditRecord
	for rows.Next() {
		rec := &model.AuditRecord{}
		var details []byte
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.ActorID, &details, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &rec.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

// compile-time interface check
var _ AuditRepository = (*PostgresAuditRepo)(nil)
