package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/hitoshi/perkledger/internal/model"
)

// MemoryAuditRepo はメモリ上のAuditRepositoryの実装。
type MemoryAuditRepo struct {
	mu      sync.RWMutex
	records []*model.AuditRecord
}

// NewMemoryAuditRepo はMemoryAuditRepoを生成する。
func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{}
}

// Insert は監査ログを1件追記する。
func (r *MemoryAuditRepo) Insert(_ context.Context, record *model.AuditRecord) error {
	cp := *record
	r.mu.Lock()
	r.records = append(r.records, &cp)
	r.mu.Unlock()
	return nil
}

// List は監査ログを新しい順に返す。
func (r *MemoryAuditRepo) List(_ context.Context, limit int) ([]*model.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.RLock()
	out := make([]*model.AuditRecord, len(r.records))
	copy(out, r.records)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// compile-time interface check
var _ AuditRepository = (*MemoryAuditRepo)(nil)
