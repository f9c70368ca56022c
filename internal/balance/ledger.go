// Package balance はメンバーごとのポイント・トークン・パーク残高を管理する。
package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/perkledger/internal/audit"
	"github.com/hitoshi/perkledger/internal/catalog"
	"github.com/hitoshi/perkledger/internal/metrics"
	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/repository"
)

// MaxReasonLength はポイント付与理由の最大文字数。
const MaxReasonLength = 120

// MaxDelta はAPIから受け付ける1回あたりの加減算値の絶対値の上限。
const MaxDelta = 1_000_000

// CycleKey はトークンの有効期間を表すUTCの年月（例: "2024-05"）を返す。
func CycleKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PackResult はApplyPackの結果。
type PackResult struct {
	Pack     catalog.Pack `json:"pack"`
	Kind     string       `json:"kind"`
	Value    int          `json:"value"`
	CycleKey *string      `json:"cycleKey,omitempty"`
}

// Ledger は残高の加減算を行う。
type Ledger struct {
	store   repository.DocumentStore
	catalog *catalog.Catalog
	audit   audit.Appender
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewLedger はLedgerを生成する。
func NewLedger(store repository.DocumentStore, cat *catalog.Catalog, auditor audit.Appender, m metrics.MetricsCollector) *Ledger {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Ledger{store: store, catalog: cat, audit: auditor, metrics: m, now: time.Now}
}

// Adjust は残高にdeltaを加算し、0未満にならないよう丸めた新しい値を返す。
// cycleKeyが指定され保存済みの期間と異なる場合は0から加算し、期間を更新する。
func (l *Ledger) Adjust(ctx context.Context, ownerID, kind string, delta int, cycleKey *string) (int, error) {
	if ownerID == "" {
		return 0, model.NewInvalidArgumentError("オーナーIDが空です")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return 0, model.NewInvalidArgumentError("残高種別が空です")
	}

	key := sheetKey(ownerID)
	var next int
	err := l.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		sheet, err := repository.GetTyped[model.BalanceSheet](ctx, tx, key)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		if sheet == nil {
			sheet = &model.BalanceSheet{OwnerID: ownerID}
		}
		if sheet.Entries == nil {
			sheet.Entries = make(map[string]model.BalanceEntry)
		}

		entry := sheet.Entries[kind]
		base := entry.Value
		if cycleKey != nil && *cycleKey != entry.CycleKey {
			base = 0
			entry.CycleKey = *cycleKey
		}
		next = addClamped(base, delta)
		entry.Value = next
		entry.UpdatedAt = l.now().UTC()
		sheet.Entries[kind] = entry

		return tx.Set(ctx, key, sheet)
	})
	if err != nil {
		if errors.Is(err, repository.ErrTxConflict) {
			l.metrics.RecordTxConflict("adjust")
		}
		return 0, err
	}
	return next, nil
}

// Get は残高を読み取る。状態は変更しない。
// currentCycleが指定され保存済みの期間と異なる場合は0として返す。
func (l *Ledger) Get(ctx context.Context, ownerID, kind string, currentCycle *string) (*model.Balance, error) {
	var sheet model.BalanceSheet
	if _, err := l.store.Get(ctx, sheetKey(ownerID), &sheet); err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	b := &model.Balance{OwnerID: ownerID, Kind: kind}
	entry, ok := sheet.Entries[kind]
	if !ok {
		b.CycleKey = currentCycle
		return b, nil
	}
	if currentCycle != nil && *currentCycle != entry.CycleKey {
		b.CycleKey = currentCycle
		return b, nil
	}
	b.Value = entry.Value
	if entry.CycleKey != "" {
		ck := entry.CycleKey
		b.CycleKey = &ck
	}
	return b, nil
}

// addClamped はbase+deltaを0以上math.MaxInt以下に収めて返す。
func addClamped(base, delta int) int {
	if delta > 0 && base > math.MaxInt-delta {
		return math.MaxInt
	}
	return max(0, base+delta)
}

// ValidateDelta はAPIから受け付ける加減算値の範囲を検証する。
func ValidateDelta(delta int) error {
	if delta > MaxDelta || delta < -MaxDelta {
		return model.NewInvalidArgumentError(fmt.Sprintf("加算値の絶対値は%d以下で指定してください", MaxDelta))
	}
	return nil
}

// CurrentCycle は現在の期間キーを返す。
func (l *Ledger) CurrentCycle() string {
	return CycleKey(l.now())
}

// AwardPoints は本人のポイントを加減算し、監査ログを記録する。
// reasonはMaxReasonLength文字に切り詰める。deltaが0の場合はInvalidArgumentを返す。
func (l *Ledger) AwardPoints(ctx context.Context, ownerID string, delta int, reason string) (int, error) {
	if delta == 0 {
		return 0, model.NewInvalidArgumentError("加算値は0以外を指定してください")
	}
	total, err := l.Adjust(ctx, ownerID, model.BalanceKindPoints, delta, nil)
	if err != nil {
		return 0, err
	}
	l.audit.Append(audit.ActionAwardPoints, ownerID, map[string]any{
		"delta":  delta,
		"reason": truncate(reason, MaxReasonLength),
		"total":  total,
	})
	return total, nil
}

// AdminAdjust は管理者による残高の加減算を行い、監査ログを記録する。
func (l *Ledger) AdminAdjust(ctx context.Context, actorID, ownerID, kind string, delta int, cycleKey *string) (int, error) {
	total, err := l.Adjust(ctx, ownerID, kind, delta, cycleKey)
	if err != nil {
		return 0, err
	}
	details := map[string]any{
		"owner_id": ownerID,
		"kind":     kind,
		"delta":    delta,
		"total":    total,
	}
	if cycleKey != nil {
		details["cycle_key"] = *cycleKey
	}
	l.audit.Append(audit.ActionAdjustBalance, actorID, details)
	return total, nil
}

// ApplyPack は購入済みのバウチャーパックを残高に反映する。
// トークンパックは現在のUTC年月の期間で加算し、それ以外はperk名の残高に加算する。
func (l *Ledger) ApplyPack(ctx context.Context, actorID, ownerID, tier, packID string) (*PackResult, error) {
	pack, ok := l.catalog.ResolvePack(tier, packID)
	if !ok {
		return nil, model.NewUnknownPackError(packID)
	}

	result := &PackResult{Pack: pack, Kind: pack.Perk}
	if pack.Perk == catalog.PerkTokens {
		cycle := l.CurrentCycle()
		result.CycleKey = &cycle
	}

	total, err := l.Adjust(ctx, ownerID, pack.Perk, pack.Amount, result.CycleKey)
	if err != nil {
		return nil, err
	}
	result.Value = total

	l.audit.Append(audit.ActionApplyVoucherPack, actorID, map[string]any{
		"owner_id": ownerID,
		"pack_id":  pack.ID,
		"tier":     pack.Tier,
		"perk":     pack.Perk,
		"amount":   pack.Amount,
		"total":    total,
	})
	slog.Info("voucher pack applied",
		slog.String("owner_id", ownerID),
		slog.String("pack_id", pack.ID),
		slog.String("tier", pack.Tier),
	)
	return result, nil
}

func sheetKey(ownerID string) repository.Key {
	return repository.Key{Collection: repository.CollectionBalances, ID: ownerID}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
