// Package voucher は単回使用バウチャーの発行と使用を管理する。
//
// バウチャーは Issued(used=false) から Redeemed(used=true) へ1度だけ遷移する。
// 使用判定とフラグ更新は1つのトランザクションで行うため、
// 同じコードに対する並行した使用はちょうど1件だけ成功する。
package voucher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/perkledger/internal/audit"
	"github.com/hitoshi/perkledger/internal/catalog"
	"github.com/hitoshi/perkledger/internal/codegen"
	"github.com/hitoshi/perkledger/internal/identity"
	"github.com/hitoshi/perkledger/internal/metrics"
	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/ratelimit"
	"github.com/hitoshi/perkledger/internal/repository"
)

// MaxCodeLength は受け付けるコードの最大長。
const MaxCodeLength = 32

// IssuedLabelPrefix は発行されたバウチャーの表示名の接頭辞。
const IssuedLabelPrefix = "CEO issued: "

// RateChecker は発行前のレート制限判定のインターフェース。
type RateChecker interface {
	Check(ctx context.Context, ownerID string, limits ratelimit.Limits) error
}

// Issued はIssueの結果。
type Issued struct {
	Code    string `json:"code"`
	Perk    string `json:"perk"`
	PerkKey string `json:"perkKey"`
}

// Redeemed はRedeemの結果。
type Redeemed struct {
	Code string `json:"code"`
	Perk string `json:"perk"`
}

// Ledger はバウチャーの発行と使用を行う。
type Ledger struct {
	store      repository.DocumentStore
	limiter    RateChecker
	limits     ratelimit.Limits
	catalog    *catalog.Catalog
	audit      audit.Appender
	metrics    metrics.MetricsCollector
	codeLength int
	now        func() time.Time
	generate   func(length int) (string, error)
}

// Option はLedgerの設定を変更する。
type Option func(*Ledger)

// WithLimits は発行のレート制限値を設定する。
func WithLimits(limits ratelimit.Limits) Option {
	return func(l *Ledger) { l.limits = limits }
}

// WithCodeLength はコード長を設定する。
func WithCodeLength(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.codeLength = n
		}
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(l *Ledger) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewLedger はLedgerを生成する。
func NewLedger(store repository.DocumentStore, limiter RateChecker, cat *catalog.Catalog, auditor audit.Appender, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		limiter:    limiter,
		limits:     ratelimit.DefaultLimits(),
		catalog:    cat,
		audit:      auditor,
		metrics:    metrics.Nop{},
		codeLength: codegen.DefaultLength,
		now:        time.Now,
		generate:   codegen.Generate,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Issue はバウチャーを発行する。
// 呼び出し元はadminまたはceo権限を持ち、発行者単位のレート制限を通過する必要がある。
// perkが空の場合はカタログのデフォルトperkを使用する。
func (l *Ledger) Issue(ctx context.Context, issuerID string, caps identity.Capabilities, perk string) (*Issued, error) {
	if issuerID == "" {
		return nil, model.NewUnauthenticatedError()
	}
	if !caps.HasAny(identity.CapabilityAdmin, identity.CapabilityCEO) {
		return nil, model.NewPermissionDeniedError("admin/ceo")
	}

	if err := l.limiter.Check(ctx, issuerID, l.limits); err != nil {
		if scope, ok := model.RateScopeOf(err); ok {
			l.metrics.RecordRateLimited(string(scope))
		}
		slog.Warn("voucher issuance rate limited",
			slog.String("issuer_id", issuerID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	perk = strings.TrimSpace(perk)
	if perk == "" {
		perk = l.catalog.DefaultPerk
	}
	v := &model.Voucher{
		Perk:      IssuedLabelPrefix + l.catalog.PerkLabel(perk),
		PerkKey:   "ceo_" + perk,
		IssuerID:  issuerID,
		CreatedAt: l.now().UTC(),
	}

	code, err := l.create(ctx, v)
	if err != nil {
		if errors.Is(err, repository.ErrTxConflict) {
			l.metrics.RecordTxConflict("issue")
		}
		return nil, err
	}

	l.metrics.RecordVoucherIssued(perk)
	l.audit.Append(audit.ActionGenerateCeoVoucher, issuerID, map[string]any{
		"code": code,
		"perk": perk,
	})
	slog.Info("voucher issued",
		slog.String("issuer_id", issuerID),
		slog.String("code", code),
		slog.String("perk", perk),
	)
	return &Issued{Code: code, Perk: v.Perk, PerkKey: v.PerkKey}, nil
}

// create はコードを生成してバウチャーを作成する。
// 既存コードと衝突した場合は再生成し、codegen.DefaultAttempts回衝突した場合は
// タイムスタンプ由来のコードで作成する。
func (l *Ledger) create(ctx context.Context, v *model.Voucher) (string, error) {
	for i := 0; i < codegen.DefaultAttempts; i++ {
		code, err := l.generate(l.codeLength)
		if err != nil {
			return "", err
		}
		err = l.insert(ctx, code, v)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, repository.ErrDocumentExists) {
			return "", fmt.Errorf("failed to create voucher: %w", err)
		}
		slog.Debug("voucher code collision", slog.String("code", code))
	}

	code := codegen.Fallback(l.now())
	slog.Warn("voucher code collisions exhausted, using fallback code", slog.String("code", code))
	if err := l.insert(ctx, code, v); err != nil {
		return "", fmt.Errorf("failed to create voucher: %w", err)
	}
	return code, nil
}

func (l *Ledger) insert(ctx context.Context, code string, v *model.Voucher) error {
	doc := *v
	doc.Code = code
	return l.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Create(ctx, voucherKey(code), &doc)
	})
}

// NormalizeCode はコードを前後の空白を除いて大文字化し、形式を検証する。
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" || len(code) > MaxCodeLength {
		return "", model.NewInvalidVoucherCodeError()
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", model.NewInvalidVoucherCodeError()
		}
	}
	return code, nil
}

// Redeem はバウチャーを使用済みにする。
// 存在しない場合はNotFound、使用済みの場合はAlreadyUsedを返し、状態は変更しない。
func (l *Ledger) Redeem(ctx context.Context, rawCode, actorID string) (*Redeemed, error) {
	if actorID == "" {
		return nil, model.NewUnauthenticatedError()
	}
	code, err := NormalizeCode(rawCode)
	if err != nil {
		return nil, err
	}

	var result Redeemed
	err = l.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		v, err := repository.GetTyped[model.Voucher](ctx, tx, voucherKey(code))
		if err != nil {
			return fmt.Errorf("failed to read voucher: %w", err)
		}
		if v == nil {
			return model.NewVoucherNotFoundError(code)
		}
		if v.Used {
			return model.NewVoucherAlreadyUsedError()
		}

		usedAt := l.now().UTC()
		usedBy := actorID
		v.Used = true
		v.UsedBy = &usedBy
		v.UsedAt = &usedAt
		if err := tx.Set(ctx, voucherKey(code), v); err != nil {
			return fmt.Errorf("failed to update voucher: %w", err)
		}
		result = Redeemed{Code: code, Perk: v.Perk}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrTxConflict) {
			l.metrics.RecordTxConflict("redeem")
		}
		return nil, err
	}

	l.metrics.RecordVoucherRedeemed()
	l.audit.Append(audit.ActionUseCeoVoucher, actorID, map[string]any{
		"code": code,
		"perk": result.Perk,
	})
	slog.Info("voucher redeemed",
		slog.String("actor_id", actorID),
		slog.String("code", code),
	)
	return &result, nil
}

// List はバウチャーを新しい順に返す。レポート用の読み取り専用操作。
func (l *Ledger) List(ctx context.Context, limit int) ([]*model.Voucher, error) {
	docs, err := l.store.List(ctx, repository.CollectionVouchers, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	vouchers := make([]*model.Voucher, 0, len(docs))
	for _, d := range docs {
		var v model.Voucher
		if err := d.Decode(&v); err != nil {
			return nil, err
		}
		vouchers = append(vouchers, &v)
	}
	return vouchers, nil
}

func voucherKey(code string) repository.Key {
	return repository.Key{Collection: repository.CollectionVouchers, ID: code}
}
