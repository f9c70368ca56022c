// Package ratelimit は呼び出し元ごとの分・日単位の発行回数制限を提供する。
//
// 状態はDocumentStoreの rate_limits コレクションに保持し、
// 判定とカウンタ更新を1つのトランザクションで行う。
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/repository"
)

// デフォルトの上限値。
const (
	DefaultPerMinute = 5
	DefaultPerDay    = 200
)

// Limits は1呼び出し元あたりの上限。
type Limits struct {
	PerMinute int
	PerDay    int
}

// DefaultLimits はデフォルトの上限を返す。
func DefaultLimits() Limits {
	return Limits{PerMinute: DefaultPerMinute, PerDay: DefaultPerDay}
}

// Limiter はDocumentStoreを使用したレートリミッター。
type Limiter struct {
	store repository.DocumentStore
	loc   *time.Location
	now   func() time.Time
}

// NewLimiter はLimiterを生成する。
// locは日単位ウィンドウの日付判定に使う基準タイムゾーン。
func NewLimiter(store repository.DocumentStore, loc *time.Location) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	return &Limiter{store: store, loc: loc, now: time.Now}
}

// Check は呼び出し元の発行を1回分許可するかを判定する。
// 許可した場合は分・日の両カウンタを加算してコミットする。
// 超過した場合はトランザクションを中断し、状態は変更しない。
func (l *Limiter) Check(ctx context.Context, ownerID string, limits Limits) error {
	if limits.PerMinute <= 0 {
		limits.PerMinute = DefaultPerMinute
	}
	if limits.PerDay <= 0 {
		limits.PerDay = DefaultPerDay
	}
	key := repository.Key{Collection: repository.CollectionRateLimits, ID: ownerID}

	return l.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := l.now()
		w, err := repository.GetTyped[model.RateWindow](ctx, tx, key)
		if err != nil {
			return fmt.Errorf("failed to read rate window: %w", err)
		}
		if w == nil {
			w = &model.RateWindow{OwnerID: ownerID, MinuteWindowStart: now, DayWindowStart: now}
		}

		next := Advance(*w, now, l.loc)
		if next.MinuteCount+1 > limits.PerMinute {
			return model.NewRateExceededError(model.RateScopeMinute)
		}
		if next.DayCount+1 > limits.PerDay {
			return model.NewRateExceededError(model.RateScopeDay)
		}

		next.OwnerID = ownerID
		next.MinuteCount++
		next.DayCount++
		next.UpdatedAt = now.UTC()
		return tx.Set(ctx, key, next)
	})
}

// List はレートウィンドウを更新日時の新しい順に返す。
func (l *Limiter) List(ctx context.Context, limit int) ([]*model.RateWindow, error) {
	docs, err := l.store.List(ctx, repository.CollectionRateLimits, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate windows: %w", err)
	}
	windows := make([]*model.RateWindow, 0, len(docs))
	for _, doc := range docs {
		var w model.RateWindow
		if err := doc.Decode(&w); err != nil {
			return nil, err
		}
		if w.OwnerID == "" {
			w.OwnerID = doc.Key.ID
		}
		windows = append(windows, &w)
	}
	return windows, nil
}

// Advance は経過時間に応じてウィンドウをリセットした状態を返す。
// 分ウィンドウは開始から60秒以上、日ウィンドウは基準タイムゾーンの日付が変わった時点でリセットする。
func Advance(w model.RateWindow, now time.Time, loc *time.Location) model.RateWindow {
	if now.Sub(w.MinuteWindowStart) >= time.Minute {
		w.MinuteCount = 0
		w.MinuteWindowStart = now.UTC()
	}
	if !sameDate(w.DayWindowStart, now, loc) {
		w.DayCount = 0
		w.DayWindowStart = now.UTC()
	}
	return w
}

func sameDate(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
