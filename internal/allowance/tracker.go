// Package allowance は週単位の利用回数を管理する。
package allowance

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/repository"
)

// Allowance は1週間あたりの利用可能回数。
type Allowance struct {
	Limit     int
	Unlimited bool
}

// Usage はConsume後の利用状況。Unlimitedの場合Remainingは-1。
type Usage struct {
	Spent     int  `json:"spent"`
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

// WeekToken はlocにおけるISO週を "YYYY-Www" 形式で返す。
func WeekToken(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// Tracker は週ごとの利用回数を記録する。
type Tracker struct {
	store      repository.DocumentStore
	collection string
	now        func() time.Time
}

// NewTracker はcollectionに利用状況を保存するTrackerを生成する。
func NewTracker(store repository.DocumentStore, collection string) *Tracker {
	return &Tracker{store: store, collection: collection, now: time.Now}
}

// Consume は1回分の利用を記録する。
// 保存済みの週がweekTokenと異なる場合は0回として数える。
// 上限に達している場合は書き込まずにResourceExhaustedを返す。
func (t *Tracker) Consume(ctx context.Context, ownerID, weekToken string, a Allowance) (*Usage, error) {
	if ownerID == "" {
		return nil, model.NewUnauthenticatedError()
	}
	if weekToken == "" {
		return nil, model.NewInvalidArgumentError("週トークンが空です")
	}

	key := repository.Key{Collection: t.collection, ID: ownerID}
	var usage *Usage
	err := t.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		cur, err := repository.GetTyped[model.WeeklyAllowance](ctx, tx, key)
		if err != nil {
			return fmt.Errorf("failed to read allowance: %w", err)
		}
		spent := 0
		if cur != nil && cur.WeekToken == weekToken {
			spent = cur.Spent
		}
		if !a.Unlimited && spent >= a.Limit {
			return model.NewAllowanceExhaustedError()
		}

		next := model.WeeklyAllowance{
			OwnerID:   ownerID,
			WeekToken: weekToken,
			Spent:     spent + 1,
			UpdatedAt: t.now().UTC(),
		}
		if err := tx.Set(ctx, key, next); err != nil {
			return err
		}

		usage = &Usage{Spent: next.Spent, Remaining: -1, Unlimited: a.Unlimited}
		if !a.Unlimited {
			usage.Remaining = a.Limit - next.Spent
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}
