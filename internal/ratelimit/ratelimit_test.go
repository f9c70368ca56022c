package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/repository"
)

// fakeClock はテスト用の時計。
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, start time.Time) (*Limiter, *fakeClock, *repository.MemoryDocumentStore) {
	t.Helper()
	loc, err := time.LoadLocation("America/Denver")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	store := repository.NewMemoryDocumentStore(0)
	clock := &fakeClock{t: start}
	l := NewLimiter(store, loc)
	l.now = clock.Now
	return l, clock, store
}

func readWindow(t *testing.T, store repository.DocumentStore, ownerID string) model.RateWindow {
	t.Helper()
	var w model.RateWindow
	if _, err := store.Get(context.Background(), repository.Key{Collection: repository.CollectionRateLimits, ID: ownerID}, &w); err != nil {
		t.Fatalf("failed to read window: %v", err)
	}
	return w
}

func TestLimiter_MinuteLimit(t *testing.T) {
	start := time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)
	l, _, store := newTestLimiter(t, start)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Check(ctx, "ceo-1", DefaultLimits()); err != nil {
			t.Fatalf("call %d rejected: %v", i+1, err)
		}
	}

	err := l.Check(ctx, "ceo-1", DefaultLimits())
	if model.KindOf(err) != model.KindResourceExhausted {
		t.Fatalf("KindOf = %q, want %q", model.KindOf(err), model.KindResourceExhausted)
	}
	if scope, ok := model.RateScopeOf(err); !ok || scope != model.RateScopeMinute {
		t.Errorf("scope = %q, want minute", scope)
	}

	w := readWindow(t, store, "ceo-1")
	if w.MinuteCount != 5 || w.DayCount != 5 {
		t.Errorf("拒否後のカウンタが変化した: perMin=%d perDay=%d", w.MinuteCount, w.DayCount)
	}
}

func TestLimiter_MinuteWindowResets(t *testing.T) {
	start := time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)
	l, clock, store := newTestLimiter(t, start)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Check(ctx, "ceo-1", DefaultLimits()); err != nil {
			t.Fatalf("call %d rejected: %v", i+1, err)
		}
	}

	clock.Advance(59 * time.Second)
	if err := l.Check(ctx, "ceo-1", DefaultLimits()); err == nil {
		t.Fatal("59秒後の呼び出しが許可された")
	}

	clock.Advance(time.Second)
	if err := l.Check(ctx, "ceo-1", DefaultLimits()); err != nil {
		t.Fatalf("60秒後の呼び出しが拒否された: %v", err)
	}

	w := readWindow(t, store, "ceo-1")
	if w.MinuteCount != 1 {
		t.Errorf("MinuteCount = %d, want 1", w.MinuteCount)
	}
	if w.DayCount != 6 {
		t.Errorf("DayCount = %d, want 6", w.DayCount)
	}
}

func TestLimiter_DayLimit(t *testing.T) {
	start := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
	l, clock, _ := newTestLimiter(t, start)
	ctx := context.Background()
	limits := Limits{PerMinute: 5, PerDay: 3}

	for i := 0; i < 3; i++ {
		if err := l.Check(ctx, "ceo-1", limits); err != nil {
			t.Fatalf("call %d rejected: %v", i+1, err)
		}
		clock.Advance(time.Minute)
	}

	err := l.Check(ctx, "ceo-1", limits)
	if scope, ok := model.RateScopeOf(err); !ok || scope != model.RateScopeDay {
		t.Fatalf("err = %v, want day scope", err)
	}
}

// 日ウィンドウは基準タイムゾーン（America/Denver）の日付で切り替わる
func TestLimiter_DayWindowUsesReferenceTimezone(t *testing.T) {
	// 2024-05-10 23:30 MDT
	start := time.Date(2024, 5, 11, 5, 30, 0, 0, time.UTC)
	l, clock, _ := newTestLimiter(t, start)
	ctx := context.Background()
	limits := Limits{PerMinute: 5, PerDay: 1}

	if err := l.Check(ctx, "ceo-1", limits); err != nil {
		t.Fatalf("first call rejected: %v", err)
	}

	// 2024-05-10 23:50 MDT: 同じ日
	clock.Advance(20 * time.Minute)
	if err := l.Check(ctx, "ceo-1", limits); err == nil {
		t.Fatal("同じ日の2回目の呼び出しが許可された")
	}

	// 2024-05-11 00:10 MDT: 翌日
	clock.Advance(20 * time.Minute)
	if err := l.Check(ctx, "ceo-1", limits); err != nil {
		t.Fatalf("翌日の呼び出しが拒否された: %v", err)
	}
}

func TestLimiter_PerOwnerIsolation(t *testing.T) {
	l, _, _ := newTestLimiter(t, time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC))
	ctx := context.Background()
	limits := Limits{PerMinute: 1, PerDay: 10}

	if err := l.Check(ctx, "a", limits); err != nil {
		t.Fatalf("a rejected: %v", err)
	}
	if err := l.Check(ctx, "b", limits); err != nil {
		t.Fatalf("b rejected: %v", err)
	}
}

// 並行呼び出しでも許可数が上限を超えないこと
func TestLimiter_ConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	store := repository.NewMemoryDocumentStore(1000)
	l := NewLimiter(store, time.UTC)
	fixed := time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Check(ctx, "ceo-1", DefaultLimits()); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != DefaultPerMinute {
		t.Errorf("admitted = %d, want %d", admitted, DefaultPerMinute)
	}
}

func TestAdvance(t *testing.T) {
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	w := model.RateWindow{MinuteCount: 3, MinuteWindowStart: base, DayCount: 7, DayWindowStart: base}

	got := Advance(w, base.Add(30*time.Second), time.UTC)
	if got.MinuteCount != 3 || got.DayCount != 7 {
		t.Errorf("30秒後にリセットされた: %+v", got)
	}

	got = Advance(w, base.Add(time.Minute), time.UTC)
	if got.MinuteCount != 0 || got.DayCount != 7 {
		t.Errorf("60秒後の状態が不正: %+v", got)
	}

	got = Advance(w, base.Add(12*time.Hour), time.UTC)
	if got.MinuteCount != 0 || got.DayCount != 0 {
		t.Errorf("翌日の状態が不正: %+v", got)
	}
}

func TestLimiter_List(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l, _, store := newTestLimiter(t, start)
	ctx := context.Background()

	store.SetNow(func() time.Time { return start })
	if err := l.Check(ctx, "u1", DefaultLimits()); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	store.SetNow(func() time.Time { return start.Add(time.Minute) })
	for i := 0; i < 2; i++ {
		if err := l.Check(ctx, "u2", DefaultLimits()); err != nil {
			t.Fatalf("Check returned error: %v", err)
		}
	}

	windows, err := l.List(ctx, 10)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("len = %d, want 2", len(windows))
	}
	if windows[0].OwnerID != "u2" || windows[0].DayCount != 2 {
		t.Errorf("windows[0] = %+v", windows[0])
	}
	if windows[1].OwnerID != "u1" || windows[1].DayCount != 1 {
		t.Errorf("windows[1] = %+v", windows[1])
	}
}
