package profile

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/repository"
)

func newTestService() (*Service, *repository.MemoryDocumentStore) {
	store := repository.NewMemoryDocumentStore(0)
	svc := NewService(store, 6)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestService_Get_Missing(t *testing.T) {
	svc, _ := newTestService()
	p, err := svc.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if p != nil {
		t.Errorf("Get = %+v, want nil", p)
	}
}

func TestService_Ensure_CreatesProfileWithPassCode(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	p, created, err := svc.Ensure(ctx, "u1", " User@Example.com ")
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if !created {
		t.Error("created = false, want true")
	}
	if p.Tier != TierStandard {
		t.Errorf("Tier = %q, want %q", p.Tier, TierStandard)
	}
	if p.Email != "user@example.com" {
		t.Errorf("Email = %q, want user@example.com", p.Email)
	}
	if len(p.PassCode) != 6 {
		t.Errorf("PassCode = %q, want 6 chars", p.PassCode)
	}

	var owner passCodeOwner
	found, err := store.Get(ctx, repository.Key{Collection: repository.CollectionPassCodes, ID: p.PassCode}, &owner)
	if err != nil || !found {
		t.Fatalf("パスコードの索引が作成されていない: found=%v err=%v", found, err)
	}
	if owner.OwnerID != "u1" {
		t.Errorf("索引のOwnerID = %q, want u1", owner.OwnerID)
	}
}

func TestService_Ensure_Idempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, _, err := svc.Ensure(ctx, "u1", "a@example.com")
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	second, created, err := svc.Ensure(ctx, "u1", "b@example.com")
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if created {
		t.Error("2回目の呼び出しでcreated=true")
	}
	if second.PassCode != first.PassCode || second.Email != first.Email {
		t.Errorf("既存プロフィールが変更された: %+v -> %+v", first, second)
	}
}

func TestService_Ensure_StaffProfile(t *testing.T) {
	svc, _ := newTestService()
	p, _, err := svc.Ensure(context.Background(), "staff_bondi", "bondi@example.com")
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if !p.Staff || p.Tier != TierStaff {
		t.Errorf("スタッフプロフィールになっていない: %+v", p)
	}
	if p.PassCode != "" {
		t.Errorf("PassCode = %q, want empty", p.PassCode)
	}
}

// 生成されるコードがすべて衝突した場合はタイムスタンプ由来のコードになること
func TestService_Ensure_FallbackAfterCollisions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	svc.generate = func(int) (string, error) { return "AAAAAA", nil }

	if _, _, err := svc.Ensure(ctx, "u1", ""); err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	p, _, err := svc.Ensure(ctx, "u2", "")
	if err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	want := "FDLWW29HC0"
	if p.PassCode != want {
		t.Errorf("PassCode = %q, want %q", p.PassCode, want)
	}
}

func TestService_Ensure_EmptyOwner(t *testing.T) {
	svc, _ := newTestService()
	_, _, err := svc.Ensure(context.Background(), " ", "")
	if model.KindOf(err) != model.KindInvalidArgument {
		t.Errorf("KindOf = %q, want %q", model.KindOf(err), model.KindInvalidArgument)
	}
}
