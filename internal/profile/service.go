// Package profile はメンバープロフィールの読み取りと初期作成を提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/perkledger/internal/codegen"
	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/repository"
)

// TierStandard は新規メンバーのティア。
const TierStandard = "standard"

// TierStaff はスタッフアカウントのティア。
const TierStaff = "staff"

// passCodeOwner はパスコードの一意性を保証するための索引ドキュメント。
type passCodeOwner struct {
	OwnerID string `json:"uid"`
}

// Service はプロフィールを管理する。
type Service struct {
	store      repository.DocumentStore
	codeLength int
	now        func() time.Time
	generate   func(length int) (string, error)
}

// NewService はServiceを生成する。
func NewService(store repository.DocumentStore, codeLength int) *Service {
	return &Service{
		store:      store,
		codeLength: codeLength,
		now:        time.Now,
		generate:   codegen.Generate,
	}
}

// Get はプロフィールを返す。存在しない場合は (nil, nil) を返す。
func (s *Service) Get(ctx context.Context, ownerID string) (*model.Profile, error) {
	var p model.Profile
	found, err := s.store.Get(ctx, repository.Key{Collection: repository.CollectionMembers, ID: ownerID}, &p)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// Ensure はプロフィールが存在しなければ作成して返す。
// 一般メンバーには他と重複しないパスコードを割り当てる。
// オーナーIDが staff_ で始まる場合はパスコードを持たないスタッフプロフィールを作成する。
func (s *Service) Ensure(ctx context.Context, ownerID, email string) (*model.Profile, bool, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, false, model.NewInvalidArgumentError("オーナーIDが空です")
	}

	var (
		result  *model.Profile
		created bool
	)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		created = false
		memberKey := repository.Key{Collection: repository.CollectionMembers, ID: ownerID}
		existing, err := repository.GetTyped[model.Profile](ctx, tx, memberKey)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		now := s.now().UTC()
		p := &model.Profile{
			OwnerID:     ownerID,
			Email:       strings.ToLower(strings.TrimSpace(email)),
			Tier:        TierStandard,
			MemberSince: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if strings.HasPrefix(ownerID, "staff_") {
			p.Tier = TierStaff
			p.Staff = true
		} else {
			code, err := s.claimPassCode(ctx, tx, ownerID)
			if err != nil {
				return err
			}
			p.PassCode = code
		}

		if err := tx.Set(ctx, memberKey, p); err != nil {
			return err
		}
		result = p
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		slog.Info("profile created",
			slog.String("owner_id", ownerID),
			slog.String("tier", result.Tier),
		)
	}
	return result, created, nil
}

// claimPassCode は未使用のパスコードを索引に登録して返す。
// codegen.DefaultAttempts回衝突した場合はタイムスタンプ由来のコードを使用する。
func (s *Service) claimPassCode(ctx context.Context, tx repository.Tx, ownerID string) (string, error) {
	for i := 0; i < codegen.DefaultAttempts; i++ {
		code, err := s.generate(s.codeLength)
		if err != nil {
			return "", err
		}
		err = tx.Create(ctx, repository.Key{Collection: repository.CollectionPassCodes, ID: code}, passCodeOwner{OwnerID: ownerID})
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, repository.ErrDocumentExists) {
			return "", err
		}
	}

	code := codegen.Fallback(s.now())
	slog.Warn("pass code collisions exhausted, using fallback code",
		slog.String("owner_id", ownerID),
		slog.String("code", code),
	)
	if err := tx.Set(ctx, repository.Key{Collection: repository.CollectionPassCodes, ID: code}, passCodeOwner{OwnerID: ownerID}); err != nil {
		return "", err
	}
	return code, nil
}
