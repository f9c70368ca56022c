// Package reservation はユーザー名の予約を管理する。
package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/perkledger/internal/audit"
	"github.com/hitoshi/perkledger/internal/model"
	"github.com/hitoshi/perkledger/internal/repository"
)

var namePattern = regexp.MustCompile(`^[a-z0-9_ ]{3,10}$`)

// NormalizeName は前後の空白を除去して小文字化し、形式を検証する。
func NormalizeName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if !namePattern.MatchString(name) {
		return "", model.NewInvalidUsernameError()
	}
	return name, nil
}

// Registry はユーザー名とオーナーの対応を管理する。
type Registry struct {
	store repository.DocumentStore
	audit audit.Appender
	now   func() time.Time
}

// NewRegistry はRegistryを生成する。
func NewRegistry(store repository.DocumentStore, auditor audit.Appender) *Registry {
	return &Registry{store: store, audit: auditor, now: time.Now}
}

// Reserve はユーザー名を予約し、プロフィールのusernameを更新する。
// 同じオーナーによる再予約は成功として扱う。以前の名前は解放しない。
func (r *Registry) Reserve(ctx context.Context, rawName, ownerID string, metadata map[string]string) (*model.NameReservation, error) {
	if ownerID == "" {
		return nil, model.NewUnauthenticatedError()
	}
	name, err := NormalizeName(rawName)
	if err != nil {
		return nil, err
	}

	nameKey := reservationKey(name)
	memberKey := repository.Key{Collection: repository.CollectionMembers, ID: ownerID}

	var reserved *model.NameReservation
	err = r.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		existing, err := repository.GetTyped[model.NameReservation](ctx, tx, nameKey)
		if err != nil {
			return fmt.Errorf("failed to read reservation: %w", err)
		}
		profile, err := repository.GetTyped[model.Profile](ctx, tx, memberKey)
		if err != nil {
			return fmt.Errorf("failed to read profile: %w", err)
		}

		if existing != nil && existing.OwnerID != ownerID {
			return model.NewUsernameTakenError(name)
		}
		if profile == nil {
			return model.NewProfileMissingError()
		}

		now := r.now().UTC()
		res := &model.NameReservation{
			Name:      name,
			OwnerID:   ownerID,
			Email:     profile.Email,
			PassCode:  profile.PassCode,
			Metadata:  metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if existing != nil {
			res.CreatedAt = existing.CreatedAt
		}
		if err := tx.Set(ctx, nameKey, res); err != nil {
			return err
		}

		profile.Username = name
		profile.UpdatedAt = now
		if err := tx.Set(ctx, memberKey, profile); err != nil {
			return err
		}
		reserved = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.audit.Append(audit.ActionReserveUsername, ownerID, map[string]any{"name": name})
	slog.Info("username reserved",
		slog.String("name", name),
		slog.String("owner_id", ownerID),
	)
	return reserved, nil
}

// Release はオーナー自身の予約を削除する。
// プロフィールのusernameが同じ名前の場合は空にする。
func (r *Registry) Release(ctx context.Context, rawName, ownerID string) error {
	if ownerID == "" {
		return model.NewUnauthenticatedError()
	}
	name, err := NormalizeName(rawName)
	if err != nil {
		return err
	}

	nameKey := reservationKey(name)
	memberKey := repository.Key{Collection: repository.CollectionMembers, ID: ownerID}

	err = r.store.RunTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		existing, err := repository.GetTyped[model.NameReservation](ctx, tx, nameKey)
		if err != nil {
			return fmt.Errorf("failed to read reservation: %w", err)
		}
		if existing == nil {
			return model.NewUsernameNotFoundError(name)
		}
		if existing.OwnerID != ownerID {
			return model.NewPermissionDeniedError("予約の所有者")
		}
		if err := tx.Delete(ctx, nameKey); err != nil {
			return err
		}

		profile, err := repository.GetTyped[model.Profile](ctx, tx, memberKey)
		if err != nil {
			return fmt.Errorf("failed to read profile: %w", err)
		}
		if profile != nil && profile.Username == name {
			profile.Username = ""
			profile.UpdatedAt = r.now().UTC()
			return tx.Set(ctx, memberKey, profile)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.audit.Append(audit.ActionReleaseUsername, ownerID, map[string]any{"name": name})
	return nil
}

// Lookup は予約を返す。存在しない場合はNotFoundを返す。
func (r *Registry) Lookup(ctx context.Context, rawName string) (*model.NameReservation, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return nil, err
	}
	var res model.NameReservation
	found, err := r.store.Get(ctx, reservationKey(name), &res)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if !found {
		return nil, model.NewUsernameNotFoundError(name)
	}
	return &res, nil
}

func reservationKey(name string) repository.Key {
	return repository.Key{Collection: repository.CollectionUsernames, ID: name}
}
