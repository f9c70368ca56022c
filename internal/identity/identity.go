// Package identity は認証済み呼び出し元の表現と権限の解決を提供する。
//
// 認証自体はゲートウェイが行い、本パッケージは転送されたクレームと
// メンバープロフィールから Capabilities を導出する。
package identity

import (
	"context"
	"strings"

	"github.com/hitoshi/perkledger/internal/model"
)

// Capability は操作に必要な権限。
type Capability string

const (
	CapabilityAdmin Capability = "admin"
	CapabilityCEO   Capability = "ceo"
	CapabilityStaff Capability = "staff"
)

// staffIDPrefix はスタッフアカウントのオーナーIDの接頭辞。
const staffIDPrefix = "staff_"

// Caller はゲートウェイから転送された呼び出し元の識別情報。
type Caller struct {
	ID    string
	Email string
	Roles []string
}

// HasRole は指定のロールクレームを持つかどうかを返す。
func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

// Capabilities は解決済みの権限集合。
type Capabilities map[Capability]bool

// Has は権限を持つかどうかを返す。
func (c Capabilities) Has(want Capability) bool {
	return c[want]
}

// HasAny はいずれかの権限を持つかどうかを返す。
func (c Capabilities) HasAny(wants ...Capability) bool {
	for _, w := range wants {
		if c[w] {
			return true
		}
	}
	return false
}

// ProfileReader はプロフィールの読み取りインターフェース。
// プロフィールが存在しない場合は (nil, nil) を返す。
type ProfileReader interface {
	Get(ctx context.Context, ownerID string) (*model.Profile, error)
}

// Resolver はクレームとプロフィールから権限を解決する。
type Resolver struct {
	ceoEmail    string
	ceoPassCode string
	profiles    ProfileReader
}

// NewResolver はResolverを生成する。
// ceoEmailとceoPassCodeが空の場合、その条件による判定は行わない。
func NewResolver(ceoEmail, ceoPassCode string, profiles ProfileReader) *Resolver {
	return &Resolver{
		ceoEmail:    strings.ToLower(strings.TrimSpace(ceoEmail)),
		ceoPassCode: strings.ToUpper(strings.TrimSpace(ceoPassCode)),
		profiles:    profiles,
	}
}

// Resolve は呼び出し元の権限を解決する。
// CEOは ceo クレーム、設定済みCEOメールアドレス、プロフィールのパスコード、
// プロフィールのceoフラグのいずれかで付与される。
func (r *Resolver) Resolve(ctx context.Context, caller Caller) (Capabilities, error) {
	caps := Capabilities{}

	if caller.HasRole(string(CapabilityAdmin)) {
		caps[CapabilityAdmin] = true
	}
	if caller.HasRole(string(CapabilityStaff)) || strings.HasPrefix(caller.ID, staffIDPrefix) {
		caps[CapabilityStaff] = true
	}
	if caller.HasRole(string(CapabilityCEO)) {
		caps[CapabilityCEO] = true
	}
	if r.ceoEmail != "" && strings.ToLower(strings.TrimSpace(caller.Email)) == r.ceoEmail {
		caps[CapabilityCEO] = true
	}

	if caps[CapabilityCEO] || r.profiles == nil || caller.ID == "" {
		return caps, nil
	}

	profile, err := r.profiles.Get(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return caps, nil
	}
	if profile.CEO {
		caps[CapabilityCEO] = true
	}
	if r.ceoPassCode != "" && strings.ToUpper(profile.PassCode) == r.ceoPassCode {
		caps[CapabilityCEO] = true
	}
	if profile.Staff {
		caps[CapabilityStaff] = true
	}
	return caps, nil
}

type callerKey struct{}

// WithCaller はcontextに呼び出し元を格納する。
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom はcontextから呼び出し元を取り出す。
func CallerFrom(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}
