// Package catalog はバウチャー種別のラベル、購入パック、ナイトホイールの
// 静的テーブルをTOMLから読み込む。
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultCatalog []byte

// TierStandard はパック解決時のフォールバック先ティア。
const TierStandard = "standard"

// PerkTokens はトークンを付与するパックのperk名。
const PerkTokens = "tokens"

// Pack は購入可能なバウチャーパック。
type Pack struct {
	ID         string `toml:"-" json:"id"`
	Tier       string `toml:"-" json:"tier"`
	Perk       string `toml:"perk" json:"perk"`
	Amount     int    `toml:"amount" json:"amount"`
	PriceCents int    `toml:"price_cents" json:"priceCents"`
	Label      string `toml:"label" json:"label"`
}

// NightWheel はナイトホイールの付与ポイントと週あたり利用枠の設定。
type NightWheel struct {
	SpinPoints                 int               `toml:"spin_points"`
	DefaultAllowance           int               `toml:"default_allowance"`
	TierAllowances             map[string]int    `toml:"tier_allowances"`
	UnlimitedForFreeMembership bool              `toml:"unlimited_for_free_membership"`
	UnlimitedForCEO            bool              `toml:"unlimited_for_ceo"`
	Content                    NightWheelContent `toml:"content"`
}

// NightWheelContent はスピン結果の候補リスト。
type NightWheelContent struct {
	Bars       []string `toml:"bars"`
	Specials   []string `toml:"specials"`
	Challenges []string `toml:"challenges"`
}

// Catalog は静的テーブル全体。
type Catalog struct {
	DefaultPerk string                     `toml:"default_perk"`
	Perks       map[string]string          `toml:"perks"`
	TokenPacks  map[string]Pack            `toml:"token_packs"`
	Packs       map[string]map[string]Pack `toml:"packs"`
	NightWheel  NightWheel                 `toml:"night_wheel"`
}

// Load はカタログを読み込む。pathが空の場合は組み込みのデフォルトを使用する。
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
		}
		data = b
	}
	return Parse(data)
}

// Default は組み込みのデフォルトカタログを返す。
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Parse はTOML形式のカタログを解析して検証する。
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if c.DefaultPerk == "" {
		return fmt.Errorf("catalog: default_perk is required")
	}
	if _, ok := c.Perks[c.DefaultPerk]; !ok {
		return fmt.Errorf("catalog: default_perk %q has no label", c.DefaultPerk)
	}
	if _, ok := c.Packs[TierStandard]; !ok {
		return fmt.Errorf("catalog: packs.%s is required", TierStandard)
	}
	for tier, packs := range c.Packs {
		for id, p := range packs {
			if p.Amount <= 0 {
				return fmt.Errorf("catalog: packs.%s.%s amount must be positive", tier, id)
			}
		}
	}
	for id, p := range c.TokenPacks {
		if p.Perk != PerkTokens || p.Amount <= 0 {
			return fmt.Errorf("catalog: token_packs.%s must credit a positive number of tokens", id)
		}
	}
	w := c.NightWheel
	if w.DefaultAllowance < 0 {
		return fmt.Errorf("catalog: night_wheel.default_allowance must not be negative")
	}
	if len(w.Content.Bars) == 0 || len(w.Content.Specials) == 0 || len(w.Content.Challenges) == 0 {
		return fmt.Errorf("catalog: night_wheel.content lists must not be empty")
	}
	return nil
}

// PerkLabel はperkの表示名を返す。未登録のperkは"Voucher"。
func (c *Catalog) PerkLabel(perk string) string {
	if label, ok := c.Perks[perk]; ok {
		return label
	}
	return "Voucher"
}

// ResolvePack はティアとパックIDからパックを解決する。
// ティアにないパックはstandardから探し、トークンパックは全ティア共通。
func (c *Catalog) ResolvePack(tier, packID string) (Pack, bool) {
	t := strings.ToLower(strings.TrimSpace(tier))
	if t == "" {
		t = TierStandard
	}
	key := strings.ToLower(strings.TrimSpace(packID))

	var (
		p  Pack
		ok bool
	)
	if packs, exists := c.Packs[t]; exists {
		p, ok = packs[key]
	}
	if !ok {
		p, ok = c.Packs[TierStandard][key]
	}
	if !ok {
		p, ok = c.TokenPacks[key]
	}
	if !ok {
		return Pack{}, false
	}
	p.ID = key
	p.Tier = t
	return p, true
}

// SpinAllowance はプロフィールの属性から週あたりのスピン回数を返す。
// 無制限の場合はunlimited=trueを返す。
func (c *Catalog) SpinAllowance(tier string, freeMembership, ceo bool) (limit int, unlimited bool) {
	w := c.NightWheel
	if (freeMembership && w.UnlimitedForFreeMembership) || (ceo && w.UnlimitedForCEO) {
		return 0, true
	}
	if n, ok := w.TierAllowances[strings.ToLower(tier)]; ok {
		return n, false
	}
	return w.DefaultAllowance, false
}
