package model

import "time"

// Voucher は1回だけ使用できるバウチャーを表す。
// Usedはfalse→trueに1度だけ遷移し、UsedBy/UsedAtはUsedの場合のみ設定される。
type Voucher struct {
	Code      string     `json:"code"`
	Perk      string     `json:"perk"`
	PerkKey   string     `json:"perkKey"`
	IssuerID  string     `json:"issuerUid"`
	CreatedAt time.Time  `json:"createdAt"`
	Used      bool       `json:"used"`
	UsedBy    *string    `json:"usedBy,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// RateWindow は呼び出し元ごとの分・日単位の発行カウンタを表す。
type RateWindow struct {
	OwnerID           string    `json:"ownerId"`
	MinuteCount       int       `json:"perMin"`
	MinuteWindowStart time.Time `json:"minuteWindowStart"`
	DayCount          int       `json:"perDay"`
	DayWindowStart    time.Time `json:"dayWindowStart"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
