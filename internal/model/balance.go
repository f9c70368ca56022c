package model

import "time"

// 代表的な残高種別。パーク名も種別として扱う。
const (
	BalanceKindPoints = "points"
	BalanceKindTokens = "tokens"
)

// BalanceEntry は1種別分の残高を表す。Valueは負にならない。
// CycleKeyが設定されている場合、その期間（例: "2024-05"）の間だけ有効。
type BalanceEntry struct {
	Value     int       `json:"value"`
	CycleKey  string    `json:"cycleKey,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BalanceSheet はメンバー1人分の全種別の残高をまとめたドキュメント。
type BalanceSheet struct {
	OwnerID string                  `json:"ownerId"`
	Entries map[string]BalanceEntry `json:"entries"`
}

// Balance は1種別分の残高の読み取り結果。
type Balance struct {
	OwnerID  string  `json:"owner_id"`
	Kind     string  `json:"kind"`
	Value    int     `json:"value"`
	CycleKey *string `json:"cycle_key,omitempty"`
}
