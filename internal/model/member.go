package model

import "time"

// Profile は外部コラボレーターが所有するメンバープロフィール。
// ユーザー名予約はUsernameフィールドのみを書き換える。
type Profile struct {
	OwnerID        string    `json:"uid"`
	Email          string    `json:"email"`
	PassCode       string    `json:"passCode"`
	Username       string    `json:"username"`
	Tier           string    `json:"tier"`
	FreeMembership bool      `json:"freeMembership"`
	CEO            bool      `json:"ceo"`
	Staff          bool      `json:"staff"`
	MemberSince    time.Time `json:"memberSince"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NameReservation はユーザー名とオーナーの1対1の対応を表す。
type NameReservation struct {
	Name      string            `json:"name"`
	OwnerID   string            `json:"uid"`
	Email     string            `json:"email"`
	PassCode  string            `json:"passCode"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// WeeklyAllowance は週単位の利用回数を表す。
// WeekTokenが現在の週と異なる場合、Spentは0として扱う。
type WeeklyAllowance struct {
	OwnerID   string    `json:"ownerId"`
	WeekToken string    `json:"week"`
	Spent     int       `json:"spins"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuditRecord は変更操作の追記専用ログ。
type AuditRecord struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actor_id"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}
