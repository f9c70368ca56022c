// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。
// 呼び出し元はKindに応じてドメイン固有の応答に変換する。
type ErrorKind string

const (
	KindUnauthenticated    ErrorKind = "unauthenticated"
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindInvalidArgument    ErrorKind = "invalid_argument"
	KindNotFound           ErrorKind = "not_found"
	KindAlreadyUsed        ErrorKind = "already_used"
	KindAlreadyTaken       ErrorKind = "already_taken"
	KindResourceExhausted  ErrorKind = "resource_exhausted"
	KindFailedPrecondition ErrorKind = "failed_precondition"
	KindConflict           ErrorKind = "conflict"
	KindInternal           ErrorKind = "internal"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind // エラー分類
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, voucher, balance, username, limit, system
	Action   string    // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// KindOf はエラーの分類を返す。
// APIError以外のエラーはすべてKindInternalとして扱う。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeInvalidArgument     = "INVALID_ARGUMENT"
	ErrCodeRateLimitMinute     = "RATE_LIMIT_MINUTE"
	ErrCodeRateLimitDay        = "RATE_LIMIT_DAY"
	ErrCodeTooManyRequests     = "RATE_LIMIT_EXCEEDED"
	ErrCodeVoucherNotFound     = "VOUCHER_NOT_FOUND"
	ErrCodeVoucherAlreadyUsed  = "VOUCHER_ALREADY_USED"
	ErrCodeInvalidVoucherCode  = "INVALID_VOUCHER_CODE"
	ErrCodeInvalidUsername     = "INVALID_USERNAME"
	ErrCodeUsernameTaken       = "USERNAME_TAKEN"
	ErrCodeUsernameNotFound    = "USERNAME_NOT_FOUND"
	ErrCodeProfileMissing      = "PROFILE_MISSING"
	ErrCodeAllowanceExhausted  = "ALLOWANCE_EXHAUSTED"
	ErrCodeUnknownPack         = "UNKNOWN_PACK"
	ErrCodeTransactionConflict = "TRANSACTION_CONFLICT"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// RateScope はレート制限の対象ウィンドウ。
type RateScope string

const (
	RateScopeMinute RateScope = "minute"
	RateScopeDay    RateScope = "day"
)

// NewUnauthenticatedError は呼び出し元の識別情報がない場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewPermissionDeniedError は権限不足のエラーを生成する。
func NewPermissionDeniedError(required string) *APIError {
	return &APIError{
		Kind:     KindPermissionDenied,
		Code:     ErrCodePermissionDenied,
		Message:  fmt.Sprintf("この操作には%s権限が必要です。", required),
		Category: "auth",
		Action:   "権限を持つアカウントで実行してください。",
	}
}

// NewInvalidArgumentError は入力値が不正な場合のエラーを生成する。
func NewInvalidArgumentError(reason string) *APIError {
	return &APIError{
		Kind:     KindInvalidArgument,
		Code:     ErrCodeInvalidArgument,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewRateExceededError はレート制限超過のエラーを生成する。
func NewRateExceededError(scope RateScope) *APIError {
	if scope == RateScopeDay {
		return &APIError{
			Kind:     KindResourceExhausted,
			Code:     ErrCodeRateLimitDay,
			Message:  "1日あたりの発行上限に達しました。",
			Category: "limit",
			Action:   "明日以降に再度お試しください。",
		}
	}
	return &APIError{
		Kind:     KindResourceExhausted,
		Code:     ErrCodeRateLimitMinute,
		Message:  "1分あたりの発行上限に達しました。",
		Category: "limit",
		Action:   "1分ほど待ってから再度お試しください。",
	}
}

// NewTooManyRequestsError はAPI全般のリクエスト数制限を超えた場合のエラーを生成する。
func NewTooManyRequestsError() *APIError {
	return &APIError{
		Kind:     KindResourceExhausted,
		Code:     ErrCodeTooManyRequests,
		Message:  "リクエストが多すぎます。",
		Category: "limit",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// RateScopeOf はレート制限エラーの対象ウィンドウを返す。
// レート制限エラーでない場合は空文字とfalseを返す。
func RateScopeOf(err error) (RateScope, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	switch apiErr.Code {
	case ErrCodeRateLimitMinute:
		return RateScopeMinute, true
	case ErrCodeRateLimitDay:
		return RateScopeDay, true
	}
	return "", false
}

// NewInvalidVoucherCodeError はバウチャーコードの形式が不正な場合のエラーを生成する。
func NewInvalidVoucherCodeError() *APIError {
	return &APIError{
		Kind:     KindInvalidArgument,
		Code:     ErrCodeInvalidVoucherCode,
		Message:  "バウチャーコードの形式が不正です。",
		Category: "validation",
		Action:   "コードを確認して再入力してください。",
	}
}

// NewVoucherNotFoundError はバウチャー未検出エラーを生成する。
func NewVoucherNotFoundError(code string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeVoucherNotFound,
		Message:  fmt.Sprintf("バウチャーが見つかりません: %s", code),
		Category: "voucher",
		Action:   "コードを確認してください。",
	}
}

// NewVoucherAlreadyUsedError は使用済みバウチャーのエラーを生成する。
func NewVoucherAlreadyUsedError() *APIError {
	return &APIError{
		Kind:     KindAlreadyUsed,
		Code:     ErrCodeVoucherAlreadyUsed,
		Message:  "このバウチャーは既に使用されています。",
		Category: "voucher",
		Action:   "新しいバウチャーを発行してください。",
	}
}

// NewInvalidUsernameError はユーザー名の形式が不正な場合のエラーを生成する。
func NewInvalidUsernameError() *APIError {
	return &APIError{
		Kind:     KindInvalidArgument,
		Code:     ErrCodeInvalidUsername,
		Message:  "ユーザー名の形式が不正です。",
		Category: "validation",
		Action:   "3〜10文字の英小文字、数字、アンダースコア、スペースで入力してください。",
	}
}

// NewUsernameTakenError は他のユーザーが使用中のユーザー名のエラーを生成する。
func NewUsernameTakenError(name string) *APIError {
	return &APIError{
		Kind:     KindAlreadyTaken,
		Code:     ErrCodeUsernameTaken,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", name),
		Category: "username",
		Action:   "別のユーザー名を選んでください。",
	}
}

// NewUsernameNotFoundError はユーザー名の予約が存在しない場合のエラーを生成する。
func NewUsernameNotFoundError(name string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUsernameNotFound,
		Message:  fmt.Sprintf("ユーザー名の予約が見つかりません: %s", name),
		Category: "username",
		Action:   "ユーザー名を確認してください。",
	}
}

// NewProfileMissingError はメンバープロフィールが存在しない場合のエラーを生成する。
func NewProfileMissingError() *APIError {
	return &APIError{
		Kind:     KindFailedPrecondition,
		Code:     ErrCodeProfileMissing,
		Message:  "メンバープロフィールが存在しません。",
		Category: "username",
		Action:   "プロフィールを作成してから再度お試しください。",
	}
}

// NewAllowanceExhaustedError は週あたりの利用枠を使い切った場合のエラーを生成する。
func NewAllowanceExhaustedError() *APIError {
	return &APIError{
		Kind:     KindResourceExhausted,
		Code:     ErrCodeAllowanceExhausted,
		Message:  "今週の利用回数が残っていません。",
		Category: "limit",
		Action:   "来週になってから再度お試しください。",
	}
}

// NewUnknownPackError は存在しないパックを指定した場合のエラーを生成する。
func NewUnknownPackError(packID string) *APIError {
	return &APIError{
		Kind:     KindInvalidArgument,
		Code:     ErrCodeUnknownPack,
		Message:  fmt.Sprintf("不明なパックです: %s", packID),
		Category: "balance",
		Action:   "パックIDを確認してください。",
	}
}

// NewConflictError はトランザクション競合がリトライ上限を超えた場合のエラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeTransactionConflict,
		Message:  "同時に更新が行われたため処理を完了できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
