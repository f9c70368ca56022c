// Package repository はデータ永続化のインターフェースを定義する。
//
// 状態を持つエンティティはすべて (collection, id) で識別されるJSONドキュメントとして
// DocumentStoreに格納する。DocumentStoreはスナップショット読み取りと
// first-committer-winsの競合検出を持つトランザクションを提供する。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/perkledger/internal/model"
)

// コレクション名。各コレクションは1つのコンポーネントが排他的に所有する。
const (
	CollectionVouchers    = "ceo_vouchers"
	CollectionRateLimits  = "rate_limits"
	CollectionBalances    = "balances"
	CollectionUsernames   = "usernames"
	CollectionMembers     = "members"
	CollectionPassCodes   = "pass_codes"
	CollectionWeeklySpins = "night_wheel"
)

// DefaultMaxAttempts はトランザクション競合時の最大試行回数のデフォルト値。
const DefaultMaxAttempts = 5

var (
	// ErrDocumentExists はCreateで既にドキュメントが存在する場合に返される。
	ErrDocumentExists = errors.New("document already exists")
	// ErrTxConflict はトランザクション競合が最大試行回数を超えた場合に返される。
	ErrTxConflict = errors.New("transaction conflict")
)

// ConflictError はトランザクション競合がリトライ上限に達したことを表す。
// errors.Is(err, ErrTxConflict) と model.KindOf(err) == model.KindConflict の両方が成立する。
type ConflictError struct {
	Attempts int
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transaction conflict after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("transaction conflict after %d attempts", e.Attempts)
}

// Unwrap はErrTxConflictとAPIErrorの両方を返す。
func (e *ConflictError) Unwrap() []error {
	return []error{ErrTxConflict, model.NewConflictError()}
}

// Key はドキュメントの識別子。
type Key struct {
	Collection string
	ID         string
}

// String はログ出力用の表現を返す。
func (k Key) String() string {
	return k.Collection + "/" + k.ID
}

// Document は列挙用のドキュメント表現。
type Document struct {
	Key       Key
	Data      json.RawMessage
	UpdatedAt time.Time
}

// Decode はドキュメントの内容をdstにデコードする。
func (d Document) Decode(dst any) error {
	if err := json.Unmarshal(d.Data, dst); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.Key, err)
	}
	return nil
}

// Tx はトランザクション内の読み書き操作。
// 読み取りはトランザクション開始時点のスナップショットに対して行われ、
// 書き込みはコミット時にまとめて反映される。
type Tx interface {
	// Get はドキュメントを読み取りdstにデコードする。存在しない場合はfalseを返す。
	Get(ctx context.Context, key Key, dst any) (bool, error)

	// Create はドキュメントが存在しない場合のみ作成する。
	// 既に存在する場合はErrDocumentExistsを返す。
	Create(ctx context.Context, key Key, doc any) error

	// Set はドキュメントを作成または上書きする。
	Set(ctx context.Context, key Key, doc any) error

	// Delete はドキュメントを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key Key) error
}

// TxFunc はトランザクション内で実行される処理。
// 競合時に再実行されることがあるため、トランザクション外の副作用を持ってはならない。
type TxFunc func(ctx context.Context, tx Tx) error

// DocumentStore はキー単位のトランザクションを提供するドキュメントストア。
type DocumentStore interface {
	// RunTransaction はfnを1つのトランザクションで実行する。
	// fnがエラーを返した場合はロールバックしてそのエラーをそのまま返す。
	// 競合が続いた場合は*ConflictErrorを返す。
	RunTransaction(ctx context.Context, fn TxFunc) error

	// Get はトランザクション外でドキュメントを読み取る。
	Get(ctx context.Context, key Key, dst any) (bool, error)

	// List はコレクション内のドキュメントを更新日時の降順で返す。
	// スケジューラやレポート用の読み取り専用の列挙に使用する。
	List(ctx context.Context, collection string, limit int) ([]Document, error)
}

// AuditRepository は監査ログの永続化インターフェース。
type AuditRepository interface {
	// Insert は監査ログを1件追記する。
	Insert(ctx context.Context, record *model.AuditRecord) error

	// List は監査ログを新しい順に返す。
	List(ctx context.Context, limit int) ([]*model.AuditRecord, error)
}

// GetTyped はトランザクション内でドキュメントを型付きで読み取る。
// 存在しない場合はnilを返す。
func GetTyped[T any](ctx context.Context, tx Tx, key Key) (*T, error) {
	var v T
	found, err := tx.Get(ctx, key, &v)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &v, nil
}
