package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATEのうち、リトライ対象となるもの。
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// PostgresDocumentStore はPostgreSQLを使用したドキュメントストア。
// トランザクションはREPEATABLE READで実行し、同一行への並行更新は
// 後からコミットしようとした側がserialization_failureとなる（first-committer-wins）。
type PostgresDocumentStore struct {
	db          *sql.DB
	maxAttempts int
}

// NewPostgresDocumentStore はPostgresDocumentStoreを生成する。
// maxAttemptsが0以下の場合はDefaultMaxAttemptsを使用する。
func NewPostgresDocumentStore(db *sql.DB, maxAttempts int) *PostgresDocumentStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &PostgresDocumentStore{db: db, maxAttempts: maxAttempts}
}

// RunTransaction はfnをREPEATABLE READトランザクションで実行する。
// serialization_failureまたはdeadlockの場合は最大maxAttempts回まで再実行する。
func (s *PostgresDocumentStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryablePQError(err) {
			return err
		}
		lastErr = err
		slog.Debug("retrying document transaction",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return &ConflictError{Attempts: s.maxAttempts, Err: lastErr}
}

func (s *PostgresDocumentStore) runOnce(ctx context.Context, fn TxFunc) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &postgresTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get はトランザクション外でドキュメントを読み取る。
func (s *PostgresDocumentStore) Get(ctx context.Context, key Key, dst any) (bool, error) {
	return getDocument(ctx, s.db, key, dst)
}

// List はコレクション内のドキュメントを更新日時の降順で返す。
func (s *PostgresDocumentStore) List(ctx context.Context, collection string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, updated_at FROM documents
		 WHERE collection = $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		collection, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc := Document{Key: Key{Collection: collection}}
		var data []byte
		if err := rows.Scan(&doc.Key.ID, &data, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Data = json.RawMessage(data)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// queryer は*sql.DBと*sql.Txの共通部分。
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q queryer, key Key, dst any) (bool, error) {
	var data []byte
	err := q.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		key.Collection, key.ID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get document %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode document %s: %w", key, err)
	}
	return true, nil
}

// postgresTx はTxのPostgreSQL実装。
type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) Get(ctx context.Context, key Key, dst any) (bool, error) {
	return getDocument(ctx, t.tx, key, dst)
}

// Create はON CONFLICT DO NOTHINGで挿入し、挿入されなかった場合はErrDocumentExistsを返す。
// 並行トランザクションが同じキーをコミット済みの場合はserialization_failureとなり再実行される。
func (t *postgresTx) Create(ctx context.Context, key Key, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", key, err)
	}
	now := time.Now().UTC()
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		 VALUES ($1, $2, $3, 1, $4, $4)
		 ON CONFLICT (collection, id) DO NOTHING`,
		key.Collection, key.ID, data, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create document %s: %w", key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrDocumentExists
	}
	return nil
}

func (t *postgresTx) Set(ctx context.Context, key Key, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", key, err)
	}
	now := time.Now().UTC()
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		 VALUES ($1, $2, $3, 1, $4, $4)
		 ON CONFLICT (collection, id) DO UPDATE SET
		     data = EXCLUDED.data,
		     version = documents.version + 1,
		     updated_at = EXCLUDED.updated_at`,
		key.Collection, key.ID, data, now,
	)
	if err != nil {
		return fmt.Errorf("failed to set document %s: %w", key, err)
	}
	return nil
}

func (t *postgresTx) Delete(ctx context.Context, key Key) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		key.Collection, key.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", key, err)
	}
	return nil
}

// isRetryablePQError は競合によるエラーかどうかを判定する。
func isRetryablePQError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

// compile-time interface check
var _ DocumentStore = (*PostgresDocumentStore)(nil)
