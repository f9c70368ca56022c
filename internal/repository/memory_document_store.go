package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// errVersionMismatch はコミット時の検証で読み取り後に更新が検出されたことを表す。
var errVersionMismatch = errors.New("document version changed since read")

type memoryDocument struct {
	data      []byte
	updatedAt time.Time
}

// MemoryDocumentStore はメモリ上のドキュメントストア。
// ドキュメントごとのバージョンをトランザクション内で記録し、
// コミット時にミューテックス下で検証する（first-committer-wins）。
// テストおよび単一プロセスでの動作確認に使用する。
type MemoryDocumentStore struct {
	mu          sync.RWMutex
	docs        map[Key]*memoryDocument
	versions    map[Key]uint64 // 削除後も単調増加する
	maxAttempts int
	now         func() time.Time
}

// NewMemoryDocumentStore はMemoryDocumentStoreを生成する。
func NewMemoryDocumentStore(maxAttempts int) *MemoryDocumentStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MemoryDocumentStore{
		docs:        make(map[Key]*memoryDocument),
		versions:    make(map[Key]uint64),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// SetNow は更新日時の記録に使う時計を差し替える。
func (s *MemoryDocumentStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// RunTransaction はfnを楽観的トランザクションで実行する。
// コミット時に読み取ったドキュメントが更新されていた場合は最大maxAttempts回まで再実行する。
func (s *MemoryDocumentStore) RunTransaction(ctx context.Context, fn TxFunc) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memoryTx{
			store:  s,
			reads:  make(map[Key]uint64),
			writes: make(map[Key]*memoryWrite),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := s.commit(tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errVersionMismatch) {
			return err
		}
		slog.Debug("retrying document transaction",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return &ConflictError{Attempts: s.maxAttempts, Err: errVersionMismatch}
}

func (s *MemoryDocumentStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, version := range tx.reads {
		if s.versions[key] != version {
			return fmt.Errorf("%w: %s", errVersionMismatch, key)
		}
	}

	now := s.now().UTC()
	for key, w := range tx.writes {
		s.versions[key]++
		if w.deleted {
			delete(s.docs, key)
			continue
		}
		s.docs[key] = &memoryDocument{data: w.data, updatedAt: now}
	}
	return nil
}

// snapshot はドキュメントの内容とバージョンを返す。
func (s *MemoryDocumentStore) snapshot(key Key) ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version := s.versions[key]
	doc, ok := s.docs[key]
	if !ok {
		return nil, version
	}
	return doc.data, version
}

// Get はトランザクション外でドキュメントを読み取る。
func (s *MemoryDocumentStore) Get(_ context.Context, key Key, dst any) (bool, error) {
	data, _ := s.snapshot(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode document %s: %w", key, err)
	}
	return true, nil
}

// List はコレクション内のドキュメントを更新日時の降順で返す。
func (s *MemoryDocumentStore) List(_ context.Context, collection string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	docs := make([]Document, 0)
	for key, doc := range s.docs {
		if key.Collection != collection {
			continue
		}
		docs = append(docs, Document{Key: key, Data: json.RawMessage(doc.data), UpdatedAt: doc.updatedAt})
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].Key.ID < docs[j].Key.ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

type memoryWrite struct {
	data    []byte
	deleted bool
}

// memoryTx はTxのメモリ実装。書き込みはコミットまでバッファされ、
// 同一トランザクション内の読み取りには反映される。
type memoryTx struct {
	store  *MemoryDocumentStore
	reads  map[Key]uint64
	writes map[Key]*memoryWrite
}

// read はバッファされた書き込みを優先してドキュメントを返す。
func (t *memoryTx) read(key Key) []byte {
	if w, ok := t.writes[key]; ok {
		if w.deleted {
			return nil
		}
		return w.data
	}
	data, version := t.store.snapshot(key)
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = version
	}
	return data
}

func (t *memoryTx) Get(_ context.Context, key Key, dst any) (bool, error) {
	data := t.read(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode document %s: %w", key, err)
	}
	return true, nil
}

func (t *memoryTx) Create(_ context.Context, key Key, doc any) error {
	if t.read(key) != nil {
		return ErrDocumentExists
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", key, err)
	}
	t.writes[key] = &memoryWrite{data: data}
	return nil
}

func (t *memoryTx) Set(_ context.Context, key Key, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", key, err)
	}
	t.writes[key] = &memoryWrite{data: data}
	return nil
}

func (t *memoryTx) Delete(_ context.Context, key Key) error {
	t.writes[key] = &memoryWrite{deleted: true}
	return nil
}

// compile-time interface check
var _ DocumentStore = (*MemoryDocumentStore)(nil)
