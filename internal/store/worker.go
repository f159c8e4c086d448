package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"github.com/taployalty/tapagent/internal/config"
	"github.com/taployalty/tapagent/internal/idempotency"

	"github.com/natefinch/atomic"
	"github.com/philippgille/chromem-go"
)

type Operation int

const (
	OpPutDocument Operation = iota
	OpGetDocument
	OpDeleteDocument
	OpListDocuments
	OpUpsertVector
	OpSearchVectors
	OpSaveIdempotency
)

type Request struct {
	Op       Operation
	Payload  interface{}
	Result   chan error
	Response chan interface{}
}

type PutPayload struct {
	Collection string
	ID         string
	Data       []byte
	// StampFields names top-level fields the worker overwrites with its own
	// clock before writing, so timestamps are always server assigned.
	StampFields []string
}

type GetPayload struct {
	Collection string
	ID         string
}

type DeletePayload struct {
	Collection string
	ID         string
}

type ListPayload struct {
	Collection string
	Limit      int // 0 = all
	Descending bool
}

type UpsertVectorPayload struct {
	Collection string
	ID         string
	Vector     []float32
	Metadata   map[string]string
	Content    string
}

type SearchVectorsPayload struct {
	Collection string
	Vector     []float32
	Limit      int
}

type VectorResult struct {
	ID       string
	Score    float32
	Metadata map[string]string
	Content  string
}

// Worker serializes all document writes through a single goroutine. The
// one-writer rule is what keeps denormalized collections consistent without
// per-document locking.
type Worker struct {
	basePath  string
	inbox     chan Request
	idemStore *idempotency.Store
	fileLock  *FileLock
	quit      chan struct{}
	wg        sync.WaitGroup
	vectorDB  *chromem.DB
	running   stdatomic.Bool
	now       func() time.Time
}

type RuntimeConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
	InboxSize    int
}

func NewWorker(dataPath string, runtimeCfg RuntimeConfig) (*Worker, error) {
	basePath, err := ResolveDataRootPath(dataPath)
	if err != nil {
		return nil, err
	}

	dirs := []string{
		filepath.Join(basePath, "merchants"),
		filepath.Join(basePath, CollectionSchedules),
		filepath.Join(basePath, CollectionAPIKeys),
		filepath.Join(basePath, "scheduler"),
		filepath.Join(basePath, "governance"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", d, err)
		}
	}

	if runtimeCfg.LockTimeout <= 0 {
		lockTimeout, err := config.DurationOrDefault("", config.DefaultStoreLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock timeout: %w", err)
		}
		runtimeCfg.LockTimeout = lockTimeout
	}
	if runtimeCfg.LockRetry <= 0 {
		lockRetry, err := config.DurationOrDefault("", config.DefaultStoreLockRetry)
		if err != nil {
			return nil, fmt.Errorf("parse default store lock retry: %w", err)
		}
		runtimeCfg.LockRetry = lockRetry
	}
	if runtimeCfg.LockMaxRetry <= 0 {
		runtimeCfg.LockMaxRetry = config.DefaultStoreLockMaxRetry
	}
	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}

	fileLock, err := NewFileLock(basePath, &FileLockConfig{
		LockTimeout:  runtimeCfg.LockTimeout,
		LockRetry:    runtimeCfg.LockRetry,
		LockMaxRetry: runtimeCfg.LockMaxRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	idemPath := filepath.Join(basePath, "governance", "processed_keys.json")
	idemStore, err := idempotency.NewStore(idemPath)
	if err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("failed to load idempotency store: %w", err)
	}

	vectorPath := filepath.Join(basePath, "vectors")
	if err := os.MkdirAll(vectorPath, 0755); err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("failed to create vector dir: %w", err)
	}
	// Embeddings are provided by callers, so no embedding func here
	vectorDB, err := chromem.NewPersistentDB(vectorPath, false)
	if err != nil {
		fileLock.Unlock()
		return nil, fmt.Errorf("failed to init vector db: %w", err)
	}

	return &Worker{
		basePath:  basePath,
		inbox:     make(chan Request, runtimeCfg.InboxSize),
		idemStore: idemStore,
		fileLock:  fileLock,
		quit:      make(chan struct{}),
		vectorDB:  vectorDB,
		now:       time.Now,
	}, nil
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Worker) loop() {
	slog.Info("StoreWorker started", "path", w.basePath)
	w.running.Store(true)
	defer func() {
		w.running.Store(false)
		w.wg.Done()
	}()

	// Initial Prune
	pruned := w.idemStore.Prune()
	if pruned > 0 {
		slog.Info("Pruned expired idempotency keys", "count", pruned)
		if err := w.idemStore.Save(); err != nil {
			slog.Error("Failed to save pruned keys", "error", err)
		}
	}

	for {
		select {
		case req := <-w.inbox:
			err := w.handle(req)
			if req.Result != nil {
				req.Result <- err
			}
		case <-w.quit:
			slog.Info("StoreWorker stopping")
			return
		}
	}
}

func (w *Worker) handle(req Request) error {
	switch req.Op {
	case OpPutDocument:
		p, ok := req.Payload.(PutPayload)
		if !ok {
			return fmt.Errorf("invalid payload for PutDocument")
		}
		stored, err := w.putDocument(p)
		if req.Response != nil {
			req.Response <- stored
		}
		return err
	case OpGetDocument:
		p, ok := req.Payload.(GetPayload)
		if !ok {
			return fmt.Errorf("invalid payload for GetDocument")
		}
		data, err := w.getDocument(p.Collection, p.ID)
		if req.Response != nil {
			req.Response <- data
		}
		return err
	case OpDeleteDocument:
		p, ok := req.Payload.(DeletePayload)
		if !ok {
			return fmt.Errorf("invalid payload for DeleteDocument")
		}
		return w.deleteDocument(p.Collection, p.ID)
	case OpListDocuments:
		p, ok := req.Payload.(ListPayload)
		if !ok {
			return fmt.Errorf("invalid payload for ListDocuments")
		}
		docs, err := w.listDocuments(p)
		if req.Response != nil {
			req.Response <- docs
		}
		return err
	case OpUpsertVector:
		p, ok := req.Payload.(UpsertVectorPayload)
		if !ok {
			return fmt.Errorf("invalid payload for UpsertVector")
		}
		return w.upsertVector(p)
	case OpSearchVectors:
		p, ok := req.Payload.(SearchVectorsPayload)
		if !ok {
			return fmt.Errorf("invalid payload for SearchVectors")
		}
		res, err := w.searchVectors(p)
		if req.Response != nil {
			req.Response <- res
		}
		return err
	case OpSaveIdempotency:
		return w.idemStore.Save()
	default:
		return fmt.Errorf("unknown operation: %d", req.Op)
	}
}

func (w *Worker) docPath(collection, id string) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	if err := ValidateDocID(id); err != nil {
		return "", err
	}
	return filepath.Join(w.basePath, filepath.FromSlash(collection), id+".json"), nil
}

func (w *Worker) putDocument(p PutPayload) ([]byte, error) {
	path, err := w.docPath(p.Collection, p.ID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create collection dir: %w", err)
	}

	data := p.Data
	if len(p.StampFields) > 0 {
		data, err = stampFields(data, p.StampFields, w.now())
		if err != nil {
			return nil, err
		}
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return data, nil
}

func stampFields(data []byte, fields []string, now time.Time) ([]byte, error) {
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("document is not a JSON object: %w", err)
	}
	stamp, err := json.Marshal(now.UTC())
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		doc[f] = stamp
	}
	return json.Marshal(doc)
}

func (w *Worker) getDocument(collection, id string) ([]byte, error) {
	path, err := w.docPath(collection, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (w *Worker) deleteDocument(collection, id string) error {
	path, err := w.docPath(collection, id)
	if err != nil {
		return err
	}
	// Absence is not an error, delete is idempotent
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w *Worker) listDocuments(p ListPayload) ([]Document, error) {
	if err := ValidateCollection(p.Collection); err != nil {
		return nil, err
	}
	dir := filepath.Join(w.basePath, filepath.FromSlash(p.Collection))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Document{}, nil
		}
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}

	// ULID-suffixed ids make lexicographic order chronological
	sort.Strings(ids)
	if p.Descending {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	if p.Limit > 0 && len(ids) > p.Limit {
		ids = ids[:p.Limit]
	}

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		data, err := os.ReadFile(filepath.Join(dir, id+".json"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	return docs, nil
}

func (w *Worker) upsertVector(p UpsertVectorPayload) error {
	col, err := w.vectorDB.GetOrCreateCollection(p.Collection, nil, nil)
	if err != nil {
		return err
	}
	// AddDocuments is upsert in chromem
	return col.AddDocuments(context.Background(), []chromem.Document{
		{
			ID:        p.ID,
			Metadata:  p.Metadata,
			Embedding: p.Vector,
			Content:   p.Content,
		},
	}, 1)
}

func (w *Worker) searchVectors(p SearchVectorsPayload) ([]VectorResult, error) {
	col := w.vectorDB.GetCollection(p.Collection, nil)
	if col == nil {
		return []VectorResult{}, nil
	}

	docs, err := col.QueryEmbedding(context.Background(), p.Vector, p.Limit, nil, nil)
	if err != nil {
		return nil, err
	}

	var results []VectorResult
	for _, doc := range docs {
		results = append(results, VectorResult{
			ID:       doc.ID,
			Score:    doc.Similarity,
			Metadata: doc.Metadata,
			Content:  doc.Content,
		})
	}
	return results, nil
}

// Public API for other components

// Put writes a document and returns the bytes actually stored, including
// any server-assigned timestamp fields.
func (w *Worker) Put(collection, id string, data []byte, stampFields ...string) ([]byte, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	w.inbox <- Request{
		Op:       OpPutDocument,
		Payload:  PutPayload{Collection: collection, ID: id, Data: data, StampFields: stampFields},
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	if val == nil {
		return nil, nil
	}
	return val.([]byte), nil
}

// Get returns a document's bytes, or nil when the document does not exist.
func (w *Worker) Get(collection, id string) ([]byte, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	w.inbox <- Request{
		Op:       OpGetDocument,
		Payload:  GetPayload{Collection: collection, ID: id},
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	if val == nil {
		return nil, nil
	}
	return val.([]byte), nil
}

// Delete removes a document. Missing documents are not an error.
func (w *Worker) Delete(collection, id string) error {
	res := make(chan error, 1)
	w.inbox <- Request{
		Op:      OpDeleteDocument,
		Payload: DeletePayload{Collection: collection, ID: id},
		Result:  res,
	}
	return <-res
}

// List returns the documents in a collection ordered by id.
func (w *Worker) List(collection string, limit int, descending bool) ([]Document, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	w.inbox <- Request{
		Op:       OpListDocuments,
		Payload:  ListPayload{Collection: collection, Limit: limit, Descending: descending},
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	if val == nil {
		return []Document{}, nil
	}
	return val.([]Document), nil
}

func (w *Worker) UpsertVector(collection, id string, vector []float32, metadata map[string]string, content string) error {
	res := make(chan error, 1)
	w.inbox <- Request{
		Op: OpUpsertVector,
		Payload: UpsertVectorPayload{
			Collection: collection,
			ID:         id,
			Vector:     vector,
			Metadata:   metadata,
			Content:    content,
		},
		Result: res,
	}
	return <-res
}

func (w *Worker) SearchVectors(collection string, vector []float32, limit int) ([]VectorResult, error) {
	res := make(chan error, 1)
	resp := make(chan interface{}, 1)
	w.inbox <- Request{
		Op: OpSearchVectors,
		Payload: SearchVectorsPayload{
			Collection: collection,
			Vector:     vector,
			Limit:      limit,
		},
		Result:   res,
		Response: resp,
	}
	if err := <-res; err != nil {
		return nil, err
	}
	val := <-resp
	return val.([]VectorResult), nil
}

func (w *Worker) SaveIdempotency() {
	w.inbox <- Request{
		Op:     OpSaveIdempotency,
		Result: nil,
	}
}

// SaveIdempotencySync blocks until the key file is written.
func (w *Worker) SaveIdempotencySync() error {
	res := make(chan error, 1)
	w.inbox <- Request{
		Op:     OpSaveIdempotency,
		Result: res,
	}
	return <-res
}

// CheckAndMarkKey reports whether key was already processed and marks it if
// not. Safe to call concurrently; persistence happens async in the worker.
func (w *Worker) CheckAndMarkKey(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		d, err := config.DurationOrDefault("", config.DefaultRegistryIdempotencyTTL)
		if err == nil {
			ttl = d
		}
	}
	exists := w.idemStore.CheckAndMark(key, ttl)
	if !exists {
		w.SaveIdempotency()
	}
	return exists
}

func (w *Worker) BasePath() string {
	return w.basePath
}

func (w *Worker) Stop() {
	slog.Info("StoreWorker Stop called", "lock_held", w.fileLock.IsLocked())

	close(w.quit)
	w.wg.Wait()

	if w.fileLock.IsLocked() {
		w.fileLock.Unlock()
	}
}

func (w *Worker) IsLockHeld() bool {
	return w.fileLock.IsLocked()
}

func (w *Worker) IsRunning() bool {
	return w.fileLock.IsLocked() && w.running.Load()
}
