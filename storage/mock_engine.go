package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockEngine is an in-memory SearchEngine used by tests across
// packages. It stores documents per index in insertion order, keeps
// per-index settings, and tracks resident scroll cursors so cleanup
// guarantees are checkable. Query bodies are recorded, not evaluated.
type MockEngine struct {
	mu       sync.Mutex
	indexes  map[string]*mockIndex
	scrolls  map[string]*mockScroll
	scrollID int

	// Failure injection. When set, the corresponding operation fails.
	FailIndexExists error
	FailGetSetting  error
	FailPutSetting  error
	FailBulk        error
	FailSearch      error
	FailClearScroll error

	// FailScrollAfter makes ContinueScroll fail once this many batches
	// (including the opening batch) have been served. Zero disables.
	FailScrollAfter int

	// LastSearchBody is the most recent body passed to Search or
	// OpenScroll.
	LastSearchBody map[string]interface{}

	servedBatches int
}

type mockIndex struct {
	docs     map[string]Document
	order    []string
	settings map[string]string
}

type mockScroll struct {
	index  string
	offset int
	size   int
}

// NewMockEngine returns an empty in-memory engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		indexes: make(map[string]*mockIndex),
		scrolls: make(map[string]*mockScroll),
	}
}

func (m *MockEngine) index(name string) *mockIndex {
	idx, ok := m.indexes[name]
	if !ok {
		idx = &mockIndex{docs: make(map[string]Document), settings: make(map[string]string)}
		m.indexes[name] = idx
	}
	return idx
}

// IndexExists implements SearchEngine.
func (m *MockEngine) IndexExists(_ context.Context, index string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIndexExists != nil {
		return false, m.FailIndexExists
	}
	_, ok := m.indexes[index]
	return ok, nil
}

// GetIndexSetting implements SearchEngine.
func (m *MockEngine) GetIndexSetting(_ context.Context, index, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGetSetting != nil {
		return "", false, m.FailGetSetting
	}
	idx, ok := m.indexes[index]
	if !ok {
		return "", false, fmt.Errorf("get index settings: %w", ErrIndexNotFound)
	}
	value, ok := idx.settings[key]
	return value, ok, nil
}

// PutIndexSetting implements SearchEngine.
func (m *MockEngine) PutIndexSetting(_ context.Context, index, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPutSetting != nil {
		return m.FailPutSetting
	}
	idx, ok := m.indexes[index]
	if !ok {
		return fmt.Errorf("put index settings: %w", ErrIndexNotFound)
	}
	idx.settings[key] = value
	return nil
}

// BulkUpsert implements SearchEngine. The index is created lazily on
// the first write, as on the real engine.
func (m *MockEngine) BulkUpsert(_ context.Context, index string, docs []Document) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailBulk != nil {
		return 0, m.FailBulk
	}
	idx := m.index(index)
	for _, doc := range docs {
		if _, exists := idx.docs[doc.ID]; !exists {
			idx.order = append(idx.order, doc.ID)
		}
		idx.docs[doc.ID] = doc
	}
	return len(docs), nil
}

// Search implements SearchEngine, honoring from/size in the body and
// returning documents in insertion order.
func (m *MockEngine) Search(_ context.Context, index string, body map[string]interface{}) (*SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSearch != nil {
		return nil, m.FailSearch
	}
	m.LastSearchBody = body

	idx, ok := m.indexes[index]
	if !ok {
		return nil, fmt.Errorf("engine reported: %w", ErrIndexNotFound)
	}

	from := intFromBody(body, "from", 0)
	size := intFromBody(body, "size", 10)
	hits := m.slice(idx, from, size)
	return &SearchResult{Hits: hits, Total: int64(len(idx.order))}, nil
}

// OpenScroll implements SearchEngine.
func (m *MockEngine) OpenScroll(_ context.Context, index string, body map[string]interface{}, _ time.Duration) (*ScrollPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSearch != nil {
		return nil, m.FailSearch
	}
	m.LastSearchBody = body

	idx, ok := m.indexes[index]
	if !ok {
		return nil, fmt.Errorf("engine reported: %w", ErrIndexNotFound)
	}

	size := intFromBody(body, "size", 10)
	m.scrollID++
	id := fmt.Sprintf("scroll-%d", m.scrollID)
	m.scrolls[id] = &mockScroll{index: index, offset: size, size: size}
	m.servedBatches = 1

	return &ScrollPage{
		ScrollID: id,
		Hits:     m.slice(idx, 0, size),
		Total:    int64(len(idx.order)),
	}, nil
}

// ContinueScroll implements SearchEngine.
func (m *MockEngine) ContinueScroll(_ context.Context, scrollID string, _ time.Duration) (*ScrollPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.scrolls[scrollID]
	if !ok {
		return nil, fmt.Errorf("continue scroll: %w", ErrScrollExpired)
	}
	if m.FailScrollAfter > 0 && m.servedBatches >= m.FailScrollAfter {
		return nil, fmt.Errorf("continue scroll: %w", ErrEngineTimeout)
	}
	m.servedBatches++

	idx := m.index(sc.index)
	page := &ScrollPage{
		ScrollID: scrollID,
		Hits:     m.slice(idx, sc.offset, sc.size),
		Total:    int64(len(idx.order)),
	}
	sc.offset += sc.size
	return page, nil
}

// ClearScroll implements SearchEngine.
func (m *MockEngine) ClearScroll(_ context.Context, scrollID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailClearScroll != nil {
		return m.FailClearScroll
	}
	delete(m.scrolls, scrollID)
	return nil
}

// UpdateByQuery implements SearchEngine by applying the fields to every
// document in the index (the mock does not evaluate queries).
func (m *MockEngine) UpdateByQuery(_ context.Context, index string, _ map[string]interface{}, set map[string]interface{}) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indexes[index]
	if !ok {
		return 0, fmt.Errorf("engine reported: %w", ErrIndexNotFound)
	}
	for id, doc := range idx.docs {
		for k, v := range set {
			doc.Fields[k] = v
		}
		idx.docs[id] = doc
	}
	return int64(len(idx.docs)), nil
}

// ActiveScrolls returns the number of resident server-side cursors.
func (m *MockEngine) ActiveScrolls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scrolls)
}

// DocCount returns the number of documents in an index.
func (m *MockEngine) DocCount(index string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[index]
	if !ok {
		return 0
	}
	return len(idx.order)
}

// Doc returns a stored document by id.
func (m *MockEngine) Doc(index, id string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[index]
	if !ok {
		return Document{}, false
	}
	doc, ok := idx.docs[id]
	return doc, ok
}

// DropIndex removes an index outright, simulating post-crash data loss.
func (m *MockEngine) DropIndex(index string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, index)
}

func (m *MockEngine) slice(idx *mockIndex, from, size int) []Hit {
	if from >= len(idx.order) {
		return nil
	}
	end := from + size
	if end > len(idx.order) {
		end = len(idx.order)
	}
	hits := make([]Hit, 0, end-from)
	for _, id := range idx.order[from:end] {
		hits = append(hits, Hit{ID: id, Source: idx.docs[id].Fields})
	}
	return hits
}

func intFromBody(body map[string]interface{}, key string, fallback int) int {
	v, ok := body[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}
