package storage

import (
	"context"
	"time"
)

// Document is one engine document keyed by its dedup identifier.
type Document struct {
	ID     string
	Fields map[string]interface{}
}

// Hit is one search result.
type Hit struct {
	ID     string
	Source map[string]interface{}
}

// SearchResult is the outcome of a bounded query.
type SearchResult struct {
	Hits         []Hit
	Total        int64
	Aggregations map[string]interface{}
}

// ScrollPage is one batch pulled from a server-side cursor. The cursor
// id must eventually be released with ClearScroll on every exit path.
type ScrollPage struct {
	ScrollID string
	Hits     []Hit
	Total    int64
}

// SearchEngine is the document-store contract this core depends on:
// boolean queries, cursors, one settings key, and field updates on
// matching documents. Nothing engine-specific beyond that.
type SearchEngine interface {
	// IndexExists reports whether the index has been created. Indexes
	// are created lazily by the first document write, never explicitly.
	IndexExists(ctx context.Context, index string) (bool, error)

	// GetIndexSetting reads one settings key from an index. ok is false
	// when the index exists but carries no such setting.
	GetIndexSetting(ctx context.Context, index, key string) (value string, ok bool, err error)

	// PutIndexSetting writes one settings key on an existing index.
	PutIndexSetting(ctx context.Context, index, key, value string) error

	// BulkUpsert writes documents under their ids, overwriting previous
	// versions. Re-ingesting the same logical event is idempotent.
	// Returns the number of documents accepted by the engine.
	BulkUpsert(ctx context.Context, index string, docs []Document) (int, error)

	// Search runs a bounded query body against an index.
	Search(ctx context.Context, index string, body map[string]interface{}) (*SearchResult, error)

	// OpenScroll starts a server-side cursor over the query body.
	OpenScroll(ctx context.Context, index string, body map[string]interface{}, keepAlive time.Duration) (*ScrollPage, error)

	// ContinueScroll pulls the next batch from an open cursor.
	ContinueScroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*ScrollPage, error)

	// ClearScroll releases a cursor. Safe to call with an already
	// expired id.
	ClearScroll(ctx context.Context, scrollID string) error

	// UpdateByQuery sets the given fields on every document matching the
	// query and returns the number of documents updated.
	UpdateByQuery(ctx context.Context, index string, query map[string]interface{}, set map[string]interface{}) (int64, error)
}

// CaseFile is the persisted processing state of one uploaded source
// file. Rows are created at upload time by the surrounding case
// management system; this core mutates them through the processing
// state machine and never deletes them.
type CaseFile struct {
	ID             string    `json:"id"`
	CaseID         string    `json:"case_id"`
	Filename       string    `json:"filename"`
	ContentHash    string    `json:"content_hash"`
	Status         string    `json:"status"`
	EventCount     int64     `json:"event_count"`
	ViolationCount int64     `json:"violation_count"`
	IndicatorCount int64     `json:"indicator_count"`
	Indexed        bool      `json:"indexed"`
	IndexName      string    `json:"index_name"`
	TaskID         string    `json:"task_id"`
	Hidden         bool      `json:"hidden"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CaseFileStore is the relational store for CaseFile rows.
type CaseFileStore interface {
	CreateFile(ctx context.Context, f *CaseFile) error
	GetFile(ctx context.Context, id string) (*CaseFile, error)
	FilesByCase(ctx context.Context, caseID string) ([]CaseFile, error)
	FilesByStatus(ctx context.Context, statuses ...string) ([]CaseFile, error)

	// Transition atomically moves a file from one of the expected
	// statuses to the new status and task reference. It reports false
	// without error when the row was not in an expected status, which is
	// how a worker loses a race against repair (or vice versa) safely.
	Transition(ctx context.Context, id string, from []string, to, taskID string) (bool, error)

	// UpdateFile writes the full mutable state of a row.
	UpdateFile(ctx context.Context, f *CaseFile) error

	// ApplyBatch writes a set of repaired rows in one transaction.
	// All-or-nothing: a failure mid-batch leaves every row untouched.
	ApplyBatch(ctx context.Context, files []CaseFile) error
}
