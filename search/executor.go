package search

import (
	"context"
	"fmt"
	"time"

	"argus/metrics"
	"argus/storage"

	"go.uber.org/zap"
)

const (
	defaultPageSize = 25
	maxPageSize     = 1000
)

// Executor runs built queries against the engine, bounded for the UI
// and unbounded (scroll) for export.
type Executor struct {
	engine          storage.SearchEngine
	scrollKeepAlive time.Duration
	logger          *zap.SugaredLogger
}

// NewExecutor creates an executor. keepAlive bounds how long an export
// cursor stays resident between batches.
func NewExecutor(engine storage.SearchEngine, keepAlive time.Duration, logger *zap.SugaredLogger) *Executor {
	if keepAlive <= 0 {
		keepAlive = 2 * time.Minute
	}
	return &Executor{engine: engine, scrollKeepAlive: keepAlive, logger: logger}
}

// Search executes a bounded, paginated query. page is 1-based. The
// request asks the engine for an exact total (not the approximate cap)
// so pagination UIs can report true counts.
func (e *Executor) Search(ctx context.Context, index string, query map[string]interface{}, page, pageSize int, sortField, sortOrder string) (*storage.SearchResult, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	body := map[string]interface{}{
		"query":            query,
		"from":             (page - 1) * pageSize,
		"size":             pageSize,
		"track_total_hits": true,
		"sort":             sortBody(sortField, sortOrder),
	}

	result, err := e.engine.Search(ctx, index, body)
	if err != nil {
		return nil, fmt.Errorf("bounded search on %s: %w", index, err)
	}
	return result, nil
}

// ExportResult is the outcome of an unbounded scroll export.
type ExportResult struct {
	Hits    []storage.Hit
	Total   int64
	Batches int
	// Truncated is set when a maxResults cap cut the export short. A
	// partial set is never returned silently.
	Truncated bool
}

// ScrollExport retrieves every document matching the query through a
// server-side cursor, bypassing the engine's bounded result window.
// maxResults <= 0 means unbounded. The cursor is released on every exit
// path, including cancellation and mid-scroll errors.
func (e *Executor) ScrollExport(ctx context.Context, index string, query map[string]interface{}, batchSize int, sortField, sortOrder string, maxResults int) (*ExportResult, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	body := map[string]interface{}{
		"query":            query,
		"size":             batchSize,
		"track_total_hits": true,
		"sort":             sortBody(sortField, sortOrder),
	}

	page, err := e.engine.OpenScroll(ctx, index, body, e.scrollKeepAlive)
	if err != nil {
		return nil, fmt.Errorf("open scroll on %s: %w", index, err)
	}

	scrollID := page.ScrollID
	defer func() {
		if scrollID == "" {
			return
		}
		// Release with a fresh context: the caller's may already be
		// cancelled, and an unreleased cursor stays resident until it
		// times out on the engine.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.engine.ClearScroll(cleanupCtx, scrollID); err != nil {
			e.logger.Warnw("Failed to clear scroll cursor", "index", index, "error", err)
		}
	}()

	result := &ExportResult{Total: page.Total}
	for {
		if len(page.Hits) == 0 {
			break
		}
		result.Batches++

		remaining := -1
		if maxResults > 0 {
			remaining = maxResults - len(result.Hits)
		}
		hits := page.Hits
		if remaining >= 0 && len(hits) > remaining {
			hits = hits[:remaining]
		}
		result.Hits = append(result.Hits, hits...)
		metrics.ScrollBatches.Inc()

		e.logger.Debugw("Scroll export batch",
			"index", index,
			"batch", result.Batches,
			"batch_size", len(hits),
			"running_total", len(result.Hits))

		if maxResults > 0 && len(result.Hits) >= maxResults {
			break
		}

		page, err = e.engine.ContinueScroll(ctx, scrollID, e.scrollKeepAlive)
		if err != nil {
			return nil, fmt.Errorf("continue scroll on %s after %d batches: %w", index, result.Batches, err)
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}

	result.Truncated = maxResults > 0 && result.Total > int64(len(result.Hits))
	if result.Truncated {
		metrics.ExportTruncations.Inc()
	}

	e.logger.Infow("Scroll export finished",
		"index", index,
		"results", len(result.Hits),
		"batches", result.Batches,
		"truncated", result.Truncated)
	return result, nil
}
