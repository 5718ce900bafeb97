// Package ingest turns uploaded source files into searchable, deduplicated
// documents: compatibility gating, normalization, dedup-keyed bulk writes
// and the per-file processing state machine.
package ingest

import (
	"context"
	"fmt"

	"argus/core"
	"argus/metrics"
	"argus/storage"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Verdict is the outcome of a compatibility check against one index.
type Verdict struct {
	Compatible bool
	// StoredVersion is the schema version found on the index. Empty for
	// indexes that do not exist yet or predate version stamping.
	StoredVersion string
	// Reason explains a negative verdict in operator terms.
	Reason string
}

const gateCacheSize = 256

// Gate decides whether an existing index may receive documents written
// by the current code. The decision fails closed: an index whose schema
// version cannot be positively confirmed as current is refused, because
// writing mixed field layouts corrupts search results silently while a
// refused write is loud and recoverable.
type Gate struct {
	engine storage.SearchEngine
	cache  *lru.Cache[string, Verdict]
	logger *zap.SugaredLogger
}

// NewGate creates a gate with an LRU verdict cache. Verdicts only change
// when an index is stamped or rebuilt, so caching them keeps the gate off
// the settings API on the hot ingestion path.
func NewGate(engine storage.SearchEngine, logger *zap.SugaredLogger) (*Gate, error) {
	cache, err := lru.New[string, Verdict](gateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create gate cache: %w", err)
	}
	return &Gate{engine: engine, cache: cache, logger: logger}, nil
}

// Check returns the compatibility verdict for an index. A missing index
// is compatible: it will be created by the first write and stamped with
// the current version. Engine failures return an error and no verdict;
// the caller must not write.
func (g *Gate) Check(ctx context.Context, index string) (Verdict, error) {
	if verdict, ok := g.cache.Get(index); ok {
		return verdict, nil
	}

	exists, err := g.engine.IndexExists(ctx, index)
	if err != nil {
		return Verdict{}, fmt.Errorf("compatibility check on %s: %w", index, err)
	}
	if !exists {
		verdict := Verdict{Compatible: true}
		g.cache.Add(index, verdict)
		return verdict, nil
	}

	stored, ok, err := g.engine.GetIndexSetting(ctx, index, core.IndexVersionSettingKey)
	if err != nil {
		return Verdict{}, fmt.Errorf("compatibility check on %s: %w", index, err)
	}

	verdict := Verdict{StoredVersion: stored}
	switch {
	case !ok:
		verdict.Reason = fmt.Sprintf(
			"index %s predates schema versioning and its field layout cannot be confirmed; re-index the case from its source files before ingesting into it",
			index)
	case stored != core.IndexSchemaVersion:
		verdict.Reason = fmt.Sprintf(
			"index %s was written under schema version %s but this build writes version %s; re-index the case from its source files before ingesting into it",
			index, stored, core.IndexSchemaVersion)
	default:
		verdict.Compatible = true
	}

	if !verdict.Compatible {
		metrics.IncompatibleIndexes.Inc()
		g.logger.Warnw("Refusing to write into incompatible index",
			"index", index,
			"stored_version", stored,
			"current_version", core.IndexSchemaVersion)
	}
	g.cache.Add(index, verdict)
	return verdict, nil
}

// Stamp writes the current schema version onto an index. Called after
// the first successful document write has created the index; stamping a
// missing index fails. The cached verdict is refreshed so later checks
// see the new stamp immediately.
func (g *Gate) Stamp(ctx context.Context, index string) error {
	exists, err := g.engine.IndexExists(ctx, index)
	if err != nil {
		return fmt.Errorf("stamp %s: %w", index, err)
	}
	if !exists {
		return fmt.Errorf("stamp %s: %w", index, storage.ErrIndexNotFound)
	}
	if err := g.engine.PutIndexSetting(ctx, index, core.IndexVersionSettingKey, core.IndexSchemaVersion); err != nil {
		return fmt.Errorf("stamp %s: %w", index, err)
	}
	g.cache.Add(index, Verdict{Compatible: true, StoredVersion: core.IndexSchemaVersion})
	return nil
}

// Invalidate drops the cached verdict for an index. Used after an index
// is deleted or rebuilt outside the gate's view.
func (g *Gate) Invalidate(index string) {
	g.cache.Remove(index)
}
