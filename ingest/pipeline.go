package ingest

import (
	"context"
	"fmt"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/storage"

	"go.uber.org/zap"
)

const defaultBulkSize = 500

// DetectionMatcher evaluates detection rules over a freshly indexed file
// and returns the number of rule violations it flagged.
type DetectionMatcher interface {
	MatchDetections(ctx context.Context, index string, file *storage.CaseFile) (int64, error)
}

// IndicatorMatcher hunts threat indicators over a freshly indexed file
// and returns the number of indicator hits it flagged.
type IndicatorMatcher interface {
	HuntIndicators(ctx context.Context, index string, file *storage.CaseFile) (int64, error)
}

// NopDetectionMatcher skips the detection stage.
type NopDetectionMatcher struct{}

func (NopDetectionMatcher) MatchDetections(context.Context, string, *storage.CaseFile) (int64, error) {
	return 0, nil
}

// NopIndicatorMatcher skips the indicator stage.
type NopIndicatorMatcher struct{}

func (NopIndicatorMatcher) HuntIndicators(context.Context, string, *storage.CaseFile) (int64, error) {
	return 0, nil
}

// Pipeline processes one uploaded file end to end: claim, gate check,
// normalize, dedup, bulk index, stamp, match, complete. All persistent
// state lives in the file row and the index; the pipeline itself is
// stateless and safe to run from any number of workers.
type Pipeline struct {
	engine     storage.SearchEngine
	store      storage.CaseFileStore
	gate       *Gate
	detections DetectionMatcher
	indicators IndicatorMatcher
	bulkSize   int
	logger     *zap.SugaredLogger

	now func() time.Time
}

// NewPipeline wires a pipeline. Nil matchers default to no-ops so the
// ingestion path works before any rule content is loaded.
func NewPipeline(engine storage.SearchEngine, store storage.CaseFileStore, gate *Gate, detections DetectionMatcher, indicators IndicatorMatcher, bulkSize int, logger *zap.SugaredLogger) *Pipeline {
	if detections == nil {
		detections = NopDetectionMatcher{}
	}
	if indicators == nil {
		indicators = NopIndicatorMatcher{}
	}
	if bulkSize <= 0 {
		bulkSize = defaultBulkSize
	}
	return &Pipeline{
		engine:     engine,
		store:      store,
		gate:       gate,
		detections: detections,
		indicators: indicators,
		bulkSize:   bulkSize,
		logger:     logger,
		now:        time.Now,
	}
}

// ProcessFile runs the full state machine for one file. records are the
// parsed events of the file. The initial claim is a guarded transition,
// so two workers handed the same task cannot both process it; the loser
// returns without error.
func (p *Pipeline) ProcessFile(ctx context.Context, fileID, taskID string, records []core.Record) error {
	claimed, err := p.store.Transition(ctx, fileID, []string{core.StatusQueued}, core.StatusIndexing, taskID)
	if err != nil {
		return fmt.Errorf("claim file %s: %w", fileID, err)
	}
	if !claimed {
		p.logger.Infow("File already claimed, skipping", "file_id", fileID, "task_id", taskID)
		return nil
	}

	file, err := p.store.GetFile(ctx, fileID)
	if err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("load file %s: %w", fileID, err))
	}
	index := core.IndexForCase(file.CaseID)

	verdict, err := p.gate.Check(ctx, index)
	if err != nil {
		return p.fail(ctx, fileID, err)
	}
	if !verdict.Compatible {
		return p.fail(ctx, fileID, fmt.Errorf("index %s rejected: %s", index, verdict.Reason))
	}

	indexed, err := p.indexRecords(ctx, index, file, records)
	if err != nil {
		return p.fail(ctx, fileID, err)
	}

	if indexed > 0 {
		if err := p.gate.Stamp(ctx, index); err != nil {
			return p.fail(ctx, fileID, err)
		}
	}

	file.EventCount = int64(indexed)
	file.Indexed = indexed > 0
	file.IndexName = index
	if err := p.store.UpdateFile(ctx, file); err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("record index results for %s: %w", fileID, err))
	}

	if err := p.runMatchers(ctx, index, file, taskID); err != nil {
		return p.fail(ctx, fileID, err)
	}

	done, err := p.store.Transition(ctx, fileID, []string{core.StatusIOCHunting}, core.StatusCompleted, "")
	if err != nil {
		return p.fail(ctx, fileID, fmt.Errorf("complete file %s: %w", fileID, err))
	}
	if !done {
		p.logger.Warnw("File left ioc_hunting underneath us", "file_id", fileID)
		return nil
	}

	metrics.FilesProcessed.WithLabelValues("completed").Inc()
	p.logger.Infow("File processed",
		"file_id", fileID,
		"case_id", file.CaseID,
		"index", index,
		"events", indexed,
		"violations", file.ViolationCount,
		"indicators", file.IndicatorCount)
	return nil
}

// indexRecords normalizes, dedup-keys and bulk-writes the records.
// Records collapsing to the same dedup key overwrite each other in the
// engine, so the returned count is unique documents, not input lines.
func (p *Pipeline) indexRecords(ctx context.Context, index string, file *storage.CaseFile, records []core.Record) (int, error) {
	importedAt := p.now().UTC().Format(time.RFC3339)
	seen := make(map[string]struct{}, len(records))
	batch := make([]storage.Document, 0, p.bulkSize)
	indexed := 0
	fallbacks := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		accepted, err := p.engine.BulkUpsert(ctx, index, batch)
		if err != nil {
			return fmt.Errorf("bulk write %d docs to %s: %w", len(batch), index, err)
		}
		indexed += accepted
		batch = batch[:0]
		return nil
	}

	for _, rec := range records {
		if rec.Format == "" {
			rec.Format = core.DetectFormat(rec.Fields)
		}

		nf := core.Normalize(rec)
		key, basis := core.DedupKey(file.CaseID, nf, rec)
		if basis != core.BasisPayload {
			fallbacks++
			metrics.DedupFallbacks.WithLabelValues(basis.String()).Inc()
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		doc := make(map[string]interface{}, len(rec.Fields)+6)
		for k, v := range rec.Fields {
			doc[k] = v
		}
		doc[core.FieldCaseID] = file.CaseID
		doc[core.FieldSourceFile] = file.Filename
		doc[core.FieldSourceFormat] = string(rec.Format)
		doc[core.FieldImportedAt] = importedAt
		nf.Apply(doc)

		metrics.EventsIndexed.WithLabelValues(string(rec.Format)).Inc()
		batch = append(batch, storage.Document{ID: key, Fields: doc})
		if len(batch) >= p.bulkSize {
			if err := flush(); err != nil {
				return indexed, err
			}
		}
	}
	if err := flush(); err != nil {
		return indexed, err
	}

	if fallbacks > 0 {
		p.logger.Warnw("Dedup keys computed from degraded basis",
			"file_id", file.ID,
			"fallbacks", fallbacks,
			"records", len(records))
	}
	p.logger.Debugw("Records indexed",
		"file_id", file.ID,
		"index", index,
		"records", len(records),
		"unique", indexed)
	return indexed, nil
}

// runMatchers drives the file through the two matching stages, updating
// counts as each finishes.
func (p *Pipeline) runMatchers(ctx context.Context, index string, file *storage.CaseFile, taskID string) error {
	ok, err := p.store.Transition(ctx, file.ID, []string{core.StatusIndexing}, core.StatusSigmaTesting, taskID)
	if err != nil {
		return fmt.Errorf("enter sigma_testing for %s: %w", file.ID, err)
	}
	if !ok {
		return fmt.Errorf("file %s left indexing underneath us", file.ID)
	}
	// UpdateFile writes the whole row, so the struct must track the
	// transition or the next write would roll the status back.
	file.Status = core.StatusSigmaTesting
	file.TaskID = taskID

	violations, err := p.detections.MatchDetections(ctx, index, file)
	if err != nil {
		return fmt.Errorf("detection matching for %s: %w", file.ID, err)
	}
	file.ViolationCount = violations
	if err := p.store.UpdateFile(ctx, file); err != nil {
		return fmt.Errorf("record violations for %s: %w", file.ID, err)
	}

	ok, err = p.store.Transition(ctx, file.ID, []string{core.StatusSigmaTesting}, core.StatusIOCHunting, taskID)
	if err != nil {
		return fmt.Errorf("enter ioc_hunting for %s: %w", file.ID, err)
	}
	if !ok {
		return fmt.Errorf("file %s left sigma_testing underneath us", file.ID)
	}
	file.Status = core.StatusIOCHunting

	indicators, err := p.indicators.HuntIndicators(ctx, index, file)
	if err != nil {
		return fmt.Errorf("indicator hunting for %s: %w", file.ID, err)
	}
	file.IndicatorCount = indicators
	if err := p.store.UpdateFile(ctx, file); err != nil {
		return fmt.Errorf("record indicators for %s: %w", file.ID, err)
	}
	return nil
}

// fail moves the file to the failed state and returns the causing error.
// The failed state is any status outside the known set; the literal
// "failed" is what operators see in file listings.
func (p *Pipeline) fail(ctx context.Context, fileID string, cause error) error {
	file, err := p.store.GetFile(ctx, fileID)
	if err != nil {
		p.logger.Errorw("Failed to load file while marking it failed", "file_id", fileID, "error", err)
		metrics.FilesProcessed.WithLabelValues("failed").Inc()
		return cause
	}
	file.Status = "failed"
	file.TaskID = ""
	if err := p.store.UpdateFile(ctx, file); err != nil {
		p.logger.Errorw("Failed to mark file failed", "file_id", fileID, "error", err)
	}
	metrics.FilesProcessed.WithLabelValues("failed").Inc()
	p.logger.Errorw("File processing failed", "file_id", fileID, "error", cause)
	return cause
}
