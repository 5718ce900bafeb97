// Package repair reconciles file processing state after crashes. Workers
// die mid-task, queues get flushed, indexes get deleted out from under
// their metadata; the sweep detects each inconsistency and puts the file
// back on a path to completion, or marks it done when there is nothing
// left to do.
package repair

import (
	"context"
	"fmt"

	"argus/core"
	"argus/metrics"
	"argus/storage"

	"go.uber.org/zap"
)

// Repair action kinds, used as log and metric labels.
const (
	KindHideArtifact   = "hide_artifact"
	KindResubmitQueued = "resubmit_queued"
	KindResetStuck     = "reset_stuck"
	KindReindexMissing = "reindex_missing"
	KindFixIndexedFlag = "fix_indexed_flag"
)

// collectorArtifactNames are bookkeeping files emitted by collection
// tooling alongside the actual evidence. They carry a single residual
// record and would otherwise sit in the file list as noise forever.
var collectorArtifactNames = map[string]struct{}{
	"collection_summary.json": {},
	"upload_manifest.json":    {},
	"collector.log":           {},
	"agent_diag.txt":          {},
}

// IsCollectorArtifact reports whether a filename is collection-tool
// bookkeeping rather than evidence.
func IsCollectorArtifact(filename string) bool {
	_, ok := collectorArtifactNames[filename]
	return ok
}

// isEmptyOrArtifact reports whether processing a file can never produce
// anything useful: it parsed to zero events, or to exactly the one
// residual record a known collection tool leaves behind.
func isEmptyOrArtifact(file storage.CaseFile) bool {
	if file.EventCount == 0 {
		return true
	}
	return file.EventCount == 1 && IsCollectorArtifact(file.Filename)
}

// TaskSubmitter is the slice of the task queue the sweep needs: which
// tasks are live, and resubmission for orphaned files.
type TaskSubmitter interface {
	ActiveTaskIDs(ctx context.Context) (map[string]struct{}, error)
	Submit(ctx context.Context, fileID, caseID string) (string, error)
}

// Action is one planned repair on one file.
type Action struct {
	Kind     string
	File     storage.CaseFile
	Resubmit bool
}

// Report is the outcome of one sweep.
type Report struct {
	Actions   []Action
	Committed bool
}

// Repairer detects and repairs ingestion inconsistencies. Detection is
// read-only over all files; the resulting row updates are committed in
// one transaction, so a sweep either lands whole or not at all. Files
// whose task is still live are never touched.
type Repairer struct {
	engine storage.SearchEngine
	store  storage.CaseFileStore
	queue  TaskSubmitter
	dryRun bool
	logger *zap.SugaredLogger
}

// NewRepairer wires a repairer. With dryRun set, sweeps report what they
// would do without changing anything.
func NewRepairer(engine storage.SearchEngine, store storage.CaseFileStore, queue TaskSubmitter, dryRun bool, logger *zap.SugaredLogger) *Repairer {
	return &Repairer{engine: engine, store: store, queue: queue, dryRun: dryRun, logger: logger}
}

// Sweep runs one full detect-and-commit cycle.
func (r *Repairer) Sweep(ctx context.Context) (*Report, error) {
	live, err := r.queue.ActiveTaskIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list live tasks: %w", err)
	}

	statuses := append([]string{core.StatusQueued, core.StatusCompleted}, core.ProcessingStatuses()...)
	files, err := r.store.FilesByStatus(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list files for sweep: %w", err)
	}

	report := &Report{}
	for i := range files {
		file := files[i]
		if file.TaskID != "" {
			if _, alive := live[file.TaskID]; alive {
				continue
			}
		}
		action, ok, err := r.diagnose(ctx, file)
		if err != nil {
			return nil, err
		}
		if ok {
			report.Actions = append(report.Actions, action)
		}
	}

	if len(report.Actions) == 0 {
		r.logger.Debug("Consistency sweep found nothing to repair")
		return report, nil
	}
	if r.dryRun {
		for _, action := range report.Actions {
			r.logger.Infow("Dry run: would repair file",
				"kind", action.Kind,
				"file_id", action.File.ID,
				"case_id", action.File.CaseID,
				"resubmit", action.Resubmit)
		}
		return report, nil
	}
	if err := r.commit(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// diagnose classifies one file. The checks are ordered: a file can only
// match one detection per sweep.
func (r *Repairer) diagnose(ctx context.Context, file storage.CaseFile) (Action, bool, error) {
	// A file with nothing in it cannot complete through processing;
	// retrying it forever just churns. Retire and hide it instead.
	if file.Status != core.StatusCompleted && isEmptyOrArtifact(file) {
		file.Status = core.StatusCompleted
		file.Hidden = true
		file.TaskID = ""
		return Action{Kind: KindHideArtifact, File: file}, true, nil
	}

	// Queued with no live task: the submission was lost.
	if file.Status == core.StatusQueued {
		return Action{Kind: KindResubmitQueued, File: file, Resubmit: true}, true, nil
	}

	// Mid-processing with no live task: the worker died. Send it back to
	// the start; re-indexing is idempotent under dedup keys.
	if core.IsProcessing(file.Status) {
		file.Status = core.StatusQueued
		file.TaskID = ""
		return Action{Kind: KindResetStuck, File: file, Resubmit: true}, true, nil
	}

	// Completed files that went through indexing must still have their
	// index. IndexName is only ever set by the indexing stage, so files
	// retired without indexing (hidden artifacts) are not re-checked.
	if file.Status == core.StatusCompleted && file.EventCount > 0 && file.IndexName != "" {
		exists, err := r.engine.IndexExists(ctx, core.IndexForCase(file.CaseID))
		if err != nil {
			return Action{}, false, fmt.Errorf("check index for case %s: %w", file.CaseID, err)
		}
		// The index is gone but the metadata says we indexed into it.
		if !exists {
			file.Status = core.StatusQueued
			file.EventCount = 0
			file.ViolationCount = 0
			file.IndicatorCount = 0
			file.Indexed = false
			file.IndexName = ""
			file.TaskID = ""
			return Action{Kind: KindReindexMissing, File: file, Resubmit: true}, true, nil
		}
		// Index and events are fine, only the flag is stale.
		if !file.Indexed {
			file.Indexed = true
			return Action{Kind: KindFixIndexedFlag, File: file}, true, nil
		}
	}

	return Action{}, false, nil
}

// commit resubmits tasks for files that need reprocessing and writes all
// repaired rows in one transaction.
func (r *Repairer) commit(ctx context.Context, report *Report) error {
	rows := make([]storage.CaseFile, 0, len(report.Actions))
	for i := range report.Actions {
		action := &report.Actions[i]
		if action.Resubmit {
			taskID, err := r.queue.Submit(ctx, action.File.ID, action.File.CaseID)
			if err != nil {
				return fmt.Errorf("resubmit file %s: %w", action.File.ID, err)
			}
			action.File.Status = core.StatusQueued
			action.File.TaskID = taskID
		}
		rows = append(rows, action.File)
	}

	if err := r.store.ApplyBatch(ctx, rows); err != nil {
		return fmt.Errorf("commit %d repairs: %w", len(rows), err)
	}
	report.Committed = true

	for _, action := range report.Actions {
		metrics.RepairActions.WithLabelValues(action.Kind).Inc()
		r.logger.Infow("Repaired file",
			"kind", action.Kind,
			"file_id", action.File.ID,
			"case_id", action.File.CaseID,
			"resubmit", action.Resubmit)
	}
	return nil
}
