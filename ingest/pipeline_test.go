package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"argus/core"
	"argus/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubDetections struct {
	violations int64
	err        error
}

func (s stubDetections) MatchDetections(context.Context, string, *storage.CaseFile) (int64, error) {
	return s.violations, s.err
}

type stubIndicators struct {
	indicators int64
	err        error
}

func (s stubIndicators) HuntIndicators(context.Context, string, *storage.CaseFile) (int64, error) {
	return s.indicators, s.err
}

type pipelineFixture struct {
	engine   *storage.MockEngine
	store    *storage.SQLiteFileStore
	pipeline *Pipeline
}

func newFixture(t *testing.T, detections DetectionMatcher, indicators IndicatorMatcher) *pipelineFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()

	store, err := storage.NewSQLiteFileStore(filepath.Join(t.TempDir(), "argus.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := storage.NewMockEngine()
	gate, err := NewGate(engine, logger)
	require.NoError(t, err)

	return &pipelineFixture{
		engine:   engine,
		store:    store,
		pipeline: NewPipeline(engine, store, gate, detections, indicators, 100, logger),
	}
}

func (f *pipelineFixture) queueFile(t *testing.T, id, caseID string) {
	t.Helper()
	require.NoError(t, f.store.CreateFile(context.Background(), &storage.CaseFile{
		ID:       id,
		CaseID:   caseID,
		Filename: id + ".evtx",
		Status:   core.StatusQueued,
	}))
}

func evtxRecords(times ...string) []core.Record {
	records := make([]core.Record, 0, len(times))
	for i, ts := range times {
		records = append(records, core.Record{
			Format: core.FormatWindowsEvent,
			Fields: map[string]interface{}{
				"Event": map[string]interface{}{
					"System": map[string]interface{}{
						"Computer": "WORKSTATION-01",
						"EventID":  float64(4624),
						"TimeCreated": map[string]interface{}{
							"#attributes": map[string]interface{}{"SystemTime": ts},
						},
					},
					"EventData": map[string]interface{}{
						"LogonType":  float64(3),
						"TargetUser": "alice",
						"Seq":        float64(i),
					},
				},
			},
		})
	}
	return records
}

func TestPipeline_HappyPath(t *testing.T) {
	f := newFixture(t, stubDetections{violations: 3}, stubIndicators{indicators: 7})
	f.queueFile(t, "f1", "17")

	records := evtxRecords("2023-10-31T14:00:00.000Z", "2023-10-31T14:00:01.000Z")
	require.NoError(t, f.pipeline.ProcessFile(context.Background(), "f1", "task-1", records))

	file, err := f.store.GetFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, file.Status)
	assert.Empty(t, file.TaskID, "completed files hold no task reference")
	assert.True(t, file.Indexed)
	assert.Equal(t, int64(2), file.EventCount)
	assert.Equal(t, int64(3), file.ViolationCount)
	assert.Equal(t, int64(7), file.IndicatorCount)
	assert.Equal(t, "argus-case-17", file.IndexName)

	assert.Equal(t, 2, f.engine.DocCount("argus-case-17"))

	stored, ok, err := f.engine.GetIndexSetting(context.Background(), "argus-case-17", core.IndexVersionSettingKey)
	require.NoError(t, err)
	require.True(t, ok, "index must be stamped after the first write")
	assert.Equal(t, core.IndexSchemaVersion, stored)
}

func TestPipeline_AttachesMetadataAndNormalizedFields(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.queueFile(t, "f1", "17")

	records := evtxRecords("2023-10-31T14:00:00.123Z")
	require.NoError(t, f.pipeline.ProcessFile(context.Background(), "f1", "task-1", records))

	nf := core.Normalize(records[0])
	key, basis := core.DedupKey("17", nf, records[0])
	require.Equal(t, core.BasisPayload, basis)

	doc, ok := f.engine.Doc("argus-case-17", key)
	require.True(t, ok, "document must be stored under its dedup key")
	assert.Equal(t, "17", doc.Fields[core.FieldCaseID])
	assert.Equal(t, "f1.evtx", doc.Fields[core.FieldSourceFile])
	assert.Equal(t, "evtx", doc.Fields[core.FieldSourceFormat])
	assert.NotEmpty(t, doc.Fields[core.FieldImportedAt])
	assert.Equal(t, "2023-10-31T14:00:00.123Z", doc.Fields[core.FieldNormTimestamp])
	assert.Equal(t, "WORKSTATION-01", doc.Fields[core.FieldNormHost])
	assert.Equal(t, "4624", doc.Fields[core.FieldNormEventID])
}

func TestPipeline_DuplicatesCollapse(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.queueFile(t, "f1", "17")

	// Same payload, same second, different sub-second precision.
	records := evtxRecords("2023-10-31T14:00:00.100Z")
	records = append(records, evtxRecords("2023-10-31T14:00:00.900Z")...)
	require.NoError(t, f.pipeline.ProcessFile(context.Background(), "f1", "task-1", records))

	file, err := f.store.GetFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), file.EventCount, "event count reflects unique documents")
	assert.Equal(t, 1, f.engine.DocCount("argus-case-17"))
}

func TestPipeline_ClaimLoserSkips(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.queueFile(t, "f1", "17")

	// Another worker already claimed the file.
	claimed, err := f.store.Transition(context.Background(), "f1", []string{core.StatusQueued}, core.StatusIndexing, "task-0")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, f.pipeline.ProcessFile(context.Background(), "f1", "task-1", evtxRecords("2023-10-31T14:00:00Z")))
	assert.Equal(t, 0, f.engine.DocCount("argus-case-17"), "the losing worker must not write")
}

func TestPipeline_IncompatibleIndexFailsFile(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.queueFile(t, "f1", "17")

	// A pre-existing index written under an older layout.
	_, err := f.engine.BulkUpsert(context.Background(), "argus-case-17", []storage.Document{
		{ID: "old", Fields: map[string]interface{}{"legacy": true}},
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.PutIndexSetting(context.Background(), "argus-case-17", core.IndexVersionSettingKey, "1"))

	err = f.pipeline.ProcessFile(context.Background(), "f1", "task-1", evtxRecords("2023-10-31T14:00:00Z"))
	require.Error(t, err)

	file, err := f.store.GetFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "failed", file.Status)
	assert.Equal(t, 1, f.engine.DocCount("argus-case-17"), "no documents may be written into an incompatible index")
}

func TestPipeline_EmptyFileCompletesWithoutStamp(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.queueFile(t, "f1", "17")

	require.NoError(t, f.pipeline.ProcessFile(context.Background(), "f1", "task-1", nil))

	file, err := f.store.GetFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, file.Status)
	assert.False(t, file.Indexed)
	assert.Zero(t, file.EventCount)

	exists, err := f.engine.IndexExists(context.Background(), "argus-case-17")
	require.NoError(t, err)
	assert.False(t, exists, "an empty file must not create or stamp an index")
}

func TestPipeline_BulkFailureFailsFile(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.queueFile(t, "f1", "17")
	f.engine.FailBulk = storage.ErrEngineUnavailable

	err := f.pipeline.ProcessFile(context.Background(), "f1", "task-1", evtxRecords("2023-10-31T14:00:00Z"))
	require.ErrorIs(t, err, storage.ErrEngineUnavailable)

	file, err := f.store.GetFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "failed", file.Status)
}

func TestPipeline_MatcherFailureFailsFile(t *testing.T) {
	f := newFixture(t, stubDetections{err: errors.New("rule engine down")}, nil)
	f.queueFile(t, "f1", "17")

	err := f.pipeline.ProcessFile(context.Background(), "f1", "task-1", evtxRecords("2023-10-31T14:00:00Z"))
	require.Error(t, err)

	file, err := f.store.GetFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "failed", file.Status)
	assert.True(t, file.Indexed, "indexed documents survive a matcher failure")
}

func TestPipeline_UntaggedRecordsGetDetectedFormat(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.queueFile(t, "f1", "17")

	records := []core.Record{{
		Fields: map[string]interface{}{
			"event_simpleName": "ProcessRollup2",
			"agent_hostname":   "edr-host",
			"pid":              float64(4242),
		},
	}}
	require.NoError(t, f.pipeline.ProcessFile(context.Background(), "f1", "task-1", records))

	nf := core.Normalize(core.Record{Format: core.FormatEDR, Fields: records[0].Fields})
	key, _ := core.DedupKey("17", nf, core.Record{Format: core.FormatEDR, Fields: records[0].Fields})
	doc, ok := f.engine.Doc("argus-case-17", key)
	require.True(t, ok)
	assert.Equal(t, "edr", doc.Fields[core.FieldSourceFormat])
}
