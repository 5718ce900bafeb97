package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"argus/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seedDocs(t *testing.T, engine *storage.MockEngine, index string, n int) {
	t.Helper()
	docs := make([]storage.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, storage.Document{
			ID:     fmt.Sprintf("doc-%05d", i),
			Fields: map[string]interface{}{"seq": i},
		})
	}
	_, err := engine.BulkUpsert(context.Background(), index, docs)
	require.NoError(t, err)
}

func newTestExecutor(engine *storage.MockEngine) *Executor {
	return NewExecutor(engine, time.Minute, zap.NewNop().Sugar())
}

func TestSearch_Pagination(t *testing.T) {
	engine := storage.NewMockEngine()
	seedDocs(t, engine, "argus-case-7", 60)
	exec := newTestExecutor(engine)

	result, err := exec.Search(context.Background(), "argus-case-7", Build(Spec{}), 3, 25, "", "")
	require.NoError(t, err)

	assert.Equal(t, int64(60), result.Total)
	require.Len(t, result.Hits, 10)
	assert.Equal(t, "doc-00050", result.Hits[0].ID)

	assert.Equal(t, 50, engine.LastSearchBody["from"])
	assert.Equal(t, 25, engine.LastSearchBody["size"])
	assert.Equal(t, true, engine.LastSearchBody["track_total_hits"])
}

func TestSearch_DefaultSortNewestFirst(t *testing.T) {
	engine := storage.NewMockEngine()
	seedDocs(t, engine, "argus-case-7", 3)
	exec := newTestExecutor(engine)

	_, err := exec.Search(context.Background(), "argus-case-7", Build(Spec{}), 1, 0, "", "")
	require.NoError(t, err)

	sort := engine.LastSearchBody["sort"].([]interface{})
	require.Len(t, sort, 1)
	clause := sort[0].(map[string]interface{})["imported_at"].(map[string]interface{})
	assert.Equal(t, "desc", clause["order"])
	assert.Equal(t, "_last", clause["missing"])
}

func TestSearch_TextSortRedirectedToKeyword(t *testing.T) {
	engine := storage.NewMockEngine()
	seedDocs(t, engine, "argus-case-7", 3)
	exec := newTestExecutor(engine)

	_, err := exec.Search(context.Background(), "argus-case-7", Build(Spec{}), 1, 0, "norm_host", "asc")
	require.NoError(t, err)

	sort := engine.LastSearchBody["sort"].([]interface{})
	clause := sort[0].(map[string]interface{})["norm_host.keyword"].(map[string]interface{})
	assert.Equal(t, "asc", clause["order"])
}

func TestSearch_MissingIndex(t *testing.T) {
	exec := newTestExecutor(storage.NewMockEngine())

	_, err := exec.Search(context.Background(), "argus-case-nope", Build(Spec{}), 1, 0, "", "")
	assert.ErrorIs(t, err, storage.ErrIndexNotFound)
}

func TestScrollExport_FullDrain(t *testing.T) {
	engine := storage.NewMockEngine()
	seedDocs(t, engine, "argus-case-big", 25000)
	exec := newTestExecutor(engine)

	result, err := exec.ScrollExport(context.Background(), "argus-case-big", Build(Spec{}), 1000, "", "", 0)
	require.NoError(t, err)

	assert.Equal(t, int64(25000), result.Total)
	assert.Len(t, result.Hits, 25000)
	assert.Equal(t, 25, result.Batches)
	assert.False(t, result.Truncated)
	assert.Equal(t, 0, engine.ActiveScrolls(), "cursor must be released after a clean drain")
}

func TestScrollExport_MaxResultsExact(t *testing.T) {
	engine := storage.NewMockEngine()
	seedDocs(t, engine, "argus-case-big", 20000)
	exec := newTestExecutor(engine)

	result, err := exec.ScrollExport(context.Background(), "argus-case-big", Build(Spec{}), 1000, "", "", 12345)
	require.NoError(t, err)

	assert.Len(t, result.Hits, 12345)
	assert.True(t, result.Truncated)
	assert.Equal(t, 0, engine.ActiveScrolls())
}

func TestScrollExport_CapAtExactTotalNotTruncated(t *testing.T) {
	engine := storage.NewMockEngine()
	seedDocs(t, engine, "argus-case-7", 500)
	exec := newTestExecutor(engine)

	result, err := exec.ScrollExport(context.Background(), "argus-case-7", Build(Spec{}), 100, "", "", 500)
	require.NoError(t, err)

	assert.Len(t, result.Hits, 500)
	assert.False(t, result.Truncated, "a cap equal to the total is not a truncation")
}

func TestScrollExport_ReleasesCursorOnMidScrollFailure(t *testing.T) {
	engine := storage.NewMockEngine()
	seedDocs(t, engine, "argus-case-big", 5000)
	engine.FailScrollAfter = 2
	exec := newTestExecutor(engine)

	_, err := exec.ScrollExport(context.Background(), "argus-case-big", Build(Spec{}), 1000, "", "", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrEngineTimeout)
	assert.Equal(t, 0, engine.ActiveScrolls(), "cursor must be released even when the scroll dies mid-way")
}

func TestScrollExport_ReleasesCursorWhenContextCancelled(t *testing.T) {
	engine := storage.NewMockEngine()
	seedDocs(t, engine, "argus-case-big", 5000)
	engine.FailScrollAfter = 1
	exec := newTestExecutor(engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.ScrollExport(ctx, "argus-case-big", Build(Spec{}), 1000, "", "", 0)
	require.Error(t, err)
	assert.Equal(t, 0, engine.ActiveScrolls(), "cleanup must not depend on the caller's context")
}

func TestScrollExport_EmptyIndexZeroBatches(t *testing.T) {
	engine := storage.NewMockEngine()
	_, err := engine.BulkUpsert(context.Background(), "argus-case-empty", nil)
	require.NoError(t, err)
	exec := newTestExecutor(engine)

	result, err := exec.ScrollExport(context.Background(), "argus-case-empty", Build(Spec{}), 1000, "", "", 0)
	require.NoError(t, err)

	assert.Empty(t, result.Hits)
	assert.Equal(t, 0, result.Batches)
	assert.Equal(t, 0, engine.ActiveScrolls())
}
