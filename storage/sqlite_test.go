package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *SQLiteFileStore {
	t.Helper()
	store, err := NewSQLiteFileStore(filepath.Join(t.TempDir(), "argus.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testFile(id, caseID, status string) *CaseFile {
	return &CaseFile{
		ID:       id,
		CaseID:   caseID,
		Filename: id + ".evtx",
		Status:   status,
	}
}

func TestSQLiteFileStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := testFile("f1", "17", "queued")
	f.EventCount = 250
	f.Indexed = true
	f.IndexName = "argus-case-17"
	require.NoError(t, store.CreateFile(ctx, f))

	got, err := store.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "17", got.CaseID)
	assert.Equal(t, int64(250), got.EventCount)
	assert.True(t, got.Indexed)
	assert.Equal(t, "argus-case-17", got.IndexName)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLiteFileStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetFile(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestSQLiteFileStore_FilesByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateFile(ctx, testFile("f1", "1", "queued")))
	require.NoError(t, store.CreateFile(ctx, testFile("f2", "1", "indexing")))
	require.NoError(t, store.CreateFile(ctx, testFile("f3", "2", "completed")))

	files, err := store.FilesByStatus(ctx, "queued", "indexing")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "f1", files[0].ID)
	assert.Equal(t, "f2", files[1].ID)
}

func TestSQLiteFileStore_TransitionGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateFile(ctx, testFile("f1", "1", "queued")))

	moved, err := store.Transition(ctx, "f1", []string{"queued"}, "indexing", "task-1")
	require.NoError(t, err)
	assert.True(t, moved)

	// A second transition expecting "queued" must lose the race.
	moved, err = store.Transition(ctx, "f1", []string{"queued"}, "indexing", "task-2")
	require.NoError(t, err)
	assert.False(t, moved)

	got, err := store.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "indexing", got.Status)
	assert.Equal(t, "task-1", got.TaskID)
}

func TestSQLiteFileStore_ApplyBatchAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateFile(ctx, testFile("f1", "1", "indexing")))

	repaired := *testFile("f1", "1", "queued")
	missing := *testFile("ghost", "1", "queued")

	err := store.ApplyBatch(ctx, []CaseFile{repaired, missing})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)

	// The failed batch must not have written the first row.
	got, err := store.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "indexing", got.Status)
}

func TestSQLiteFileStore_ApplyBatchCommits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateFile(ctx, testFile("f1", "1", "indexing")))
	require.NoError(t, store.CreateFile(ctx, testFile("f2", "1", "indexing")))

	a := *testFile("f1", "1", "queued")
	b := *testFile("f2", "1", "completed")
	b.Hidden = true
	require.NoError(t, store.ApplyBatch(ctx, []CaseFile{a, b}))

	got1, err := store.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "queued", got1.Status)

	got2, err := store.GetFile(ctx, "f2")
	require.NoError(t, err)
	assert.Equal(t, "completed", got2.Status)
	assert.True(t, got2.Hidden)
}
