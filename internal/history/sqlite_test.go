package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecent(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := t.Context()

	require.NoError(t, store.Append(ctx, Record{
		JobID:      "job-1",
		CacheKey:   "abc",
		Outcome:    "failed",
		Attempts:   1,
		Signature:  "failed to select a version for the requirement `funty`",
		Message:    "build failed",
		Duration:   1500 * time.Millisecond,
		FinishedAt: time.Now(),
	}))
	require.NoError(t, store.Append(ctx, Record{
		JobID:      "job-1",
		CacheKey:   "abc",
		Outcome:    "success",
		Attempts:   2,
		Duration:   4 * time.Second,
		FinishedAt: time.Now(),
	}))

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "success", recent[0].Outcome)
	assert.Equal(t, "failed", recent[1].Outcome)
	assert.Equal(t, 1500*time.Millisecond, recent[1].Duration)
}

func TestByJobID(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := t.Context()

	require.NoError(t, store.Append(ctx, Record{JobID: "a", CacheKey: "k", Outcome: "success", Attempts: 1, FinishedAt: time.Now()}))
	require.NoError(t, store.Append(ctx, Record{JobID: "b", CacheKey: "k", Outcome: "canceled", Attempts: 1, FinishedAt: time.Now()}))

	got, err := store.ByJobID(ctx, "b")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "canceled", got[0].Outcome)

	none, err := store.ByJobID(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpenCreatesFile(t *testing.T) {
	path := t.TempDir() + "/history.db"
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening must not recreate the schema destructively.
	store, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
