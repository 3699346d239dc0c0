package index

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/query"
)

func TestRunner_Run_IndexesMergesAndReportsLatest(t *testing.T) {
	// Given: three valid batches and one invalid batch
	c, _ := newBleveCoordinator(t)
	now := time.Now().Add(-time.Minute)
	batches := [][]message.Record{
		{chat("m1", "s1", "first", now.Add(-3*time.Hour))},
		{{MessageID: "bad"}},
		{chat("m2", "s1", "second", now.Add(-2*time.Hour))},
		{chat("m3", "s1", "third", now)},
	}

	// When: running a backfill that merges every two segments
	r := NewRunner(c, RunnerConfig{MergeEvery: 2})
	result, err := r.Run(context.Background(), SliceSource(batches))

	// Then: every valid batch is indexed and merged
	require.NoError(t, err)
	assert.Equal(t, 3, result.Batches)
	assert.Equal(t, 3, result.Messages)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 2, result.Merges)
	assert.Equal(t, at(now), result.Latest)
	assert.Empty(t, c.PendingSegments())

	// And: all messages are searchable from the main index
	res := search(t, c, query.Request{SortOrder: "1"})
	assert.Len(t, res.Messages, 3)
}

func TestRunner_Run_SourceErrorStillMerges(t *testing.T) {
	// Given: a source that fails after one batch
	c, f := newFakeCoordinator(t)
	calls := 0
	source := func(context.Context) ([]message.Record, error) {
		calls++
		if calls == 1 {
			return []message.Record{chat("m1", "s1", "x", time.Now())}, nil
		}
		return nil, errors.New("server unavailable")
	}

	// When: running
	result, err := NewRunner(c, RunnerConfig{}).Run(context.Background(), source)

	// Then: the error is returned and the written segment was merged
	require.Error(t, err)
	assert.Equal(t, 1, result.Batches)
	assert.Equal(t, 1, result.Merges)
	assert.Equal(t, 1, f.count("merge"))
}

func TestRunner_Run_ReportsEachBatch(t *testing.T) {
	c, _ := newFakeCoordinator(t)
	now := time.Now()
	batches := [][]message.Record{
		{chat("m1", "s1", "a", now)},
		{chat("m2", "s1", "b", now), chat("m3", "s1", "c", now)},
	}

	var seen []int
	_, err := NewRunner(c, RunnerConfig{OnBatch: func(r RunnerResult) {
		seen = append(seen, r.Messages)
	}}).Run(context.Background(), SliceSource(batches))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, seen)
}

func TestFileSource(t *testing.T) {
	// Given: a valid batch file, an unparsable file, and a missing file
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	data, err := message.EncodeBatch([]message.Record{chat("m1", "s1", "x", time.Now())})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(good, data, 0o600))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

	next := FileSource([]string{good, bad, filepath.Join(dir, "missing.json")})
	ctx := context.Background()

	// When/Then: batches come back in order
	batch, err := next(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "m1", batch[0].MessageID)

	batch, err = next(ctx)
	require.NoError(t, err)
	assert.Empty(t, batch)

	_, err = next(ctx)
	assert.True(t, ierrors.HasCode(err, ierrors.ErrCodeFileNotFound))

	_, err = next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
