package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "db", "curator.db"), nil)
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRunLifecycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	started := time.Unix(1700000000, 0)

	require.NoError(t, c.CreateRun(ctx, &models.Run{
		ID: "run-1", Kind: "augment", Status: models.RunPending,
		Input: "clean_seed.json", Output: "lazy_augment.jsonl", Rewriter: "lazy", StartedAt: started,
	}))
	require.NoError(t, c.UpdateRunStatus(ctx, "run-1", models.RunRunning))

	sink := events.WithRun("run-1", c)
	sink.Handle(ctx, events.Event{Kind: events.KindAccepted, Text: "查下话费", Seed: "话费多少", Record: []byte(`{"input":"查下话费"}`)})
	sink.Handle(ctx, events.Event{Kind: events.KindAccepted, Text: "查下话费"})
	sink.Handle(ctx, events.Event{Kind: events.KindRejected, Stage: events.StageNovelty, Text: "话费多少", Score: 0.9})
	sink.Handle(ctx, events.Event{Kind: events.KindRejected, Stage: "natural", Text: "话费 多少 查", Score: 3})
	sink.Handle(ctx, events.Event{Kind: events.KindRejected, Stage: "natural", Text: "x", Score: 2})
	c.Handle(ctx, events.Event{Kind: events.KindAccepted, Text: "no run id"})

	require.NoError(t, c.FinishRun(ctx, "run-1", models.RunSucceeded, "", started.Add(time.Minute)))

	run, err := c.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunSucceeded, run.Status)
	assert.Equal(t, 1, run.Accepted, "duplicate texts are stored once per run")
	assert.Equal(t, 3, run.Rejected)
	assert.Equal(t, "lazy", run.Rewriter)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, started.Add(time.Minute), *run.FinishedAt)

	accepted, err := c.ListAccepted(ctx, "run-1", 10)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "话费多少", accepted[0].Seed)
	assert.Equal(t, `{"input":"查下话费"}`, accepted[0].Payload)
	assert.Len(t, accepted[0].Fingerprint, 32)

	rejections, err := c.ListRejections(ctx, "run-1", "natural", 10)
	require.NoError(t, err)
	assert.Len(t, rejections, 2)
	all, err := c.ListRejections(ctx, "run-1", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	stats, err := c.RejectionStats(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"natural": 2, events.StageNovelty: 1}, stats)
}

func TestGetRunNotFound(t *testing.T) {
	c := newTestClient(t)
	_, err := c.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, c.FinishRun(context.Background(), "missing", models.RunFailed, "x", time.Now()), ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.CreateRun(ctx, &models.Run{ID: id, Kind: "cleanse", Status: models.RunPending, StartedAt: time.Unix(int64(100+i), 0)}))
	}

	runs, err := c.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Nil(t, runs[0].FinishedAt)
}
