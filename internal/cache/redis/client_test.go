package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intent-curator/backend/internal/events"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	c, err := NewClient(mr.Host(), port, "", 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestProgressCounters(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	sink := events.WithRun("run-1", c)

	sink.Handle(ctx, events.Event{Kind: events.KindRunStarted})
	for i := 0; i < 3; i++ {
		sink.Handle(ctx, events.Event{Kind: events.KindParaphrase})
		sink.Handle(ctx, events.Event{Kind: events.KindSubmitted})
	}
	sink.Handle(ctx, events.Event{Kind: events.KindAccepted})
	sink.Handle(ctx, events.Event{Kind: events.KindRejected, Stage: "natural"})
	sink.Handle(ctx, events.Event{Kind: events.KindRejected, Stage: events.StageNovelty})
	sink.Handle(ctx, events.Event{Kind: events.KindFlushed})
	sink.Handle(ctx, events.Event{Kind: events.KindCheckpoint, Index: 4})
	c.Handle(ctx, events.Event{Kind: events.KindAccepted})

	p, ok, err := c.GetProgress(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, &Progress{
		Submitted:   3,
		Accepted:    1,
		Rejected:    2,
		Paraphrases: 3,
		Flushes:     1,
		Checkpoint:  4,
		Stages:      map[string]int64{"natural": 1, events.StageNovelty: 1},
		Status:      "running",
	}, p)

	sink.Handle(ctx, events.Event{Kind: events.KindRunFinished, Error: "judge unavailable"})
	p, _, err = c.GetProgress(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", p.Status)

	assert.Positive(t, mr.TTL("run:run-1:progress"))
	mr.FastForward(8 * 24 * time.Hour)
	_, ok, err = c.GetProgress(ctx, "run-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteProgress(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	c.Handle(ctx, events.Event{RunID: "r", Kind: events.KindAccepted})
	require.NoError(t, c.DeleteProgress(ctx, "r"))

	_, ok, err := c.GetProgress(ctx, "r")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewClientUnreachable(t *testing.T) {
	_, err := NewClient("127.0.0.1", 1, "", 0, nil)
	assert.Error(t, err)
}
