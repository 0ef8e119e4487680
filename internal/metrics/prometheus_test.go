package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/pkg/circuitbreaker"
)

func TestHandleCountsEvents(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.Handle(ctx, events.Event{Kind: events.KindRunStarted})
	m.Handle(ctx, events.Event{Kind: events.KindSubmitted})
	m.Handle(ctx, events.Event{Kind: events.KindSubmitted})
	m.Handle(ctx, events.Event{Kind: events.KindAccepted})
	m.Handle(ctx, events.Event{Kind: events.KindRejected, Stage: "natural"})
	m.Handle(ctx, events.Event{Kind: events.KindRejected, Stage: events.StageNovelty})
	m.Handle(ctx, events.Event{Kind: events.KindRejected, Stage: events.StageNovelty})
	m.Handle(ctx, events.Event{Kind: events.KindFlushed, Batch: 2, Duration: time.Second})
	m.Handle(ctx, events.Event{Kind: events.KindFlushed, Batch: 1, Error: "judge unavailable"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsAccepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsRejected.WithLabelValues(events.StageNovelty)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsRejected.WithLabelValues("natural")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsActive))

	m.Handle(ctx, events.Event{Kind: events.KindRunFinished, Error: "boom"})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RunsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")))
}

func TestObservers(t *testing.T) {
	m := New()
	m.ObserveJudgeAttempt(nil)
	m.ObserveJudgeAttempt(errors.New("bad"))
	m.ObserveJudgeAttempt(errors.New("bad"))
	m.ObserveBreaker("llm", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	m.ObserveUsage("gpt-4o", 10, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JudgeAttempts.WithLabelValues("valid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JudgeAttempts.WithLabelValues("invalid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("llm")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("gpt-4o", "completion")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.RecordsAccepted.Add(3)

	app := fiber.New()
	app.Get("/metrics", m.Handler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "curator_records_accepted_total 3"))
}
