package judge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/score"
)

// scripted replays responses in order and counts calls.
type scripted struct {
	responses []string
	calls     int
}

func (s *scripted) Generate(_ context.Context, _ llm.Request) (string, error) {
	r := s.responses[s.calls%len(s.responses)]
	s.calls++
	return r, nil
}

func TestScoreListAverages(t *testing.T) {
	gen := &scripted{responses: []string{"[8, 2]", "[6, 4]"}}
	j := New(gen, Options{}, nil)

	got, err := j.ScoreList(context.Background(), "score", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 3}, got)
	assert.Equal(t, 2, gen.calls)
}

func TestScoreListRetriesMalformed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	gen := &scripted{responses: []string{"I think [8]", "[8, 3, 1]", "[8, 3]"}}
	var attempts []error
	j := New(gen, Options{OnAttempt: func(err error) { attempts = append(attempts, err) }}, zap.New(core))

	got, err := j.ScoreList(context.Background(), "score", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{8, 3}, got)
	assert.Equal(t, 3, gen.calls)
	require.Len(t, attempts, 3)
	assert.ErrorIs(t, attempts[0], score.ErrInvalidScore)
	assert.NoError(t, attempts[2])

	invalid := logs.FilterMessage("Invalid judge response").All()
	require.Len(t, invalid, 2)
	assert.Equal(t, "malformed", invalid[0].ContextMap()["reason"])
	assert.Equal(t, "length-mismatch", invalid[1].ContextMap()["reason"])
}

func TestScoreListUnavailableAfterMaxAttempts(t *testing.T) {
	gen := &scripted{responses: []string{"no idea"}}
	j := New(gen, Options{MaxAttempts: 4}, nil)

	_, err := j.ScoreList(context.Background(), "score", 3, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJudgeUnavailable)
	assert.ErrorIs(t, err, score.ErrInvalidScore)
	assert.Equal(t, 4, gen.calls)
}

func TestScoreListEmptyBatchSkipsJudge(t *testing.T) {
	gen := &scripted{responses: []string{"[1]"}}
	j := New(gen, Options{}, nil)

	got, err := j.ScoreList(context.Background(), "score", 0, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, gen.calls)
}

func TestScoreListGeneratorErrorIsNotRetried(t *testing.T) {
	boom := errors.New("connection refused")
	calls := 0
	gen := llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
		calls++
		return "", boom
	})
	j := New(gen, Options{}, nil)

	_, err := j.ScoreList(context.Background(), "score", 1, 1)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrJudgeUnavailable)
	assert.Equal(t, 1, calls)
}

func TestScoreScalar(t *testing.T) {
	gen := &scripted{responses: []string{"much relevant", "9", "6"}}
	j := New(gen, Options{}, nil)

	got, err := j.ScoreScalar(context.Background(), "relevant?", 2)
	require.NoError(t, err)
	assert.InDelta(t, 7.5, got, 1e-9)
}

func TestJudgeForwardsRequestSettings(t *testing.T) {
	var seen llm.Request
	gen := llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		seen = req
		return "[5]", nil
	})
	j := New(gen, Options{Model: "judge-model", Temperature: 0.3, MaxTokens: 64}, nil)

	_, err := j.ScoreList(context.Background(), "rate it", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "rate it", seen.Prompt)
	assert.Equal(t, "judge-model", seen.Model)
	assert.Equal(t, 64, seen.MaxTokens)
}
