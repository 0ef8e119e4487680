package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/score"
	"github.com/intent-curator/backend/pkg/config"
	"github.com/intent-curator/backend/pkg/retry"
)

// ErrJudgeUnavailable is returned when the judge keeps answering with
// unparsable scores until the attempt budget runs out.
var ErrJudgeUnavailable = errors.New("judge unavailable")

const DefaultMaxAttempts = 10

type Options struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// OnAttempt observes every judge round-trip; err is nil for a valid parse.
	OnAttempt func(err error)
}

func OptionsFromConfig(cfg config.JudgeConfig) Options {
	return Options{
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
	}
}

// Judge turns free-text generations into validated numeric scores.
type Judge struct {
	gen    llm.Generator
	opts   Options
	logger *zap.Logger
}

func New(gen llm.Generator, opts Options, logger *zap.Logger) *Judge {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Judge{gen: gen, opts: opts, logger: logger}
}

// ScoreList asks the judge for n scores, retrying malformed answers, and
// returns the element-wise mean over repeat validated rounds.
func (j *Judge) ScoreList(ctx context.Context, prompt string, n, repeat int) ([]float64, error) {
	if n == 0 {
		return []float64{}, nil
	}
	if repeat < 1 {
		repeat = 1
	}

	sum := make([]float64, n)
	for round := 0; round < repeat; round++ {
		scores, err := ask(ctx, j, prompt, func(text string) ([]int, error) {
			return score.ParseList(text, n)
		})
		if err != nil {
			return nil, err
		}
		for i, s := range scores {
			sum[i] += float64(s)
		}
	}

	for i := range sum {
		sum[i] /= float64(repeat)
	}
	return sum, nil
}

// ScoreScalar is the single-record variant of ScoreList.
func (j *Judge) ScoreScalar(ctx context.Context, prompt string, repeat int) (float64, error) {
	if repeat < 1 {
		repeat = 1
	}

	var sum float64
	for round := 0; round < repeat; round++ {
		s, err := ask(ctx, j, prompt, score.ParseScalar)
		if err != nil {
			return 0, err
		}
		sum += float64(s)
	}
	return sum / float64(repeat), nil
}

func ask[T any](ctx context.Context, j *Judge, prompt string, parse func(string) (T, error)) (T, error) {
	cfg := retry.Config{
		MaxAttempts:     j.opts.MaxAttempts,
		InitialDelay:    j.opts.InitialDelay,
		MaxDelay:        j.opts.MaxDelay,
		Multiplier:      2.0,
		JitterFraction:  0.1,
		RetryableErrors: []error{score.ErrInvalidScore},
		Logger:          j.logger,
	}

	result, err := retry.DoWithResult(ctx, cfg, func(ctx context.Context) (T, error) {
		var zero T
		text, err := j.gen.Generate(ctx, llm.Request{
			Prompt:      prompt,
			Model:       j.opts.Model,
			Temperature: j.opts.Temperature,
			MaxTokens:   j.opts.MaxTokens,
		})
		if err != nil {
			return zero, fmt.Errorf("judge generation failed: %w", err)
		}

		v, err := parse(text)
		if j.opts.OnAttempt != nil {
			j.opts.OnAttempt(err)
		}
		if err != nil {
			var pe *score.ParseError
			if errors.As(err, &pe) {
				j.logger.Warn("Invalid judge response",
					zap.String("reason", string(pe.Reason)),
					zap.String("response", text),
					zap.Error(err),
				)
			}
			return zero, err
		}
		return v, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrJudgeUnavailable, err)
	}
	return result, err
}
