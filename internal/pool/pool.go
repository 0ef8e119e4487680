package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/internal/record"
)

// Threshold is the minimum averaged score a record needs on one dimension.
// A negative Min disables the dimension: it is never scored and never rejects.
type Threshold struct {
	Dimension string
	Min       float64
}

// Scheme defines the scoring dimensions of a pool.
type Scheme interface {
	// ScorePrompts builds one judge prompt per dimension for the whole batch.
	ScorePrompts(batch []record.Record) (map[string]string, error)
	// ScoreThresholds lists dimensions in evaluation order.
	ScoreThresholds() []Threshold
	// PromptKeyNames names the record fields logged when a dimension rejects.
	PromptKeyNames() map[string][]string
}

// Scorer returns n averaged scores for a prompt.
type Scorer interface {
	ScoreList(ctx context.Context, prompt string, n, repeat int) ([]float64, error)
}

var ErrMissingPrompt = errors.New("scheme produced no prompt for dimension")

type Options struct {
	Size     int
	Repeat   int
	Parallel bool
	Sink     events.Sink
}

// Pool buffers candidate records and scores them in batches.
// It is not safe for concurrent use.
type Pool struct {
	scheme Scheme
	scorer Scorer
	opts   Options
	logger *zap.Logger

	buf []record.Record
}

func New(scheme Scheme, scorer Scorer, opts Options, logger *zap.Logger) (*Pool, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("pool size must be positive, got %d", opts.Size)
	}
	if opts.Repeat < 1 {
		opts.Repeat = 1
	}
	if opts.Sink == nil {
		opts.Sink = events.Nop
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		scheme: scheme,
		scorer: scorer,
		opts:   opts,
		logger: logger,
		buf:    make([]record.Record, 0, opts.Size),
	}, nil
}

func (p *Pool) Len() int { return len(p.buf) }

func (p *Pool) Size() int { return p.opts.Size }

func (p *Pool) SetSink(s events.Sink) {
	if s == nil {
		s = events.Nop
	}
	p.opts.Sink = s
}

// Submit buffers r. When the buffer reaches the pool size, or final is set,
// the buffer is flushed and the records that cleared every dimension are
// returned. Otherwise the result is empty.
func (p *Pool) Submit(ctx context.Context, r record.Record, final bool) ([]record.Record, error) {
	p.buf = append(p.buf, r)
	p.opts.Sink.Handle(ctx, events.Event{Kind: events.KindSubmitted})

	if !final && len(p.buf) < p.opts.Size {
		return nil, nil
	}
	return p.Flush(ctx)
}

// Flush scores everything buffered and empties the buffer, whether or not
// scoring succeeds.
func (p *Pool) Flush(ctx context.Context) ([]record.Record, error) {
	batch := p.buf
	p.buf = make([]record.Record, 0, p.opts.Size)

	if len(batch) == 0 {
		return nil, nil
	}

	start := time.Now()
	thresholds := p.scheme.ScoreThresholds()

	scores, err := p.scoreAll(ctx, batch, thresholds)
	if err != nil {
		p.logger.Error("Flush failed, dropping batch",
			zap.Int("batch", len(batch)),
			zap.Error(err),
		)
		p.opts.Sink.Handle(ctx, events.Event{
			Kind:     events.KindFlushed,
			Batch:    len(batch),
			Duration: time.Since(start),
			Error:    err.Error(),
		})
		return nil, err
	}

	keyNames := p.scheme.PromptKeyNames()
	rejected := make([]bool, len(batch))

	for d, th := range thresholds {
		if th.Min < 0 {
			continue
		}
		for i, s := range scores[d] {
			if rejected[i] || s >= th.Min {
				continue
			}
			rejected[i] = true

			fields := logFields(batch[i], keyNames[th.Dimension])
			p.logger.Warn("Record rejected by score threshold",
				append(fields,
					zap.String("dimension", th.Dimension),
					zap.Float64("score", s),
					zap.Float64("threshold", th.Min),
				)...,
			)
			text := fieldText(batch[i], keyNames[th.Dimension])
			p.opts.Sink.Handle(ctx, events.Event{
				Kind:  events.KindRejected,
				Stage: th.Dimension,
				Text:  text,
				Score: s,
			})
		}
	}

	out := make([]record.Record, 0, len(batch))
	for i, r := range batch {
		if !rejected[i] {
			out = append(out, r)
		}
	}

	p.logger.Debug("Pool flushed",
		zap.Int("batch", len(batch)),
		zap.Int("accepted", len(out)),
		zap.Duration("duration", time.Since(start)),
	)
	p.opts.Sink.Handle(ctx, events.Event{
		Kind:     events.KindFlushed,
		Batch:    len(batch),
		Accepted: len(out),
		Duration: time.Since(start),
	})

	return out, nil
}

// scoreAll scores every enabled dimension before any rejection is decided.
func (p *Pool) scoreAll(ctx context.Context, batch []record.Record, thresholds []Threshold) ([][]float64, error) {
	prompts, err := p.scheme.ScorePrompts(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to build score prompts: %w", err)
	}

	scores := make([][]float64, len(thresholds))
	score := func(ctx context.Context, d int) error {
		th := thresholds[d]
		if th.Min < 0 {
			scores[d] = make([]float64, len(batch))
			return nil
		}
		prompt, ok := prompts[th.Dimension]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingPrompt, th.Dimension)
		}
		s, err := p.scorer.ScoreList(ctx, prompt, len(batch), p.opts.Repeat)
		if err != nil {
			return fmt.Errorf("failed to score dimension %s: %w", th.Dimension, err)
		}
		if len(s) != len(batch) {
			return fmt.Errorf("dimension %s: got %d scores for %d records", th.Dimension, len(s), len(batch))
		}
		scores[d] = s
		return nil
	}

	if !p.opts.Parallel {
		for d := range thresholds {
			if err := score(ctx, d); err != nil {
				return nil, err
			}
		}
		return scores, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for d := range thresholds {
		g.Go(func() error { return score(gctx, d) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func logFields(r record.Record, keys []string) []zap.Field {
	fields := make([]zap.Field, 0, len(keys)+3)
	for _, k := range keys {
		if v, ok := r.String(k); ok {
			fields = append(fields, zap.String(k, v))
		}
	}
	return fields
}

func fieldText(r record.Record, keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	v, _ := r.String(keys[0])
	return v
}
