package curate

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/internal/record"
	"github.com/intent-curator/backend/internal/segment"
	"github.com/intent-curator/backend/internal/similarity"
	"github.com/intent-curator/backend/pkg/config"
)

// OriginalInputKey records the seed text a paraphrase was derived from.
const OriginalInputKey = "original_input"

// Submitter is the batching quality gate records pass through after the
// novelty filter. *pool.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, r record.Record, final bool) ([]record.Record, error)
	Flush(ctx context.Context) ([]record.Record, error)
}

type Options struct {
	TextKey string
	// MaxLength rejects texts longer than this many characters. Zero disables the check.
	MaxLength int
	Filter    *similarity.Filter
	Segmenter segment.Segmenter
	Sink      events.Sink
}

func OptionsFromConfig(cc config.CurateConfig, filter *similarity.Filter, seg segment.Segmenter) Options {
	return Options{
		TextKey:   cc.TextKey,
		MaxLength: cc.MaxLength,
		Filter:    filter,
		Segmenter: seg,
	}
}

// Curator owns a working dataset and the session's reference set.
// It is not safe for concurrent use.
type Curator struct {
	dataset record.Dataset
	refs    *similarity.References
	opts    Options
	logger  *zap.Logger
}

// FromDataset builds a curator over ds. With withRefs every seed text is
// segmented into the reference set, so later candidates must be novel with
// respect to the seeds as well. Cleansing a dataset against its own
// references would reject every record; cleanse with withRefs false.
func FromDataset(ds record.Dataset, withRefs bool, opts Options, logger *zap.Logger) (*Curator, error) {
	if opts.TextKey == "" {
		opts.TextKey = "input"
	}
	if opts.Segmenter == nil {
		opts.Segmenter = segment.Whitespace{}
	}
	if opts.Filter == nil {
		opts.Filter = similarity.NewFilter(similarity.RougeL, similarity.Recall, 0, logger)
	}
	if opts.Sink == nil {
		opts.Sink = events.Nop
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Curator{
		dataset: ds,
		refs:    &similarity.References{},
		opts:    opts,
		logger:  logger,
	}
	if withRefs {
		texts, err := ds.Texts(opts.TextKey)
		if err != nil {
			return nil, err
		}
		for _, t := range texts {
			c.refs.Add(opts.Segmenter.Segment(t))
		}
	}
	return c, nil
}

func FromFile(path string, withRefs bool, opts Options, logger *zap.Logger) (*Curator, error) {
	ds, err := record.LoadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := FromDataset(ds, withRefs, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.logger.Info("Dataset loaded",
		zap.String("path", path),
		zap.Int("records", len(ds)),
		zap.Int("references", c.refs.Len()),
	)
	return c, nil
}

func (c *Curator) Dataset() record.Dataset { return c.dataset }

func (c *Curator) References() *similarity.References { return c.refs }

// SetSink replaces the event sink, e.g. to tag events with a run ID.
func (c *Curator) SetSink(s events.Sink) {
	if s == nil {
		s = events.Nop
	}
	c.opts.Sink = s
}

// Cleanse passes every record once through the gates and the pool. The
// accepted records become the curator's dataset and, when outputPath is
// set, are written as one JSON array at the end.
func (c *Curator) Cleanse(ctx context.Context, p Submitter, outputPath string) (record.Dataset, error) {
	source := c.dataset
	out := record.Dataset{}

	for i, r := range source {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		accepted, err := c.insert(ctx, p, r, i == len(source)-1)
		if err != nil {
			return out, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, accepted...)
	}

	c.dataset = out
	c.logger.Info("Cleanse finished",
		zap.Int("input", len(source)),
		zap.Int("accepted", len(out)),
	)

	if outputPath != "" {
		if err := record.SaveJSON(outputPath, out, 4); err != nil {
			return out, err
		}
	}
	return out, nil
}

// insert applies the length and novelty gates, then submits to the pool.
// A gated final record still flushes whatever the pool holds.
func (c *Curator) insert(ctx context.Context, p Submitter, r record.Record, final bool) ([]record.Record, error) {
	text, ok := r.String(c.opts.TextKey)
	if !ok {
		return nil, &record.MissingFieldError{Field: c.opts.TextKey, Index: -1}
	}

	var (
		tokens []string
		stage  string
		score  float64
	)
	switch {
	case strings.TrimSpace(text) == "":
		stage = events.StageEmpty
		c.logger.Warn("Empty user input")
	case c.opts.MaxLength > 0 && utf8.RuneCountInString(text) > c.opts.MaxLength:
		stage = events.StageLength
		c.logger.Warn("User input too long",
			zap.String("input", text),
			zap.Int("length", utf8.RuneCountInString(text)),
			zap.Int("max_length", c.opts.MaxLength),
		)
	default:
		tokens = c.opts.Segmenter.Segment(text)
		if v := c.opts.Filter.Check(tokens, c.refs); !v.Novel {
			stage = events.StageNovelty
			score = v.Score
		}
	}

	var (
		accepted []record.Record
		err      error
	)
	if stage != "" {
		c.opts.Sink.Handle(ctx, events.Event{Kind: events.KindRejected, Stage: stage, Text: text, Score: score})
		if !final {
			return nil, nil
		}
		accepted, err = p.Flush(ctx)
	} else {
		c.refs.Add(tokens)
		accepted, err = p.Submit(ctx, r, final)
	}
	if err != nil {
		return nil, err
	}

	for _, a := range accepted {
		t, _ := a.String(c.opts.TextKey)
		seed, _ := a.String(OriginalInputKey)
		c.logger.Info("Record accepted", zap.String("input", t))
		raw, _ := a.MarshalJSON()
		c.opts.Sink.Handle(ctx, events.Event{Kind: events.KindAccepted, Text: t, Seed: seed, Record: raw})
	}
	return accepted, nil
}
