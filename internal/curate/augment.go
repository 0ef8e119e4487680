package curate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/checkpoint"
	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/record"
)

// Rewriter builds the paraphrase request for a seed, given the paraphrases
// already produced for it.
type Rewriter interface {
	Rewrite(seed record.Record, history []string) (string, error)
}

type RewriterFunc func(seed record.Record, history []string) (string, error)

func (f RewriterFunc) Rewrite(seed record.Record, history []string) (string, error) {
	return f(seed, history)
}

type AugmentOptions struct {
	OutputPath string
	Repeat     int
	// Resume starts from the index stored in the checkpoint log.
	Resume bool
	// Indent pretty-prints output records when positive.
	Indent int
	// Request carries generation settings; its Prompt is replaced per call.
	Request llm.Request
}

// Augment paraphrases every seed Repeat times and runs each paraphrase
// through the gates and the pool. Accepted records are appended to
// OutputPath as they arrive, and the checkpoint is advanced after each seed
// completes. Resuming re-processes the checkpointed seed.
func (c *Curator) Augment(ctx context.Context, p Submitter, rw Rewriter, gen llm.Generator, opts AugmentOptions) (record.Dataset, error) {
	if opts.OutputPath == "" {
		return nil, fmt.Errorf("augment requires an output path")
	}
	if opts.Repeat < 1 {
		opts.Repeat = 1
	}

	log, err := checkpoint.Open(opts.OutputPath)
	if err != nil {
		return nil, err
	}
	seeds := c.dataset
	start := 0
	if opts.Resume {
		start = min(log.Index(), len(seeds))
	}

	out, err := record.OpenAppender(opts.OutputPath, opts.Indent)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	c.logger.Info("Augmentation started",
		zap.String("output", opts.OutputPath),
		zap.Int("start", start),
		zap.Int("seeds", len(seeds)),
		zap.Int("repeat", opts.Repeat),
	)

	result := record.Dataset{}
	for i := start; i < len(seeds); i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		seed := seeds[i]
		seedText, ok := seed.String(c.opts.TextKey)
		if !ok {
			return result, &record.MissingFieldError{Field: c.opts.TextKey, Index: i}
		}
		if prev, ok := seed.String(OriginalInputKey); ok {
			seedText = prev
		}

		var history []string
		for j := 0; j < opts.Repeat; j++ {
			paraphrase, err := c.paraphrase(ctx, rw, gen, seed, history, opts.Request)
			if err != nil {
				return result, fmt.Errorf("seed %d: %w", i, err)
			}

			candidate := seed.Clone()
			candidate.SetString(c.opts.TextKey, paraphrase)
			if !candidate.Has(OriginalInputKey) {
				candidate.SetString(OriginalInputKey, seedText)
			}
			c.opts.Sink.Handle(ctx, events.Event{Kind: events.KindParaphrase, Text: paraphrase, Seed: seedText, Index: i})

			final := i == len(seeds)-1 && j == opts.Repeat-1
			accepted, err := c.insert(ctx, p, candidate, final)
			if err != nil {
				return result, fmt.Errorf("seed %d: %w", i, err)
			}
			if len(accepted) > 0 {
				if err := out.Append(accepted...); err != nil {
					return result, err
				}
				result = append(result, accepted...)
			}

			history = append(history, paraphrase)
		}

		if err := log.Checkpoint(i); err != nil {
			return result, err
		}
		c.opts.Sink.Handle(ctx, events.Event{Kind: events.KindCheckpoint, Target: log.Target(), Index: i})
	}

	c.logger.Info("Augmentation finished",
		zap.String("output", opts.OutputPath),
		zap.Int("accepted", len(result)),
	)
	return result, nil
}

func (c *Curator) paraphrase(ctx context.Context, rw Rewriter, gen llm.Generator, seed record.Record, history []string, req llm.Request) (string, error) {
	prompt, err := rw.Rewrite(seed, history)
	if err != nil {
		return "", fmt.Errorf("failed to build rewrite prompt: %w", err)
	}
	req.Prompt = prompt
	text, err := gen.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to generate paraphrase: %w", err)
	}
	return strings.TrimSpace(text), nil
}
