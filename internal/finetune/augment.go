package finetune

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/curate"
	"github.com/intent-curator/backend/internal/llm"
)

// NamedRewriter pairs a rewriter with the name it is reported under.
type NamedRewriter struct {
	Name string
	curate.Rewriter
}

// CuratorAugmenter paraphrases wrong examples with every rewriter in turn and
// appends the accepted paraphrases to the train file.
type CuratorAugmenter struct {
	pool      curate.Submitter
	rewriters []NamedRewriter
	gen       llm.Generator
	curate    curate.Options
	augment   curate.AugmentOptions
	logger    *zap.Logger
}

func NewCuratorAugmenter(p curate.Submitter, rewriters []NamedRewriter, gen llm.Generator, copts curate.Options, aopts curate.AugmentOptions, logger *zap.Logger) *CuratorAugmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CuratorAugmenter{pool: p, rewriters: rewriters, gen: gen, curate: copts, augment: aopts, logger: logger}
}

func (a *CuratorAugmenter) Augment(ctx context.Context, wrongPath, trainPath string) (int, error) {
	opts := a.augment
	opts.OutputPath = trainPath
	opts.Resume = false

	total := 0
	for _, rw := range a.rewriters {
		c, err := curate.FromFile(wrongPath, true, a.curate, a.logger)
		if err != nil {
			return total, err
		}
		accepted, err := c.Augment(ctx, a.pool, rw, a.gen, opts)
		total += len(accepted)
		if err != nil {
			return total, fmt.Errorf("rewriter %s: %w", rw.Name, err)
		}
		a.logger.Info("Wrong examples augmented",
			zap.String("rewriter", rw.Name),
			zap.Int("accepted", len(accepted)),
		)
	}
	return total, nil
}
