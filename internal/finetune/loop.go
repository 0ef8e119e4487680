package finetune

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/evaluation"
	"github.com/intent-curator/backend/internal/record"
)

var ErrUnknownMetric = errors.New("metric not reported by evaluator")

// Stop reasons.
const (
	StopMaxIter       = "max_iter"
	StopNoImprovement = "no_improvement"
	StopConverged     = "converged"
)

// Augmenter grows the train file from the examples the model got wrong.
type Augmenter interface {
	Augment(ctx context.Context, wrongPath, trainPath string) (int, error)
}

type LoopOptions struct {
	TrainFile   string
	TestFile    string
	WrongFile   string
	ResultsFile string
	MaxIter     int
	Metric      string
	// AugThreshold stops the loop once an iteration improves the metric by no more than this.
	AugThreshold float64
}

type Iteration struct {
	Number    int
	Score     float64
	Metrics   map[string]float64
	TrainSize int
	WrongSize int
	Augmented int
}

type Result struct {
	Iterations []Iteration
	Best       float64
	BestIter   int
	StopReason string
}

type Loop struct {
	trainer   Trainer
	evaluator evaluation.Evaluator
	augmenter Augmenter
	opts      LoopOptions
	logger    *zap.Logger
}

func NewLoop(trainer Trainer, ev evaluation.Evaluator, aug Augmenter, opts LoopOptions, logger *zap.Logger) *Loop {
	if opts.MaxIter <= 0 {
		opts.MaxIter = 10
	}
	if opts.Metric == "" {
		opts.Metric = "f1_score"
	}
	dir := filepath.Dir(opts.TrainFile)
	if opts.WrongFile == "" {
		opts.WrongFile = filepath.Join(dir, "wrong_data.jsonl")
	}
	if opts.ResultsFile == "" {
		opts.ResultsFile = filepath.Join(dir, "results.txt")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{trainer: trainer, evaluator: ev, augmenter: aug, opts: opts, logger: logger}
}

// Run alternates training, evaluation and augmentation of wrong examples
// until the metric stops improving by more than AugThreshold or MaxIter
// iterations have run.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	res := &Result{StopReason: StopMaxIter}

	for i := 1; i <= l.opts.MaxIter; i++ {
		if err := l.trainer.Train(ctx, l.opts.TrainFile, i); err != nil {
			return res, fmt.Errorf("iteration %d: %w", i, err)
		}

		report, err := evaluation.Run(ctx, l.evaluator, l.opts.TestFile, l.opts.WrongFile, l.logger)
		if err != nil {
			return res, fmt.Errorf("iteration %d: %w", i, err)
		}
		score, ok := report.Metrics[l.opts.Metric]
		if !ok {
			return res, fmt.Errorf("%w: %q", ErrUnknownMetric, l.opts.Metric)
		}

		it := Iteration{Number: i, Score: score, Metrics: report.Metrics, WrongSize: report.Wrong}
		if train, err := record.LoadFile(l.opts.TrainFile); err == nil {
			it.TrainSize = len(train)
		}
		if err := l.appendResult(it, report); err != nil {
			return res, err
		}

		improvement := score - res.Best
		l.logger.Info("Iteration evaluated",
			zap.Int("iteration", i),
			zap.String("metric", l.opts.Metric),
			zap.Float64("score", score),
			zap.Float64("improvement", improvement),
			zap.Int("wrong", report.Wrong),
		)

		if score <= res.Best {
			res.Iterations = append(res.Iterations, it)
			res.StopReason = StopNoImprovement
			break
		}
		res.Best, res.BestIter = score, i
		if p, ok := l.trainer.(Promoter); ok {
			if err := p.Promote(ctx, i); err != nil {
				return res, fmt.Errorf("iteration %d: %w", i, err)
			}
		}
		if improvement <= l.opts.AugThreshold {
			res.Iterations = append(res.Iterations, it)
			res.StopReason = StopConverged
			break
		}

		if i < l.opts.MaxIter && report.Wrong > 0 {
			n, err := l.augmenter.Augment(ctx, l.opts.WrongFile, l.opts.TrainFile)
			if err != nil {
				return res, fmt.Errorf("iteration %d: %w", i, err)
			}
			it.Augmented = n
		}
		res.Iterations = append(res.Iterations, it)
	}

	l.logger.Info("Refinement loop finished",
		zap.String("reason", res.StopReason),
		zap.Float64("best", res.Best),
		zap.Int("best_iteration", res.BestIter),
	)
	return res, nil
}

func (l *Loop) appendResult(it Iteration, report *evaluation.Report) error {
	f, err := os.OpenFile(l.opts.ResultsFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "Run %d\n%s\ttrain dataset size: %d\n\n", it.Number, report.Format(), it.TrainSize)
	if err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}
