package evaluation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/record"
)

// Evaluator scores a fine-tuned model one test record at a time.
type Evaluator interface {
	// Forward runs inference for r and returns the predicted and gold labels.
	Forward(ctx context.Context, r record.Record) (pred, gold []string, err error)
	Metric(pred, gold []string) map[string]float64
	IsWrong(pred, gold []string) bool
}

type Report struct {
	Total   int
	Wrong   int
	Metrics map[string]float64
}

// Run evaluates every record in testPath and returns the metrics averaged
// over the dataset. Records the evaluator gets wrong are written to
// wrongPath as JSONL, replacing any previous content.
func Run(ctx context.Context, ev Evaluator, testPath, wrongPath string, logger *zap.Logger) (*Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dataset, err := record.LoadFile(testPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load test set: %w", err)
	}
	logger.Info("Running dataset evaluation", zap.String("path", testPath), zap.Int("items", len(dataset)))

	report := &Report{Total: len(dataset), Metrics: map[string]float64{}}
	wrong := record.Dataset{}

	for i, r := range dataset {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pred, gold, err := ev.Forward(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		for k, v := range ev.Metric(pred, gold) {
			report.Metrics[k] += v
		}
		if ev.IsWrong(pred, gold) {
			wrong = append(wrong, r)
		}

		logger.Debug("Evaluated item",
			zap.Int("index", i+1),
			zap.Int("total", len(dataset)),
			zap.Strings("pred", pred),
			zap.Strings("gold", gold),
		)
	}

	if report.Total > 0 {
		for k := range report.Metrics {
			report.Metrics[k] /= float64(report.Total)
		}
	}
	report.Wrong = len(wrong)

	if wrongPath != "" {
		if err := record.SaveJSONL(wrongPath, wrong); err != nil {
			return nil, fmt.Errorf("failed to write wrong examples: %w", err)
		}
	}

	logger.Info("Dataset evaluation completed",
		zap.Int("total", report.Total),
		zap.Int("wrong", report.Wrong),
		zap.Any("metrics", report.Metrics),
	)
	return report, nil
}

// Format renders the report with one metric per line in name order.
func (r *Report) Format() string {
	names := make([]string, 0, len(r.Metrics))
	for k := range r.Metrics {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		fmt.Fprintf(&b, "\t%s: %0.4f\n", k, r.Metrics[k])
	}
	fmt.Fprintf(&b, "\ttest dataset size: %d\n", r.Total)
	fmt.Fprintf(&b, "\twrong dataset size: %d\n", r.Wrong)
	return b.String()
}
