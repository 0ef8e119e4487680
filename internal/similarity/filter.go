package similarity

import (
	"strings"

	"go.uber.org/zap"

	"github.com/intent-curator/backend/pkg/config"
)

// References is the session's growing set of accepted, segmented texts.
// It is owned by a single writer.
type References struct {
	items [][]string
}

func (r *References) Add(tokens []string) {
	r.items = append(r.items, append([]string(nil), tokens...))
}

func (r *References) Len() int { return len(r.items) }

func (r *References) At(i int) []string { return r.items[i] }

type Verdict struct {
	Novel     bool
	Score     float64
	Reference int
}

// Filter rejects candidates whose overlap with any reference exceeds Threshold.
// A Threshold <= 0 accepts everything.
type Filter struct {
	Variant   Variant
	Metric    Metric
	Threshold float64
	logger    *zap.Logger
}

func NewFilter(variant Variant, metric Metric, threshold float64, logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{Variant: variant, Metric: metric, Threshold: threshold, logger: logger}
}

func FilterFromConfig(cfg config.NoveltyConfig, logger *zap.Logger) (*Filter, error) {
	variant, err := ParseVariant(cfg.Variant)
	if err != nil {
		return nil, err
	}
	metric, err := ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	return NewFilter(variant, metric, cfg.Threshold, logger), nil
}

// Check scans references in order and stops at the first one scoring above
// the threshold.
func (f *Filter) Check(candidate []string, refs *References) Verdict {
	if f.Threshold <= 0 || refs == nil {
		return Verdict{Novel: true, Reference: -1}
	}

	for i, ref := range refs.items {
		s := Rouge(f.Variant, candidate, ref).Get(f.Metric)
		if s > f.Threshold {
			f.logger.Warn("Repetitive input",
				zap.String("input", strings.Join(candidate, " ")),
				zap.String("reference", strings.Join(ref, " ")),
				zap.String("variant", string(f.Variant)),
				zap.Float64("score", s),
			)
			return Verdict{Novel: false, Score: s, Reference: i}
		}
	}
	return Verdict{Novel: true, Reference: -1}
}

// IsNovel reports whether candidate clears the filter.
func (f *Filter) IsNovel(candidate []string, refs *References) bool {
	return f.Check(candidate, refs).Novel
}
