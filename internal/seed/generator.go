package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/judge"
	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/prompt"
	"github.com/intent-curator/backend/internal/record"
	"github.com/intent-curator/backend/pkg/config"
)

// RelevanceScorer rates how plausibly a set of queries fits one user question.
type RelevanceScorer interface {
	ScoreScalar(ctx context.Context, prompt string, repeat int) (float64, error)
}

type Options struct {
	Count        int
	MaxQueries   int
	MinRelevance float64
	RandomSeed   uint64
	// OutputPath is rewritten after every accepted seed when set.
	OutputPath string
	Request    llm.Request
	// MaxDraws bounds sampling when the mapping cannot yield Count distinct sets.
	MaxDraws int
}

func OptionsFromConfig(sc config.SeedConfig) Options {
	return Options{
		Count:        sc.Count,
		MaxQueries:   sc.MaxQueries,
		MinRelevance: float64(sc.MinRelevance),
		RandomSeed:   sc.RandomSeed,
		OutputPath:   sc.OutputPath,
	}
}

// Generator builds seed records by sampling query sets from a mapping and
// asking the LLM for a user question that expresses them.
type Generator struct {
	gen     llm.Generator
	judge   RelevanceScorer
	mapping *Mapping
	opts    Options
	rng     *rand.Rand
	logger  *zap.Logger
}

func NewGenerator(gen llm.Generator, rel RelevanceScorer, mapping *Mapping, opts Options, logger *zap.Logger) *Generator {
	if opts.Count <= 0 {
		opts.Count = 100
	}
	if opts.MaxQueries <= 0 {
		opts.MaxQueries = 1
	}
	if opts.MaxQueries > len(mapping.Queries) {
		opts.MaxQueries = len(mapping.Queries)
	}
	if opts.MaxDraws <= 0 {
		opts.MaxDraws = opts.Count * 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		gen:     gen,
		judge:   rel,
		mapping: mapping,
		opts:    opts,
		rng:     rand.New(rand.NewPCG(opts.RandomSeed, opts.RandomSeed^0x9e3779b97f4a7c15)),
		logger:  logger,
	}
}

// Generate returns up to Count seed records with fields instruction, input,
// query and output.
func (g *Generator) Generate(ctx context.Context) (record.Dataset, error) {
	if len(g.mapping.Queries) == 0 {
		return nil, ErrEmptyMapping
	}
	instruction := prompt.IntentInstructionFor(g.mapping.Intents())
	dataset := record.Dataset{}
	seen := map[string]bool{}

	for draw := 0; len(dataset) < g.opts.Count; draw++ {
		if draw >= g.opts.MaxDraws {
			g.logger.Warn("Seed sampling budget exhausted",
				zap.Int("generated", len(dataset)),
				zap.Int("wanted", g.opts.Count),
			)
			break
		}
		if err := ctx.Err(); err != nil {
			return dataset, err
		}

		queries := g.sample()
		key := strings.Join(queries, "\x00")
		if seen[key] {
			g.logger.Warn("Repetitive query set", zap.Strings("queries", queries))
			continue
		}
		seen[key] = true

		if len(queries) > 1 {
			ok, err := g.relevant(ctx, queries)
			if err != nil {
				return dataset, err
			}
			if !ok {
				continue
			}
		}

		question, err := g.question(ctx, queries)
		if err != nil {
			return dataset, err
		}
		if question == "" {
			continue
		}

		r := record.FromStrings("instruction", instruction, "input", question)
		if err := r.Set("query", queries); err != nil {
			return dataset, err
		}
		if err := r.Set("output", g.intentsOf(queries)); err != nil {
			return dataset, err
		}
		dataset = append(dataset, r)

		g.logger.Info("Seed generated",
			zap.Int("count", len(dataset)),
			zap.Int("wanted", g.opts.Count),
			zap.String("input", question),
			zap.Strings("queries", queries),
		)
		if g.opts.OutputPath != "" {
			if err := record.SaveJSON(g.opts.OutputPath, dataset, 4); err != nil {
				return dataset, err
			}
		}
	}
	return dataset, nil
}

// sample draws 1..MaxQueries distinct queries, sorted so equal sets compare equal.
func (g *Generator) sample() []string {
	k := 1 + g.rng.IntN(g.opts.MaxQueries)
	perm := g.rng.Perm(len(g.mapping.Queries))[:k]
	out := make([]string, k)
	for i, p := range perm {
		out[i] = g.mapping.Queries[p]
	}
	sort.Strings(out)
	return out
}

func (g *Generator) relevant(ctx context.Context, queries []string) (bool, error) {
	text, err := prompt.Render(prompt.Relevant, prompt.RelevantData{Intentions: queries})
	if err != nil {
		return false, err
	}
	score, err := g.judge.ScoreScalar(ctx, text, 1)
	if errors.Is(err, judge.ErrJudgeUnavailable) {
		g.logger.Error("Relevance response is not valid", zap.Strings("queries", queries), zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("relevance check failed: %w", err)
	}
	if score < g.opts.MinRelevance {
		g.logger.Warn("Query set relevance too low",
			zap.Strings("queries", queries),
			zap.Float64("score", score),
			zap.Float64("min", g.opts.MinRelevance),
		)
		return false, nil
	}
	return true, nil
}

func (g *Generator) question(ctx context.Context, queries []string) (string, error) {
	text, err := prompt.Render(prompt.Example, prompt.ExampleData{Keywords: queries})
	if err != nil {
		return "", err
	}
	req := g.opts.Request
	req.Prompt = text
	out, err := g.gen.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to generate seed question: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (g *Generator) intentsOf(queries []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, q := range queries {
		name := g.mapping.Intent(q)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
