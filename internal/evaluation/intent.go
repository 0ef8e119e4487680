package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/prompt"
	"github.com/intent-curator/backend/internal/record"
	"github.com/intent-curator/backend/pkg/retry"
)

// ErrUnparsablePrediction is returned when the model's answer is not a list of labels.
var ErrUnparsablePrediction = errors.New("unparsable prediction")

type IntentOptions struct {
	InstructionKey string
	InputKey       string
	OutputKey      string
	// Request carries the serving model settings; its Prompt is replaced per record.
	Request      llm.Request
	MaxAttempts  int
	InitialDelay time.Duration
}

// IntentEvaluator asks a served fine-tuned model for the intent list of each
// test input using the alpaca layout it was trained on.
type IntentEvaluator struct {
	gen    llm.Generator
	opts   IntentOptions
	logger *zap.Logger
}

func NewIntentEvaluator(gen llm.Generator, opts IntentOptions, logger *zap.Logger) *IntentEvaluator {
	if opts.InstructionKey == "" {
		opts.InstructionKey = "instruction"
	}
	if opts.InputKey == "" {
		opts.InputKey = "input"
	}
	if opts.OutputKey == "" {
		opts.OutputKey = "output"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentEvaluator{gen: gen, opts: opts, logger: logger}
}

func (e *IntentEvaluator) Forward(ctx context.Context, r record.Record) ([]string, []string, error) {
	var gold []string
	if err := r.Decode(e.opts.OutputKey, &gold); err != nil {
		return nil, nil, fmt.Errorf("invalid gold labels: %w", err)
	}
	instruction, ok := r.String(e.opts.InstructionKey)
	if !ok {
		return nil, nil, &record.MissingFieldError{Field: e.opts.InstructionKey, Index: -1}
	}
	input, ok := r.String(e.opts.InputKey)
	if !ok {
		return nil, nil, &record.MissingFieldError{Field: e.opts.InputKey, Index: -1}
	}

	text, err := prompt.Render(prompt.Alpaca, prompt.AlpacaData{Instruction: instruction, Input: input})
	if err != nil {
		return nil, nil, err
	}
	req := e.opts.Request
	req.Prompt = text

	cfg := retry.Config{
		MaxAttempts:     e.opts.MaxAttempts,
		InitialDelay:    e.opts.InitialDelay,
		MaxDelay:        e.opts.InitialDelay,
		Multiplier:      1.0,
		RetryableErrors: []error{ErrUnparsablePrediction},
		Logger:          e.logger,
	}
	pred, err := retry.DoWithResult(ctx, cfg, func(ctx context.Context) ([]string, error) {
		out, err := e.gen.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		labels, err := ParsePrediction(out)
		if err != nil {
			e.logger.Warn("Invalid model prediction", zap.String("input", input), zap.String("response", out))
			return nil, err
		}
		return labels, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return pred, gold, nil
}

// Metric computes set precision, recall and F1 of the predicted intents.
func (e *IntentEvaluator) Metric(pred, gold []string) map[string]float64 {
	goldSet := make(map[string]struct{}, len(gold))
	for _, g := range gold {
		goldSet[g] = struct{}{}
	}
	predSet := make(map[string]struct{}, len(pred))
	for _, p := range pred {
		predSet[p] = struct{}{}
	}
	tp := 0
	for p := range predSet {
		if _, ok := goldSet[p]; ok {
			tp++
		}
	}

	var precision, recall, f1 float64
	if len(pred) > 0 {
		precision = float64(tp) / float64(len(pred))
	}
	if len(gold) > 0 {
		recall = float64(tp) / float64(len(gold))
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return map[string]float64{"precision": precision, "recall": recall, "f1_score": f1}
}

// IsWrong reports whether the predicted intent set differs from the gold set.
func (e *IntentEvaluator) IsWrong(pred, gold []string) bool {
	a := make(map[string]struct{}, len(pred))
	for _, p := range pred {
		a[p] = struct{}{}
	}
	b := make(map[string]struct{}, len(gold))
	for _, g := range gold {
		b[g] = struct{}{}
	}
	if len(a) != len(b) {
		return true
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return true
		}
	}
	return false
}

// ParsePrediction extracts the label list from a completion. Text up to the
// last response marker is dropped, and single-quoted lists are accepted.
func ParsePrediction(text string) ([]string, error) {
	if i := strings.LastIndex(text, prompt.AlpacaResponseMarker); i >= 0 {
		text = text[i+len(prompt.AlpacaResponseMarker):]
	}
	text = strings.TrimSpace(text)

	var labels []string
	if err := json.Unmarshal([]byte(text), &labels); err == nil {
		return labels, nil
	}
	if err := json.Unmarshal([]byte(strings.ReplaceAll(text, "'", `"`)), &labels); err == nil {
		return labels, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnparsablePrediction, text)
}
