package finetune

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intent-curator/backend/internal/curate"
	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/pool"
	"github.com/intent-curator/backend/internal/record"
)

type fakeTrainer struct {
	iterations []int
	promoted   []int
}

func (f *fakeTrainer) Train(_ context.Context, _ string, iteration int) error {
	f.iterations = append(f.iterations, iteration)
	return nil
}

func (f *fakeTrainer) Promote(_ context.Context, iteration int) error {
	f.promoted = append(f.promoted, iteration)
	return nil
}

// scriptedEvaluator reports scores[i] for every record during iteration i+1.
type scriptedEvaluator struct {
	trainer *fakeTrainer
	scores  []float64
}

func (e *scriptedEvaluator) Forward(_ context.Context, r record.Record) ([]string, []string, error) {
	return []string{"x"}, []string{"y"}, nil
}

func (e *scriptedEvaluator) Metric(_, _ []string) map[string]float64 {
	return map[string]float64{"f1_score": e.scores[len(e.trainer.iterations)-1]}
}

func (e *scriptedEvaluator) IsWrong(_, _ []string) bool { return true }

type countingAugmenter struct{ calls int }

func (a *countingAugmenter) Augment(_ context.Context, wrongPath, trainPath string) (int, error) {
	a.calls++
	return 3, nil
}

func setup(t *testing.T) LoopOptions {
	t.Helper()
	dir := t.TempDir()
	train := filepath.Join(dir, "train.jsonl")
	test := filepath.Join(dir, "test.jsonl")
	require.NoError(t, os.WriteFile(train, []byte(`{"input":"a"}`+"\n"+`{"input":"b"}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(test, []byte(`{"input":"c","output":["y"]}`+"\n"), 0o644))
	return LoopOptions{TrainFile: train, TestFile: test, MaxIter: 5, Metric: "f1_score", AugThreshold: 0.02}
}

func TestLoopStopsWhenConverged(t *testing.T) {
	opts := setup(t)
	tr := &fakeTrainer{}
	aug := &countingAugmenter{}
	loop := NewLoop(tr, &scriptedEvaluator{trainer: tr, scores: []float64{0.5, 0.6, 0.61}}, aug, opts, nil)

	res, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopConverged, res.StopReason)
	assert.InDelta(t, 0.61, res.Best, 1e-9)
	assert.Equal(t, 3, res.BestIter)
	assert.Equal(t, []int{1, 2, 3}, tr.iterations)
	assert.Equal(t, []int{1, 2, 3}, tr.promoted)
	assert.Equal(t, 2, aug.calls)
	require.Len(t, res.Iterations, 3)
	assert.Equal(t, 3, res.Iterations[0].Augmented)
	assert.Equal(t, 2, res.Iterations[0].TrainSize)
	assert.Equal(t, 1, res.Iterations[0].WrongSize)

	data, err := os.ReadFile(filepath.Join(filepath.Dir(opts.TrainFile), "results.txt"))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "Run "))
	assert.Contains(t, string(data), "Run 2\n\tf1_score: 0.6000\n")
	assert.Contains(t, string(data), "\ttrain dataset size: 2\n\n")

	wrong, err := record.LoadFile(filepath.Join(filepath.Dir(opts.TrainFile), "wrong_data.jsonl"))
	require.NoError(t, err)
	assert.Len(t, wrong, 1)
}

func TestLoopStopsWithoutImprovement(t *testing.T) {
	opts := setup(t)
	tr := &fakeTrainer{}
	aug := &countingAugmenter{}
	loop := NewLoop(tr, &scriptedEvaluator{trainer: tr, scores: []float64{0.5, 0.4}}, aug, opts, nil)

	res, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopNoImprovement, res.StopReason)
	assert.Equal(t, 1, res.BestIter)
	assert.Equal(t, []int{1}, tr.promoted)
	assert.Equal(t, 1, aug.calls)
	assert.Len(t, res.Iterations, 2)
}

func TestLoopMaxIter(t *testing.T) {
	opts := setup(t)
	opts.MaxIter = 2
	tr := &fakeTrainer{}
	aug := &countingAugmenter{}
	loop := NewLoop(tr, &scriptedEvaluator{trainer: tr, scores: []float64{0.3, 0.6}}, aug, opts, nil)

	res, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopMaxIter, res.StopReason)
	assert.Equal(t, 1, aug.calls, "no augmentation after the last iteration")
	assert.Equal(t, 2, res.BestIter)
}

func TestLoopUnknownMetric(t *testing.T) {
	opts := setup(t)
	opts.Metric = "accuracy"
	tr := &fakeTrainer{}
	loop := NewLoop(tr, &scriptedEvaluator{trainer: tr, scores: []float64{0.5}}, &countingAugmenter{}, opts, nil)

	_, err := loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestCommandTrainer(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewCommandTrainer(
		[]string{"sh", "-c", `printf '%s %s {iter}' "$CURATOR_TRAIN_FILE" "$CURATOR_ITERATION" > trained`},
		[]string{"sh", "-c", "printf 'best {iter}' > promoted"},
		dir, nil,
	)
	require.NoError(t, err)

	require.NoError(t, tr.Train(context.Background(), "train.jsonl", 2))
	data, err := os.ReadFile(filepath.Join(dir, "trained"))
	require.NoError(t, err)
	assert.Equal(t, "train.jsonl 2 2", string(data))

	require.NoError(t, tr.Promote(context.Background(), 2))
	data, err = os.ReadFile(filepath.Join(dir, "promoted"))
	require.NoError(t, err)
	assert.Equal(t, "best 2", string(data))

	failing, err := NewCommandTrainer([]string{"sh", "-c", "exit 3"}, nil, dir, nil)
	require.NoError(t, err)
	assert.Error(t, failing.Train(context.Background(), "train.jsonl", 1))
	assert.NoError(t, failing.Promote(context.Background(), 1))

	_, err = NewCommandTrainer(nil, nil, dir, nil)
	assert.Error(t, err)
}

type acceptAll struct{}

func (acceptAll) ScoreList(_ context.Context, _ string, n, _ int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		out[i] = 10
	}
	return out, nil
}

func TestCuratorAugmenterAppendsToTrainFile(t *testing.T) {
	dir := t.TempDir()
	wrong := filepath.Join(dir, "wrong.jsonl")
	train := filepath.Join(dir, "train.jsonl")
	require.NoError(t, os.WriteFile(wrong, []byte(`{"input":"查话费","query":["话费查询"]}`+"\n"), 0o644))
	require.NoError(t, os.WriteFile(train, []byte(`{"input":"old"}`+"\n"), 0o644))

	p, err := pool.New(pool.NewIntentScheme("input", "query", nil), acceptAll{}, pool.Options{Size: 10}, nil)
	require.NoError(t, err)

	answers := map[string]string{"lazy": "话费多少钱", "implicit": "这个月扣了我多少"}
	rewriters := []NamedRewriter{}
	for name := range answers {
		name := name
		rewriters = append(rewriters, NamedRewriter{Name: name, Rewriter: curate.RewriterFunc(func(record.Record, []string) (string, error) {
			return name, nil
		})})
	}
	gen := llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		return answers[req.Prompt], nil
	})

	aug := NewCuratorAugmenter(p, rewriters, gen, curate.Options{TextKey: "input"}, curate.AugmentOptions{Repeat: 1}, nil)
	n, err := aug.Augment(context.Background(), wrong, train)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ds, err := record.LoadFile(train)
	require.NoError(t, err)
	texts, err := ds.Texts("input")
	require.NoError(t, err)
	assert.Len(t, texts, 3)
	assert.Equal(t, "old", texts[0])
	assert.ElementsMatch(t, []string{"话费多少钱", "这个月扣了我多少"}, texts[1:])
}
