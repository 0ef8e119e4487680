package seed

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/intent-curator/backend/internal/judge"
	"github.com/intent-curator/backend/internal/llm"
	"github.com/intent-curator/backend/internal/record"
)

func writeMapping(t *testing.T, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping.xlsx")
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoadMapping(t *testing.T) {
	path := writeMapping(t, [][]string{
		{"query", "name"},
		{"话费", "话费查询"},
		{"流量", "流量查询"},
		{"", "ignored"},
		{"账单", "话费查询"},
	})

	m, err := LoadMapping(path, "", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"话费", "流量", "账单"}, m.Queries)
	assert.Equal(t, "流量查询", m.Intent("流量"))
	assert.Equal(t, []string{"话费查询", "流量查询"}, m.Intents())

	_, err = LoadMapping(writeMapping(t, [][]string{{"query", "name"}}), "", 0, 1)
	assert.ErrorIs(t, err, ErrEmptyMapping)

	_, err = LoadMapping(filepath.Join(t.TempDir(), "missing.xlsx"), "", 0, 1)
	assert.Error(t, err)
}

type fixedRelevance struct {
	score float64
	err   error
	calls int
}

func (f *fixedRelevance) ScoreScalar(context.Context, string, int) (float64, error) {
	f.calls++
	return f.score, f.err
}

func echoQuestion() llm.Generator {
	n := 0
	return llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		n++
		return fmt.Sprintf(" question %d \n", n), nil
	})
}

func testMapping() *Mapping {
	return NewMapping(
		map[string]string{"话费": "话费查询", "账单": "话费查询", "流量": "流量查询"},
		[]string{"话费", "账单", "流量"},
	)
}

func TestGenerateSingleQuerySets(t *testing.T) {
	rel := &fixedRelevance{score: 10}
	out := filepath.Join(t.TempDir(), "seed.json")
	g := NewGenerator(echoQuestion(), rel, testMapping(), Options{Count: 3, MaxQueries: 1, OutputPath: out}, nil)

	ds, err := g.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.Zero(t, rel.calls, "single query sets skip the relevance check")

	seen := map[string]bool{}
	for _, r := range ds {
		assert.Equal(t, []string{"instruction", "input", "query", "output"}, r.Keys())
		var queries, output []string
		require.NoError(t, r.Decode("query", &queries))
		require.NoError(t, r.Decode("output", &output))
		require.Len(t, queries, 1)
		assert.Equal(t, []string{testMapping().Intent(queries[0])}, output)
		seen[queries[0]] = true

		instruction, _ := r.String("instruction")
		assert.True(t, strings.HasSuffix(instruction, `["话费查询","流量查询"]`))
		input, _ := r.String("input")
		assert.True(t, strings.HasPrefix(input, "question "))
	}
	assert.Len(t, seen, 3)

	saved, err := record.LoadFile(out)
	require.NoError(t, err)
	assert.Len(t, saved, 3)
}

func TestGenerateStopsWhenSetsRunOut(t *testing.T) {
	g := NewGenerator(echoQuestion(), &fixedRelevance{score: 10}, testMapping(), Options{Count: 10, MaxQueries: 1, MaxDraws: 50}, nil)

	ds, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, ds, 3)
}

func TestGenerateRelevanceGate(t *testing.T) {
	low := &fixedRelevance{score: 3}
	g := NewGenerator(echoQuestion(), low, testMapping(), Options{Count: 10, MaxQueries: 3, MinRelevance: 7, MaxDraws: 200, RandomSeed: 7}, nil)

	ds, err := g.Generate(context.Background())
	require.NoError(t, err)
	assert.Positive(t, low.calls)
	for _, r := range ds {
		var queries []string
		require.NoError(t, r.Decode("query", &queries))
		assert.Len(t, queries, 1, "multi-query sets below the relevance floor are dropped")
	}

	unavailable := &fixedRelevance{err: fmt.Errorf("%w: exhausted", judge.ErrJudgeUnavailable)}
	g = NewGenerator(echoQuestion(), unavailable, testMapping(), Options{Count: 10, MaxQueries: 3, MaxDraws: 200, RandomSeed: 7}, nil)
	_, err = g.Generate(context.Background())
	require.NoError(t, err)

	broken := &fixedRelevance{err: context.DeadlineExceeded}
	g = NewGenerator(echoQuestion(), broken, testMapping(), Options{Count: 10, MaxQueries: 3, MaxDraws: 200, RandomSeed: 7}, nil)
	_, err = g.Generate(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	run := func() []string {
		g := NewGenerator(echoQuestion(), &fixedRelevance{score: 10}, testMapping(), Options{Count: 4, MaxQueries: 2, RandomSeed: 42}, nil)
		ds, err := g.Generate(context.Background())
		require.NoError(t, err)
		var out []string
		for _, r := range ds {
			q, _ := r.Get("query")
			out = append(out, string(q))
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestGenerateEmptyMapping(t *testing.T) {
	g := NewGenerator(echoQuestion(), &fixedRelevance{}, NewMapping(nil, nil), Options{Count: 1}, nil)
	_, err := g.Generate(context.Background())
	assert.ErrorIs(t, err, ErrEmptyMapping)
}
