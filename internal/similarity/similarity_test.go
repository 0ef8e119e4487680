package similarity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func toks(s string) []string { return strings.Fields(s) }

func TestRougeVariants(t *testing.T) {
	cand := toks("the cat sat on the mat")
	ref := toks("the cat lay on the mat")

	r1 := Rouge(Rouge1, cand, ref)
	assert.InDelta(t, 4.0/5, r1.P, 1e-9)
	assert.InDelta(t, 4.0/5, r1.R, 1e-9)
	assert.InDelta(t, 4.0/5, r1.F, 1e-9)

	r2 := Rouge(Rouge2, cand, ref)
	assert.InDelta(t, 3.0/5, r2.F, 1e-9)

	rl := Rouge(RougeL, toks("a b c d"), toks("a c d"))
	assert.InDelta(t, 3.0/4, rl.P, 1e-9)
	assert.InDelta(t, 1.0, rl.R, 1e-9)
	// beta = P/R = 0.75
	assert.InDelta(t, 1.5625*0.75/(1+0.5625*0.75), rl.F, 1e-9)
}

func TestRougeRepeatedTokens(t *testing.T) {
	cand := toks("a a a")
	ref := toks("a b")

	r1 := Rouge(Rouge1, cand, ref)
	assert.InDelta(t, 1.0, r1.P, 1e-9)
	assert.InDelta(t, 0.5, r1.R, 1e-9)

	rl := Rouge(RougeL, cand, ref)
	assert.InDelta(t, 1.0, rl.P, 1e-9)
	assert.InDelta(t, 0.5, rl.R, 1e-9)
	// beta = 2
	assert.InDelta(t, 5*0.5/(0.5+4), rl.F, 1e-9)

	r2 := Rouge(Rouge2, toks("a b a b"), toks("a b"))
	assert.InDelta(t, 1.0/2, r2.P, 1e-9)
	assert.InDelta(t, 1.0, r2.R, 1e-9)
}

func TestRougeDegenerate(t *testing.T) {
	assert.Equal(t, Scores{}, Rouge(RougeL, nil, toks("a")))
	assert.Equal(t, Scores{}, Rouge(Rouge2, toks("a"), toks("a")))
	assert.Equal(t, Scores{}, Rouge(Rouge1, toks("a"), toks("b")))
}

func TestRougeIdentical(t *testing.T) {
	for _, v := range []Variant{Rouge1, Rouge2, RougeL} {
		s := Rouge(v, toks("查 一下 话费"), toks("查 一下 话费"))
		assert.InDelta(t, 1.0, s.F, 1e-9, string(v))
	}
}

func TestFilterRejectsRepeat(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := NewFilter(RougeL, Recall, 0.7, zap.New(core))
	refs := &References{}

	first := toks("查 一下 本月 话费")
	require.True(t, f.IsNovel(first, refs))
	refs.Add(first)

	v := f.Check(toks("查 一下 本月 话费"), refs)
	assert.False(t, v.Novel)
	assert.InDelta(t, 1.0, v.Score, 1e-9)
	assert.Equal(t, 0, v.Reference)
	require.Equal(t, 1, logs.FilterMessage("Repetitive input").Len())

	assert.True(t, f.IsNovel(toks("流量 还 剩 多少"), refs))
}

func TestFilterShortCircuits(t *testing.T) {
	f := NewFilter(Rouge1, F1, 0.5, nil)
	refs := &References{}
	refs.Add(toks("a b c"))
	refs.Add(toks("a b c d"))

	v := f.Check(toks("a b c"), refs)
	assert.False(t, v.Novel)
	assert.Equal(t, 0, v.Reference)
}

func TestFilterDisabled(t *testing.T) {
	refs := &References{}
	refs.Add(toks("a b c"))

	for _, threshold := range []float64{0, -1} {
		f := NewFilter(RougeL, F1, threshold, nil)
		assert.True(t, f.IsNovel(toks("a b c"), refs))
	}
}

func TestParseVariantAndMetric(t *testing.T) {
	v, err := ParseVariant("rouge-2")
	require.NoError(t, err)
	assert.Equal(t, Rouge2, v)
	_, err = ParseVariant("bleu")
	assert.Error(t, err)

	m, err := ParseMetric("p")
	require.NoError(t, err)
	assert.Equal(t, Precision, m)
	_, err = ParseMetric("x")
	assert.Error(t, err)
}
