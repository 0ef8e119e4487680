package segment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhitespace(t *testing.T) {
	assert.Equal(t, []string{"check", "my", "bill"}, Whitespace{}.Segment("  check my\tbill\n"))
	assert.Empty(t, Whitespace{}.Segment("   "))
}

func TestMixedLatin(t *testing.T) {
	m, err := NewMixed()
	require.NoError(t, err)

	assert.Equal(t, []string{"how", "much", "data", "is", "left"}, m.Segment("How much data is left?"))
}

func TestMixedHan(t *testing.T) {
	m, err := NewMixed()
	require.NoError(t, err)

	text := "我想查一下这个月的话费。"
	tokens := m.Segment(text)
	require.NotEmpty(t, tokens)
	assert.Greater(t, len(tokens), 1, "Han text should split into several words")
	assert.Equal(t, "我想查一下这个月的话费", strings.Join(tokens, ""))
}

func TestByName(t *testing.T) {
	s, err := ByName("whitespace")
	require.NoError(t, err)
	assert.IsType(t, Whitespace{}, s)

	_, err = ByName("jieba")
	assert.Error(t, err)
}
