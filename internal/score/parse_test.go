package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseList(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		n      int
		want   []int
		reason Reason
	}{
		{name: "valid", text: "[10, 9, 10]", n: 3, want: []int{10, 9, 10}},
		{name: "surrounding whitespace", text: "  [8,3]\n", n: 2, want: []int{8, 3}},
		{name: "multiline", text: "[\n  7,\n  2\n]", n: 2, want: []int{7, 2}},
		{name: "trailing comma", text: "[1, 2,]", n: 2, want: []int{1, 2}},
		{name: "length mismatch", text: "[10, 9]", n: 3, reason: ReasonLengthMismatch},
		{name: "not a list", text: "not a list", n: 3, reason: ReasonMalformed},
		{name: "non numeric", text: "[10, nine, 10]", n: 3, reason: ReasonNonNumeric},
		{name: "negative", text: "[-1, 2]", n: 2, reason: ReasonNonNumeric},
		{name: "decimal", text: "[7.5, 2]", n: 2, reason: ReasonNonNumeric},
		{name: "empty list", text: "[]", n: 0, reason: ReasonNonNumeric},
		{name: "missing separator", text: "[1 2]", n: 2, reason: ReasonSyntax},
		{name: "double comma", text: "[1,,2]", n: 2, reason: ReasonSyntax},
		{name: "wrong brackets", text: "(1, 2)", n: 2, reason: ReasonMalformed},
		{name: "prose around list", text: "Scores: [1, 2]", n: 2, reason: ReasonMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseList(tt.text, tt.n)
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}

			require.ErrorIs(t, err, ErrInvalidScore)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.reason, pe.Reason)
			assert.Nil(t, got)
		})
	}
}

func TestParseListLengthMismatchMessage(t *testing.T) {
	_, err := ParseList("[10, 9]", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 2, want 3")
}

func TestParseScalar(t *testing.T) {
	tests := []struct {
		text string
		want int
		ok   bool
	}{
		{"7", 7, true},
		{" 10\n", 10, true},
		{"100", 0, false},
		{"", 0, false},
		{"8分", 0, false},
		{"a", 0, false},
	}

	for _, tt := range tests {
		got, err := ParseScalar(tt.text)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrInvalidScore, tt.text)
			continue
		}
		require.NoError(t, err, tt.text)
		assert.Equal(t, tt.want, got)
	}
}
