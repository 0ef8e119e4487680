package score

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidScore is matched by every *ParseError.
var ErrInvalidScore = errors.New("invalid score response")

type Reason string

const (
	ReasonMalformed      Reason = "malformed"
	ReasonNonNumeric     Reason = "non-numeric"
	ReasonLengthMismatch Reason = "length-mismatch"
	ReasonSyntax         Reason = "syntax"
)

type ParseError struct {
	Reason Reason
	Text   string
	Want   int
	Got    int
	Detail string
}

func (e *ParseError) Error() string {
	switch e.Reason {
	case ReasonLengthMismatch:
		return fmt.Sprintf("score list length mismatch: got %d, want %d", e.Got, e.Want)
	case ReasonSyntax:
		return fmt.Sprintf("score list syntax error: %s", e.Detail)
	case ReasonNonNumeric:
		return "score items must be numeric"
	default:
		return fmt.Sprintf("malformed score response %q", e.Text)
	}
}

func (e *ParseError) Is(target error) bool {
	return target == ErrInvalidScore
}

// ParseList parses a judge response of the form "[8, 3, 10]" holding exactly
// n non-negative integers. A single trailing comma is tolerated.
func ParseList(text string, n int) ([]int, error) {
	s := strings.TrimSpace(text)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, &ParseError{Reason: ReasonMalformed, Text: text}
	}

	interior := s[1 : len(s)-1]
	if !onlyDigits(strings.Map(dropSeparators, interior)) {
		return nil, &ParseError{Reason: ReasonNonNumeric, Text: text}
	}

	items := strings.Split(interior, ",")
	if len(items) > 1 && strings.TrimSpace(items[len(items)-1]) == "" {
		items = items[:len(items)-1]
	}

	scores := make([]int, 0, len(items))
	for i, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || strings.IndexFunc(item, unicode.IsSpace) >= 0 {
			return nil, &ParseError{Reason: ReasonSyntax, Text: text, Detail: fmt.Sprintf("item %d is %q", i, item)}
		}
		v, err := strconv.Atoi(item)
		if err != nil {
			return nil, &ParseError{Reason: ReasonSyntax, Text: text, Detail: err.Error()}
		}
		scores = append(scores, v)
	}

	if len(scores) != n {
		return nil, &ParseError{Reason: ReasonLengthMismatch, Text: text, Want: n, Got: len(scores)}
	}
	return scores, nil
}

// ParseScalar accepts a one or two digit score such as "7" or "10".
func ParseScalar(text string) (int, error) {
	s := strings.TrimSpace(text)
	if len(s) == 0 || len(s) > 2 || !onlyDigits(s) {
		return 0, &ParseError{Reason: ReasonMalformed, Text: text}
	}
	v, _ := strconv.Atoi(s)
	return v, nil
}

func dropSeparators(r rune) rune {
	if r == ',' || unicode.IsSpace(r) {
		return -1
	}
	return r
}

func onlyDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
