package segment

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-ego/gse"
	"github.com/jdkato/prose/v2"
)

// Segmenter splits text into word tokens.
type Segmenter interface {
	Segment(text string) []string
}

// Whitespace splits on Unicode white space only.
type Whitespace struct{}

func (Whitespace) Segment(text string) []string {
	return strings.Fields(text)
}

// Mixed segments Han text with a dictionary segmenter and everything else
// with an English tokenizer.
type Mixed struct {
	mu  sync.Mutex
	seg gse.Segmenter
}

func NewMixed() (*Mixed, error) {
	m := &Mixed{}
	if err := m.seg.LoadDictEmbed(); err != nil {
		return nil, fmt.Errorf("failed to load segmentation dictionary: %w", err)
	}
	return m, nil
}

func (m *Mixed) Segment(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if containsHan(text) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return dropEmpty(m.seg.Trim(m.seg.Cut(text, true)))
	}
	return latinTokens(text)
}

func latinTokens(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return Whitespace{}.Segment(text)
	}

	var out []string
	for _, tok := range doc.Tokens() {
		if isPunct(tok.Text) {
			continue
		}
		out = append(out, strings.ToLower(tok.Text))
	}
	return out
}

func containsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func isPunct(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

func dropEmpty(tokens []string) []string {
	out := tokens[:0]
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ByName resolves a configured segmenter name.
func ByName(name string) (Segmenter, error) {
	switch name {
	case "", "mixed":
		return NewMixed()
	case "whitespace":
		return Whitespace{}, nil
	default:
		return nil, fmt.Errorf("unknown segmenter %q", name)
	}
}
