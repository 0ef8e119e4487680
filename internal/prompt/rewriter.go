package prompt

import (
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/intent-curator/backend/internal/record"
)

// Rewriter renders a paraphrase request for a seed record, listing the
// paraphrases already produced for it.
type Rewriter struct {
	Name      string
	tpl       *template.Template
	textKey   string
	intentKey string
}

func NewRewriter(name string, tpl *template.Template, textKey, intentKey string) *Rewriter {
	return &Rewriter{Name: name, tpl: tpl, textKey: textKey, intentKey: intentKey}
}

// RewriterByName returns the built-in lazy or implicit rewriter.
func RewriterByName(name, textKey, intentKey string) (*Rewriter, error) {
	switch name {
	case "lazy":
		return NewRewriter(name, Lazy, textKey, intentKey), nil
	case "implicit":
		return NewRewriter(name, Implicit, textKey, intentKey), nil
	}
	return nil, fmt.Errorf("unknown rewriter %q", name)
}

func (r *Rewriter) Rewrite(seed record.Record, history []string) (string, error) {
	text, ok := seed.String(r.textKey)
	if !ok {
		return "", &record.MissingFieldError{Field: r.textKey, Index: -1}
	}

	var intents any = text
	if raw, ok := seed.Get(r.intentKey); ok {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			intents = v
		}
	}

	return Render(r.tpl, RewriteData{Input: text, Intentions: intents, History: history})
}
