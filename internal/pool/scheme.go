package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"text/template"

	"go.yaml.in/yaml/v3"

	"github.com/intent-curator/backend/internal/prompt"
	"github.com/intent-curator/backend/internal/record"
	"github.com/intent-curator/backend/pkg/config"
)

const (
	DimensionCorrect = "correct"
	DimensionNatural = "natural"
)

// IntentScheme scores intent-labelled questions for whether they express all
// their intents and whether they read naturally.
type IntentScheme struct {
	TextKey    string
	IntentKey  string
	Thresholds []Threshold
}

func NewIntentScheme(textKey, intentKey string, thresholds map[string]float64) *IntentScheme {
	s := &IntentScheme{TextKey: textKey, IntentKey: intentKey}
	for _, dim := range []string{DimensionCorrect, DimensionNatural} {
		minScore := 7.0
		if v, ok := thresholds[dim]; ok {
			minScore = v
		}
		s.Thresholds = append(s.Thresholds, Threshold{Dimension: dim, Min: minScore})
	}
	return s
}

func (s *IntentScheme) ScorePrompts(batch []record.Record) (map[string]string, error) {
	questions := make([]string, 0, len(batch))
	pairs := make([]prompt.Pair, 0, len(batch))
	for i, r := range batch {
		q, ok := r.String(s.TextKey)
		if !ok {
			return nil, &record.MissingFieldError{Field: s.TextKey, Index: i}
		}
		var intents any
		if raw, ok := r.Get(s.IntentKey); ok {
			if err := json.Unmarshal(raw, &intents); err != nil {
				return nil, fmt.Errorf("record %d: invalid %s: %w", i, s.IntentKey, err)
			}
		}
		questions = append(questions, q)
		pairs = append(pairs, prompt.Pair{Question: q, Intents: intents})
	}

	natural, err := prompt.Render(prompt.Natural, prompt.NaturalData{Questions: questions})
	if err != nil {
		return nil, err
	}
	correct, err := prompt.Render(prompt.Correct, prompt.CorrectData{Pairs: pairs})
	if err != nil {
		return nil, err
	}
	return map[string]string{DimensionCorrect: correct, DimensionNatural: natural}, nil
}

func (s *IntentScheme) ScoreThresholds() []Threshold {
	return s.Thresholds
}

func (s *IntentScheme) PromptKeyNames() map[string][]string {
	return map[string][]string{
		DimensionCorrect: {s.TextKey, s.IntentKey},
		DimensionNatural: {s.TextKey},
	}
}

// TemplateScheme is a scheme defined in YAML. Each dimension's prompt is a
// text/template executed with .Records, the batch decoded to maps.
//
//	dimensions:
//	  - name: quality
//	    threshold: 5
//	    log_keys: [input]
//	    prompt: |
//	      Score each question 1-10, answer with a list.
//	      {{range $i, $r := .Records}}{{inc $i}}. {{index $r "input"}}
//	      {{end}}
type TemplateScheme struct {
	dims []templateDimension
}

type templateDimension struct {
	Threshold
	logKeys []string
	tpl     *template.Template
}

type schemeFile struct {
	Dimensions []struct {
		Name      string   `yaml:"name"`
		Threshold float64  `yaml:"threshold"`
		LogKeys   []string `yaml:"log_keys"`
		Prompt    string   `yaml:"prompt"`
	} `yaml:"dimensions"`
}

func LoadTemplateScheme(path string) (*TemplateScheme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scheme file: %w", err)
	}
	return ParseTemplateScheme(data)
}

func ParseTemplateScheme(data []byte) (*TemplateScheme, error) {
	var f schemeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse scheme: %w", err)
	}
	if len(f.Dimensions) == 0 {
		return nil, fmt.Errorf("scheme defines no dimensions")
	}

	s := &TemplateScheme{}
	seen := map[string]bool{}
	for _, d := range f.Dimensions {
		if d.Name == "" {
			return nil, fmt.Errorf("scheme dimension without a name")
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate scheme dimension %q", d.Name)
		}
		seen[d.Name] = true

		tpl, err := prompt.Parse(d.Name, d.Prompt)
		if err != nil {
			return nil, fmt.Errorf("dimension %s: %w", d.Name, err)
		}
		s.dims = append(s.dims, templateDimension{
			Threshold: Threshold{Dimension: d.Name, Min: d.Threshold},
			logKeys:   d.LogKeys,
			tpl:       tpl,
		})
	}
	return s, nil
}

func (s *TemplateScheme) ScorePrompts(batch []record.Record) (map[string]string, error) {
	records := make([]map[string]any, len(batch))
	for i, r := range batch {
		m := make(map[string]any, r.Len())
		for _, k := range r.Keys() {
			var v any
			if err := r.Decode(k, &v); err != nil {
				return nil, fmt.Errorf("record %d field %s: %w", i, k, err)
			}
			m[k] = v
		}
		records[i] = m
	}

	data := map[string]any{"Records": records}
	prompts := make(map[string]string, len(s.dims))
	for _, d := range s.dims {
		if d.Min < 0 {
			continue
		}
		out, err := prompt.Render(d.tpl, data)
		if err != nil {
			return nil, err
		}
		prompts[d.Dimension] = out
	}
	return prompts, nil
}

func (s *TemplateScheme) ScoreThresholds() []Threshold {
	out := make([]Threshold, len(s.dims))
	for i, d := range s.dims {
		out[i] = d.Threshold
	}
	return out
}

func (s *TemplateScheme) PromptKeyNames() map[string][]string {
	out := make(map[string][]string, len(s.dims))
	for _, d := range s.dims {
		out[d.Dimension] = d.logKeys
	}
	return out
}

// SchemeFromConfig loads the YAML scheme when one is configured and falls
// back to the built-in intent scheme.
func SchemeFromConfig(pc config.PoolConfig, cc config.CurateConfig) (Scheme, error) {
	if pc.SchemeFile != "" {
		return LoadTemplateScheme(pc.SchemeFile)
	}
	switch pc.Scheme {
	case "", "intent":
		return NewIntentScheme(cc.TextKey, cc.IntentKey, pc.Thresholds), nil
	}
	return nil, fmt.Errorf("unknown pool scheme %q", pc.Scheme)
}
