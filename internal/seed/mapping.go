package seed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrEmptyMapping = errors.New("mapping sheet has no query rows")

// Mapping is a query to intent-name table read from a spreadsheet.
type Mapping struct {
	Queries []string
	intents map[string]string
}

func NewMapping(pairs map[string]string, order []string) *Mapping {
	m := &Mapping{intents: make(map[string]string, len(pairs))}
	for _, q := range order {
		if intent, ok := pairs[q]; ok {
			if _, dup := m.intents[q]; !dup {
				m.Queries = append(m.Queries, q)
			}
			m.intents[q] = intent
		}
	}
	return m
}

func (m *Mapping) Intent(query string) string { return m.intents[query] }

// Intents returns the distinct intent names in first-seen query order.
func (m *Mapping) Intents() []string {
	seen := map[string]bool{}
	var out []string
	for _, q := range m.Queries {
		name := m.intents[q]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// LoadMapping reads the query and intent columns (0-based) of sheet. The
// first row is a header. An empty sheet name selects the first sheet. Later
// rows override earlier ones for the same query.
func LoadMapping(path, sheet string, queryCol, intentCol int) (*Mapping, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%s: %w", path, ErrEmptyMapping)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	pairs := map[string]string{}
	var order []string
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if queryCol >= len(row) || intentCol >= len(row) {
			continue
		}
		q := strings.TrimSpace(row[queryCol])
		name := strings.TrimSpace(row[intentCol])
		if q == "" || name == "" {
			continue
		}
		if _, ok := pairs[q]; !ok {
			order = append(order, q)
		}
		pairs[q] = name
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyMapping)
	}
	return NewMapping(pairs, order), nil
}
