package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LoadFile reads a .json array or a .jsonl file. JSONL files whose first
// line is a lone "{" are read in the pretty-printed layout, where each record
// spans the lines from "{" to a closing "}".
func LoadFile(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var ds Dataset
		if err := json.Unmarshal(data, &ds); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return ds, nil
	case ".jsonl":
		return parseJSONL(data, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func parseJSONL(data []byte, path string) (Dataset, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		ds      Dataset
		pretty  bool
		first   = true
		block   bytes.Buffer
		lineNum int
	)

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if first {
			if trimmed == "" {
				continue
			}
			pretty = trimmed == "{"
			first = false
		}

		if !pretty {
			if trimmed == "" {
				continue
			}
			var r Record
			if err := json.Unmarshal([]byte(trimmed), &r); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNum, err)
			}
			ds = append(ds, r)
			continue
		}

		if block.Len() == 0 && trimmed == "" {
			continue
		}
		block.WriteString(line)
		block.WriteByte('\n')
		if strings.TrimRight(line, "\r") == "}" {
			var r Record
			if err := json.Unmarshal(block.Bytes(), &r); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNum, err)
			}
			ds = append(ds, r)
			block.Reset()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}
	if block.Len() > 0 {
		return nil, fmt.Errorf("%s: unterminated record at end of file", path)
	}
	return ds, nil
}

// SaveJSON writes ds as a single JSON array, replacing path atomically.
func SaveJSON(path string, ds Dataset, indent int) error {
	if ds == nil {
		ds = Dataset{}
	}

	var (
		data []byte
		err  error
	)
	if indent > 0 {
		data, err = json.MarshalIndent(ds, "", strings.Repeat(" ", indent))
	} else {
		data, err = json.Marshal(ds)
	}
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	return WriteFileAtomic(path, append(data, '\n'))
}

// SaveJSONL writes ds one compact record per line, replacing path atomically.
func SaveJSONL(path string, ds Dataset) error {
	var buf bytes.Buffer
	for _, r := range ds {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return WriteFileAtomic(path, buf.Bytes())
}

// WriteFileAtomic writes data to a temporary file in path's directory and
// renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Appender appends records to a JSONL file, syncing after every record.
type Appender struct {
	mu     sync.Mutex
	f      *os.File
	indent string
}

// OpenAppender opens path for append without truncating it. A positive
// indent writes each record pretty-printed over several lines.
func OpenAppender(path string, indent int) (*Appender, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	a := &Appender{f: f}
	if indent > 0 {
		a.indent = strings.Repeat(" ", indent)
	}
	return a, nil
}

func (a *Appender) Append(records ...Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range records {
		var (
			data []byte
			err  error
		)
		if a.indent != "" {
			data, err = json.MarshalIndent(r, "", a.indent)
		} else {
			data, err = json.Marshal(r)
		}
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		if _, err := a.f.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to append record: %w", err)
		}
	}
	if err := a.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", a.f.Name(), err)
	}
	return nil
}

func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}
