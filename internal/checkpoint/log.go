package checkpoint

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

	"github.com/intent-curator/backend/internal/record"
)

// FileName is the sidecar file kept next to augmentation outputs.
const FileName = "augment.log"

var ErrCorrupt = errors.New("corrupt checkpoint log")

type Entry struct {
	Filename string `json:"filename"`
	Idx      int    `json:"idx"`
}

// Log tracks how far augmentation of one target file has progressed.
// Entries for other targets in the same directory are re-read and carried
// through every rewrite byte for byte.
type Log struct {
	mu     sync.Mutex
	path   string
	target string
	idx    int
}

// pathLocks serialises read-modify-write cycles of one sidecar across Logs.
var pathLocks sync.Map

func lockPath(path string) func() {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	v, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Open reads <dir of target>/augment.log. A missing log resumes at 0.
func Open(target string) (*Log, error) {
	l := &Log{
		path:   filepath.Join(filepath.Dir(target), FileName),
		target: filepath.Base(target),
	}

	unlock := lockPath(l.path)
	defer unlock()

	idx, _, err := l.read()
	if err != nil {
		return nil, err
	}
	l.idx = idx
	return l, nil
}

// read returns the stored index for the target and the raw lines of every
// other target.
func (l *Log) read() (int, [][]byte, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read checkpoint log: %w", err)
	}

	var (
		idx    int
		others [][]byte
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.Filename == "" {
			return 0, nil, fmt.Errorf("%w: %s:%d", ErrCorrupt, l.path, lineNum)
		}
		if e.Filename == l.target {
			idx = e.Idx
			continue
		}
		others = append(others, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to scan checkpoint log: %w", err)
	}
	return idx, others, nil
}

func (l *Log) Path() string { return l.path }

func (l *Log) Target() string { return l.target }

// Index is the stored resume index for the target.
func (l *Log) Index() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idx
}

// Checkpoint records idx for the target and rewrites the whole log atomically.
func (l *Log) Checkpoint(idx int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	unlock := lockPath(l.path)
	defer unlock()

	_, others, err := l.read()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, line := range others {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	line, err := json.Marshal(Entry{Filename: l.target, Idx: idx})
	if err != nil {
		return err
	}
	buf.Write(line)
	buf.WriteByte('\n')

	if err := record.WriteFileAtomic(l.path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	l.idx = idx
	return nil
}

// Reset sets the target back to 0, keeping other targets' entries.
func (l *Log) Reset() error {
	return l.Checkpoint(0)
}

// ReadAll lists every entry of the log in dir.
func ReadAll(dir string) ([]Entry, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint log: %w", err)
	}

	var entries []Entry
	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("%w: %s:%d", ErrCorrupt, path, i+1)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
