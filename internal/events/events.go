package events

import (
	"context"
	"sync"
	"time"
)

type Kind string

const (
	KindRunStarted  Kind = "run_started"
	KindRunFinished Kind = "run_finished"
	KindSubmitted   Kind = "submitted"
	KindAccepted    Kind = "accepted"
	KindRejected    Kind = "rejected"
	KindFlushed     Kind = "flushed"
	KindParaphrase  Kind = "paraphrase"
	KindCheckpoint  Kind = "checkpoint"
)

// Rejection stages. Pool rejections use the dimension name as the stage.
const (
	StageEmpty   = "empty"
	StageLength  = "length"
	StageNovelty = "novelty"
)

type Event struct {
	RunID    string        `json:"run_id,omitempty"`
	Kind     Kind          `json:"kind"`
	Time     time.Time     `json:"time"`
	Text     string        `json:"text,omitempty"`
	Seed     string        `json:"seed,omitempty"`
	Stage    string        `json:"stage,omitempty"`
	Score    float64       `json:"score,omitempty"`
	Fields   []string      `json:"fields,omitempty"`
	Record   []byte        `json:"-"`
	Target   string        `json:"target,omitempty"`
	Index    int           `json:"index,omitempty"`
	Batch    int           `json:"batch,omitempty"`
	Accepted int           `json:"accepted,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Sink receives curation events. Implementations must not block for long
// and report their own failures.
type Sink interface {
	Handle(ctx context.Context, e Event)
}

type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Handle(ctx context.Context, e Event) { f(ctx, e) }

type nop struct{}

func (nop) Handle(context.Context, Event) {}

// Nop discards events.
var Nop Sink = nop{}

type multi []Sink

func (m multi) Handle(ctx context.Context, e Event) {
	for _, s := range m {
		s.Handle(ctx, e)
	}
}

// Multi fans an event out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return Nop
	case 1:
		return m[0]
	}
	return m
}

// WithRun stamps events with runID and the current time when unset.
func WithRun(runID string, next Sink) Sink {
	return SinkFunc(func(ctx context.Context, e Event) {
		if e.RunID == "" {
			e.RunID = runID
		}
		if e.Time.IsZero() {
			e.Time = time.Now()
		}
		next.Handle(ctx, e)
	})
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
