package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub broadcasts events to live subscribers. Slow subscribers miss events
// rather than stall the curation run.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]string
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: map[chan Event]string{}, logger: logger}
}

// Subscribe returns a channel of events for runID, or all runs when runID is
// empty, and a function that ends the subscription.
func (h *Hub) Subscribe(runID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.subs[ch] = runID
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Handle(_ context.Context, e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, runID := range h.subs {
		if runID != "" && runID != e.RunID {
			continue
		}
		select {
		case ch <- e:
		default:
			h.logger.Debug("Dropping event for slow subscriber",
				zap.String("run_id", e.RunID),
				zap.String("kind", string(e.Kind)),
			)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
