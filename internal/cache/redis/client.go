package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/events"
)

const (
	rejectedPrefix = "rejected:"
	defaultTTL     = 7 * 24 * time.Hour
)

// Progress is a run's live counters.
type Progress struct {
	Submitted   int64            `json:"submitted"`
	Accepted    int64            `json:"accepted"`
	Rejected    int64            `json:"rejected"`
	Paraphrases int64            `json:"paraphrases"`
	Flushes     int64            `json:"flushes"`
	Checkpoint  int64            `json:"checkpoint"`
	Stages      map[string]int64 `json:"stages"`
	Status      string           `json:"status,omitempty"`
}

// Client tracks per-run progress counters in redis hashes so that any API
// instance can report them.
type Client struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewClient(host string, port int, password string, db int, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: defaultTTL, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func progressKey(runID string) string {
	return fmt.Sprintf("run:%s:progress", runID)
}

// Handle folds an event into the run's counters.
func (c *Client) Handle(ctx context.Context, e events.Event) {
	if e.RunID == "" {
		return
	}
	key := progressKey(e.RunID)

	pipe := c.client.TxPipeline()
	switch e.Kind {
	case events.KindSubmitted:
		pipe.HIncrBy(ctx, key, "submitted", 1)
	case events.KindAccepted:
		pipe.HIncrBy(ctx, key, "accepted", 1)
	case events.KindRejected:
		pipe.HIncrBy(ctx, key, "rejected", 1)
		pipe.HIncrBy(ctx, key, rejectedPrefix+e.Stage, 1)
	case events.KindParaphrase:
		pipe.HIncrBy(ctx, key, "paraphrases", 1)
	case events.KindFlushed:
		pipe.HIncrBy(ctx, key, "flushes", 1)
	case events.KindCheckpoint:
		pipe.HSet(ctx, key, "checkpoint", e.Index)
	case events.KindRunStarted:
		pipe.HSet(ctx, key, "status", "running")
	case events.KindRunFinished:
		status := "succeeded"
		if e.Error != "" {
			status = "failed"
		}
		pipe.HSet(ctx, key, "status", status)
	default:
		return
	}
	pipe.Expire(ctx, key, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to update run progress",
			zap.String("run_id", e.RunID),
			zap.String("kind", string(e.Kind)),
			zap.Error(err),
		)
	}
}

// GetProgress returns the run's counters, and false when nothing was recorded.
func (c *Client) GetProgress(ctx context.Context, runID string) (*Progress, bool, error) {
	fields, err := c.client.HGetAll(ctx, progressKey(runID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get run progress: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	p := &Progress{Stages: map[string]int64{}}
	for k, v := range fields {
		if k == "status" {
			p.Status = v
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.logger.Warn("Skipping malformed progress field", zap.String("field", k), zap.String("value", v))
			continue
		}
		switch {
		case k == "submitted":
			p.Submitted = n
		case k == "accepted":
			p.Accepted = n
		case k == "rejected":
			p.Rejected = n
		case k == "paraphrases":
			p.Paraphrases = n
		case k == "flushes":
			p.Flushes = n
		case k == "checkpoint":
			p.Checkpoint = n
		case strings.HasPrefix(k, rejectedPrefix):
			p.Stages[strings.TrimPrefix(k, rejectedPrefix)] = n
		}
	}
	return p, true, nil
}

func (c *Client) DeleteProgress(ctx context.Context, runID string) error {
	if err := c.client.Del(ctx, progressKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete run progress: %w", err)
	}
	return nil
}
