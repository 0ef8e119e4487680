package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/pkg/circuitbreaker"
	"github.com/intent-curator/backend/pkg/retry"
	"github.com/intent-curator/backend/pkg/utils"
)

// Client records accepted utterances and the seeds they were paraphrased
// from as a graph of (:Utterance)-[:PARAPHRASE_OF]->(:Utterance).
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.Breaker
	retryConfig retry.Config
	logger      *zap.Logger
}

type Paraphrase struct {
	Text       string    `json:"text"`
	RunID      string    `json:"run_id"`
	AcceptedAt time.Time `json:"accepted_at"`
	Depth      int       `json:"depth"`
}

type statement struct {
	cypher string
	params map[string]any
}

func NewClient(uri, username, password, database string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if database == "" {
		database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx := context.Background()
	err = driver.VerifyConnectivity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.New("neo4j", circuitbreaker.Config{
		MaxProbes:        3,
		OpenTimeout:      20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger,
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger,
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri))

	c := &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
		logger:      logger,
	}
	if err := c.ensureConstraints(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

func (c *Client) ensureConstraints(ctx context.Context) error {
	return c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx,
			`CREATE CONSTRAINT utterance_fingerprint IF NOT EXISTS FOR (u:Utterance) REQUIRE u.fingerprint IS UNIQUE`,
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
		return nil
	})
}

// provenance translates an accepted event into a graph write.
func provenance(e events.Event) (statement, bool) {
	if e.Kind != events.KindAccepted || e.Text == "" {
		return statement{}, false
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}

	params := map[string]any{
		"fingerprint": utils.Fingerprint(e.Text),
		"text":        e.Text,
		"run_id":      e.RunID,
		"accepted_at": at.Unix(),
	}
	if e.Seed == "" || e.Seed == e.Text {
		return statement{
			cypher: `
				MERGE (u:Utterance {fingerprint: $fingerprint})
				ON CREATE SET u.text = $text, u.created_at = $accepted_at
				SET u.seed = true
			`,
			params: params,
		}, true
	}

	params["seed_fingerprint"] = utils.Fingerprint(e.Seed)
	params["seed_text"] = e.Seed
	return statement{
		cypher: `
			MERGE (s:Utterance {fingerprint: $seed_fingerprint})
			ON CREATE SET s.text = $seed_text, s.created_at = $accepted_at
			MERGE (p:Utterance {fingerprint: $fingerprint})
			ON CREATE SET p.text = $text, p.created_at = $accepted_at
			MERGE (p)-[r:PARAPHRASE_OF]->(s)
			SET r.run_id = $run_id, r.accepted_at = $accepted_at
		`,
		params: params,
	}, true
}

// Handle writes accepted utterances and their lineage.
func (c *Client) Handle(ctx context.Context, e events.Event) {
	stmt, ok := provenance(e)
	if !ok {
		return
	}

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		_, err := session.Run(ctx, stmt.cypher, stmt.params)
		return err
	})
	if err != nil {
		c.logger.Warn("Failed to record provenance",
			zap.String("run_id", e.RunID),
			zap.String("text", e.Text),
			zap.Error(err),
		)
	}
}

// Lineage returns the paraphrases derived from seed, directly or through
// other paraphrases, up to maxDepth hops.
func (c *Client) Lineage(ctx context.Context, seed string, maxDepth int) ([]Paraphrase, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	var out []Paraphrase

	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		query := fmt.Sprintf(`
			MATCH path = (p:Utterance)-[:PARAPHRASE_OF*1..%d]->(s:Utterance {fingerprint: $fingerprint})
			WITH p, length(path) AS depth, last(relationships(path)) AS r
			RETURN p.text, r.run_id, r.accepted_at, depth
			ORDER BY depth, r.accepted_at
			LIMIT 500
		`, maxDepth)

		result, err := session.Run(ctx, query, map[string]any{"fingerprint": utils.Fingerprint(seed)})
		if err != nil {
			return fmt.Errorf("failed to query lineage: %w", err)
		}

		out = out[:0]
		for result.Next(ctx) {
			record := result.Record()

			text, _ := record.Get("p.text")
			runID, _ := record.Get("r.run_id")
			acceptedAt, _ := record.Get("r.accepted_at")
			depth, _ := record.Get("depth")

			p := Paraphrase{}
			p.Text, _ = text.(string)
			p.RunID, _ = runID.(string)
			if ts, ok := acceptedAt.(int64); ok {
				p.AcceptedAt = time.Unix(ts, 0)
			}
			if d, ok := depth.(int64); ok {
				p.Depth = int(d)
			}
			out = append(out, p)
		}

		if err = result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Lineage query completed", zap.String("seed", seed), zap.Int("results", len(out)))
	return out, nil
}
