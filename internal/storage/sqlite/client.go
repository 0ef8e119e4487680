package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/events"
	"github.com/intent-curator/backend/internal/storage/models"
	"github.com/intent-curator/backend/pkg/utils"
)

var ErrRunNotFound = errors.New("run not found")

type Client struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewClient(dbPath string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		input TEXT,
		output TEXT,
		rewriter TEXT,
		accepted INTEGER DEFAULT 0,
		rejected INTEGER DEFAULT 0,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS accepted_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		text TEXT NOT NULL,
		seed TEXT,
		fingerprint TEXT NOT NULL,
		payload TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE (run_id, fingerprint) ON CONFLICT IGNORE,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_accepted_run ON accepted_records(run_id);

	CREATE TABLE IF NOT EXISTS rejections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		text TEXT,
		score REAL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_rejections_run ON rejections(run_id);
	CREATE INDEX IF NOT EXISTS idx_rejections_stage ON rejections(stage);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	c.logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateRun(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO runs (id, kind, status, input, output, rewriter, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.Status,
		run.Input,
		run.Output,
		run.Rewriter,
		run.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	c.logger.Debug("Run recorded", zap.String("run_id", run.ID), zap.String("kind", run.Kind))
	return nil
}

func (c *Client) UpdateRunStatus(ctx context.Context, id, status string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// FinishRun stores the final status and the counts accumulated in the audit tables.
func (c *Client) FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error {
	query := `
		UPDATE runs SET
			status = ?,
			error = ?,
			finished_at = ?,
			accepted = (SELECT COUNT(*) FROM accepted_records WHERE run_id = ?),
			rejected = (SELECT COUNT(*) FROM rejections WHERE run_id = ?)
		WHERE id = ?
	`

	res, err := c.db.ExecContext(ctx, query, status, errMsg, finishedAt.Unix(), id, id, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, kind, status, input, output, rewriter, accepted, rejected, error, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (*models.Run, error) {
	var (
		run                    models.Run
		input, output, rw, msg sql.NullString
		startedAt              int64
		finishedAt             sql.NullInt64
	)
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Status,
		&input,
		&output,
		&rw,
		&run.Accepted,
		&run.Rejected,
		&msg,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Input, run.Output, run.Rewriter, run.Error = input.String, output.String, rw.String, msg.String
	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		run.FinishedAt = &t
	}
	return &run, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(c.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (c *Client) InsertAccepted(ctx context.Context, rec *models.AcceptedRecord) error {
	query := `
		INSERT INTO accepted_records (run_id, text, seed, fingerprint, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if rec.Fingerprint == "" {
		rec.Fingerprint = utils.Fingerprint(rec.Text)
	}
	_, err := c.db.ExecContext(ctx, query,
		rec.RunID,
		rec.Text,
		rec.Seed,
		rec.Fingerprint,
		rec.Payload,
		rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert accepted record: %w", err)
	}
	return nil
}

func (c *Client) ListAccepted(ctx context.Context, runID string, limit int) ([]*models.AcceptedRecord, error) {
	query := `
		SELECT id, run_id, text, seed, fingerprint, payload, created_at
		FROM accepted_records WHERE run_id = ? ORDER BY id LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list accepted records: %w", err)
	}
	defer rows.Close()

	var out []*models.AcceptedRecord
	for rows.Next() {
		var (
			rec           models.AcceptedRecord
			seed, payload sql.NullString
			createdAt     int64
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Text, &seed, &rec.Fingerprint, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan accepted record: %w", err)
		}
		rec.Seed, rec.Payload = seed.String, payload.String
		rec.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (c *Client) InsertRejection(ctx context.Context, rej *models.Rejection) error {
	query := `INSERT INTO rejections (run_id, stage, text, score, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		rej.RunID,
		rej.Stage,
		rej.Text,
		rej.Score,
		rej.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rejection: %w", err)
	}
	return nil
}

// ListRejections returns a run's rejections, optionally only those of one stage.
func (c *Client) ListRejections(ctx context.Context, runID, stage string, limit int) ([]*models.Rejection, error) {
	query := `
		SELECT id, run_id, stage, text, score, created_at
		FROM rejections WHERE run_id = ? AND (? = '' OR stage = ?) ORDER BY id LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, runID, stage, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rejections: %w", err)
	}
	defer rows.Close()

	var out []*models.Rejection
	for rows.Next() {
		var (
			rej       models.Rejection
			text      sql.NullString
			score     sql.NullFloat64
			createdAt int64
		)
		if err := rows.Scan(&rej.ID, &rej.RunID, &rej.Stage, &text, &score, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rejection: %w", err)
		}
		rej.Text, rej.Score = text.String, score.Float64
		rej.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &rej)
	}
	return out, rows.Err()
}

func (c *Client) RejectionStats(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM rejections WHERE run_id = ? GROUP BY stage`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rejection stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var (
			stage string
			n     int
		)
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("failed to scan rejection stats: %w", err)
		}
		stats[stage] = n
	}
	return stats, rows.Err()
}

// Handle stores accepted records and rejections of events that carry a run ID.
func (c *Client) Handle(ctx context.Context, e events.Event) {
	if e.RunID == "" {
		return
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}

	var err error
	switch e.Kind {
	case events.KindAccepted:
		err = c.InsertAccepted(ctx, &models.AcceptedRecord{
			RunID:     e.RunID,
			Text:      e.Text,
			Seed:      e.Seed,
			Payload:   string(e.Record),
			CreatedAt: at,
		})
	case events.KindRejected:
		err = c.InsertRejection(ctx, &models.Rejection{
			RunID:     e.RunID,
			Stage:     e.Stage,
			Text:      e.Text,
			Score:     e.Score,
			CreatedAt: at,
		})
	}
	if err != nil {
		c.logger.Error("Failed to store curation event",
			zap.String("run_id", e.RunID),
			zap.String("kind", string(e.Kind)),
			zap.Error(err),
		)
	}
}
