package handlers

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	progress "github.com/intent-curator/backend/internal/cache/redis"
	"github.com/intent-curator/backend/internal/middleware/validation"
	"github.com/intent-curator/backend/internal/runner"
	"github.com/intent-curator/backend/internal/storage/models"
)

// RunService starts and tracks curation runs. *runner.Runner implements it.
type RunService interface {
	Start(ctx context.Context, req runner.Request) (*models.Run, error)
	Get(ctx context.Context, id string) (*models.Run, error)
	Cancel(id string) bool
}

// RunHistory is the persisted run log. *sqlite.Client implements it.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	ListAccepted(ctx context.Context, runID string, limit int) ([]*models.AcceptedRecord, error)
	ListRejections(ctx context.Context, runID, stage string, limit int) ([]*models.Rejection, error)
	RejectionStats(ctx context.Context, runID string) (map[string]int, error)
}

// ProgressReader returns live counters. *redis.Client implements it.
type ProgressReader interface {
	GetProgress(ctx context.Context, runID string) (*progress.Progress, bool, error)
}

type RunHandler struct {
	runs     RunService
	history  RunHistory
	progress ProgressReader
	dataDir  string
	logger   *zap.Logger
}

// NewRunHandler wires the run endpoints. history and progress may be nil
// when their backends are disabled.
func NewRunHandler(runs RunService, history RunHistory, progress ProgressReader, dataDir string, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{runs: runs, history: history, progress: progress, dataDir: dataDir, logger: logger}
}

func resolve(dataDir, name string) (string, error) {
	if err := validation.DatasetName(name, 0); err != nil {
		return "", err
	}
	return filepath.Join(dataDir, filepath.FromSlash(name)), nil
}

func (h *RunHandler) CreateRun(c *fiber.Ctx) error {
	var req runner.Request
	if err := c.BodyParser(&req); err != nil {
		h.logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Input == "" || req.Output == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "input and output are required",
		})
	}
	input, err := resolve(h.dataDir, req.Input)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	output, err := resolve(h.dataDir, req.Output)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	req.Input, req.Output = input, output

	run, err := h.runs.Start(c.Context(), req)
	switch {
	case errors.Is(err, runner.ErrUnknownKind), errors.Is(err, runner.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, runner.ErrOutputBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		h.logger.Error("Failed to start run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start run",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	id := c.Params("id")
	run, err := h.runs.Get(c.Context(), id)
	if errors.Is(err, runner.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Run not found"})
	}
	if err != nil {
		h.logger.Error("Failed to get run", zap.String("run_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get run",
		})
	}

	resp := fiber.Map{"run": run}
	if h.progress != nil {
		p, ok, err := h.progress.GetProgress(c.Context(), id)
		if err != nil {
			h.logger.Warn("Failed to read run progress", zap.String("run_id", id), zap.Error(err))
		} else if ok {
			resp["progress"] = p
		}
	}
	return c.JSON(resp)
}

func (h *RunHandler) CancelRun(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.runs.Cancel(id) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Run is not active",
		})
	}
	h.logger.Info("Run cancelled", zap.String("run_id", id))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": id, "cancelled": true})
}

func (h *RunHandler) requireHistory(c *fiber.Ctx) bool {
	if h.history != nil {
		return true
	}
	_ = c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "Run history is disabled",
	})
	return false
}

func (h *RunHandler) ListRuns(c *fiber.Ctx) error {
	if !h.requireHistory(c) {
		return nil
	}
	runs, err := h.history.ListRuns(c.Context(), c.QueryInt("limit", 50))
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}
	return c.JSON(fiber.Map{"runs": runs})
}

func (h *RunHandler) ListAccepted(c *fiber.Ctx) error {
	if !h.requireHistory(c) {
		return nil
	}
	id := c.Params("id")
	records, err := h.history.ListAccepted(c.Context(), id, c.QueryInt("limit", 100))
	if err != nil {
		h.logger.Error("Failed to list accepted records", zap.String("run_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list accepted records",
		})
	}
	return c.JSON(fiber.Map{"records": records})
}

func (h *RunHandler) ListRejections(c *fiber.Ctx) error {
	if !h.requireHistory(c) {
		return nil
	}
	id := c.Params("id")
	rejections, err := h.history.ListRejections(c.Context(), id, c.Query("stage"), c.QueryInt("limit", 100))
	if err != nil {
		h.logger.Error("Failed to list rejections", zap.String("run_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list rejections",
		})
	}
	return c.JSON(fiber.Map{"rejections": rejections})
}

func (h *RunHandler) RejectionStats(c *fiber.Ctx) error {
	if !h.requireHistory(c) {
		return nil
	}
	id := c.Params("id")
	stats, err := h.history.RejectionStats(c.Context(), id)
	if err != nil {
		h.logger.Error("Failed to compute rejection stats", zap.String("run_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute rejection stats",
		})
	}
	return c.JSON(fiber.Map{"run_id": id, "stages": stats})
}
