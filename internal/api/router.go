package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/api/handlers"
	"github.com/intent-curator/backend/internal/middleware/ratelimit"
	"github.com/intent-curator/backend/internal/middleware/validation"
)

type Deps struct {
	Runs     handlers.RunService
	History  handlers.RunHistory
	Progress handlers.ProgressReader
	Hub      handlers.Subscriber
	Lineage  handlers.LineageReader
	Metrics  fiber.Handler
	// RunLimiter throttles run creation when set.
	RunLimiter *ratelimit.RateLimiter
	DataDir    string
	Logger     *zap.Logger
}

// Register mounts the curation API under /api/v1. Optional dependencies
// that are nil leave their routes unregistered or reporting 503.
func Register(app *fiber.App, d Deps) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	vcfg := validation.Config{Logger: logger}

	runs := handlers.NewRunHandler(d.Runs, d.History, d.Progress, d.DataDir, logger.Named("runs"))
	datasets := handlers.NewDatasetHandler(d.DataDir, logger.Named("datasets"))

	api := app.Group("/api/v1", validation.ContentType(vcfg))

	create := []fiber.Handler{validation.DatasetFields(vcfg, "input", "output")}
	if d.RunLimiter != nil {
		create = append([]fiber.Handler{d.RunLimiter.Middleware()}, create...)
	}
	api.Post("/runs", append(create, runs.CreateRun)...)
	api.Get("/runs", runs.ListRuns)
	api.Get("/runs/:id", runs.GetRun)
	api.Post("/runs/:id/cancel", runs.CancelRun)
	api.Get("/runs/:id/accepted", runs.ListAccepted)
	api.Get("/runs/:id/rejections", runs.ListRejections)
	api.Get("/runs/:id/stats", runs.RejectionStats)

	api.Post("/datasets", datasets.UploadDataset)
	api.Get("/datasets", datasets.ListDatasets)
	api.Get("/checkpoints", datasets.ListCheckpoints)
	api.Delete("/checkpoints/:name", datasets.ResetCheckpoint)

	if d.Lineage != nil {
		lineage := handlers.NewLineageHandler(d.Lineage, logger.Named("lineage"))
		api.Get("/lineage", lineage.GetLineage)
	}

	if d.Hub != nil {
		ws := handlers.NewWebSocketHandler(d.Hub, logger.Named("ws"))
		app.Use("/ws", ws.Upgrade)
		app.Get("/ws/runs", websocket.New(ws.HandleConnection))
		app.Get("/ws/runs/:id", websocket.New(ws.HandleConnection))
	}

	if d.Metrics != nil {
		app.Get("/metrics", d.Metrics)
	}

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
}
