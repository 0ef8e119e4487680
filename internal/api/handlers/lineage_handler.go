package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/kg/neo4j"
)

// LineageReader walks the paraphrase graph. *neo4j.Client implements it.
type LineageReader interface {
	Lineage(ctx context.Context, seed string, maxDepth int) ([]neo4j.Paraphrase, error)
}

type LineageHandler struct {
	graph  LineageReader
	logger *zap.Logger
}

func NewLineageHandler(graph LineageReader, logger *zap.Logger) *LineageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LineageHandler{graph: graph, logger: logger}
}

func (h *LineageHandler) GetLineage(c *fiber.Ctx) error {
	seed := c.Query("seed")
	if seed == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "seed is required",
		})
	}
	depth := c.QueryInt("depth", 3)
	if depth < 1 || depth > 10 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "depth must be between 1 and 10",
		})
	}

	paraphrases, err := h.graph.Lineage(c.Context(), seed, depth)
	if err != nil {
		h.logger.Error("Failed to query lineage", zap.String("seed", seed), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to query lineage",
		})
	}
	if paraphrases == nil {
		paraphrases = []neo4j.Paraphrase{}
	}
	return c.JSON(fiber.Map{"seed": seed, "paraphrases": paraphrases})
}
