package handlers

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/internal/checkpoint"
	"github.com/intent-curator/backend/internal/record"
)

type DatasetHandler struct {
	dataDir string
	logger  *zap.Logger
}

func NewDatasetHandler(dataDir string, logger *zap.Logger) *DatasetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatasetHandler{dataDir: dataDir, logger: logger}
}

type datasetInfo struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Records int    `json:"records,omitempty"`
}

// UploadDataset stores a multipart "file" under the data directory. The
// stored file must parse as a dataset; otherwise it is removed again.
func (h *DatasetHandler) UploadDataset(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file is required",
		})
	}

	name := c.FormValue("name", file.Filename)
	path, err := resolve(h.dataDir, name)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.logger.Error("Failed to create dataset directory", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store dataset",
		})
	}
	if err := c.SaveFile(file, path); err != nil {
		h.logger.Error("Failed to save dataset", zap.String("name", name), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store dataset",
		})
	}

	ds, err := record.LoadFile(path)
	if err != nil {
		_ = os.Remove(path)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	h.logger.Info("Dataset uploaded", zap.String("name", name), zap.Int("records", len(ds)))
	return c.Status(fiber.StatusCreated).JSON(datasetInfo{Name: name, Size: file.Size, Records: len(ds)})
}

func (h *DatasetHandler) ListDatasets(c *fiber.Ctx) error {
	out := []datasetInfo{}
	err := filepath.WalkDir(h.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" && ext != ".jsonl" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(h.dataDir, path)
		if err != nil {
			return err
		}
		out = append(out, datasetInfo{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		h.logger.Error("Failed to list datasets", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list datasets",
		})
	}
	return c.JSON(fiber.Map{"datasets": out})
}

// ListCheckpoints reports augmentation progress per output file.
func (h *DatasetHandler) ListCheckpoints(c *fiber.Ctx) error {
	entries, err := checkpoint.ReadAll(h.dataDir)
	if err != nil {
		h.logger.Error("Failed to read checkpoints", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if entries == nil {
		entries = []checkpoint.Entry{}
	}
	return c.JSON(fiber.Map{"checkpoints": entries})
}

func (h *DatasetHandler) ResetCheckpoint(c *fiber.Ctx) error {
	name := c.Params("name")
	path, err := resolve(h.dataDir, name)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	log, err := checkpoint.Open(path)
	if err == nil {
		err = log.Reset()
	}
	if err != nil {
		h.logger.Error("Failed to reset checkpoint", zap.String("name", name), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to reset checkpoint",
		})
	}

	h.logger.Info("Checkpoint reset", zap.String("name", name))
	return c.JSON(fiber.Map{"filename": name, "idx": 0})
}
