package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	ErrInvalidName      = errors.New("invalid dataset name")
	ErrUnsupportedFile  = errors.New("unsupported dataset extension")
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
	defaultContentTypes = []string{"application/json", "multipart/form-data"}
	datasetExtensions   = []string{".json", ".jsonl"}
)

type Config struct {
	MaxNameLength       int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func (cfg *Config) defaults() {
	if cfg.MaxNameLength == 0 {
		cfg.MaxNameLength = 255
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = defaultContentTypes
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
}

// DatasetName checks that name is a relative path inside the data directory
// naming a .json or .jsonl file.
func DatasetName(name string, maxLen int) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if maxLen > 0 && len(name) > maxLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, maxLen)
	}
	if strings.ContainsRune(name, 0) || strings.Contains(name, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if filepath.IsAbs(name) || !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %q escapes the data directory", ErrInvalidName, name)
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range datasetExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFile, ext)
}

// ContentType rejects POST and PUT bodies of unexpected media types.
func ContentType(cfg Config) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}
		contentType := c.Get(fiber.HeaderContentType)
		if contentType == "" {
			return c.Next()
		}
		for _, allowed := range cfg.AllowedContentTypes {
			if strings.Contains(contentType, allowed) {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "Unsupported content type",
		})
	}
}

// DatasetFields validates the named string fields of a JSON body as dataset
// names. Absent fields are left to the handler.
func DatasetFields(cfg Config, fields ...string) fiber.Handler {
	cfg.defaults()

	return func(c *fiber.Ctx) error {
		var body map[string]any
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		for _, field := range fields {
			raw, ok := body[field]
			if !ok {
				continue
			}
			name, ok := raw.(string)
			if !ok {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": fmt.Sprintf("%s must be a string", field),
				})
			}
			if err := DatasetName(name, cfg.MaxNameLength); err != nil {
				cfg.Logger.Warn("Rejected dataset name",
					zap.String("ip", c.IP()),
					zap.String("field", field),
					zap.String("name", name),
					zap.Error(err),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": err.Error(),
				})
			}
		}

		for key, raw := range body {
			if s, ok := raw.(string); ok && xssPattern.MatchString(s) {
				cfg.Logger.Warn("Potential XSS attempt",
					zap.String("ip", c.IP()),
					zap.String("field", key),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid request content",
				})
			}
		}

		return c.Next()
	}
}
