package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetName(t *testing.T) {
	for _, name := range []string{"seeds.json", "runs/aug.jsonl", "UPPER.JSONL"} {
		assert.NoError(t, DatasetName(name, 0), name)
	}

	for name, want := range map[string]error{
		"":                  ErrInvalidName,
		"../etc/passwd.json": ErrInvalidName,
		"/abs/seeds.json":   ErrInvalidName,
		`dir\seeds.json`:    ErrInvalidName,
		"seeds.csv":         ErrUnsupportedFile,
		"seeds":             ErrUnsupportedFile,
	} {
		assert.ErrorIs(t, DatasetName(name, 0), want, name)
	}

	assert.ErrorIs(t, DatasetName(strings.Repeat("a", 20)+".json", 10), ErrInvalidName)
}

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(ContentType(Config{}))
	app.Post("/runs", DatasetFields(Config{}, "input", "output"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})
	return app
}

func post(t *testing.T, app *fiber.App, contentType, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/runs", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestDatasetFields(t *testing.T) {
	app := newApp()

	assert.Equal(t, fiber.StatusAccepted, post(t, app, "application/json",
		`{"kind":"cleanse","input":"seeds.json","output":"clean.json"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "application/json",
		`{"kind":"cleanse","input":"../../secret.json","output":"clean.json"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "application/json",
		`{"kind":"cleanse","input":42}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "application/json", `{not json`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, "application/json",
		`{"kind":"<script>alert(1)</script>","input":"a.json"}`))
}

func TestContentType(t *testing.T) {
	app := newApp()
	assert.Equal(t, fiber.StatusUnsupportedMediaType, post(t, app, "text/xml", `<run/>`))
}
