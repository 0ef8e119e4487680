package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowRefills(t *testing.T) {
	rl := New(Config{MaxRequests: 2, WindowDuration: time.Minute})
	defer rl.Stop()

	clock := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return clock }

	ok, _ := rl.allow("a")
	assert.True(t, ok)
	ok, _ = rl.allow("a")
	assert.True(t, ok)
	ok, wait := rl.allow("a")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	ok, _ = rl.allow("b")
	assert.True(t, ok, "buckets are per key")

	clock = clock.Add(31 * time.Second)
	ok, _ = rl.allow("a")
	assert.True(t, ok)
	ok, _ = rl.allow("a")
	assert.False(t, ok)
}

func TestEvictIdle(t *testing.T) {
	rl := New(Config{MaxRequests: 1})
	defer rl.Stop()

	clock := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return clock }
	rl.allow("a")

	clock = clock.Add(time.Hour)
	rl.evictIdle(10 * time.Minute)
	assert.Empty(t, rl.buckets)
}

func TestMiddleware(t *testing.T) {
	rl := New(Config{MaxRequests: 1, WindowDuration: time.Hour})
	defer rl.Stop()

	app := fiber.New()
	app.Post("/runs", rl.Middleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	send := func(client string) *http.Response {
		req := httptest.NewRequest("POST", "/runs", nil)
		req.Header.Set("X-Client-ID", client)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	assert.Equal(t, fiber.StatusAccepted, send("alice").StatusCode)
	limited := send("alice")
	assert.Equal(t, fiber.StatusTooManyRequests, limited.StatusCode)
	assert.NotEmpty(t, limited.Header.Get("Retry-After"))
	assert.Equal(t, fiber.StatusAccepted, send("bob").StatusCode)
}
