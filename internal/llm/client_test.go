package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/intent-curator/backend/pkg/circuitbreaker"
	"github.com/intent-curator/backend/pkg/config"
)

type chatBody struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Seed        *int    `json:"seed"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newServer(t *testing.T, status int, got *chatBody) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"[8, 3]"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientGenerate(t *testing.T) {
	var body chatBody
	srv := newServer(t, http.StatusOK, &body)

	c := NewClient(config.LLMConfig{
		APIKey:      "sk-test",
		BaseURL:     srv.URL,
		Model:       "gpt-4o",
		Temperature: 1.5,
		MaxTokens:   200,
		Seed:        42,
	}, zaptest.NewLogger(t))

	out, err := c.Generate(context.Background(), Request{
		Prompt:       "score these",
		SystemPrompt: "you are a judge",
		Temperature:  0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "[8, 3]", out)

	assert.Equal(t, "gpt-4o", body.Model)
	assert.InDelta(t, 0.2, body.Temperature, 1e-6)
	assert.Equal(t, 200, body.MaxTokens)
	require.NotNil(t, body.Seed)
	assert.Equal(t, 42, *body.Seed)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "score these", body.Messages[1].Content)
}

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	srv := newServer(t, http.StatusBadRequest, nil)

	c := NewClient(config.LLMConfig{
		APIKey:             "sk-test",
		BaseURL:            srv.URL,
		Model:              "gpt-4o",
		BreakerMaxFailures: 2,
		BreakerTimeoutSec:  60,
	}, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		_, err := c.Generate(context.Background(), Request{Prompt: "x"})
		require.Error(t, err)
	}

	_, err := c.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestGeneratorFunc(t *testing.T) {
	var g Generator = GeneratorFunc(func(_ context.Context, req Request) (string, error) {
		return "echo: " + req.Prompt, nil
	})
	out, err := g.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}
