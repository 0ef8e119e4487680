package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/intent-curator/backend/pkg/circuitbreaker"
	"github.com/intent-curator/backend/pkg/config"
)

var ErrEmptyCompletion = errors.New("completion returned no choices")

// Request is one generation call. Zero fields fall back to the client defaults.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Temperature  float32
	MaxTokens    int
	Seed         *int
}

// Generator is an opaque text generation capability. Its output carries no
// guaranteed structure.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	seed        *int
	timeout     time.Duration
	cb          *circuitbreaker.Breaker
	onUsage     func(model string, promptTokens, completionTokens int)
	logger      *zap.Logger
}

type Option func(*clientOptions)

type clientOptions struct {
	onStateChange func(name string, from, to circuitbreaker.State)
	onUsage       func(model string, promptTokens, completionTokens int)
}

// WithBreakerObserver is called on every breaker state transition.
func WithBreakerObserver(fn func(name string, from, to circuitbreaker.State)) Option {
	return func(o *clientOptions) { o.onStateChange = fn }
}

// WithUsageObserver receives token usage of every completion.
func WithUsageObserver(fn func(model string, promptTokens, completionTokens int)) Option {
	return func(o *clientOptions) { o.onUsage = fn }
}

func NewClient(cfg config.LLMConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxProbes:        1,
		OpenTimeout:      time.Duration(cfg.BreakerTimeoutSec) * time.Second,
		FailureThreshold: uint32(max(cfg.BreakerMaxFailures, 0)),
		OnStateChange:    o.onStateChange,
		Logger:           logger,
	})

	seed := cfg.Seed
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("base_url", clientConfig.BaseURL),
	)

	return &Client{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		seed:        &seed,
		timeout:     timeout,
		cb:          cb,
		onUsage:     o.onUsage,
		logger:      logger,
	}
}

func (c *Client) Breaker() *circuitbreaker.Breaker { return c.cb }

func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Seed:        c.seed,
	}
	if req.Model != "" {
		chatReq.Model = req.Model
	}
	if req.Temperature != 0 {
		chatReq.Temperature = req.Temperature
	}
	if req.MaxTokens != 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Seed != nil {
		chatReq.Seed = req.Seed
	}
	if req.SystemPrompt != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	var content string
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyCompletion
		}

		c.logger.Debug("LLM completion generated",
			zap.String("model", chatReq.Model),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
		if c.onUsage != nil {
			c.onUsage(chatReq.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}

		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}

	return content, nil
}
