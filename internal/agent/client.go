package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Client talks to an OpenAI-compatible completion endpoint. It owns the
// rate limiter and the retry policy; callers see one blocking call per
// generation.
type Client struct {
	api            *openai.Client
	embeddingModel string
	limiter        *rate.Limiter
	retry          RetryPolicy
	logger         *slog.Logger
}

type Option func(*clientConfig)

type clientConfig struct {
	baseURL        string
	timeout        time.Duration
	embeddingModel string
	limiter        *rate.Limiter
	retry          RetryPolicy
	logger         *slog.Logger
}

func WithBaseURL(baseURL string) Option {
	return func(c *clientConfig) {
		c.baseURL = baseURL
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

func WithEmbeddingModel(model string) Option {
	return func(c *clientConfig) {
		c.embeddingModel = model
	}
}

func WithRateLimit(requestsPerMinute, burst int) Option {
	return func(c *clientConfig) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *clientConfig) {
		c.retry = policy
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	cfg := clientConfig{
		timeout:        15 * time.Minute,
		embeddingModel: string(openai.SmallEmbedding3),
		limiter:        rate.NewLimiter(rate.Limit(0.5), 1),
		retry:          DefaultRetryPolicy(),
		logger:         slog.Default().With("component", "generation_client"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		apiCfg.BaseURL = cfg.baseURL
	}
	// ClientConfig.HTTPClient is an HTTPDoer interface; the timeout lives
	// on the concrete client we hand it.
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.timeout}

	c := &Client{
		api:            openai.NewClientWithConfig(apiCfg),
		embeddingModel: cfg.embeddingModel,
		limiter:        cfg.limiter,
		retry:          cfg.retry,
		logger:         cfg.logger,
	}

	c.logger.Debug("generation client initialized",
		"base_url", apiCfg.BaseURL,
		"embedding_model", c.embeddingModel,
		"rate_limit", fmt.Sprintf("%v req/s", cfg.limiter.Limit()),
		"max_retries", cfg.retry.MaxAttempts)

	return c
}

// Generate issues one chat completion and returns the response text.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	requestID := fmt.Sprintf("gen_%d", time.Now().UnixNano())
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	c.logger.Debug("generation request",
		"request_id", requestID,
		"model", req.Model,
		"prompt_length", len(req.Prompt),
		"system_length", len(req.System),
		"force_json", req.ForceJSON,
		"max_tokens", req.MaxTokens)

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	completion := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		completion.MaxTokens = req.MaxTokens
	}
	if req.ForceJSON {
		completion.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var out string
	err := c.retry.Do(ctx, c.logger, "generate", func() error {
		resp, err := c.api.CreateChatCompletion(ctx, completion)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices in response")
		}
		out = resp.Choices[0].Message.Content
		c.logger.Debug("generation tokens",
			"request_id", requestID,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens)
		return nil
	})
	if err != nil {
		c.logger.Error("generation request failed",
			"request_id", requestID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return "", err
	}

	c.logger.Info("generation request complete",
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_length", len(out))

	return out, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var vec []float32
	err := c.retry.Do(ctx, c.logger, "embed", func() error {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("no embedding in response")
		}
		vec = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}
