package llm

import (
	"context"
	"errors"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// Config holds provider settings. BaseURL allows any OpenAI-compatible
// endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAIClient implements Client over the chat-completions API.
type OpenAIClient struct {
	api *openai.Client
	cfg Config
}

// NewOpenAIClient builds a client from config.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "llm api key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{api: openai.NewClientWithConfig(apiCfg), cfg: cfg}, nil
}

func (c *OpenAIClient) request(messages []Message) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
}

// Complete performs a blocking chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.request(messages))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", schema.NewError(schema.ErrCodePermanentIO, "llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream performs a streaming chat completion, invoking chunk per delta.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message, chunk func(delta string)) (string, error) {
	req := c.request(messages)
	req.Stream = true

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	defer stream.Close()

	var full string
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full, nil
		}
		if err != nil {
			return full, classify(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full += delta
		if chunk != nil {
			chunk(delta)
		}
	}
}

// classify maps provider failures onto the engine taxonomy. Rate limits and
// upstream 5xx are transient; auth and malformed requests are not.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode >= 500:
			return schema.NewErrorf(schema.ErrCodeTransientIO, "llm provider: %s", apiErr.Message).WithCause(err)
		default:
			return schema.NewErrorf(schema.ErrCodePermanentIO, "llm provider: %s", apiErr.Message).WithCause(err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	// Transport-level failures (connection reset, DNS) are worth a retry.
	return schema.NewErrorf(schema.ErrCodeTransientIO, "llm transport: %s", err.Error()).WithCause(err)
}
