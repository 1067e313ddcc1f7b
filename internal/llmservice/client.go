package llmservice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"manual-rag/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ErrEmptyResponse is returned when the model answers without any choice.
var ErrEmptyResponse = errors.New("llm returned no choices")

// Model is the part of llms.Model the client needs.
type Model interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// NewModel builds a langchaingo model for the configured provider.
func NewModel(cfg config.LLMConfig) (Model, error) {
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("Initializing LLM")
	switch cfg.Provider {
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case "openai", "":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// Client wraps a model with a token-bucket limiter and a circuit breaker.
// It is safe for concurrent use.
type Client struct {
	model       Model
	name        string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
}

// New creates a client for cfg.
func New(cfg config.LLMConfig) (*Client, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", cfg.Model, err)
	}
	return NewClient(model, cfg), nil
}

// NewClient wraps an existing model.
func NewClient(model Model, cfg config.LLMConfig) *Client {
	name := cfg.Model
	if name == "" {
		name = "llm"
	}
	rpm := cfg.RequestsPerMin
	if rpm <= 0 {
		rpm = 60
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	return &Client{
		model:       model,
		name:        name,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.TimeoutDuration(2 * time.Minute),
		breaker:     breaker,
		limiter:     rate.NewLimiter(rate.Limit(float64(rpm)/60.0), max(1, rpm/10)),
	}
}

// Complete sends a system and user message and returns the text answer.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	return c.generate(ctx, "complete", messages)
}

// ImageRequest is a single-image vision call.
type ImageRequest struct {
	Prompt   string
	Data     []byte
	MIMEType string
	// Detail is passed through to the provider ("low", "high" or "auto").
	Detail string
	// JSON asks the provider for a JSON object response.
	JSON bool
}

// AnalyzeImage sends an image with a prompt and returns the model output.
func (c *Client) AnalyzeImage(ctx context.Context, req ImageRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", errors.New("image data is empty")
	}
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	messages := []llms.MessageContent{{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextContent{Text: req.Prompt},
			llms.ImageURLContent{URL: DataURL(mimeType, req.Data), Detail: req.Detail},
		},
	}}

	var opts []llms.CallOption
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}
	return c.generate(ctx, "analyze_image", messages, opts...)
}

func (c *Client) generate(ctx context.Context, op string, messages []llms.MessageContent, extra ...llms.CallOption) (string, error) {
	ctx, span := otel.Tracer("llmservice").Start(ctx, "llm."+op)
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.name))

	if err := c.limiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("llm.rate_limited", true))
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}
	opts = append(opts, extra...)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return nil, err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		return resp.Choices[0].Content, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("llm.circuit_open", true))
		}
		span.RecordError(err)
		return "", fmt.Errorf("%s %s: %w", c.name, op, err)
	}
	return result.(string), nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
