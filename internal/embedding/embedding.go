package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"manual-rag/internal/config"
	"manual-rag/internal/helper"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewEmbedder creates a langchaingo embedder for the configured provider.
func NewEmbedder(cfg config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Loaded embedder config")

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEmbedder(cfg)
	case "openai", "":
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing embedding LLM: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("error creating embedder: %w", err)
	}
	return embedder, nil
}

// new ollama embedder
func NewOllamaEmbedder(cfg config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("error initializing ollama: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("error creating embedder: %w", err)
	}
	return embedder, nil
}

// Generator turns text into vectors in fixed-size sequential batches.
type Generator struct {
	embedder  embeddings.Embedder
	batchSize int
	maxInput  int
	dimension int
}

// NewGenerator wraps embedder with the batching settings from cfg.
func NewGenerator(embedder embeddings.Embedder, cfg config.RAGConfig) *Generator {
	g := &Generator{
		embedder:  embedder,
		batchSize: cfg.EmbedBatchSize,
		maxInput:  cfg.MaxEmbedInput,
		dimension: cfg.EmbeddingDimension,
	}
	if g.batchSize <= 0 {
		g.batchSize = 20
	}
	if g.maxInput <= 0 {
		g.maxInput = 8000
	}
	return g
}

// EmbedBatch embeds texts, preserving order. Inputs are truncated to the
// configured maximum length. A failed batch fails the whole call.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		batch := make([]string, 0, end-start)
		for _, text := range texts[start:end] {
			batch = append(batch, helper.Truncate(text, g.maxInput))
		}

		vectors, err := g.embedder.EmbedDocuments(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors for %d inputs", start, end, len(vectors), len(batch))
		}
		for _, v := range vectors {
			if err := g.checkDimension(v); err != nil {
				return nil, err
			}
		}
		out = append(out, vectors...)
		log.Debug().Int("from", start).Int("to", end).Int("total", len(texts)).Msg("Embedded batch")
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (g *Generator) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	v, err := g.embedder.EmbedQuery(ctx, helper.Truncate(query, g.maxInput))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := g.checkDimension(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (g *Generator) checkDimension(v []float32) error {
	if g.dimension > 0 && len(v) != g.dimension {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(v), g.dimension)
	}
	return nil
}
