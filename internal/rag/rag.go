package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"manual-rag/internal/config"
	"manual-rag/internal/models"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("manual-rag/rag")

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

type ChatModel interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type DocumentReader interface {
	GetDocument(ctx context.Context, scope models.UserScope) (*models.Document, error)
}

// Composer answers questions from the user's processed manual only.
type Composer struct {
	docs      DocumentReader
	embedder  QueryEmbedder
	retriever *Retriever
	chat      ChatModel
	scorer    ImageScorer
	cfg       config.RAGConfig
}

func NewComposer(docs DocumentReader, embedder QueryEmbedder, retriever *Retriever, chat ChatModel, scorer ImageScorer, cfg config.RAGConfig) *Composer {
	if scorer == nil {
		scorer = NewKeywordScorer()
	}
	return &Composer{
		docs:      docs,
		embedder:  embedder,
		retriever: retriever,
		chat:      chat,
		scorer:    scorer,
		cfg:       cfg,
	}
}

// Answer returns models.ErrNotReady until the user's document is processed.
// When nothing relevant is retrieved the model is not called.
func (c *Composer) Answer(ctx context.Context, query, userID string) (*models.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.InvalidInput("message is required")
	}
	scope, err := models.NewUserScope(userID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "rag.Answer")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", scope.UserID()))
	logger := log.With().Str("user_id", scope.UserID()).Logger()

	fail := func(err error) (*models.Answer, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	doc, err := c.docs.GetDocument(ctx, scope)
	if errors.Is(err, models.ErrNotFound) || (err == nil && !doc.Processed) {
		logger.Info().Msg("Question before the manual is ready")
		return fail(models.ErrNotReady)
	}
	if err != nil {
		return fail(fmt.Errorf("load document: %w", err))
	}

	embedding, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return fail(fmt.Errorf("embed query: %w", err))
	}
	retrieval, err := c.retriever.Retrieve(ctx, embedding, scope.UserID(), c.cfg.ChunkLimit, c.cfg.ImageLimit, c.cfg.ChunkThreshold)
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.Int("chunks", len(retrieval.Chunks)), attribute.Int("images", len(retrieval.Images)))

	if retrieval.Empty() {
		logger.Info().Str("document_id", doc.ID).Msg("No relevant context found")
		return &models.Answer{
			Steps:       []string{models.NoContextAnswer},
			Images:      []models.AnswerImage{},
			RawResponse: models.NoContextAnswer,
		}, nil
	}

	raw, err := c.chat.Complete(ctx, models.AnswerSystemPrompt, fmt.Sprintf(models.AnswerUserTemplate, BuildContext(retrieval), query))
	if err != nil {
		return fail(fmt.Errorf("generate answer: %w", err))
	}

	steps := make([]string, 0)
	for _, step := range ParseSteps(raw) {
		if step = StripImageTags(step); step != "" {
			steps = append(steps, step)
		}
	}
	images := ResolveImages(raw, retrieval.Images, c.scorer, c.cfg.ImageFallbackThreshold, c.cfg.MaxFallbackImages)

	logger.Info().Str("document_id", doc.ID).Int("chunks", len(retrieval.Chunks)).
		Int("steps", len(steps)).Int("images", len(images)).Msg("Answered question")
	return &models.Answer{Steps: steps, Images: images, RawResponse: raw}, nil
}

// Fallback is the safe answer shown when answering failed.
func Fallback() *models.Answer {
	return &models.Answer{
		Steps:       []string{models.FallbackAnswer},
		Images:      []models.AnswerImage{},
		RawResponse: models.FallbackAnswer,
	}
}

// NotReady is the answer shown while the manual is missing or processing.
func NotReady() *models.Answer {
	return &models.Answer{
		Steps:       []string{models.NotReadyAnswer},
		Images:      []models.AnswerImage{},
		RawResponse: models.NotReadyAnswer,
	}
}
