package rag

import (
	"context"
	"fmt"
	"sort"

	"manual-rag/internal/models"

	"golang.org/x/sync/errgroup"
)

// Searcher is the similarity search both store backends provide.
type Searcher interface {
	SearchChunks(ctx context.Context, scope models.UserScope, embedding []float32, threshold float64, limit int) ([]models.ScoredChunk, error)
	SearchImages(ctx context.Context, scope models.UserScope, embedding []float32, threshold float64, limit int) ([]models.ScoredImage, error)
}

// Retriever finds the chunks and images of a user's manual closest to a
// query embedding.
type Retriever struct {
	store          Searcher
	imageThreshold float64
}

type RetrieverOption func(*Retriever)

// WithImageThreshold applies a separate similarity threshold to images.
func WithImageThreshold(threshold float64) RetrieverOption {
	return func(r *Retriever) { r.imageThreshold = threshold }
}

func NewRetriever(store Searcher, opts ...RetrieverOption) *Retriever {
	r := &Retriever{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns at most kChunks chunks and kImages images of the user
// with similarity strictly above threshold, most similar first. Finding
// nothing is not an error.
func (r *Retriever) Retrieve(ctx context.Context, queryEmbedding []float32, userID string, kChunks, kImages int, threshold float64) (*models.Retrieval, error) {
	scope, err := models.NewUserScope(userID)
	if err != nil {
		return nil, err
	}
	if len(queryEmbedding) == 0 {
		return nil, models.InvalidInput("query embedding is empty")
	}
	imageThreshold := threshold
	if r.imageThreshold != 0 {
		imageThreshold = r.imageThreshold
	}

	var out models.Retrieval
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chunks, err := r.store.SearchChunks(gctx, scope, queryEmbedding, threshold, kChunks)
		if err != nil {
			return fmt.Errorf("search chunks: %w", err)
		}
		out.Chunks = topChunks(chunks, threshold, kChunks)
		return nil
	})
	g.Go(func() error {
		images, err := r.store.SearchImages(gctx, scope, queryEmbedding, imageThreshold, kImages)
		if err != nil {
			return fmt.Errorf("search images: %w", err)
		}
		out.Images = topImages(images, imageThreshold, kImages)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func topChunks(chunks []models.ScoredChunk, threshold float64, k int) []models.ScoredChunk {
	kept := make([]models.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Similarity > threshold {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Similarity > kept[j].Similarity })
	return kept[:min(len(kept), max(k, 0))]
}

func topImages(images []models.ScoredImage, threshold float64, k int) []models.ScoredImage {
	kept := make([]models.ScoredImage, 0, len(images))
	for _, img := range images {
		if img.Similarity > threshold {
			kept = append(kept, img)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Similarity > kept[j].Similarity })
	return kept[:min(len(kept), max(k, 0))]
}
