package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"manual-rag/internal/helper"
	"manual-rag/internal/models"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
)

const insertBatchSize = 500

// Store is the Postgres backend. Every method is scoped to one user.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// CreateDocument replaces the user's document with doc. The previous
// document's chunks and images go with it through the cascade.
func (s *Store) CreateDocument(ctx context.Context, scope models.UserScope, doc *models.Document) error {
	if !scope.Valid() {
		return models.InvalidInput("user scope is empty")
	}
	if doc.ID == "" {
		id, err := helper.GenerateUUID()
		if err != nil {
			return err
		}
		doc.ID = id
	}
	doc.UserID = scope.UserID()

	row := &Document{
		ID:               doc.ID,
		UserID:           doc.UserID,
		FilePath:         doc.FilePath,
		OriginalFilename: doc.OriginalFilename,
		TotalPages:       doc.TotalPages,
		ProcessingMethod: string(doc.ProcessingMethod),
		Processed:        doc.Processed,
		CreatedAt:        doc.CreatedAt,
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Document)(nil)).Where("user_id = ?", scope.UserID()).Exec(ctx); err != nil {
			return fmt.Errorf("delete previous document: %w", err)
		}
		if _, err := tx.NewInsert().Model(row).Returning("created_at").Exec(ctx); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		doc.CreatedAt = row.CreatedAt
		return nil
	})
}

// GetDocument returns the user's document or models.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, scope models.UserScope) (*models.Document, error) {
	if !scope.Valid() {
		return nil, models.InvalidInput("user scope is empty")
	}
	var row Document
	err := s.db.NewSelect().Model(&row).Where("user_id = ?", scope.UserID()).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &models.Document{
		ID:               row.ID,
		UserID:           row.UserID,
		FilePath:         row.FilePath,
		OriginalFilename: row.OriginalFilename,
		TotalPages:       row.TotalPages,
		ProcessingMethod: models.ProcessingMethod(row.ProcessingMethod),
		Processed:        row.Processed,
		CreatedAt:        row.CreatedAt,
	}, nil
}

// CommitGeneration atomically swaps the user's knowledge base: prior chunks
// and images are deleted, the new ones inserted and the document marked
// processed.
func (s *Store) CommitGeneration(ctx context.Context, scope models.UserScope, gen models.Generation) error {
	if !scope.Valid() {
		return models.InvalidInput("user scope is empty")
	}
	userID := scope.UserID()

	chunks := make([]Chunk, 0, len(gen.Chunks))
	for _, c := range gen.Chunks {
		id := c.ID
		if id == "" {
			id = helper.MustUUID()
		}
		chunks = append(chunks, Chunk{
			ID:                 id,
			UserID:             userID,
			DocumentID:         gen.DocumentID,
			Content:            c.Content,
			PageNumber:         c.PageNumber,
			ChunkIndex:         c.ChunkIndex,
			HasDiagram:         c.HasDiagram,
			DiagramDescription: c.DiagramDescription,
			Embedding:          pgvector.NewVector(c.Embedding),
		})
	}
	images := make([]Image, 0, len(gen.Images))
	for _, img := range gen.Images {
		id := img.ID
		if id == "" {
			id = helper.MustUUID()
		}
		images = append(images, Image{
			ID:         id,
			UserID:     userID,
			DocumentID: gen.DocumentID,
			PageNumber: img.PageNumber,
			AssetURL:   img.AssetURL,
			Caption:    img.Caption,
			ImageType:  string(img.ImageType),
			Width:      img.Width,
			Height:     img.Height,
			Embedding:  pgvector.NewVector(img.Embedding),
		})
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Chunk)(nil)).Where("user_id = ?", userID).Exec(ctx); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if _, err := tx.NewDelete().Model((*Image)(nil)).Where("user_id = ?", userID).Exec(ctx); err != nil {
			return fmt.Errorf("delete images: %w", err)
		}

		for start := 0; start < len(chunks); start += insertBatchSize {
			batch := chunks[start:min(start+insertBatchSize, len(chunks))]
			if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return fmt.Errorf("insert chunks: %w", err)
			}
		}
		for start := 0; start < len(images); start += insertBatchSize {
			batch := images[start:min(start+insertBatchSize, len(images))]
			if _, err := tx.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return fmt.Errorf("insert images: %w", err)
			}
		}

		res, err := tx.NewUpdate().Model((*Document)(nil)).
			Set("processed = ?", true).
			Set("total_pages = ?", gen.TotalPages).
			Set("processing_method = ?", string(gen.Method)).
			Where("id = ?", gen.DocumentID).
			Where("user_id = ?", userID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark document processed: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("document %s: %w", gen.DocumentID, models.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("user_id", userID).Str("document_id", gen.DocumentID).
		Int("chunks", len(chunks)).Int("images", len(images)).Msg("Generation committed")
	return nil
}

// SearchChunks runs match_chunks for the user.
func (s *Store) SearchChunks(ctx context.Context, scope models.UserScope, embedding []float32, threshold float64, limit int) ([]models.ScoredChunk, error) {
	if !scope.Valid() {
		return nil, models.InvalidInput("user scope is empty")
	}
	if limit <= 0 {
		return nil, nil
	}
	var rows []matchedChunk
	err := s.db.NewRaw("SELECT * FROM match_chunks(?, ?, ?, ?)",
		pgvector.NewVector(embedding), threshold, limit, scope.UserID()).
		Scan(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match chunks: %w", err)
	}

	out := make([]models.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ScoredChunk{
			Chunk: models.Chunk{
				ID:                 r.ID,
				UserID:             r.UserID,
				DocumentID:         r.DocumentID,
				Content:            r.Content,
				PageNumber:         r.PageNumber,
				ChunkIndex:         r.ChunkIndex,
				HasDiagram:         r.HasDiagram,
				DiagramDescription: r.DiagramDescription,
			},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// SearchImages runs match_images for the user.
func (s *Store) SearchImages(ctx context.Context, scope models.UserScope, embedding []float32, threshold float64, limit int) ([]models.ScoredImage, error) {
	if !scope.Valid() {
		return nil, models.InvalidInput("user scope is empty")
	}
	if limit <= 0 {
		return nil, nil
	}
	var rows []matchedImage
	err := s.db.NewRaw("SELECT * FROM match_images(?, ?, ?, ?)",
		pgvector.NewVector(embedding), threshold, limit, scope.UserID()).
		Scan(ctx, &rows)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match images: %w", err)
	}

	out := make([]models.ScoredImage, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ScoredImage{
			Image: models.Image{
				ID:         r.ID,
				UserID:     r.UserID,
				DocumentID: r.DocumentID,
				PageNumber: r.PageNumber,
				AssetURL:   r.AssetURL,
				Caption:    r.Caption,
				ImageType:  models.ImageType(r.ImageType),
				Width:      r.Width,
				Height:     r.Height,
			},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
