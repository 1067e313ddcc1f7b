package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"manual-rag/internal/helper"
	"manual-rag/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

// Registry holds the per-user document records.
type Registry interface {
	PutDocument(scope models.UserScope, doc models.Document) error
	GetDocument(scope models.UserScope) (*models.Document, error)
	DeleteDocument(scope models.UserScope) error
}

// Store is the local backend: one chunk and one image collection per user
// in chromem, document records in the registry.
//
// A generation swap is serialized by a mutex but is not crash atomic: a
// failure after the old collections are dropped leaves the document
// unprocessed with an empty knowledge base, and a rerun repairs it.
type Store struct {
	mu            sync.Mutex
	db            *chromem.DB
	registry      Registry
	dbPath        string
	encryptionKey string
}

const compress = false

// NewStore opens the vector database. An empty dbPath keeps it in memory.
func NewStore(dbPath string, registry Registry, encryptionKey string) (*Store, error) {
	var db *chromem.DB
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}
	return &Store{db: db, registry: registry, dbPath: dbPath, encryptionKey: encryptionKey}, nil
}

func chunkCollection(scope models.UserScope) string { return "chunks-" + scope.UserID() }
func imageCollection(scope models.UserScope) string { return "images-" + scope.UserID() }

// CreateDocument replaces the user's document and drops the old generation.
func (s *Store) CreateDocument(ctx context.Context, scope models.UserScope, doc *models.Document) error {
	if !scope.Valid() {
		return models.InvalidInput("user scope is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		id, err := helper.GenerateUUID()
		if err != nil {
			return err
		}
		doc.ID = id
	}
	doc.UserID = scope.UserID()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if err := s.dropCollections(scope); err != nil {
		return err
	}
	return s.registry.PutDocument(scope, *doc)
}

func (s *Store) GetDocument(ctx context.Context, scope models.UserScope) (*models.Document, error) {
	return s.registry.GetDocument(scope)
}

// CommitGeneration drops the user's collections, writes the new chunks and
// images and marks the document processed.
func (s *Store) CommitGeneration(ctx context.Context, scope models.UserScope, gen models.Generation) error {
	if !scope.Valid() {
		return models.InvalidInput("user scope is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.registry.GetDocument(scope)
	if err != nil {
		return err
	}
	if doc.ID != gen.DocumentID {
		return fmt.Errorf("document %s: %w", gen.DocumentID, models.ErrNotFound)
	}

	if err := s.dropCollections(scope); err != nil {
		return err
	}

	chunkDocs := make([]chromem.Document, 0, len(gen.Chunks))
	for _, c := range gen.Chunks {
		id := c.ID
		if id == "" {
			id = helper.MustUUID()
		}
		chunkDocs = append(chunkDocs, chromem.Document{
			ID:      id,
			Content: c.Content,
			Metadata: map[string]string{
				"user_id":             scope.UserID(),
				"document_id":         gen.DocumentID,
				"page_number":         strconv.Itoa(c.PageNumber),
				"chunk_index":         strconv.Itoa(c.ChunkIndex),
				"has_diagram":         strconv.FormatBool(c.HasDiagram),
				"diagram_description": c.DiagramDescription,
			},
			Embedding: c.Embedding,
		})
	}
	imageDocs := make([]chromem.Document, 0, len(gen.Images))
	for _, img := range gen.Images {
		id := img.ID
		if id == "" {
			id = helper.MustUUID()
		}
		imageDocs = append(imageDocs, chromem.Document{
			ID:      id,
			Content: img.Caption,
			Metadata: map[string]string{
				"user_id":     scope.UserID(),
				"document_id": gen.DocumentID,
				"page_number": strconv.Itoa(img.PageNumber),
				"asset_url":   img.AssetURL,
				"image_type":  string(img.ImageType),
				"width":       strconv.Itoa(img.Width),
				"height":      strconv.Itoa(img.Height),
			},
			Embedding: img.Embedding,
		})
	}

	if err := s.addDocuments(ctx, chunkCollection(scope), chunkDocs); err != nil {
		return err
	}
	if err := s.addDocuments(ctx, imageCollection(scope), imageDocs); err != nil {
		return err
	}

	doc.Processed = true
	doc.TotalPages = gen.TotalPages
	doc.ProcessingMethod = gen.Method
	if err := s.registry.PutDocument(scope, *doc); err != nil {
		return err
	}
	log.Info().Str("user_id", scope.UserID()).Str("document_id", gen.DocumentID).
		Int("chunks", len(chunkDocs)).Int("images", len(imageDocs)).Msg("Generation committed")
	return nil
}

func (s *Store) addDocuments(ctx context.Context, name string, docs []chromem.Document) error {
	if len(docs) == 0 {
		return nil
	}
	c, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func (s *Store) dropCollections(scope models.UserScope) error {
	for _, name := range []string{chunkCollection(scope), imageCollection(scope)} {
		if s.db.GetCollection(name, nil) == nil {
			continue
		}
		if err := s.db.DeleteCollection(name); err != nil {
			return fmt.Errorf("failed to drop collection %s: %w", name, err)
		}
	}
	return nil
}

// query returns results above threshold, most similar first.
func (s *Store) query(ctx context.Context, name string, embedding []float32, threshold float64, limit int) ([]chromem.Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	c := s.db.GetCollection(name, nil)
	if c == nil || c.Count() == 0 {
		return nil, nil
	}
	results, err := c.QueryEmbedding(ctx, embedding, min(limit, c.Count()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	kept := results[:0]
	for _, r := range results {
		if float64(r.Similarity) > threshold {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Similarity > kept[j].Similarity })
	return kept, nil
}

func (s *Store) SearchChunks(ctx context.Context, scope models.UserScope, embedding []float32, threshold float64, limit int) ([]models.ScoredChunk, error) {
	if !scope.Valid() {
		return nil, models.InvalidInput("user scope is empty")
	}
	results, err := s.query(ctx, chunkCollection(scope), embedding, threshold, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		out = append(out, models.ScoredChunk{
			Chunk: models.Chunk{
				ID:                 r.ID,
				UserID:             r.Metadata["user_id"],
				DocumentID:         r.Metadata["document_id"],
				Content:            r.Content,
				PageNumber:         atoi(r.Metadata["page_number"]),
				ChunkIndex:         atoi(r.Metadata["chunk_index"]),
				HasDiagram:         r.Metadata["has_diagram"] == "true",
				DiagramDescription: r.Metadata["diagram_description"],
			},
			Similarity: float64(r.Similarity),
		})
	}
	return out, nil
}

func (s *Store) SearchImages(ctx context.Context, scope models.UserScope, embedding []float32, threshold float64, limit int) ([]models.ScoredImage, error) {
	if !scope.Valid() {
		return nil, models.InvalidInput("user scope is empty")
	}
	results, err := s.query(ctx, imageCollection(scope), embedding, threshold, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoredImage, 0, len(results))
	for _, r := range results {
		out = append(out, models.ScoredImage{
			Image: models.Image{
				ID:         r.ID,
				UserID:     r.Metadata["user_id"],
				DocumentID: r.Metadata["document_id"],
				PageNumber: atoi(r.Metadata["page_number"]),
				AssetURL:   r.Metadata["asset_url"],
				Caption:    r.Content,
				ImageType:  models.ImageType(r.Metadata["image_type"]),
				Width:      atoi(r.Metadata["width"]),
				Height:     atoi(r.Metadata["height"]),
			},
			Similarity: float64(r.Similarity),
		})
	}
	return out, nil
}

// Export writes the user's collections to an encrypted snapshot file.
func (s *Store) Export(ctx context.Context, scope models.UserScope, filePath string) error {
	if !scope.Valid() {
		return models.InvalidInput("user scope is empty")
	}
	if s.encryptionKey == "" {
		return errors.New("encryption key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for _, name := range []string{chunkCollection(scope), imageCollection(scope)} {
		if s.db.GetCollection(name, nil) != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("collections for %s: %w", scope.UserID(), models.ErrNotFound)
	}
	log.Debug().Str("file", filePath).Strs("collections", names).Msg("Exporting collections")
	if err := s.db.ExportToFile(filePath, compress, s.encryptionKey, names...); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import restores the user's collections from a snapshot written by Export.
func (s *Store) Import(ctx context.Context, scope models.UserScope, filePath string) error {
	if !scope.Valid() {
		return models.InvalidInput("user scope is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.ImportFromFile(filePath, s.encryptionKey, chunkCollection(scope), imageCollection(scope)); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
