// Package kvstore is the embedded key-value store behind the local backend:
// the per-user document registry and the page analysis cache.
package kvstore

import (
	"errors"
	"fmt"
	"time"

	"manual-rag/internal/helper"
	"manual-rag/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/timshannon/badgerhold/v4"
)

// Store wraps a badgerhold database.
type Store struct {
	store *badgerhold.Store
}

// documentRecord is keyed by user ID, so a user can only ever hold one.
type documentRecord struct {
	UserID           string
	ID               string `badgerholdIndex:"ID"`
	FilePath         string
	OriginalFilename string
	TotalPages       int
	ProcessingMethod string
	Processed        bool
	CreatedAt        time.Time
}

type analysisRecord struct {
	Key       string
	Analysis  models.PageAnalysis
	CreatedAt time.Time
}

// Open opens (or creates) the database in dir. A non-empty encryptionKey
// must be 16, 24 or 32 bytes and enables encryption at rest.
func Open(dir, encryptionKey string) (*Store, error) {
	if err := helper.CreateFolder(dir); err != nil {
		return nil, err
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = badgerLogger{logger: log.With().Str("component", "badger").Logger()}
	if encryptionKey != "" {
		switch len(encryptionKey) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("encryption key must be 16, 24 or 32 bytes, got %d", len(encryptionKey))
		}
		options.EncryptionKey = []byte(encryptionKey)
		options.IndexCacheSize = 32 << 20
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	log.Debug().Str("path", dir).Msg("Badger database initialized")
	return &Store{store: store}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// PutDocument stores doc as the user's only document, replacing any other.
func (s *Store) PutDocument(scope models.UserScope, doc models.Document) error {
	if !scope.Valid() {
		return models.InvalidInput("user scope is empty")
	}
	rec := documentRecord{
		UserID:           scope.UserID(),
		ID:               doc.ID,
		FilePath:         doc.FilePath,
		OriginalFilename: doc.OriginalFilename,
		TotalPages:       doc.TotalPages,
		ProcessingMethod: string(doc.ProcessingMethod),
		Processed:        doc.Processed,
		CreatedAt:        doc.CreatedAt,
	}
	if err := s.store.Upsert(scope.UserID(), rec); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// GetDocument returns the user's document or models.ErrNotFound.
func (s *Store) GetDocument(scope models.UserScope) (*models.Document, error) {
	if !scope.Valid() {
		return nil, models.InvalidInput("user scope is empty")
	}
	var rec documentRecord
	if err := s.store.Get(scope.UserID(), &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &models.Document{
		ID:               rec.ID,
		UserID:           rec.UserID,
		FilePath:         rec.FilePath,
		OriginalFilename: rec.OriginalFilename,
		TotalPages:       rec.TotalPages,
		ProcessingMethod: models.ProcessingMethod(rec.ProcessingMethod),
		Processed:        rec.Processed,
		CreatedAt:        rec.CreatedAt,
	}, nil
}

// DeleteDocument removes the user's document. Missing documents are ignored.
func (s *Store) DeleteDocument(scope models.UserScope) error {
	if !scope.Valid() {
		return models.InvalidInput("user scope is empty")
	}
	if err := s.store.Delete(scope.UserID(), documentRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// GetAnalysis returns a cached page analysis or models.ErrNotFound.
func (s *Store) GetAnalysis(key string) (*models.PageAnalysis, error) {
	var rec analysisRecord
	if err := s.store.Get(key, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return &rec.Analysis, nil
}

// PutAnalysis caches a page analysis under key.
func (s *Store) PutAnalysis(key string, analysis models.PageAnalysis) error {
	rec := analysisRecord{Key: key, Analysis: analysis, CreatedAt: time.Now()}
	if err := s.store.Upsert(key, rec); err != nil {
		return fmt.Errorf("failed to cache analysis: %w", err)
	}
	return nil
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}
