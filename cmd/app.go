package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"manual-rag/internal/assets"
	"manual-rag/internal/chromemdb"
	"manual-rag/internal/chunker"
	"manual-rag/internal/config"
	"manual-rag/internal/db"
	"manual-rag/internal/embedding"
	"manual-rag/internal/imageproc"
	"manual-rag/internal/ingest"
	"manual-rag/internal/kvstore"
	"manual-rag/internal/llmservice"
	"manual-rag/internal/models"
	"manual-rag/internal/parser"
	"manual-rag/internal/pdfdoc"
	"manual-rag/internal/queue"
	"manual-rag/internal/rag"
)

// store is what both backends provide.
type store interface {
	ingest.Store
	rag.Searcher
}

type app struct {
	cfg          *config.Config
	store        store
	bunDB        *bun.DB
	local        *chromemdb.Store
	orchestrator *ingest.Orchestrator
	composer     *rag.Composer
	queue        *queue.Client
	closers      []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var kv *kvstore.Store
	switch cfg.Store.Backend {
	case "postgres":
		sqldb, err := db.ConnectDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.bunDB = db.NewDB(sqldb, cfg.Database.Debug)
		pg := db.NewStore(a.bunDB)
		a.closers = append(a.closers, pg.Close)
		a.store = pg
	case "local":
		kv, err = kvstore.Open(filepath.Join(cfg.Store.LocalPath, "registry"), cfg.Store.EncryptionKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kv.Close)
		a.local, err = chromemdb.NewStore(filepath.Join(cfg.Store.LocalPath, "vectors"), kv, cfg.Store.EncryptionKey)
		if err != nil {
			return nil, err
		}
		a.store = a.local
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	log.Info().Str("backend", cfg.Store.Backend).Msg("Store ready")

	chat, err := llmservice.New(cfg.ChatLLM)
	if err != nil {
		return nil, err
	}
	vision, err := llmservice.New(cfg.VisionLLM)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.NewEmbedder(cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	generator := embedding.NewGenerator(embedder, cfg.RAG)

	analyzerOpts := []parser.AnalyzerOption{parser.WithConcurrency(cfg.Ingest.PageConcurrency)}
	if cfg.Ingest.CacheAnalyses {
		cache := kv
		if cache == nil {
			cache, err = kvstore.Open(cfg.Cache.Path, cfg.Store.EncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("open analysis cache: %w", err)
			}
			a.closers = append(a.closers, cache.Close)
		}
		analyzerOpts = append(analyzerOpts, parser.WithCache(cache))
	}

	extractor, err := newExtractor(ctx, cfg.Extraction)
	if err != nil {
		return nil, err
	}
	files, err := assets.NewFileStore(cfg.Assets.Dir, cfg.Assets.URLPrefix)
	if err != nil {
		return nil, err
	}

	a.orchestrator = ingest.New(ingest.Components{
		Store:                a.store,
		Analyzer:             parser.NewAnalyzer(vision, analyzerOpts...),
		Chunker:              newChunker(cfg.RAG),
		Embedder:             generator,
		Images:               imageproc.NewProcessor(vision, imageproc.NewKeywordClassifier(), files, generator, cfg.Images.MinDimension),
		Assets:               files,
		Extractor:            extractor,
		Inspector:            pdfdoc.NewInspector(),
		ExtractImagesFromPDF: cfg.Images.ExtractFromPDF,
	})

	retriever := rag.NewRetriever(a.store, rag.WithImageThreshold(cfg.RAG.ImageThreshold))
	a.composer = rag.NewComposer(a.store, generator, retriever, chat, rag.NewKeywordScorer(), cfg.RAG)

	if cfg.Queue.Enabled {
		a.queue = queue.NewClient(cfg.Queue)
		a.closers = append(a.closers, a.queue.Close)
	}
	return a, nil
}

func newExtractor(ctx context.Context, cfg config.ExtractionConfig) (parser.TextExtractor, error) {
	if cfg.Provider == "gemini" {
		return parser.NewGeminiExtractor(ctx, cfg)
	}
	return parser.NewLocalExtractor(), nil
}

func newChunker(cfg config.RAGConfig) *chunker.Chunker {
	return chunker.New(
		chunker.WithTargetSize(cfg.ChunkSize),
		chunker.WithOverlap(cfg.ChunkOverlap),
		chunker.WithMinParagraph(cfg.MinParagraphSize),
	)
}

// InitDB prepares the Postgres schema. The local backend needs no setup.
func (a *app) InitDB(ctx context.Context, reset bool) error {
	if a.bunDB == nil {
		log.Info().Msg("Local backend selected, nothing to initialize")
		return nil
	}
	if reset {
		if err := db.DropDB(ctx, a.bunDB); err != nil {
			return fmt.Errorf("drop database: %w", err)
		}
	}
	return db.InitDB(ctx, a.bunDB, a.cfg.RAG.EmbeddingDimension)
}

// Export writes the user's local collections to an encrypted file.
func (a *app) Export(ctx context.Context, userID, path string) error {
	if a.local == nil {
		return errors.New("export needs the local store backend")
	}
	scope, err := models.NewUserScope(userID)
	if err != nil {
		return err
	}
	return a.local.Export(ctx, scope, path)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Error closing resource")
		}
	}
	a.closers = nil
}
