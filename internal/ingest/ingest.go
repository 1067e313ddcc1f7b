// Package ingest turns an uploaded manual into a committed knowledge base.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"manual-rag/internal/assets"
	"manual-rag/internal/helper"
	"manual-rag/internal/models"
	"manual-rag/internal/parser"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("manual-rag/ingest")

// Store is the persistence the orchestrator needs. Both the Postgres and the
// local backend implement it.
type Store interface {
	CreateDocument(ctx context.Context, scope models.UserScope, doc *models.Document) error
	GetDocument(ctx context.Context, scope models.UserScope) (*models.Document, error)
	CommitGeneration(ctx context.Context, scope models.UserScope, gen models.Generation) error
}

type PageAnalyzer interface {
	AnalyzePages(ctx context.Context, pages []models.PageInput) []models.PageAnalysis
}

type Chunker interface {
	CreateChunks(pages []models.PageAnalysis) []models.Chunk
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type ImageProcessor interface {
	ProcessEmbeddedImages(ctx context.Context, images []models.EmbeddedImage, doc models.DocumentContext) ([]models.ProcessedImage, error)
}

type AssetStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// PDFInspector reads structure out of a stored PDF.
type PDFInspector interface {
	PageCount(data []byte) (int, error)
	ExtractImages(ctx context.Context, data []byte) ([]models.EmbeddedImage, error)
}

// Components wires an Orchestrator. Inspector is optional.
type Components struct {
	Store     Store
	Analyzer  PageAnalyzer
	Chunker   Chunker
	Embedder  Embedder
	Images    ImageProcessor
	Assets    AssetStore
	Extractor parser.TextExtractor
	Inspector PDFInspector

	// ExtractImagesFromPDF pulls figures out of the stored PDF when the
	// caller supplies none.
	ExtractImagesFromPDF bool
}

type Orchestrator struct {
	Components
}

func New(c Components) *Orchestrator {
	return &Orchestrator{Components: c}
}

var pdfMagic = []byte("%PDF-")

// Upload stores a PDF and makes it the user's only document. The previous
// document, its knowledge base and its assets are removed.
func (o *Orchestrator) Upload(ctx context.Context, userID, filename string, data []byte) (*models.Document, error) {
	scope, err := models.NewUserScope(userID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, models.InvalidInput("file is empty")
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), pdfMagic) {
		return nil, models.InvalidInput("file is not a PDF")
	}

	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("user_id", scope.UserID()).Str("document_id", id).Logger()

	for _, prefix := range []string{assets.UserDocumentPrefix(scope.UserID()), assets.UserImagePrefix(scope.UserID())} {
		if err := o.Assets.DeletePrefix(ctx, prefix); err != nil {
			return nil, fmt.Errorf("remove previous assets: %w", err)
		}
	}
	key := assets.DocumentKey(scope.UserID(), id, filename)
	if _, err := o.Assets.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	doc := &models.Document{ID: id, FilePath: key, OriginalFilename: filename}
	if o.Inspector != nil {
		if n, err := o.Inspector.PageCount(data); err == nil {
			doc.TotalPages = n
		} else {
			logger.Warn().Err(err).Msg("Could not count pages")
		}
	}
	if err := o.Store.CreateDocument(ctx, scope, doc); err != nil {
		return nil, err
	}
	logger.Info().Str("file", filename).Int("pages", doc.TotalPages).Msg("Document uploaded")
	return doc, nil
}

// run tracks the state of one ingestion.
type run struct {
	logger  zerolog.Logger
	span    trace.Span
	state   models.IngestState
	started time.Time
}

func (r *run) enter(state models.IngestState) {
	r.state = state
	r.logger.Info().Str("state", string(state)).Msg("Ingest state")
	r.span.AddEvent(string(state))
}

func (r *run) fail(err error) error {
	r.logger.Error().Err(err).Str("state", string(models.StateFailed)).Str("failed_in", string(r.state)).
		Dur("elapsed", time.Since(r.started)).Msg("Ingest failed")
	r.span.AddEvent(string(models.StateFailed), trace.WithAttributes(attribute.String("failed_in", string(r.state))))
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.state = models.StateFailed
	return err
}

// Ingest builds and commits a new knowledge base for the user's document.
// Page images select the vision path; otherwise text is extracted from the
// stored PDF. Nothing is written to the store before every embedding is
// ready, so a failed run leaves the document unprocessed and can be retried.
func (o *Orchestrator) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	scope, err := models.NewUserScope(req.UserID)
	if err != nil {
		return nil, err
	}
	if req.DocumentID == "" {
		return nil, models.InvalidInput("document id is required")
	}

	ctx, span := tracer.Start(ctx, "ingest.Ingest", trace.WithAttributes(
		attribute.String("user_id", scope.UserID()),
		attribute.String("document_id", req.DocumentID),
	))
	defer span.End()

	r := &run{
		logger:  log.With().Str("user_id", scope.UserID()).Str("document_id", req.DocumentID).Logger(),
		span:    span,
		started: time.Now(),
	}
	r.enter(models.StateReceived)

	doc, err := o.Store.GetDocument(ctx, scope)
	if err != nil {
		return nil, r.fail(err)
	}
	if doc.ID != req.DocumentID {
		return nil, r.fail(fmt.Errorf("document %s: %w", req.DocumentID, models.ErrNotFound))
	}
	src := &source{orchestrator: o, doc: doc}

	r.enter(models.StateAnalyzing)
	var (
		analyses   []models.PageAnalysis
		method     models.ProcessingMethod
		totalPages int
	)
	if len(req.PageImages) > 0 {
		method = models.ProcessingVision
		inputs := pageInputs(req.PageImages)
		analyses = o.Analyzer.AnalyzePages(ctx, inputs)
		totalPages = max(len(inputs), inputs[len(inputs)-1].PageNumber)
	} else {
		method = models.ProcessingFallback
		data, err := src.pdf(ctx)
		if err != nil {
			return nil, r.fail(err)
		}
		inputs, err := o.Extractor.Extract(ctx, data, doc.OriginalFilename)
		if err != nil {
			return nil, r.fail(err)
		}
		analyses = o.Analyzer.AnalyzePages(ctx, inputs)
		totalPages = len(inputs)
		if o.Inspector != nil {
			if n, err := o.Inspector.PageCount(data); err == nil && n > 0 {
				totalPages = n
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, r.fail(err)
	}
	r.logger.Debug().Str("method", string(method)).Int("pages", len(analyses)).Msg("Pages analysed")

	r.enter(models.StateChunking)
	chunks := o.Chunker.CreateChunks(analyses)
	if len(chunks) == 0 {
		return nil, r.fail(models.ErrNoChunks)
	}

	r.enter(models.StateEmbedding)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := o.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, r.fail(fmt.Errorf("embed chunks: %w", err))
	}
	if len(vectors) != len(chunks) {
		return nil, r.fail(fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	for i := range chunks {
		chunks[i].UserID = scope.UserID()
		chunks[i].DocumentID = doc.ID
		chunks[i].Embedding = vectors[i]
	}

	if err := o.Assets.DeletePrefix(ctx, assets.UserImagePrefix(scope.UserID())); err != nil {
		return nil, r.fail(fmt.Errorf("remove previous images: %w", err))
	}
	embedded := req.EmbeddedImages
	if len(embedded) == 0 && o.ExtractImagesFromPDF && o.Inspector != nil {
		embedded = src.images(ctx, r.logger)
	}
	processed, err := o.Images.ProcessEmbeddedImages(ctx, embedded, models.DocumentContext{
		Scope:      scope,
		DocumentID: doc.ID,
		Filename:   doc.OriginalFilename,
	})
	if err != nil {
		return nil, r.fail(err)
	}
	images := make([]models.Image, 0, len(processed))
	for _, p := range processed {
		images = append(images, models.Image{
			UserID:     scope.UserID(),
			DocumentID: doc.ID,
			PageNumber: p.PageNumber,
			AssetURL:   p.AssetURL,
			Caption:    p.Caption,
			ImageType:  p.ImageType,
			Width:      p.Width,
			Height:     p.Height,
			Embedding:  p.Embedding,
		})
	}

	r.enter(models.StatePersisting)
	gen := models.Generation{
		DocumentID: doc.ID,
		TotalPages: totalPages,
		Method:     method,
		Chunks:     chunks,
		Images:     images,
	}
	if err := o.Store.CommitGeneration(ctx, scope, gen); err != nil {
		return nil, r.fail(fmt.Errorf("commit generation: %w", err))
	}

	r.enter(models.StateProcessed)
	span.SetAttributes(attribute.Int("chunks", len(chunks)), attribute.Int("images", len(images)))
	r.logger.Info().Int("chunks", len(chunks)).Int("images", len(images)).Int("pages", totalPages).
		Dur("elapsed", time.Since(r.started)).Msg("Ingest complete")

	return &models.IngestResult{
		DocumentID:       doc.ID,
		ChunksCount:      len(chunks),
		ImagesCount:      len(images),
		TotalPages:       totalPages,
		ProcessingMethod: method,
		Summary: fmt.Sprintf("Processed %d pages into %d chunks and %d images using %s extraction.",
			totalPages, len(chunks), len(images), method),
	}, nil
}

// Preview extracts and chunks a PDF without touching the store.
func (o *Orchestrator) Preview(ctx context.Context, data []byte, filename string) ([]models.Chunk, error) {
	inputs, err := o.Extractor.Extract(ctx, data, filename)
	if err != nil {
		return nil, err
	}
	chunks := o.Chunker.CreateChunks(o.Analyzer.AnalyzePages(ctx, inputs))
	if len(chunks) == 0 {
		return nil, models.ErrNoChunks
	}
	return chunks, nil
}

// source loads the stored PDF at most once per run.
type source struct {
	orchestrator *Orchestrator
	doc          *models.Document
	data         []byte
}

func (s *source) pdf(ctx context.Context) ([]byte, error) {
	if s.data != nil {
		return s.data, nil
	}
	data, err := s.orchestrator.Assets.Get(ctx, s.doc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	s.data = data
	return data, nil
}

// images extracts embedded figures. Failures only cost the figures.
func (s *source) images(ctx context.Context, logger zerolog.Logger) []models.EmbeddedImage {
	data, err := s.pdf(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Skipping image extraction")
		return nil
	}
	images, err := s.orchestrator.Inspector.ExtractImages(ctx, data)
	if err != nil {
		logger.Warn().Err(err).Msg("Image extraction failed")
		return nil
	}
	return images
}

// pageInputs numbers unnumbered pages by position and sorts by page.
func pageInputs(pages []models.PageImage) []models.PageInput {
	inputs := make([]models.PageInput, len(pages))
	for i, p := range pages {
		n := p.PageNumber
		if n <= 0 {
			n = i + 1
		}
		inputs[i] = models.PageInput{PageNumber: n, Image: p.Data, MIMEType: p.MIMEType}
	}
	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].PageNumber < inputs[j].PageNumber })
	return inputs
}
