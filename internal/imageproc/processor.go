// Package imageproc captions, classifies, stores and embeds figures pulled
// out of a manual.
package imageproc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"manual-rag/internal/assets"
	"manual-rag/internal/llmservice"
	"manual-rag/internal/models"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMinDimension = 100
	captionConcurrency  = 3
)

// Captioner describes an image in a short sentence.
type Captioner interface {
	AnalyzeImage(ctx context.Context, req llmservice.ImageRequest) (string, error)
}

// AssetStore persists image bytes and returns their public URL.
type AssetStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Embedder embeds texts in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Processor struct {
	captioner    Captioner
	classifier   Classifier
	assets       AssetStore
	embedder     Embedder
	minDimension int
}

func NewProcessor(captioner Captioner, classifier Classifier, store AssetStore, embedder Embedder, minDimension int) *Processor {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	if minDimension <= 0 {
		minDimension = defaultMinDimension
	}
	return &Processor{
		captioner:    captioner,
		classifier:   classifier,
		assets:       store,
		embedder:     embedder,
		minDimension: minDimension,
	}
}

// ProcessEmbeddedImages filters out small images, then captions, classifies,
// uploads and embeds the rest. Per-image caption and upload failures skip
// that image; a failed caption embedding fails the call.
func (p *Processor) ProcessEmbeddedImages(ctx context.Context, images []models.EmbeddedImage, doc models.DocumentContext) ([]models.ProcessedImage, error) {
	if len(images) == 0 {
		return nil, nil
	}
	logger := log.With().Str("user_id", doc.Scope.UserID()).Str("document_id", doc.DocumentID).Logger()

	results := make([]*models.ProcessedImage, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(captionConcurrency)
	for i, img := range images {
		width, height, ok := Dimensions(img)
		if !ok {
			logger.Warn().Int("page", img.PageNumber).Int("index", img.Index).Msg("Image dimensions unknown, skipped")
			continue
		}
		if width < p.minDimension || height < p.minDimension {
			logger.Debug().Int("page", img.PageNumber).Int("width", width).Int("height", height).Msg("Image below minimum size, skipped")
			continue
		}

		g.Go(func() error {
			results[i] = p.processOne(gctx, img, width, height, doc)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var processed []models.ProcessedImage
	var captions []string
	for _, r := range results {
		if r != nil {
			processed = append(processed, *r)
			captions = append(captions, r.Caption)
		}
	}
	if len(processed) == 0 {
		return nil, nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, captions)
	if err != nil {
		return nil, fmt.Errorf("embed image captions: %w", err)
	}
	if len(vectors) != len(processed) {
		return nil, fmt.Errorf("embed image captions: got %d vectors for %d captions", len(vectors), len(processed))
	}
	for i := range processed {
		processed[i].Embedding = vectors[i]
	}
	logger.Info().Int("received", len(images)).Int("kept", len(processed)).Msg("Processed embedded images")
	return processed, nil
}

func (p *Processor) processOne(ctx context.Context, img models.EmbeddedImage, width, height int, doc models.DocumentContext) *models.ProcessedImage {
	logger := log.With().Int("page", img.PageNumber).Int("index", img.Index).Logger()

	caption, err := p.captioner.AnalyzeImage(ctx, llmservice.ImageRequest{
		Prompt:   fmt.Sprintf(models.ImageCaptionPrompt, doc.Filename, img.PageNumber),
		Data:     img.Data,
		MIMEType: img.MIMEType,
		Detail:   "low",
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Image caption failed, skipped")
		return nil
	}
	caption = cleanCaption(caption)
	if caption == "" {
		logger.Warn().Msg("Empty image caption, skipped")
		return nil
	}

	key := assets.ImageKey(doc.Scope.UserID(), doc.DocumentID, img.PageNumber, img.Index, assets.ExtensionFor(img.MIMEType))
	url, err := p.assets.Put(ctx, key, img.Data)
	if err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Image upload failed, skipped")
		return nil
	}

	return &models.ProcessedImage{
		PageNumber: img.PageNumber,
		Index:      img.Index,
		AssetKey:   key,
		AssetURL:   url,
		Caption:    caption,
		ImageType:  p.classifier.Classify(caption),
		Width:      width,
		Height:     height,
	}
}

// Dimensions returns the image size, decoding the header when the caller
// did not supply one.
func Dimensions(img models.EmbeddedImage) (int, int, bool) {
	if img.Width > 0 && img.Height > 0 {
		return img.Width, img.Height, true
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

func cleanCaption(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	return strings.Join(strings.Fields(s), " ")
}
