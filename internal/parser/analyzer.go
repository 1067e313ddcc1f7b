package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"manual-rag/internal/llmservice"
	"manual-rag/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultPageConcurrency = 3

// VisionModel answers a prompt about a single image.
type VisionModel interface {
	AnalyzeImage(ctx context.Context, req llmservice.ImageRequest) (string, error)
}

// AnalysisCache stores page analyses by content hash.
type AnalysisCache interface {
	GetAnalysis(key string) (*models.PageAnalysis, error)
	PutAnalysis(key string, analysis models.PageAnalysis) error
}

// Analyzer turns page images or page text into structured analyses.
type Analyzer struct {
	vision      VisionModel
	cache       AnalysisCache
	concurrency int
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithCache enables the analysis cache.
func WithCache(cache AnalysisCache) AnalyzerOption {
	return func(a *Analyzer) { a.cache = cache }
}

// WithConcurrency sets how many pages are analysed in parallel.
func WithConcurrency(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

func NewAnalyzer(vision VisionModel, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{vision: vision, concurrency: defaultPageConcurrency}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzePage extracts one page. It never fails: model and decode errors
// degrade to an empty analysis for the page.
func (a *Analyzer) AnalyzePage(ctx context.Context, in models.PageInput) models.PageAnalysis {
	if !in.HasImage() {
		return models.PageAnalysis{
			PageNumber:  in.PageNumber,
			TextContent: strings.TrimSpace(in.Text),
		}
	}

	logger := log.With().Int("page", in.PageNumber).Logger()
	key := imageKey(in.Image)
	if a.cache != nil {
		if cached, err := a.cache.GetAnalysis(key); err == nil && cached != nil {
			logger.Debug().Msg("Page analysis cache hit")
			cached.PageNumber = in.PageNumber
			return *cached
		}
	}

	if a.vision == nil {
		logger.Warn().Msg("No vision model configured, page skipped")
		return models.PageAnalysis{PageNumber: in.PageNumber}
	}

	raw, err := a.vision.AnalyzeImage(ctx, llmservice.ImageRequest{
		Prompt:   models.PageAnalysisPrompt,
		Data:     in.Image,
		MIMEType: in.MIMEType,
		Detail:   "high",
		JSON:     true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Page analysis failed")
		return models.PageAnalysis{PageNumber: in.PageNumber}
	}

	analysis, err := DecodePageAnalysis(raw)
	if err != nil {
		logger.Warn().Err(err).Str("output", truncateForLog(raw)).Msg("Page analysis output rejected")
		return models.PageAnalysis{PageNumber: in.PageNumber}
	}
	analysis.PageNumber = in.PageNumber

	if a.cache != nil && !analysis.Empty() {
		if err := a.cache.PutAnalysis(key, analysis); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache page analysis")
		}
	}
	logger.Debug().
		Int("text_len", len(analysis.TextContent)).
		Int("diagrams", len(analysis.Diagrams)).
		Int("tables", len(analysis.Tables)).
		Msg("Page analysed")
	return analysis
}

// AnalyzePages analyses pages in sequential groups of the configured size.
// Pages inside a group run in parallel. The result is in input order.
func (a *Analyzer) AnalyzePages(ctx context.Context, pages []models.PageInput) []models.PageAnalysis {
	results := make([]models.PageAnalysis, len(pages))
	for start := 0; start < len(pages); start += a.concurrency {
		end := min(start+a.concurrency, len(pages))
		if ctx.Err() != nil {
			for i := start; i < len(pages); i++ {
				results[i] = models.PageAnalysis{PageNumber: pages[i].PageNumber}
			}
			break
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = a.AnalyzePage(ctx, pages[i])
				return nil
			})
		}
		_ = g.Wait()
		log.Debug().Int("done", end).Int("total", len(pages)).Msg("Analysed page group")
	}
	return results
}

func imageKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func truncateForLog(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
