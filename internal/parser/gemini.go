package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"manual-rag/internal/config"
	"manual-rag/internal/models"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// remoteFile is the part of an uploaded file the extractor tracks.
type remoteFile struct {
	Name     string
	URI      string
	MIMEType string
	State    genai.FileState
}

// fileService is the remote document capability used by GeminiExtractor.
type fileService interface {
	Upload(ctx context.Context, data []byte, mimeType, displayName string) (*remoteFile, error)
	Status(ctx context.Context, name string) (*remoteFile, error)
	Delete(ctx context.Context, name string) error
	Generate(ctx context.Context, model, system, prompt string, file *remoteFile) (string, error)
}

type extractionState string

const (
	extractionSubmitted extractionState = "submitted"
	extractionRunning   extractionState = "running"
	extractionCompleted extractionState = "completed"
	extractionFailed    extractionState = "failed"
	extractionTimedOut  extractionState = "timed_out"
)

// GeminiExtractor uploads the PDF to the Gemini Files API, polls until the
// file is usable and asks the model for page-marked text.
type GeminiExtractor struct {
	files        fileService
	model        string
	pollInterval time.Duration
	timeout      time.Duration
}

// NewGeminiExtractor creates an extractor backed by the Gemini API.
func NewGeminiExtractor(ctx context.Context, cfg config.ExtractionConfig) (*GeminiExtractor, error) {
	if cfg.GeminiKey == "" {
		return nil, errors.New("gemini api key is not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return newGeminiExtractor(genaiFiles{client: client}, cfg), nil
}

func newGeminiExtractor(files fileService, cfg config.ExtractionConfig) *GeminiExtractor {
	return &GeminiExtractor{
		files:        files,
		model:        cfg.GeminiModel,
		pollInterval: config.Duration(cfg.PollInterval, 2*time.Second),
		timeout:      config.Duration(cfg.Timeout, 5*time.Minute),
	}
}

// Extract runs the upload, poll and generate cycle. Exceeding the timeout
// returns models.ErrExtractionTimeout; a rejected file returns
// models.ErrExtractionFailed.
func (e *GeminiExtractor) Extract(ctx context.Context, data []byte, filename string) ([]models.PageInput, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logger := log.With().Str("file", filename).Logger()
	var (
		file  *remoteFile
		text  string
		cause error
	)

	state := extractionSubmitted
	for {
		logger.Debug().Str("state", string(state)).Msg("Extraction state")
		switch state {
		case extractionSubmitted:
			uploaded, err := e.files.Upload(runCtx, data, "application/pdf", filename)
			if err != nil {
				cause = err
				state = e.failure(ctx, runCtx)
				continue
			}
			file = uploaded
			defer e.cleanup(file.Name)
			state = extractionRunning

		case extractionRunning:
			switch file.State {
			case genai.FileStateActive:
				out, err := e.files.Generate(runCtx, e.model, models.ExtractionSystemPrompt, models.ExtractionPrompt, file)
				if err != nil {
					cause = err
					state = e.failure(ctx, runCtx)
					continue
				}
				text = out
				state = extractionCompleted
				continue
			case genai.FileStateFailed:
				cause = errors.New("remote file processing failed")
				state = extractionFailed
				continue
			}

			select {
			case <-runCtx.Done():
				state = e.failure(ctx, runCtx)
				continue
			case <-time.After(e.pollInterval):
			}
			polled, err := e.files.Status(runCtx, file.Name)
			if err != nil {
				cause = err
				state = e.failure(ctx, runCtx)
				continue
			}
			file = polled

		case extractionCompleted:
			pages := SplitPages(text)
			if len(pages) == 0 {
				return nil, fmt.Errorf("%w: no text extracted from %s", models.ErrExtractionFailed, filename)
			}
			logger.Info().Int("pages", len(pages)).Msg("Remote extraction completed")
			return pages, nil

		case extractionTimedOut:
			return nil, fmt.Errorf("%w after %s", models.ErrExtractionTimeout, e.timeout)

		case extractionFailed:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", models.ErrExtractionFailed, cause)
		}
	}
}

// failure decides whether an interrupted step timed out or failed.
func (e *GeminiExtractor) failure(parent, run context.Context) extractionState {
	if parent.Err() == nil && errors.Is(run.Err(), context.DeadlineExceeded) {
		return extractionTimedOut
	}
	return extractionFailed
}

func (e *GeminiExtractor) cleanup(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.files.Delete(ctx, name); err != nil {
		log.Warn().Err(err).Str("remote_file", name).Msg("Failed to delete remote file")
	}
}

type genaiFiles struct {
	client *genai.Client
}

func (g genaiFiles) Upload(ctx context.Context, data []byte, mimeType, displayName string) (*remoteFile, error) {
	f, err := g.client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	return toRemoteFile(f), nil
}

func (g genaiFiles) Status(ctx context.Context, name string) (*remoteFile, error) {
	f, err := g.client.Files.Get(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", name, err)
	}
	return toRemoteFile(f), nil
}

func (g genaiFiles) Delete(ctx context.Context, name string) error {
	_, err := g.client.Files.Delete(ctx, name, nil)
	return err
}

func (g genaiFiles) Generate(ctx context.Context, model, system, prompt string, file *remoteFile) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, file.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(0.1)),
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", errors.New("no text generated")
	}
	return out, nil
}

func toRemoteFile(f *genai.File) *remoteFile {
	if f == nil {
		return &remoteFile{}
	}
	return &remoteFile{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType, State: f.State}
}
