package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"manual-rag/internal/config"
	"manual-rag/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServices struct {
	uploaded   []byte
	uploadErr  error
	ingestErr  error
	ingested   models.IngestRequest
	enqueued   []models.IngestRequest
	enqueueErr error
	answer     *models.Answer
	answerErr  error
	doc        *models.Document
}

func (f *fakeServices) Upload(_ context.Context, userID, filename string, data []byte) (*models.Document, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if _, err := models.NewUserScope(userID); err != nil {
		return nil, err
	}
	f.uploaded = data
	return &models.Document{ID: "doc-1", UserID: userID, OriginalFilename: filename, TotalPages: 12}, nil
}

func (f *fakeServices) Ingest(_ context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	f.ingested = req
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	return &models.IngestResult{
		DocumentID: req.DocumentID, ChunksCount: 40, ImagesCount: 3, TotalPages: 12,
		ProcessingMethod: models.ProcessingVision, Summary: "ok",
	}, nil
}

func (f *fakeServices) EnqueueIngest(_ context.Context, req models.IngestRequest) (string, error) {
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	f.enqueued = append(f.enqueued, req)
	return "ingest:" + req.UserID, nil
}

func (f *fakeServices) Answer(context.Context, string, string) (*models.Answer, error) {
	return f.answer, f.answerErr
}

func (f *fakeServices) GetDocument(context.Context, models.UserScope) (*models.Document, error) {
	if f.doc == nil {
		return nil, models.ErrNotFound
	}
	return f.doc, nil
}

func newTestServer(f *fakeServices, queued bool, assetsDir string) http.Handler {
	gin.SetMode(gin.TestMode)
	services := Services{
		Uploader:  f,
		Ingester:  f,
		Answerer:  f,
		Documents: f,
		AssetsDir: assetsDir,
		AssetsURL: "/assets",
	}
	if queued {
		services.Queue = f
	}
	return New(config.ServerConfig{Port: "0", MaxUploadSize: 1 << 20}, services).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func multipartUpload(t *testing.T, userID string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("userId", userID))
	if content != nil {
		part, err := w.CreateFormFile("file", "manual.pdf")
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUploadDocument(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		f := &fakeServices{}
		rec := httptest.NewRecorder()
		newTestServer(f, false, "").ServeHTTP(rec, multipartUpload(t, "u1", []byte("%PDF-1.7")))
		require.Equal(t, http.StatusCreated, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "doc-1", body["documentId"])
		assert.Equal(t, "manual.pdf", body["fileName"])
		assert.Equal(t, []byte("%PDF-1.7"), f.uploaded)
	})

	t.Run("missing file", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeServices{}, false, "").ServeHTTP(rec, multipartUpload(t, "u1", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", decode(t, rec)["error_code"])
	})

	t.Run("domain errors use the envelope", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f := &fakeServices{uploadErr: models.InvalidInput("file is not a PDF")}
		newTestServer(f, false, "").ServeHTTP(rec, multipartUpload(t, "u1", []byte("hello")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "bad_request", body["error_code"])
		assert.Contains(t, body["message"], "not a PDF")
	})

	t.Run("too large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestServer(&fakeServices{}, false, "").ServeHTTP(rec, multipartUpload(t, "u1", bytes.Repeat([]byte("x"), 2<<20)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestIngestEndpoint(t *testing.T) {
	req := models.IngestRequest{DocumentID: "doc-1", UserID: "u1"}

	t.Run("synchronous", func(t *testing.T) {
		f := &fakeServices{}
		rec := do(t, newTestServer(f, false, ""), http.MethodPost, "/api/ingest", req)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(40), body["chunksCount"])
		assert.Equal(t, float64(3), body["imagesCount"])
		assert.Equal(t, "vision", body["processingMethod"])
		assert.Equal(t, "doc-1", f.ingested.DocumentID)
	})

	t.Run("queued", func(t *testing.T) {
		f := &fakeServices{}
		rec := do(t, newTestServer(f, true, ""), http.MethodPost, "/api/ingest", req)
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "ingest:u1", decode(t, rec)["taskId"])
		assert.Len(t, f.enqueued, 1)
	})

	t.Run("errors", func(t *testing.T) {
		tests := map[string]struct {
			ingestErr  error
			enqueueErr error
			status     int
		}{
			"not found":     {ingestErr: models.ErrNotFound, status: http.StatusNotFound},
			"no chunks":     {ingestErr: models.ErrNoChunks, status: http.StatusUnprocessableEntity},
			"timeout":       {ingestErr: models.ErrExtractionTimeout, status: http.StatusGatewayTimeout},
			"internal":      {ingestErr: errors.New("pq: connection refused"), status: http.StatusInternalServerError},
			"in progress":   {enqueueErr: models.ErrIngestInProgress, status: http.StatusConflict},
			"invalid input": {ingestErr: models.InvalidInput("user id is required"), status: http.StatusBadRequest},
		}
		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				f := &fakeServices{ingestErr: tc.ingestErr, enqueueErr: tc.enqueueErr}
				rec := do(t, newTestServer(f, tc.enqueueErr != nil, ""), http.MethodPost, "/api/ingest", req)
				assert.Equal(t, tc.status, rec.Code)
				body := decode(t, rec)
				assert.Equal(t, false, body["success"])
				assert.NotContains(t, body["error"], "pq:")
			})
		}
	})

	t.Run("bad body", func(t *testing.T) {
		rec := do(t, newTestServer(&fakeServices{}, false, ""), http.MethodPost, "/api/ingest", "not an object")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestChatEndpoint(t *testing.T) {
	query := models.QueryRequest{Message: "How do I reset it?", UserID: "u1"}

	t.Run("answer", func(t *testing.T) {
		f := &fakeServices{answer: &models.Answer{
			Steps:       []string{"Hold reset for 5 seconds."},
			Images:      []models.AnswerImage{{URL: "/assets/x.png", Caption: "Reset button", PageNumber: 3, ImageType: models.ImagePhoto}},
			RawResponse: "1. Hold reset for 5 seconds.",
		}}
		rec := do(t, newTestServer(f, false, ""), http.MethodPost, "/api/chat", query)
		require.Equal(t, http.StatusOK, rec.Code)
		var got models.Answer
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, *f.answer, got)
		assert.Contains(t, rec.Body.String(), `"pageNumber":3`)
		assert.Contains(t, rec.Body.String(), `"imageType":"photo"`)
	})

	t.Run("not ready", func(t *testing.T) {
		rec := do(t, newTestServer(&fakeServices{answerErr: models.ErrNotReady}, false, ""), http.MethodPost, "/api/chat", query)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, models.NotReadyAnswer, decode(t, rec)["rawResponse"])
	})

	t.Run("failure hides details", func(t *testing.T) {
		rec := do(t, newTestServer(&fakeServices{answerErr: errors.New("panic: nil map")}, false, ""), http.MethodPost, "/api/chat", query)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, models.FallbackAnswer, decode(t, rec)["rawResponse"])
		assert.NotContains(t, rec.Body.String(), "nil map")
	})
}

func TestGetDocumentAndAssets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images", "u1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "images", "u1", "a.png"), []byte("png"), 0o644))

	f := &fakeServices{doc: &models.Document{ID: "doc-1", Processed: true, ProcessingMethod: models.ProcessingFallback}}
	h := newTestServer(f, false, dir)

	rec := do(t, h, http.MethodGet, "/api/documents?userId=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["processed"])
	assert.Equal(t, "fallback", body["processingMethod"])

	rec = do(t, h, http.MethodGet, "/api/documents", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/assets/images/u1/a.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", strings.TrimSpace(rec.Body.String()))

	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
