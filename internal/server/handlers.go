package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"manual-rag/internal/models"
	"manual-rag/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func (s *Server) uploadDocument(c *gin.Context) {
	if s.cfg.MaxUploadSize > 0 {
		if c.Request.ContentLength > s.cfg.MaxUploadSize {
			RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large", "file is too large", gin.H{"limit": s.cfg.MaxUploadSize})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadSize)
	}
	userID := c.PostForm("userId")
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large", "file is too large", gin.H{"limit": tooLarge.Limit})
			return
		}
		RespondWithError(c, http.StatusBadRequest, "bad_request", "file is required", nil)
		return
	}

	f, err := header.Open()
	if err != nil {
		RespondWithErr(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		RespondWithErr(c, fmt.Errorf("read upload: %w", err))
		return
	}

	doc, err := s.services.Uploader.Upload(c.Request.Context(), userID, header.Filename, data)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Upload failed")
		RespondWithErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"documentId": doc.ID,
		"fileName":   doc.OriginalFilename,
		"totalPages": doc.TotalPages,
	})
}

func (s *Server) getDocument(c *gin.Context) {
	scope, err := models.NewUserScope(c.Query("userId"))
	if err != nil {
		RespondWithErr(c, err)
		return
	}
	doc, err := s.services.Documents.GetDocument(c.Request.Context(), scope)
	if err != nil {
		RespondWithErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documentId":       doc.ID,
		"fileName":         doc.OriginalFilename,
		"totalPages":       doc.TotalPages,
		"processed":        doc.Processed,
		"processingMethod": doc.ProcessingMethod,
		"createdAt":        doc.CreatedAt,
	})
}

func (s *Server) ingest(c *gin.Context) {
	var req models.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	if s.services.Queue != nil {
		taskID, err := s.services.Queue.EnqueueIngest(c.Request.Context(), req)
		if err != nil {
			s.ingestFailed(c, req, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "taskId": taskID})
		return
	}

	res, err := s.services.Ingester.Ingest(c.Request.Context(), req)
	if err != nil {
		s.ingestFailed(c, req, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"documentId":       res.DocumentID,
		"chunksCount":      res.ChunksCount,
		"imagesCount":      res.ImagesCount,
		"totalPages":       res.TotalPages,
		"processingMethod": res.ProcessingMethod,
		"summary":          res.Summary,
	})
}

func (s *Server) ingestFailed(c *gin.Context, req models.IngestRequest, err error) {
	status, code := StatusFor(err)
	log.Error().Err(err).Str("user_id", req.UserID).Str("document_id", req.DocumentID).Msg("Ingest request failed")
	c.JSON(status, gin.H{"success": false, "error": publicMessage(status, err), "error_code": code})
}

// chat always answers with the answer shape. Failures become the canned
// not-ready or apology answers.
func (s *Server) chat(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "bad_request", "invalid request body", nil)
		return
	}

	answer, err := s.services.Answerer.Answer(c.Request.Context(), req.Message, req.UserID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, answer)
	case errors.Is(err, models.ErrInvalidInput):
		RespondWithErr(c, err)
	case errors.Is(err, models.ErrNotReady):
		c.JSON(http.StatusConflict, rag.NotReady())
	default:
		log.Error().Err(err).Str("user_id", req.UserID).Msg("Chat failed")
		c.JSON(http.StatusInternalServerError, rag.Fallback())
	}
}
