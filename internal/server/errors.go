package server

import (
	"errors"
	"net/http"

	"manual-rag/internal/models"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the error envelope of the document endpoints.
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithErr maps err to its status and writes the envelope.
func RespondWithErr(c *gin.Context, err error) {
	status, code := StatusFor(err)
	RespondWithError(c, status, code, publicMessage(status, err), nil)
}

// StatusFor maps domain errors to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, models.ErrIngestInProgress):
		return http.StatusConflict, "ingest_in_progress"
	case errors.Is(err, models.ErrNoChunks):
		return http.StatusUnprocessableEntity, "no_chunks"
	case errors.Is(err, models.ErrExtractionTimeout):
		return http.StatusGatewayTimeout, "extraction_timeout"
	case errors.Is(err, models.ErrExtractionFailed):
		return http.StatusBadGateway, "extraction_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// publicMessage hides internal error text.
func publicMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
