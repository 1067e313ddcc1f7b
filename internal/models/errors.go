package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrNotReady          = errors.New("document not processed")
	ErrNoChunks          = errors.New("no chunks produced from document")
	ErrExtractionTimeout = errors.New("extraction timed out")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrIngestInProgress  = errors.New("ingestion already in progress")
)

// InvalidInput wraps ErrInvalidInput with a reason.
func InvalidInput(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, reason)
}
