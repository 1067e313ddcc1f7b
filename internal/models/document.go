package models

import (
	"strings"
	"time"
)

// ProcessingMethod records which ingestion strategy produced a document's knowledge base.
type ProcessingMethod string

const (
	ProcessingVision   ProcessingMethod = "vision"
	ProcessingFallback ProcessingMethod = "fallback"
)

// ImageType is the coarse classification attached to every stored figure.
type ImageType string

const (
	ImageDiagram ImageType = "diagram"
	ImagePhoto   ImageType = "photo"
	ImageChart   ImageType = "chart"
	ImageTable   ImageType = "table"
	ImageIcon    ImageType = "icon"
)

// ImageTypes lists every classification in a stable order.
var ImageTypes = []ImageType{ImageDiagram, ImagePhoto, ImageChart, ImageTable, ImageIcon}

// UserScope identifies the owner every store read and write is restricted to.
// The zero value is invalid; stores reject it.
type UserScope struct {
	id string
}

// NewUserScope builds a scope from a non-empty user ID.
func NewUserScope(userID string) (UserScope, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserScope{}, InvalidInput("user id is required")
	}
	return UserScope{id: userID}, nil
}

// UserID returns the owning user's ID.
func (s UserScope) UserID() string { return s.id }

// Valid reports whether the scope was built through NewUserScope.
func (s UserScope) Valid() bool { return s.id != "" }

// Document is the aggregate root: at most one per user.
type Document struct {
	ID               string
	UserID           string
	FilePath         string
	OriginalFilename string
	TotalPages       int
	ProcessingMethod ProcessingMethod
	Processed        bool
	CreatedAt        time.Time
}

// Chunk is a bounded, overlap-linked span of document text.
type Chunk struct {
	ID                 string
	UserID             string
	DocumentID         string
	Content            string
	PageNumber         int
	ChunkIndex         int
	HasDiagram         bool
	DiagramDescription string
	Embedding          []float32
}

// Image is one extracted figure with its caption embedding.
type Image struct {
	ID         string
	UserID     string
	DocumentID string
	PageNumber int
	AssetURL   string
	Caption    string
	ImageType  ImageType
	Width      int
	Height     int
	Embedding  []float32
}

// ScoredChunk is a chunk returned by similarity search.
type ScoredChunk struct {
	Chunk
	Similarity float64
}

// ScoredImage is an image returned by similarity search.
type ScoredImage struct {
	Image
	Similarity float64
}

// Generation is one complete knowledge base for a user's document,
// written atomically by a store's CommitGeneration.
type Generation struct {
	DocumentID string
	TotalPages int
	Method     ProcessingMethod
	Chunks     []Chunk
	Images     []Image
}
