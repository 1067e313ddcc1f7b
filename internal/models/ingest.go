package models

// IngestState is a step of one ingestion run.
type IngestState string

const (
	StateReceived   IngestState = "received"
	StateAnalyzing  IngestState = "analyzing"
	StateChunking   IngestState = "chunking"
	StateEmbedding  IngestState = "embedding"
	StatePersisting IngestState = "persisting"
	StateProcessed  IngestState = "processed"
	StateFailed     IngestState = "failed"
)

// PageImage is a rendered page supplied by the client.
type PageImage struct {
	PageNumber int    `json:"pageNumber"`
	Data       []byte `json:"data"`
	MIMEType   string `json:"mimeType"`
}

// EmbeddedImage is a figure pulled out of the PDF.
type EmbeddedImage struct {
	PageNumber int    `json:"pageNumber"`
	Index      int    `json:"index"`
	Data       []byte `json:"data"`
	MIMEType   string `json:"mimeType"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// IngestRequest starts an ingestion run for an existing document.
type IngestRequest struct {
	DocumentID     string          `json:"documentId"`
	UserID         string          `json:"userId"`
	PageImages     []PageImage     `json:"pageImages,omitempty"`
	EmbeddedImages []EmbeddedImage `json:"embeddedImages,omitempty"`
}

// IngestResult summarises a successful run.
type IngestResult struct {
	DocumentID       string           `json:"documentId"`
	ChunksCount      int              `json:"chunksCount"`
	ImagesCount      int              `json:"imagesCount"`
	TotalPages       int              `json:"totalPages"`
	ProcessingMethod ProcessingMethod `json:"processingMethod"`
	Summary          string           `json:"summary"`
}

// DocumentContext carries the identity of the document being ingested
// to the components that need it.
type DocumentContext struct {
	Scope      UserScope
	DocumentID string
	Filename   string
}

// ProcessedImage is an embedded image that survived filtering, was
// captioned, stored and embedded.
type ProcessedImage struct {
	PageNumber int
	Index      int
	AssetKey   string
	AssetURL   string
	Caption    string
	ImageType  ImageType
	Width      int
	Height     int
	Embedding  []float32
}
