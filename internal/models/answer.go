package models

// Retrieval is what the retriever found for a query.
type Retrieval struct {
	Chunks []ScoredChunk
	Images []ScoredImage
}

// Empty reports whether nothing relevant was found.
func (r *Retrieval) Empty() bool {
	return r == nil || (len(r.Chunks) == 0 && len(r.Images) == 0)
}

// AnswerImage is an image attached to an answer.
type AnswerImage struct {
	URL        string    `json:"url"`
	Caption    string    `json:"caption"`
	PageNumber int       `json:"pageNumber"`
	ImageType  ImageType `json:"imageType"`
}

// Answer is the structured response to a question.
type Answer struct {
	Steps       []string      `json:"steps"`
	Images      []AnswerImage `json:"images"`
	RawResponse string        `json:"rawResponse"`
}

// QueryRequest is the chat entrypoint payload.
type QueryRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}
