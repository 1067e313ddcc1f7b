package models

// PageAnalysis is the structured extraction of one page. It is intermediate
// state: produced by the page analyzer, consumed by the chunker.
type PageAnalysis struct {
	PageNumber  int       `json:"page_number"`
	TextContent string    `json:"text_content"`
	Diagrams    []Diagram `json:"diagrams"`
	Tables      []Table   `json:"tables"`
	KeyElements []string  `json:"key_elements"`
}

// Empty reports whether nothing was extracted from the page.
func (p PageAnalysis) Empty() bool {
	return p.TextContent == "" && len(p.Diagrams) == 0 && len(p.Tables) == 0
}

// Diagram describes a figure detected on a page.
type Diagram struct {
	Description string   `json:"description"`
	Position    string   `json:"position"`
	Type        string   `json:"type"`
	Elements    []string `json:"elements"`
}

// Table is a table transcribed from a page.
type Table struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// PageInput is what the analyzer receives for one page: either a rendered
// image or already-extracted text.
type PageInput struct {
	PageNumber int
	Image      []byte
	MIMEType   string
	Text       string
}

// HasImage reports whether the input carries a rendered page image.
func (p PageInput) HasImage() bool { return len(p.Image) > 0 }
