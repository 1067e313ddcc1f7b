// Package chunker splits per-page analyses into overlapping fragments sized
// for embedding.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"manual-rag/internal/models"
)

const (
	DefaultTargetSize   = 800
	DefaultOverlap      = 100
	DefaultMinParagraph = 50

	paragraphSeparator = "\n\n"
)

// Chunker packs paragraphs into chunks of roughly targetSize runes. Adjacent
// chunks of a page share an overlap of the previous chunk's trailing runes.
type Chunker struct {
	targetSize   int
	overlap      int
	minParagraph int
	paragraphRe  *regexp.Regexp
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithTargetSize sets the chunk size in runes.
func WithTargetSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.targetSize = size
		}
	}
}

// WithOverlap sets how many trailing runes of a chunk are repeated at the
// start of the next one.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinParagraph sets the length a paragraph must exceed to count towards
// paragraph mode, and below which trailing window fragments are dropped.
func WithMinParagraph(size int) Option {
	return func(c *Chunker) {
		if size >= 0 {
			c.minParagraph = size
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		targetSize:   DefaultTargetSize,
		overlap:      DefaultOverlap,
		minParagraph: DefaultMinParagraph,
		paragraphRe:  regexp.MustCompile(models.ParagraphBreakRegex),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.targetSize {
		c.overlap = c.targetSize / 4
	}
	return c
}

// MaxChunkSize is the largest chunk the chunker can emit for prose.
func (c *Chunker) MaxChunkSize() int {
	return c.targetSize + c.overlap + utf8.RuneCountInString(paragraphSeparator)
}

// CreateChunks turns page analyses into chunks. Chunk indexes increase
// monotonically across the whole document. The output only depends on the
// input.
//
// Diagram association is per page: every chunk of a page with diagrams
// carries the page's combined diagram description.
func (c *Chunker) CreateChunks(pages []models.PageAnalysis) []models.Chunk {
	var chunks []models.Chunk
	index := 0
	for _, page := range pages {
		description := DiagramDescription(page.Diagrams)
		hasDiagram := len(page.Diagrams) > 0

		emit := func(content string) {
			chunks = append(chunks, models.Chunk{
				Content:            content,
				PageNumber:         page.PageNumber,
				ChunkIndex:         index,
				HasDiagram:         hasDiagram,
				DiagramDescription: description,
			})
			index++
		}

		for _, content := range c.SplitText(page.TextContent) {
			emit(content)
		}
		for _, table := range page.Tables {
			for _, content := range c.tableChunks(table) {
				emit(content)
			}
		}
	}
	return chunks
}

// SplitText splits one page of text. Text with at least two substantial
// paragraphs is packed paragraph by paragraph; anything else is cut into
// sliding windows.
func (c *Chunker) SplitText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	paragraphs := c.paragraphs(text)
	long := 0
	for _, p := range paragraphs {
		if utf8.RuneCountInString(p) > c.minParagraph {
			long++
		}
	}
	if long >= 2 {
		return c.packParagraphs(paragraphs)
	}
	return c.window(text)
}

func (c *Chunker) paragraphs(text string) []string {
	var out []string
	for _, p := range c.paragraphRe.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Chunker) packParagraphs(paragraphs []string) []string {
	var out []string
	current := ""
	sepLen := utf8.RuneCountInString(paragraphSeparator)

	flush := func() {
		if current != "" {
			out = append(out, current)
			current = ""
		}
	}
	// begin prefixes p with the tail of the last emitted chunk
	begin := func(p string) string {
		if len(out) == 0 || c.overlap == 0 {
			return p
		}
		return tail(out[len(out)-1], c.overlap) + paragraphSeparator + p
	}

	for _, p := range paragraphs {
		size := utf8.RuneCountInString(p)
		switch {
		case size > c.targetSize:
			flush()
			out = append(out, c.window(begin(p))...)
		case current == "":
			current = begin(p)
		case utf8.RuneCountInString(current)+sepLen+size > c.targetSize:
			flush()
			current = begin(p)
		default:
			current += paragraphSeparator + p
		}
	}
	flush()
	return out
}

// window slices text into targetSize windows advancing by targetSize-overlap.
// Trailing fragments shorter than minParagraph are dropped.
func (c *Chunker) window(text string) []string {
	runes := []rune(text)
	n := len(runes)
	step := c.targetSize - c.overlap
	if step <= 0 {
		step = c.targetSize
	}

	var out []string
	for start := 0; start < n; start += step {
		end := min(start+c.targetSize, n)
		fragment := string(runes[start:end])
		if start > 0 && end-start < c.minParagraph {
			break
		}
		if strings.TrimSpace(fragment) != "" {
			out = append(out, fragment)
		}
		if end == n {
			break
		}
	}
	return out
}

// tableChunks emits a table as standalone chunks prefixed with its marker.
func (c *Chunker) tableChunks(table models.Table) []string {
	body := strings.TrimSpace(table.Content)
	if body == "" {
		return nil
	}
	title := strings.TrimSpace(table.Title)
	if title == "" {
		title = "Table"
	}
	header := fmt.Sprintf(models.TableMarkerFormat, title) + "\n"

	if utf8.RuneCountInString(body) <= c.targetSize {
		return []string{header + body}
	}
	var out []string
	for _, part := range c.window(body) {
		out = append(out, header+part)
	}
	return out
}

// DiagramDescription joins a page's diagrams into one description string.
func DiagramDescription(diagrams []models.Diagram) string {
	parts := make([]string, 0, len(diagrams))
	for _, d := range diagrams {
		desc := strings.TrimSpace(d.Description)
		if t := strings.TrimSpace(d.Type); t != "" {
			desc = "[" + t + "] " + desc
		}
		if len(d.Elements) > 0 {
			desc += " (elements: " + strings.Join(d.Elements, ", ") + ")"
		}
		if desc = strings.TrimSpace(desc); desc != "" {
			parts = append(parts, desc)
		}
	}
	return strings.Join(parts, "; ")
}

func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
