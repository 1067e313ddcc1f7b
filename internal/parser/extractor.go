package parser

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"manual-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// TextExtractor pulls per-page text out of a PDF when no page images exist.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, filename string) ([]models.PageInput, error)
}

// LocalExtractor reads the PDF text layer in-process.
type LocalExtractor struct{}

func NewLocalExtractor() *LocalExtractor { return &LocalExtractor{} }

func (LocalExtractor) Extract(ctx context.Context, data []byte, filename string) ([]models.PageInput, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrExtractionFailed, filename, err)
	}

	numPages := reader.NumPage()
	pages := make([]models.PageInput, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, models.PageInput{PageNumber: i})
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			log.Warn().Err(err).Int("page", i).Str("file", filename).Msg("Failed to read page text")
			pages = append(pages, models.PageInput{PageNumber: i})
			continue
		}
		pages = append(pages, models.PageInput{PageNumber: i, Text: pageText})
	}
	return pages, nil
}

var pageMarkerRe = regexp.MustCompile(models.PageMarkerRegex)

// SplitPages splits extracted text on "=== PAGE n ===" marker lines. Text
// without markers becomes page 1. Text before the first marker is prepended
// to the first marked page. Repeated page numbers are concatenated.
func SplitPages(text string) []models.PageInput {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	matches := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []models.PageInput{{PageNumber: 1, Text: text}}
	}

	byPage := map[int]string{}
	preamble := strings.TrimSpace(text[:matches[0][0]])
	for i, m := range matches {
		number, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil || number < 1 {
			continue
		}
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(text[m[1]:end])
		if i == 0 && preamble != "" {
			body = strings.TrimSpace(preamble + "\n\n" + body)
		}
		if prev, ok := byPage[number]; ok && prev != "" {
			body = prev + "\n\n" + body
		}
		byPage[number] = body
	}

	numbers := make([]int, 0, len(byPage))
	for n := range byPage {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	pages := make([]models.PageInput, 0, len(numbers))
	for _, n := range numbers {
		pages = append(pages, models.PageInput{PageNumber: n, Text: byPage[n]})
	}
	return pages
}
