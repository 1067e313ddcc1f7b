package imageproc

import (
	"strings"

	"manual-rag/internal/models"
)

// Classifier assigns an image type from a caption.
type Classifier interface {
	Classify(caption string) models.ImageType
}

// KeywordClassifier picks the type whose keyword appears earliest in the
// caption. Captions without any keyword are diagrams.
type KeywordClassifier struct {
	keywords map[models.ImageType][]string
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{keywords: map[models.ImageType][]string{
		models.ImageDiagram: {"diagram", "schematic", "wiring", "exploded", "flowchart", "layout", "drawing", "illustration", "cross-section", "cutaway"},
		models.ImagePhoto:   {"photo", "picture", "snapshot"},
		models.ImageChart:   {"chart", "graph", "plot", "histogram", "curve"},
		models.ImageTable:   {"table", "spreadsheet", "matrix of"},
		models.ImageIcon:    {"icon", "logo", "symbol", "pictogram", "emblem"},
	}}
}

func (c *KeywordClassifier) Classify(caption string) models.ImageType {
	lower := strings.ToLower(caption)
	best, bestPos := models.ImageDiagram, -1
	for _, t := range models.ImageTypes {
		for _, kw := range c.keywords[t] {
			pos := strings.Index(lower, kw)
			if pos >= 0 && (bestPos < 0 || pos < bestPos) {
				best, bestPos = t, pos
			}
		}
	}
	return best
}
