package rag

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"manual-rag/internal/models"
)

var (
	numberedStepRe   = regexp.MustCompile(models.NumberedStepRegex)
	paragraphBreakRe = regexp.MustCompile(models.ParagraphBreakRegex)
	imageTagRe       = regexp.MustCompile(models.ImageTagRegex)
	spaceBeforePunct = regexp.MustCompile(`\s+([.,;:!?])`)
)

// BuildContext renders retrieved chunks grouped by page, followed by the
// images the model may reference.
func BuildContext(r *models.Retrieval) string {
	byPage := map[int][]models.ScoredChunk{}
	var pages []int
	for _, c := range r.Chunks {
		if _, ok := byPage[c.PageNumber]; !ok {
			pages = append(pages, c.PageNumber)
		}
		byPage[c.PageNumber] = append(byPage[c.PageNumber], c)
	}
	sort.Ints(pages)

	var b strings.Builder
	for _, page := range pages {
		chunks := byPage[page]
		sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })

		fmt.Fprintf(&b, models.PageHeaderFormat+"\n", page)
		diagrams := map[string]bool{}
		for _, c := range chunks {
			b.WriteString(c.Content)
			b.WriteString("\n\n")
			if c.HasDiagram && c.DiagramDescription != "" && !diagrams[c.DiagramDescription] {
				diagrams[c.DiagramDescription] = true
				fmt.Fprintf(&b, "[Diagrams on this page: %s]\n\n", c.DiagramDescription)
			}
		}
	}

	if len(r.Images) > 0 {
		b.WriteString("Available images:\n")
		for _, img := range r.Images {
			fmt.Fprintf(&b, "- [%s] %s (page %d)\n", img.ImageType, img.Caption, img.PageNumber)
		}
	}
	return b.String()
}

// ParseSteps splits a model answer into steps. Numbered markers win when
// there are at least two of them, then blank-line paragraphs, then the
// whole answer as one step. Steps keep their markers. Text before the
// first marker is kept as a leading step.
func ParseSteps(text string) []string {
	text = strings.TrimSpace(text)

	if locs := numberedStepRe.FindAllStringIndex(text, -1); len(locs) >= 2 {
		var steps []string
		if intro := strings.TrimSpace(text[:locs[0][0]]); intro != "" {
			steps = append(steps, intro)
		}
		for i, loc := range locs {
			end := len(text)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			if step := strings.TrimSpace(text[loc[0]:end]); step != "" {
				steps = append(steps, step)
			}
		}
		return steps
	}

	var paragraphs []string
	for _, p := range paragraphBreakRe.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) >= 2 {
		return paragraphs
	}
	return []string{text}
}

// ImageTags returns the descriptions inside [IMAGE: ...] tags, in order.
func ImageTags(text string) []string {
	var tags []string
	for _, m := range imageTagRe.FindAllStringSubmatch(text, -1) {
		if tag := strings.TrimSpace(m[1]); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// StripImageTags removes [IMAGE: ...] tags and the spacing they leave.
func StripImageTags(text string) string {
	out := strings.Join(strings.Fields(imageTagRe.ReplaceAllString(text, "")), " ")
	return spaceBeforePunct.ReplaceAllString(out, "$1")
}

// ImageScorer rates how well an image matches an [IMAGE: ...] tag. A score
// of zero or less is no match.
type ImageScorer interface {
	Score(tag string, img models.ScoredImage) float64
}

// KeywordScorer counts the words longer than three characters a tag shares
// with an image caption. Naming the image's type earns a bonus.
type KeywordScorer struct {
	TypeBonus float64
}

func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{TypeBonus: 0.5}
}

func (s *KeywordScorer) Score(tag string, img models.ScoredImage) float64 {
	caption := keywords(img.Caption)
	var score float64
	for word := range keywords(tag) {
		if caption[word] {
			score++
		}
		if word == string(img.ImageType) {
			score += s.TypeBonus
		}
	}
	return score
}

func keywords(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(words))
	for _, w := range words {
		if len([]rune(w)) > 3 {
			out[w] = true
		}
	}
	return out
}

// ResolveImages picks the images an answer shows. Each tag takes its best
// scoring unused image. Without tags, up to maxFallback images above
// fallbackThreshold are attached.
func ResolveImages(answer string, images []models.ScoredImage, scorer ImageScorer, fallbackThreshold float64, maxFallback int) []models.AnswerImage {
	out := []models.AnswerImage{}
	if len(images) == 0 {
		return out
	}

	tags := ImageTags(answer)
	if len(tags) == 0 {
		for _, img := range images {
			if len(out) >= maxFallback {
				break
			}
			if img.Similarity > fallbackThreshold {
				out = append(out, answerImage(img))
			}
		}
		return out
	}

	used := make([]bool, len(images))
	for _, tag := range tags {
		best, bestScore := -1, 0.0
		for i, img := range images {
			if used[i] {
				continue
			}
			score := scorer.Score(tag, img)
			if score <= 0 {
				continue
			}
			if best < 0 || score > bestScore || (score == bestScore && img.Similarity > images[best].Similarity) {
				best, bestScore = i, score
			}
		}
		if best >= 0 {
			used[best] = true
			out = append(out, answerImage(images[best]))
		}
	}
	return out
}

func answerImage(img models.ScoredImage) models.AnswerImage {
	return models.AnswerImage{
		URL:        img.AssetURL,
		Caption:    img.Caption,
		PageNumber: img.PageNumber,
		ImageType:  img.ImageType,
	}
}
