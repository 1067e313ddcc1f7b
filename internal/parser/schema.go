package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"manual-rag/internal/models"
)

// rawPageAnalysis is the wire schema the vision model must answer with.
// text_content is required; everything else is optional.
type rawPageAnalysis struct {
	TextContent *string      `json:"text_content"`
	Diagrams    []rawDiagram `json:"diagrams"`
	Tables      []rawTable   `json:"tables"`
	KeyElements []string     `json:"key_elements"`
}

type rawDiagram struct {
	Description string   `json:"description"`
	Position    string   `json:"position"`
	Type        string   `json:"type"`
	Elements    []string `json:"elements"`
}

type rawTable struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

var errMissingText = errors.New("text_content is missing")

// DecodePageAnalysis validates model output against the page schema.
// Code fences and prose around the JSON object are tolerated.
func DecodePageAnalysis(output string) (models.PageAnalysis, error) {
	body, err := jsonObject(output)
	if err != nil {
		return models.PageAnalysis{}, err
	}

	var raw rawPageAnalysis
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return models.PageAnalysis{}, fmt.Errorf("decode page analysis: %w", err)
	}
	if raw.TextContent == nil {
		return models.PageAnalysis{}, errMissingText
	}

	analysis := models.PageAnalysis{
		TextContent: strings.TrimSpace(*raw.TextContent),
	}
	for _, d := range raw.Diagrams {
		if strings.TrimSpace(d.Description) == "" && strings.TrimSpace(d.Type) == "" {
			continue
		}
		analysis.Diagrams = append(analysis.Diagrams, models.Diagram{
			Description: strings.TrimSpace(d.Description),
			Position:    strings.TrimSpace(d.Position),
			Type:        strings.TrimSpace(d.Type),
			Elements:    compact(d.Elements),
		})
	}
	for _, t := range raw.Tables {
		content := NormalizeTable(t.Content)
		if content == "" {
			continue
		}
		analysis.Tables = append(analysis.Tables, models.Table{
			Title:   strings.TrimSpace(t.Title),
			Content: content,
		})
	}
	analysis.KeyElements = compact(raw.KeyElements)
	return analysis, nil
}

func jsonObject(output string) (string, error) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end <= start {
		return "", errors.New("no JSON object in model output")
	}
	return output[start : end+1], nil
}

func compact(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
