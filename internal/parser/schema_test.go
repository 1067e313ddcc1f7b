package parser

import (
	"testing"

	"manual-rag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePageAnalysis(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    models.PageAnalysis
		wantErr bool
	}{
		{
			name:   "minimal",
			output: `{"text_content":"  Hello  "}`,
			want:   models.PageAnalysis{TextContent: "Hello"},
		},
		{
			name:   "prose around object",
			output: "Here you go:\n{\"text_content\":\"A\",\"key_elements\":[\" P-100 \",\"\"]}\nDone.",
			want:   models.PageAnalysis{TextContent: "A", KeyElements: []string{"P-100"}},
		},
		{
			name:   "tables are normalised and empty ones dropped",
			output: `{"text_content":"","tables":[{"title":"Codes","content":"| Code | Meaning |\n|---|---|\n| E1 | Low water |"},{"title":"x","content":" "}]}`,
			want: models.PageAnalysis{Tables: []models.Table{
				{Title: "Codes", Content: "Code | Meaning\nE1 | Low water"},
			}},
		},
		{
			name:   "blank diagrams dropped",
			output: `{"text_content":"t","diagrams":[{"description":""},{"description":"Pump","position":"top"}]}`,
			want: models.PageAnalysis{TextContent: "t", Diagrams: []models.Diagram{
				{Description: "Pump", Position: "top"},
			}},
		},
		{name: "missing text_content", output: `{"diagrams":[]}`, wantErr: true},
		{name: "wrong type", output: `{"text_content":42}`, wantErr: true},
		{name: "no json", output: "sorry", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePageAnalysis(tt.output)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeTable(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "  ", want: ""},
		{name: "plain text untouched", input: " Torque: 10 Nm ", want: "Torque: 10 Nm"},
		{name: "already normalised rows", input: "Bolt | Nm\nM6 | 10", want: "Bolt | Nm\nM6 | 10"},
		{
			name:  "gfm table",
			input: "| Bolt | Torque (Nm) |\n| :--- | ---: |\n| M6 | 10 |\n| M8 | **25** |",
			want:  "Bolt | Torque (Nm)\nM6 | 10\nM8 | 25",
		},
		{
			name:  "caption kept before rows",
			input: "Table 3 - Fuses\n\n| Fuse | Rating |\n|---|---|\n| F1 | 10A |",
			want:  "Table 3 - Fuses\nFuse | Rating\nF1 | 10A",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTable(tt.input))
		})
	}
}

func TestSplitPages(t *testing.T) {
	t.Run("no markers is page one", func(t *testing.T) {
		assert.Equal(t, []models.PageInput{{PageNumber: 1, Text: "just text"}}, SplitPages("  just text "))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, SplitPages("\n "))
	})

	t.Run("markers split pages in order", func(t *testing.T) {
		text := "Cover\n=== PAGE 1 ===\nIntro\n\n=== PAGE 3 ===\nWiring\n=== PAGE 2 ===\nSafety\n==== PAGE 3 ====\nmore wiring"
		pages := SplitPages(text)
		assert.Equal(t, []models.PageInput{
			{PageNumber: 1, Text: "Cover\n\nIntro"},
			{PageNumber: 2, Text: "Safety"},
			{PageNumber: 3, Text: "Wiring\n\nmore wiring"},
		}, pages)
	})

	t.Run("marker lookalikes inside text are ignored", func(t *testing.T) {
		pages := SplitPages("=== PAGE 1 ===\nsee === PAGE 2 === below")
		require.Len(t, pages, 1)
		assert.Equal(t, "see === PAGE 2 === below", pages[0].Text)
	})
}
