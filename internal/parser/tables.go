package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var tableMarkdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// NormalizeTable rewrites GFM pipe tables as "cell | cell" rows, dropping
// the delimiter row and outer pipes. Content without a table is only trimmed.
func NormalizeTable(content string) string {
	content = strings.TrimSpace(content)
	if content == "" || !strings.Contains(content, "|") {
		return content
	}

	src := []byte(content)
	doc := tableMarkdown.Parser().Parse(text.NewReader(src))

	found := false
	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if table, ok := n.(*east.Table); ok {
			found = true
			blocks = append(blocks, tableRows(table, src)...)
			continue
		}
		if s := blockText(n, src); s != "" {
			blocks = append(blocks, s)
		}
	}
	if !found {
		return content
	}
	return strings.Join(blocks, "\n")
}

func tableRows(table *east.Table, src []byte) []string {
	var rows []string
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, strings.TrimSpace(inlineText(cell, src)))
		}
		if strings.TrimSpace(strings.Join(cells, "")) == "" {
			continue
		}
		rows = append(rows, strings.Join(cells, " | "))
	}
	return rows
}

func blockText(n ast.Node, src []byte) string {
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		parts := make([]string, 0, lines.Len())
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if line := strings.TrimSpace(string(seg.Value(src))); line != "" {
				parts = append(parts, line)
			}
		}
		return strings.Join(parts, "\n")
	}
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if s := blockText(c, src); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		default:
			b.WriteString(inlineText(c, src))
		}
	}
	return b.String()
}
