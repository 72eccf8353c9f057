package catalog

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxSummary = 280

// PlainText renders a project description as a single line of text,
// stripping any HTML markup and truncating long bodies.
func PlainText(body string) string {
	text := body
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		doc.Find("script, style").Remove()
		text = doc.Text()
	}
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > maxSummary {
		return strings.TrimSpace(string(runes[:maxSummary-1])) + "…"
	}
	return text
}

// Summary picks the best short description of a project.
func (p Project) Summary() string {
	if p.Description != "" {
		return PlainText(p.Description)
	}
	return PlainText(p.Body)
}
