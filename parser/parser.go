package parser

import (
	"context"
	"strings"
)

// Document is the page text of one quotation file.
type Document struct {
	Path   string
	Format string
	Pages  []Page
}

// Page is the text of one page (or sheet), lines separated by "\n".
type Page struct {
	Number int
	Text   string
}

// Line is one non-blank line of a page with its 1-based position in the
// page text, blank lines included in the count.
type Line struct {
	No   int
	Text string
}

// Lines returns the non-blank lines of the page in order.
func (p Page) Lines() []Line {
	var out []Line
	for i, text := range strings.Split(p.Text, "\n") {
		if strings.TrimSpace(text) != "" {
			out = append(out, Line{No: i + 1, Text: text})
		}
	}
	return out
}

// Texts returns the text of every page in order.
func (d *Document) Texts() []string {
	out := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		out[i] = p.Text
	}
	return out
}

// Parser can read a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
	SupportedFormats() []string
}
