package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned when no parser handles a file extension.
var ErrUnsupportedFormat = errors.New("no parser for format")

type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	pdf := &PDFParser{}
	text := &TextParser{}
	xlsx := &XLSXParser{}

	for _, p := range []Parser{pdf, text, xlsx} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// Parse opens path with the parser registered for its extension.
func (r *Registry) Parse(ctx context.Context, path string) (*Document, error) {
	format := FormatOf(path)
	p, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	doc, err := p.Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	doc.Path = path
	doc.Format = format
	return doc, nil
}

// FormatOf returns the lower-cased extension of path without the dot.
func FormatOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
