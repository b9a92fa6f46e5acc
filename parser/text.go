package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TextParser handles plain text files. A form feed starts a new page.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "text"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	if content == "" {
		return &Document{}, nil
	}

	var pages []Page
	for i, text := range strings.Split(content, "\f") {
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	return &Document{Pages: pages}, nil
}
