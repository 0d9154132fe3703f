// Package extractor turns PDF and DOCX containers into plain text.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"

	"docinsight/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrCorruptDocument   = errors.New("document could not be opened")
)

// Extractor reads a whole document once and returns its text.
type Extractor struct {
	parser *parser.ExtParser
	loader *file.FileLoader
}

// New builds an Extractor with the PDF and DOCX parsers registered by extension.
func New(ctx context.Context) (*Extractor, error) {
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			models.FormatPDF.Ext():  &pdfParser{},
			models.FormatDOCX.Ext(): &docxParser{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init ext parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      extParser,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &Extractor{parser: extParser, loader: loader}, nil
}

// ParseFormat maps a file name to a supported format by extension.
func ParseFormat(filename string) (models.Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case models.FormatPDF.Ext():
		return models.FormatPDF, nil
	case models.FormatDOCX.Ext():
		return models.FormatDOCX, nil
	default:
		if ext == "" {
			ext = "(none)"
		}
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// Extract parses document bytes read from r.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, format models.Format) (string, error) {
	if err := checkFormat(format); err != nil {
		return "", err
	}
	docs, err := e.parser.Parse(ctx, r, parser.WithURI("document"+format.Ext()))
	if err != nil {
		return "", err
	}
	return joinDocuments(docs), nil
}

// ExtractFile parses a document stored on disk. The loader dispatches on the
// path's extension, so it must match format.
func (e *Extractor) ExtractFile(ctx context.Context, path string, format models.Format) (string, error) {
	if err := checkFormat(format); err != nil {
		return "", err
	}
	if !strings.EqualFold(filepath.Ext(path), format.Ext()) {
		return "", fmt.Errorf("%w: stored path %s does not end in %s", ErrUnsupportedFormat, filepath.Base(path), format.Ext())
	}
	docs, err := e.loader.Load(ctx, document.Source{URI: path})
	if err != nil {
		if errors.Is(err, ErrCorruptDocument) || errors.Is(err, ErrUnsupportedFormat) {
			return "", err
		}
		return "", fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return joinDocuments(docs), nil
}

func checkFormat(format models.Format) error {
	switch format {
	case models.FormatPDF, models.FormatDOCX:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(format))
	}
}

func joinDocuments(docs []*schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil || doc.Content == "" {
			continue
		}
		parts = append(parts, doc.Content)
	}
	return strings.Join(parts, "\n")
}
