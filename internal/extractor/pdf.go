package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
)

const metaKeyPage = "page"

// pdfParser emits one document per page that has a text layer.
type pdfParser struct{}

func (p *pdfParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) (docs []*schema.Document, err error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	// the pdf package panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = fmt.Errorf("%w: pdf: %v", ErrCorruptDocument, r)
		}
	}()

	pdfReader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: pdf: %v", ErrCorruptDocument, err)
	}

	common := parser.GetCommonOptions(&parser.Options{}, opts...)
	for i := 1; i <= pdfReader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: pdf page %d: %v", ErrCorruptDocument, i, err)
		}
		if text == "" {
			continue
		}
		meta := map[string]any{metaKeyPage: i}
		for k, v := range common.ExtraMeta {
			meta[k] = v
		}
		docs = append(docs, &schema.Document{Content: text, MetaData: meta})
	}
	return docs, nil
}
