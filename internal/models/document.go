package models

import (
	"strings"
	"time"
)

// Format is the declared container format of an uploaded document.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Ext returns the file extension for the format, including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Document is an upload held for the duration of one request.
type Document struct {
	FileName   string    `json:"file_name"`
	Format     Format    `json:"format"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	StoredPath string    `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}

const previewLength = 500

// Preview returns the first 500 characters of text, marked when cut.
func Preview(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= previewLength {
		return string(runes)
	}
	return string(runes[:previewLength]) + "..."
}
