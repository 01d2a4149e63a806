// Package extract provides plain-text extraction from document formats.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
// Plain text (.txt, .md, .rst) is returned as-is (UTF-8 validated). PDF, Office
// (docx/xlsx/pptx), OpenDocument (odp/ods), and odt/rtf are decoded from their
// binary formats. Unknown extensions are treated as plain text.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return fromPDF(content)
	case ".docx":
		return fromDOCX(content)
	case ".odt", ".rtf":
		return fromCat(content)
	case ".xlsx":
		return fromWorkbook(content)
	case ".pptx":
		return fromSlides(content)
	case ".odp", ".ods":
		return fromOpenDocument(content)
	default:
		return fromPlain(content)
	}
}

// fromPlain returns content as a string, replacing invalid UTF-8 sequences.
func fromPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�"), nil
	}
	return string(content), nil
}
