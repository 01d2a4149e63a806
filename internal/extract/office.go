package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/lu4p/cat"
	"github.com/xuri/excelize/v2"
)

var (
	// wordTextNode matches <w:t ...>text</w:t> runs in OOXML word documents.
	wordTextNode = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// drawTextNode matches <a:t ...>text</a:t> runs in OOXML slide decks.
	drawTextNode = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
)

// fromDOCX extracts text from .docx bytes by pulling every <w:t> text node out
// of word/document.xml, so content survives regardless of run/paragraph attributes.
func fromDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract docx: not a zip: %w", err)
	}
	xml, err := readZipEntry(zr, "word/document.xml")
	if err != nil {
		return "", fmt.Errorf("extract docx: %w", err)
	}
	return joinMatches(wordTextNode, string(xml)), nil
}

// fromCat extracts .odt and .rtf content through lu4p/cat.
func fromCat(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// fromWorkbook extracts all cell text from an .xlsx, tab-separated per row.
func fromWorkbook(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			buf.WriteString(strings.Join(row, "\t"))
			buf.WriteByte('\n')
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

// fromSlides extracts text from every ppt/slides/slideN.xml in a .pptx.
func fromSlides(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract pptx: not a zip: %w", err)
	}
	var buf strings.Builder
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "ppt/slides/slide") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		data, err := readZipEntry(zr, f.Name)
		if err != nil {
			return "", fmt.Errorf("extract pptx: %w", err)
		}
		if text := joinMatches(drawTextNode, string(data)); text != "" {
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(text)
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%s not found", name)
}

func joinMatches(re *regexp.Regexp, xml string) string {
	parts := re.FindAllStringSubmatch(xml, -1)
	var b strings.Builder
	for _, p := range parts {
		text := strings.TrimSpace(p[1])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}
