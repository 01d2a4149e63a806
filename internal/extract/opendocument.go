package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// OpenDocument text elements carry content in text:p, text:span, and text:h.
var odfTextNodes = []*regexp.Regexp{
	regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`),
	regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`),
	regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`),
}

// fromOpenDocument extracts text from .odp and .ods bytes. Both are ZIP
// containers with the document body in content.xml.
func fromOpenDocument(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract opendocument: not a zip: %w", err)
	}
	xml, err := readZipEntry(zr, "content.xml")
	if err != nil {
		return "", fmt.Errorf("extract opendocument: %w", err)
	}
	var buf strings.Builder
	for _, re := range odfTextNodes {
		if text := joinMatches(re, string(xml)); text != "" {
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(text)
		}
	}
	return strings.TrimSpace(buf.String()), nil
}
