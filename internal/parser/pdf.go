package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

type pdfParser struct{}

func (pdfParser) CanParse(filename string) bool {
	return hasSuffix(filename, ".pdf")
}

// Parse extracts the text layer page by page. Pages are separated by a blank
// line so the chunker can prefer page breaks.
func (pdfParser) Parse(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		txt, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if txt = strings.TrimSpace(txt); txt != "" {
			pages = append(pages, txt)
		}
	}
	if len(pages) == 0 {
		return "", ErrNoText
	}
	return normalizeNewlines(strings.Join(pages, "\n\n")), nil
}
