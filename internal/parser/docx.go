package parser

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

var (
	paraEnd = regexp.MustCompile(`</w:p>`)
	lineBrk = regexp.MustCompile(`<w:(br|cr)\s*/>`)
	tabTag  = regexp.MustCompile(`<w:tab\s*/>`)
	anyTag  = regexp.MustCompile(`<[^>]+>`)
)

type docxParser struct{}

func (docxParser) CanParse(filename string) bool {
	return hasSuffix(filename, ".docx")
}

func (docxParser) Parse(content []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()
	return docxXMLToText(r.Editable().GetContent()), nil
}

// docxXMLToText turns WordprocessingML into text with one paragraph per
// block. Tags are stripped naively; run formatting is discarded.
func docxXMLToText(xml string) string {
	xml = paraEnd.ReplaceAllString(xml, "\n\n")
	xml = lineBrk.ReplaceAllString(xml, "\n")
	xml = tabTag.ReplaceAllString(xml, "\t")
	text := html.UnescapeString(anyTag.ReplaceAllString(xml, ""))
	return strings.TrimSpace(normalizeNewlines(text))
}
