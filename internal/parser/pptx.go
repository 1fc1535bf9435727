package parser

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"sort"
	"strconv"
	"strings"
)

type pptxParser struct{}

func (pptxParser) CanParse(filename string) bool {
	return hasSuffix(filename, ".pptx")
}

// Parse collects the <a:t> runs of each slide in slide order, one slide per
// paragraph.
func (pptxParser) Parse(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pptx: %w", err)
	}
	type slide struct {
		n    int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		num, ok := slideNumber(f.Name)
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f.Name, err)
		}
		if t := slideText(string(data)); t != "" {
			slides = append(slides, slide{n: num, text: t})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	parts := make([]string, len(slides))
	for i, s := range slides {
		parts[i] = s.text
	}
	return strings.Join(parts, "\n\n"), nil
}

// slideNumber parses "ppt/slides/slide12.xml" into 12.
func slideNumber(name string) (int, bool) {
	const prefix = "ppt/slides/slide"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".xml") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".xml"))
	return n, err == nil
}

func slideText(xml string) string {
	var out []string
	parts := strings.Split(xml, "<a:t>")
	for _, part := range parts[1:] {
		if end := strings.Index(part, "</a:t>"); end >= 0 {
			if s := strings.TrimSpace(html.UnescapeString(part[:end])); s != "" {
				out = append(out, s)
			}
		}
	}
	return strings.Join(out, " ")
}
