// Package parser extracts plain text from documents so it can be counted,
// chunked and embedded.
package parser

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Parser defines a document parser implementation.
type Parser interface {
	CanParse(filename string) bool
	Parse(content []byte) (string, error)
}

var registry []Parser

// Register adds a parser implementation to the registry. Later registrations
// do not override earlier ones for the same extension.
func Register(p Parser) {
	registry = append(registry, p)
}

// ParseFile selects a parser based on filename and returns parsed text content.
func ParseFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return ParseBytes(path, data)
}

// ParseBytes parses content as if it were read from a file called name.
// Unknown extensions are treated as plain text.
func ParseBytes(name string, content []byte) (string, error) {
	for _, p := range registry {
		if p.CanParse(name) {
			out, err := p.Parse(content)
			if err != nil {
				return "", fmt.Errorf("parse %s: %w", name, err)
			}
			return out, nil
		}
	}
	return normalizeNewlines(string(content)), nil
}

// Supported reports whether a registered parser claims name.
func Supported(name string) bool {
	for _, p := range registry {
		if p.CanParse(name) {
			return true
		}
	}
	return false
}

func init() {
	Register(txtParser{})
	Register(markdownParser{})
	Register(docxParser{})
	Register(pdfParser{})
	Register(sheetParser{})
	Register(csvParser{})
	Register(pptxParser{})
}

// ErrNoText is returned when a document parses but yields no text, e.g. a
// scanned PDF without a text layer.
var ErrNoText = errors.New("document contains no extractable text")

func hasSuffix(name string, exts ...string) bool {
	lower := strings.ToLower(name)
	for _, e := range exts {
		if strings.HasSuffix(lower, e) {
			return true
		}
	}
	return false
}

// normalizeNewlines converts CRLF and CR to LF and collapses runs of blank
// lines to a single paragraph break.
func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return text
}
