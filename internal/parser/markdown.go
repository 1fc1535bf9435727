package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

type markdownParser struct{}

func (markdownParser) CanParse(filename string) bool {
	return hasSuffix(filename, ".md", ".markdown")
}

// Parse renders markdown to plain text: markup is dropped, every block ends
// with a paragraph break, list items keep a "- " marker and table cells are
// joined with " | ".
func (markdownParser) Parse(content []byte) (string, error) {
	src := []byte(normalizeNewlines(string(content)))
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	blockEnd := func() {
		s := b.String()
		switch {
		case s == "", strings.HasSuffix(s, "\n\n"):
		case strings.HasSuffix(s, "\n"):
			b.WriteByte('\n')
		default:
			b.WriteString("\n\n")
		}
	}
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.Label(src))
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				return ast.WalkSkipChildren, nil
			}
			blockEnd()
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if entering {
				b.WriteString("- ")
			} else if !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte('\n')
			}
		case *ast.List:
			if !entering {
				blockEnd()
			}
		case *ast.TextBlock:
		case *east.TableCell:
			if !entering {
				b.WriteString(" | ")
			}
		case *east.TableRow, *east.TableHeader:
			if !entering {
				s := strings.TrimSuffix(b.String(), " | ")
				b.Reset()
				b.WriteString(s)
				b.WriteByte('\n')
			}
		default:
			if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				blockEnd()
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(normalizeNewlines(b.String())), nil
}
