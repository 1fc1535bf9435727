package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// sheetParser flattens every worksheet of a workbook into tab separated rows
// under a "Sheet: name" heading.
type sheetParser struct{}

func (sheetParser) CanParse(filename string) bool {
	return hasSuffix(filename, ".xlsx", ".xlsm", ".xltx")
}

func (sheetParser) Parse(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", name, err)
		}
		if len(rows) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Sheet: %s\n", name)
		writeRows(&b, rows)
	}
	return strings.TrimSpace(b.String()), nil
}

type csvParser struct{}

func (csvParser) CanParse(filename string) bool {
	return hasSuffix(filename, ".csv", ".tsv")
}

func (csvParser) Parse(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if bytes.Count(content, []byte("\t")) > bytes.Count(content, []byte(",")) {
		r.Comma = '\t'
	}
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, rec)
	}
	var b strings.Builder
	writeRows(&b, rows)
	return strings.TrimSpace(b.String()), nil
}

func writeRows(b *strings.Builder, rows [][]string) {
	for _, row := range rows {
		b.WriteString(strings.TrimRight(strings.Join(row, "\t"), "\t"))
		b.WriteByte('\n')
	}
}
