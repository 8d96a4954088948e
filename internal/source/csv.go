package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/ctxproxy/internal/document"
)

// csvBatchSize is the number of data rows rendered under one heading.
const csvBatchSize = 20

// CSVParser renders CSV files as markdown tables, one "## Rows a-b"
// section per batch of rows. The first record is the header row.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (document.Source, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return document.Source{}, fmt.Errorf("parse csv: %w", err)
	}

	src := document.Source{Title: baseTitle(filename)}
	if len(records) == 0 {
		return src, nil
	}

	headers := records[0]
	dataRows := records[1:]

	var blocks []string
	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := min(i+csvBatchSize, len(dataRows))

		var table strings.Builder
		writeRow(&table, headers)
		seps := make([]string, len(headers))
		for j := range seps {
			seps[j] = "---"
		}
		writeRow(&table, seps)
		for _, row := range dataRows[i:end] {
			writeRow(&table, padRow(row, len(headers)))
		}

		// Row numbers are 1-indexed and count the header row.
		blocks = append(blocks, heading(2, fmt.Sprintf("Rows %d-%d", i+2, end+1)), table.String())
	}

	src.Markdown = joinBlocks(blocks)
	return src, nil
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(strings.TrimSpace(c), "|", `\|`))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

// padRow extends short rows to n cells. Longer rows are kept whole.
func padRow(row []string, n int) []string {
	for len(row) < n {
		row = append(row, "")
	}
	return row
}
