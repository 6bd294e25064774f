package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/ansi"
)

const tablePadding = 2

// writeTable aligns rows under headers by display width, ignoring styling.
func writeTable(out io.Writer, headers []string, rows [][]string) error {
	colCount := len(headers)
	for _, row := range rows {
		colCount = max(colCount, len(row))
	}
	if colCount == 0 {
		return nil
	}

	widths := make([]int, colCount)
	for _, row := range append([][]string{headers}, rows...) {
		for idx, cell := range row {
			widths[idx] = max(widths[idx], cellWidth(cell))
		}
	}

	writer := bufio.NewWriter(out)
	for _, row := range append([][]string{headers}, rows...) {
		if len(row) == 0 {
			continue
		}
		var line strings.Builder
		for idx := range colCount {
			cell := ""
			if idx < len(row) {
				cell = row[idx]
			}
			line.WriteString(cell)
			if idx < colCount-1 {
				line.WriteString(strings.Repeat(" ", widths[idx]-cellWidth(cell)+tablePadding))
			}
		}
		line.WriteByte('\n')
		if _, err := writer.WriteString(strings.TrimRight(line.String(), " \n") + "\n"); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// cellWidth is the printed width of value: escape sequences take no columns
// and wide runes take two.
func cellWidth(value string) int {
	if !strings.ContainsRune(value, '\x1b') {
		return runewidth.StringWidth(value)
	}
	return ansi.PrintableRuneWidth(value)
}

func formatYesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
