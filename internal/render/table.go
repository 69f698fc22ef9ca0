package render

import (
	"strings"
	"unicode/utf8"
)

// minColumnWidth is the narrowest a column is squeezed to when fitting a
// table into a width limit.
const minColumnWidth = 8

// Table is a text table with dynamic column widths. Tables without headers
// take their column count from the widest row.
type Table struct {
	headers   []string
	rows      [][]string
	padding   int
	maxWidths map[int]int // Maximum width per column index (0 = no limit)
	width     int         // Total line width limit (0 = no limit)
}

// NewTable creates a new table with the given headers.
func NewTable(headers []string) *Table {
	return &Table{
		headers:   headers,
		rows:      make([][]string, 0),
		padding:   2,
		maxWidths: make(map[int]int),
	}
}

// SetColumnMaxWidth sets a maximum width for a specific column.
// Text longer than this will be wrapped to multiple lines.
func (t *Table) SetColumnMaxWidth(colIndex int, maxWidth int) {
	t.maxWidths[colIndex] = maxWidth
}

// SetWidth limits the total line width. The widest column is wrapped to make
// the table fit.
func (t *Table) SetWidth(width int) {
	t.width = width
}

// AddRow adds a row. Rows are padded or truncated to the header count.
func (t *Table) AddRow(row []string) {
	if len(t.headers) == 0 || len(row) == len(t.headers) {
		t.rows = append(t.rows, row)
		return
	}
	padded := make([]string, len(t.headers))
	copy(padded, row)
	t.rows = append(t.rows, padded)
}

func (t *Table) columns() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// naturalWidths returns each column's unwrapped width.
func (t *Table) naturalWidths(cols int) []int {
	widths := make([]int, cols)
	for i, h := range t.headers {
		widths[i] = cellWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := cellWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

// fit applies the total width limit by lowering the widest column's maximum.
func (t *Table) fit(widths []int) map[int]int {
	limits := make(map[int]int, len(t.maxWidths))
	for k, v := range t.maxWidths {
		limits[k] = v
	}
	for i, w := range widths {
		if limit, ok := limits[i]; ok && limit > 0 && w > limit {
			widths[i] = limit
		}
	}
	if t.width <= 0 {
		return limits
	}

	total := t.padding * (len(widths) - 1)
	widest := 0
	for i, w := range widths {
		total += w
		if w > widths[widest] {
			widest = i
		}
	}
	if over := total - t.width; over > 0 {
		limit := widths[widest] - over
		if limit < minColumnWidth {
			limit = minColumnWidth
		}
		if limit < widths[widest] {
			limits[widest] = limit
			widths[widest] = limit
		}
	}
	return limits
}

// Render formats and returns the table as a string.
func (t *Table) Render() string {
	cols := t.columns()
	if cols == 0 {
		return ""
	}

	colWidths := t.naturalWidths(cols)
	limits := t.fit(colWidths)

	wrappedRows := make([][][]string, len(t.rows))
	for rowIdx, row := range t.rows {
		wrappedRows[rowIdx] = make([][]string, cols)
		for colIdx := 0; colIdx < cols; colIdx++ {
			cell := ""
			if colIdx < len(row) {
				cell = row[colIdx]
			}
			wrappedRows[rowIdx][colIdx] = wrapText(cell, limits[colIdx])
		}
	}

	sep := strings.Repeat(" ", t.padding)
	var result strings.Builder

	if len(t.headers) > 0 {
		parts := make([]string, cols)
		for i := range parts {
			h := ""
			if i < len(t.headers) {
				h = t.headers[i]
			}
			parts[i] = padRight(h, colWidths[i])
		}
		writeLine(&result, parts, sep)

		for i, w := range colWidths {
			parts[i] = strings.Repeat("-", w)
		}
		writeLine(&result, parts, sep)
	}

	for _, wrappedRow := range wrappedRows {
		maxLines := 1
		for _, wrappedCell := range wrappedRow {
			if len(wrappedCell) > maxLines {
				maxLines = len(wrappedCell)
			}
		}

		for lineIdx := 0; lineIdx < maxLines; lineIdx++ {
			parts := make([]string, cols)
			for colIdx := range parts {
				line := ""
				if lineIdx < len(wrappedRow[colIdx]) {
					line = wrappedRow[colIdx][lineIdx]
				}
				parts[colIdx] = padRight(line, colWidths[colIdx])
			}
			writeLine(&result, parts, sep)
		}
	}

	return result.String()
}

func writeLine(b *strings.Builder, parts []string, sep string) {
	b.WriteString(strings.TrimRight(strings.Join(parts, sep), " "))
	b.WriteString("\n")
}

func cellWidth(s string) int {
	return utf8.RuneCountInString(s)
}

// padRight pads a string with spaces on the right to reach the desired width.
func padRight(s string, width int) string {
	if n := cellWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// wrapText wraps text to fit within width, breaking at word boundaries.
// Words longer than width are split.
func wrapText(text string, width int) []string {
	if width <= 0 || cellWidth(text) <= width {
		return []string{text}
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}

	var lines []string
	current := ""
	for _, word := range words {
		if cellWidth(word) > width {
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			runes := []rune(word)
			for len(runes) > width {
				lines = append(lines, string(runes[:width]))
				runes = runes[width:]
			}
			current = string(runes)
			continue
		}

		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if cellWidth(candidate) <= width {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}
