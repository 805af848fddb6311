package core

import "strings"

// CSVData is a tokenized upload: the first non-blank line and every
// following non-blank line.
type CSVData struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// ParseCSV tokenizes comma-separated text.
//
// Lines are split on '\n' and lines containing only whitespace are dropped,
// so quoted fields cannot span lines. Commas inside double quotes do not
// split, "" inside quotes is a literal quote, and every field is trimmed
// after unquoting. Rows are not checked against the header width.
func ParseCSV(text string) CSVData {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) == 0 {
		return CSVData{Headers: []string{}, Rows: [][]string{}}
	}

	data := CSVData{
		Headers: parseCSVLine(lines[0]),
		Rows:    make([][]string, 0, len(lines)-1),
	}
	for _, line := range lines[1:] {
		data.Rows = append(data.Rows, parseCSVLine(line))
	}
	return data
}

func parseCSVLine(line string) []string {
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"' && inQuotes && i+1 < len(line) && line[i+1] == '"':
			current.WriteByte('"')
			i++
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	return append(fields, strings.TrimSpace(current.String()))
}

// FormatCSVLine joins fields into one line, quoting those that need it.
func FormatCSVLine(fields []string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		writeCSVField(&b, f, false)
	}
	return b.String()
}

// FormatCSV renders headers and rows as newline-terminated lines.
func FormatCSV(data CSVData) string {
	var b strings.Builder
	b.WriteString(FormatCSVLine(data.Headers))
	b.WriteByte('\n')
	for _, row := range data.Rows {
		b.WriteString(FormatCSVLine(row))
		b.WriteByte('\n')
	}
	return b.String()
}

// writeCSVField writes f, wrapped in quotes with inner quotes doubled when
// force is set or f contains a comma, quote or line break.
func writeCSVField(b *strings.Builder, f string, force bool) {
	if !force && !strings.ContainsAny(f, ",\"\r\n") {
		b.WriteString(f)
		return
	}
	b.WriteByte('"')
	b.WriteString(strings.ReplaceAll(f, `"`, `""`))
	b.WriteByte('"')
}
