// Package parsers turns marketplace CSV exports into canonical records.
//
// Parsing happens in two stages. A Source tokenizes the upload into rows
// keyed by header text, falling back to a plain quote-aware line splitter
// when the lenient CSV reader produces nothing. Normalize then maps those
// rows onto canonical field names through a FieldMap and coerces money and
// date columns.
//
// Real exports vary between downloads of the "same" report:
//   - header case and surrounding whitespace
//   - a UTF-8 byte order mark, or Windows-1252 text instead of UTF-8
//   - unescaped quotes inside fields
//   - rows with more or fewer cells than the header
//   - currency symbols and thousands separators in amounts
//   - "NA" in date columns
//
// Example usage:
//
//	src := parsers.NewSource(nil)
//	rows, stats, err := src.ReadRows(ctx, "ORDER.csv", data)
//	for _, row := range rows {
//		rec := parsers.Normalize(row, parsers.OrderFieldMap)
//		line, ok := parsers.ToOrderLine(rec, "2024-01")
//	}
package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// Row is one data line keyed by the header text as it appears in the file,
// trimmed.
type Row map[string]string

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter     rune
	SkipEmptyRows bool
	// Fallback enables the line splitter when the CSV reader yields no rows.
	Fallback bool
	// MaxRows caps the number of data rows read; zero means unlimited.
	MaxRows int
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:     ',',
		SkipEmptyRows: true,
		Fallback:      true,
	}
}

// Source produces rows from an uploaded CSV.
type Source struct {
	config *ParseConfig
	logger logger.Logger
}

// NewSource creates a Source with the given configuration
func NewSource(config *ParseConfig) *Source {
	if config == nil {
		config = DefaultParseConfig()
	}
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	return &Source{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("csv_source"),
	}
}

// WithLogger replaces the source's logger.
func (s *Source) WithLogger(l logger.Logger) *Source {
	s.logger = l.WithComponent("csv_source")
	return s
}

// ReadRows tokenizes data into rows. The lenient reader runs first; if it
// fails or returns no rows the fallback splitter is tried. A parse error is
// returned only when the reader failed and the fallback found nothing. A
// header with no data yields no rows and no error.
func (s *Source) ReadRows(ctx context.Context, name string, data []byte) ([]Row, *ParseStats, error) {
	text := decodeText(data)
	if text.converted {
		s.logger.WithField("file", name).Warn("Upload is not valid UTF-8, decoded as Windows-1252")
	}

	stats := NewParseStats()
	rows, primaryErr := s.readLenient(ctx, text.body, stats)
	if primaryErr == nil && len(rows) > 0 {
		stats.Parser = "csv"
		return rows, stats, nil
	}
	if ctx.Err() != nil {
		return nil, stats, ctx.Err()
	}

	if primaryErr != nil {
		s.logger.WithError(primaryErr).WithField("file", name).Info("Main parser failed, trying simple parser")
	}
	if !s.config.Fallback {
		if primaryErr != nil {
			return nil, stats, errors.ParseError(errors.CodeInvalidFormat, name, stats.LastLine, primaryErr)
		}
		return nil, stats, nil
	}

	stats = NewParseStats()
	rows = s.readSimple(text.body, stats)
	stats.Parser = "fallback"
	if len(rows) == 0 && primaryErr != nil {
		return nil, stats, errors.ParseError(errors.CodeInvalidFormat, name, 0, primaryErr)
	}
	return rows, stats, nil
}

type decoded struct {
	body      string
	converted bool
}

// decodeText strips a UTF-8 BOM and converts Windows-1252 input to UTF-8.
func decodeText(data []byte) decoded {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return decoded{body: string(data)}
	}
	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	if err != nil {
		return decoded{body: strings.ToValidUTF8(string(data), "�")}
	}
	return decoded{body: string(out), converted: true}
}

// readLenient reads with encoding/csv in its most forgiving mode. Records the
// reader rejects are skipped; the first header error aborts.
func (s *Source) readLenient(ctx context.Context, body string, stats *ParseStats) ([]Row, error) {
	reader := csv.NewReader(strings.NewReader(body))
	reader.Comma = s.config.Delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var headers []string
	for headers == nil {
		record, err := reader.Read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if s.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		headers = cleanHeaders(record)
	}

	var rows []Row
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		stats.TotalLines++
		if err != nil {
			line := stats.LastLine + 1
			if pe, ok := err.(*csv.ParseError); ok {
				line = pe.Line
			}
			stats.LastLine = line
			stats.AddError(line, err.Error())
			lastErr = err
			continue
		}
		stats.LastLine, _ = reader.FieldPos(0)
		if s.config.SkipEmptyRows && isEmptyRecord(record) {
			stats.SkippedEmpty++
			continue
		}

		row := make(Row, len(headers))
		for i, header := range headers {
			if i >= len(record) {
				break
			}
			row[header] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
		stats.RecordsParsed++

		if s.config.MaxRows > 0 && len(rows) >= s.config.MaxRows {
			break
		}
	}

	if len(rows) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return rows, nil
}

// readSimple splits on newlines and commas, honouring double quotes within a
// line. Missing trailing cells become empty strings.
func (s *Source) readSimple(body string, stats *ParseStats) []Row {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimRight(line, "\r"))
		}
	}
	if len(lines) == 0 {
		return nil
	}

	rawHeaders := strings.Split(lines[0], string(s.config.Delimiter))
	headers := make([]string, len(rawHeaders))
	for i, h := range rawHeaders {
		headers[i] = strings.Trim(strings.TrimSpace(h), `"`)
	}

	rows := make([]Row, 0, len(lines)-1)
	for i, line := range lines[1:] {
		stats.TotalLines++
		stats.LastLine = i + 2
		values := splitQuotedLine(line, s.config.Delimiter)
		row := make(Row, len(headers))
		for j, header := range headers {
			if j < len(values) {
				row[header] = values[j]
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
		stats.RecordsParsed++

		if s.config.MaxRows > 0 && len(rows) >= s.config.MaxRows {
			break
		}
	}
	return rows
}

// splitQuotedLine splits one line on delim outside double quotes. A doubled
// quote inside a quoted cell is a literal quote.
func splitQuotedLine(line string, delim rune) []string {
	var values []string
	var current strings.Builder
	inQuotes := false

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				current.WriteRune('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case ch == delim && !inQuotes:
			values = append(values, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	values = append(values, strings.TrimSpace(current.String()))
	return values
}

// cleanHeaders removes surrounding whitespace from header names
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	Parser        string
	TotalLines    int
	RecordsParsed int
	SkippedEmpty  int
	LastLine      int
	ErrorCount    int
	Errors        []string
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{}
}

// AddError records a rejected line. Only the first few messages are kept.
func (ps *ParseStats) AddError(line int, message string) {
	ps.ErrorCount++
	if len(ps.Errors) < 20 {
		ps.Errors = append(ps.Errors, fmt.Sprintf("line %d: %s", line, message))
	}
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines with %s parser, %d records, %d errors",
		ps.TotalLines, ps.Parser, ps.RecordsParsed, ps.ErrorCount)
}
