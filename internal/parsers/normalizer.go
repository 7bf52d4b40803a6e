package parsers

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Value is a coerced cell. Exactly one of Text, Number or Time is meaningful
// depending on Kind. A date Value with a nil Time is present but null.
type Value struct {
	Kind   FieldKind
	Text   string
	Number decimal.Decimal
	Time   *time.Time
}

// Record is a canonical row. A field missing from the map had no source
// column, which callers must keep distinct from a present null.
type Record map[string]Value

// Normalize maps row onto canonical fields using fm. It never fails: an
// unusable row produces an empty Record.
func Normalize(row Row, fm FieldMap) Record {
	record := make(Record, len(fm.Mappings))
	if len(row) == 0 {
		return record
	}

	lookup := make(map[string]string, len(row))
	for header := range row {
		lookup[headerKey(header)] = header
	}

	for _, m := range fm.Mappings {
		actual, ok := lookup[headerKey(m.Header)]
		if !ok {
			continue
		}
		raw := row[actual]
		kind := KindOf(m.Field)
		switch kind {
		case KindNumeric:
			record[m.Field] = Value{Kind: kind, Number: NormalizeNumber(raw)}
		case KindDate:
			record[m.Field] = Value{Kind: kind, Time: NormalizeDate(raw)}
		default:
			record[m.Field] = Value{Kind: kind, Text: raw}
		}
	}
	return record
}

var (
	nonNumeric    = regexp.MustCompile(`[^0-9.\-]+`)
	numericPrefix = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)`)
)

// NormalizeNumber strips everything but digits, dots and minus signs and
// reads the longest leading decimal. Nothing readable gives zero.
func NormalizeNumber(raw string) decimal.Decimal {
	cleaned := nonNumeric.ReplaceAllString(raw, "")
	if cleaned == "" {
		return decimal.Zero
	}
	prefix := numericPrefix.FindString(cleaned)
	if prefix == "" {
		return decimal.Zero
	}
	prefix = strings.TrimSuffix(prefix, ".")
	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"02-01-2006",
	"02-Jan-2006 15:04:05",
	"02-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"Jan 2, 2006 15:04:05",
}

// NormalizeDate parses raw as a date-time. Blank, "na" and "n/a" are null,
// as is anything no layout accepts.
func NormalizeDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "na", "n/a":
		return nil
	}
	t, ok := ParseTimeWithFormats(s)
	if !ok {
		return nil
	}
	return &t
}

// ParseTimeWithFormats tries each known layout in turn. Values without a zone
// are read as UTC.
func ParseTimeWithFormats(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Text returns a text field and whether it was present.
func (r Record) Text(field string) (string, bool) {
	v, ok := r[field]
	if !ok {
		return "", false
	}
	return v.Text, true
}

// TextValue returns a text field, or "" when absent.
func (r Record) TextValue(field string) string {
	return r[field].Text
}

// Decimal returns a numeric field, or zero when absent.
func (r Record) Decimal(field string) decimal.Decimal {
	return r[field].Number
}

// Time returns a date field, or nil when absent or null.
func (r Record) Time(field string) *time.Time {
	return r[field].Time
}
