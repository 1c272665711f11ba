package core

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/JonMunkholm/stockimport/internal/logging"
)

// SourceRow is one CSV record with its header names and 1-based line number.
type SourceRow struct {
	Line    int
	Headers []string
	Fields  []string
}

// Values returns the row as a header to field map for diagnostics.
func (r SourceRow) Values() map[string]string {
	m := make(map[string]string, len(r.Headers))
	for i, h := range r.Headers {
		if i < len(r.Fields) {
			m[h] = r.Fields[i]
		} else {
			m[h] = ""
		}
	}
	return m
}

func (r SourceRow) blank() bool {
	for _, f := range r.Fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

type attrTransformer struct {
	name string
	fn   Transformer
}

// RowMapper converts source rows into item attribute maps.
type RowMapper struct {
	mapping      map[string]string
	transformers map[string]attrTransformer
	strict       bool
}

// NewRowMapper builds a mapper. mapping keys are matched against headers
// case-insensitively; transformers maps attribute names to registered
// transformer names.
func NewRowMapper(mapping, transformers map[string]string, strict bool) (*RowMapper, error) {
	m := &RowMapper{
		mapping:      make(map[string]string, len(mapping)),
		transformers: make(map[string]attrTransformer, len(transformers)),
		strict:       strict,
	}
	for header, attr := range mapping {
		m.mapping[normalizeHeader(header)] = strings.TrimSpace(attr)
	}
	for attr, name := range transformers {
		fn, ok := LookupTransformer(name)
		if !ok {
			return nil, fmt.Errorf("unknown transformer %q for %s", name, attr)
		}
		m.transformers[strings.TrimSpace(attr)] = attrTransformer{name: name, fn: fn}
	}
	return m, nil
}

// Resolve returns the attribute name a header maps to. The result is not
// necessarily a known item attribute.
func (m *RowMapper) Resolve(header string) string {
	if attr, ok := m.mapping[normalizeHeader(header)]; ok {
		return attr
	}
	return SnakeCase(header)
}

// Map converts row into attributes. Unknown attributes are dropped and a
// header without a field maps to an empty value, so a short row fails the
// same required checks as a row with blank fields. A transformer failure keeps the raw value unless the mapper is strict, in
// which case a *MappingError is returned. ErrEmptyMapping is returned when
// a row with data produced no attributes.
func (m *RowMapper) Map(ctx context.Context, row SourceRow) (map[string]string, error) {
	attrs := make(map[string]string, len(row.Headers))

	for i, header := range row.Headers {
		attr := m.Resolve(header)
		if !inventory.IsAttribute(attr) {
			continue
		}
		if _, seen := attrs[attr]; seen {
			continue
		}

		var value string
		if i < len(row.Fields) {
			value = row.Fields[i]
		}
		if t, ok := m.transformers[attr]; ok {
			out, err := t.fn(value)
			if err != nil {
				if m.strict {
					return nil, &MappingError{Attribute: attr, Transformer: t.name, Err: err}
				}
				logging.FromContext(ctx).Warn("transformer failed, keeping raw value",
					"line", row.Line,
					"attribute", attr,
					"transformer", t.name,
					"error", err,
				)
			} else {
				value = out
			}
		}
		attrs[attr] = value
	}

	if len(attrs) == 0 && !row.blank() {
		return nil, ErrEmptyMapping
	}
	return attrs, nil
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// SnakeCase converts a header such as "Unit Price" or "unitPrice" to
// "unit_price".
func SnakeCase(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s) + 4)

	runes := []rune(s)
	pendingSep := false
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && i > 0 && b.Len() > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					pendingSep = true
				}
			}
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}
	return b.String()
}
