package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Transformer rewrites one raw cell value before it is assigned to an item.
type Transformer func(string) (string, error)

var transformers = map[string]Transformer{
	"trim":      func(s string) (string, error) { return strings.TrimSpace(s), nil },
	"upcase":    func(s string) (string, error) { return strings.ToUpper(s), nil },
	"downcase":  func(s string) (string, error) { return strings.ToLower(s), nil },
	"titlecase": titleCase,
	"currency":  currency,
	"integer":   integer,
	"status":    status,
}

// LookupTransformer returns the transformer registered under name.
func LookupTransformer(name string) (Transformer, bool) {
	t, ok := transformers[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// TransformerNames lists the registered transformer names in sorted order.
func TransformerNames() []string {
	names := make([]string, 0, len(transformers))
	for name := range transformers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func titleCase(s string) (string, error) {
	return cases.Title(language.Und).String(strings.TrimSpace(s)), nil
}

// currency strips currency symbols and thousands separators and accepts the
// accounting form "(12.50)" for negatives.
func currency(s string) (string, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return "", nil
	}

	negative := false
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		negative = true
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	v = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(v)
	if negative {
		v = "-" + v
	}

	d, err := decimal.NewFromString(v)
	if err != nil {
		return "", fmt.Errorf("invalid number %q", s)
	}
	return d.StringFixed(2), nil
}

// integer accepts "1,200" and "12.0" style whole numbers.
func integer(s string) (string, error) {
	v := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if v == "" {
		return "", nil
	}

	d, err := decimal.NewFromString(v)
	if err != nil {
		return "", fmt.Errorf("invalid number %q", s)
	}
	if !d.IsInteger() {
		return "", fmt.Errorf("invalid number %q: not a whole number", s)
	}
	return d.String(), nil
}

func status(s string) (string, error) {
	st, err := inventory.ParseStatus(s)
	if err != nil {
		return "", err
	}
	return string(st), nil
}
