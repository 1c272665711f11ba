package inventory

import (
	"fmt"
	"strings"
)

// UniqueKey names the attribute used to find an existing item when an
// import runs in update mode. Only the keys declared here can be used, and
// each store maps them to a fixed query.
type UniqueKey int

const (
	KeySKU UniqueKey = iota + 1
	KeyName
)

// DefaultUniqueKey is used when a job does not name a key.
const DefaultUniqueKey = KeySKU

// ParseUniqueKey converts a configured key name to a UniqueKey. Blank input
// yields DefaultUniqueKey; unknown names are rejected.
func ParseUniqueKey(s string) (UniqueKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultUniqueKey, nil
	case "sku":
		return KeySKU, nil
	case "name":
		return KeyName, nil
	default:
		return 0, fmt.Errorf("unsupported unique key %q (allowed: sku, name)", s)
	}
}

// Attribute returns the attribute the key reads from a mapped row.
func (k UniqueKey) Attribute() string {
	switch k {
	case KeyName:
		return AttrName
	default:
		return AttrSKU
	}
}

// ValueOf returns the key value held by item.
func (k UniqueKey) ValueOf(item *Item) string {
	switch k {
	case KeyName:
		return item.Name
	default:
		return item.SKU
	}
}

func (k UniqueKey) String() string {
	return k.Attribute()
}

// Valid reports whether k is one of the declared keys.
func (k UniqueKey) Valid() bool {
	return k == KeySKU || k == KeyName
}
