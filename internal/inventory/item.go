// Package inventory holds the inventory domain model and the persistence
// ports the import pipeline writes through.
package inventory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Attribute names accepted on an Item. Anything else produced by column
// mapping is dropped.
const (
	AttrName        = "name"
	AttrSKU         = "sku"
	AttrDescription = "description"
	AttrQuantity    = "quantity"
	AttrPrice       = "price"
	AttrStatus      = "status"
)

// Attributes lists every assignable attribute in column order.
var Attributes = []string{AttrName, AttrSKU, AttrDescription, AttrQuantity, AttrPrice, AttrStatus}

// IsAttribute reports whether name is an assignable Item attribute.
func IsAttribute(name string) bool {
	for _, a := range Attributes {
		if a == name {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of an inventory item.
type Status string

const (
	StatusActive       Status = "active"
	StatusInactive     Status = "inactive"
	StatusDiscontinued Status = "discontinued"
)

// Statuses lists the valid Status values.
var Statuses = []Status{StatusActive, StatusInactive, StatusDiscontinued}

// ArgumentError reports a value that cannot be used to construct an Item,
// such as an unknown enumerated status.
type ArgumentError struct {
	Attribute string
	Value     string
	Reason    string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %q %s", e.Attribute, e.Value, e.Reason)
}

// ParseStatus converts s to a Status. Blank input yields StatusActive.
func ParseStatus(s string) (Status, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StatusActive, nil
	}
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &ArgumentError{Attribute: AttrStatus, Value: s, Reason: "is not a valid status"}
}

// Item is one row of the inventory_items table.
type Item struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name" validate:"required,max=255"`
	SKU         string          `json:"sku" validate:"max=64"`
	Description string          `json:"description" validate:"max=2000"`
	Quantity    int64           `json:"quantity" validate:"gte=0"`
	Price       decimal.Decimal `json:"price" validate:"gte=0"`
	Status      Status          `json:"status" validate:"required,oneof=active inactive discontinued"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewItem returns an Item with default field values.
func NewItem() *Item {
	return &Item{Status: StatusActive}
}

// AttributeErrors collects every attribute that failed to parse during Apply.
type AttributeErrors []error

func (e AttributeErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e AttributeErrors) Unwrap() []error {
	return e
}

// Apply assigns the given attribute values to the item. Values are parsed
// into their typed fields; identity and timestamp fields are never assigned.
// All parse failures are returned together as AttributeErrors.
func (it *Item) Apply(attrs map[string]string) error {
	var errs AttributeErrors

	for name, raw := range attrs {
		value := strings.TrimSpace(raw)
		switch name {
		case AttrName:
			it.Name = value
		case AttrSKU:
			it.SKU = value
		case AttrDescription:
			it.Description = value
		case AttrQuantity:
			if value == "" {
				errs = append(errs, fmt.Errorf("%s is required", AttrQuantity))
				continue
			}
			q, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				errs = append(errs, &ArgumentError{Attribute: AttrQuantity, Value: value, Reason: "is not a whole number"})
				continue
			}
			it.Quantity = q
		case AttrPrice:
			if value == "" {
				errs = append(errs, fmt.Errorf("%s is required", AttrPrice))
				continue
			}
			p, err := decimal.NewFromString(value)
			if err != nil {
				errs = append(errs, &ArgumentError{Attribute: AttrPrice, Value: value, Reason: "is not a number"})
				continue
			}
			it.Price = p
		case AttrStatus:
			st, err := ParseStatus(value)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			it.Status = st
		}
	}

	if len(errs) == 0 {
		return nil
	}
	sortErrors(errs)
	return errs
}

// BeforeSave runs before every individual save of an existing item.
func (it *Item) BeforeSave(now time.Time) {
	it.Name = strings.TrimSpace(it.Name)
	it.SKU = strings.TrimSpace(it.SKU)
	it.UpdatedAt = now
}

// sortErrors orders errors by message so map iteration order never leaks
// into results.
func sortErrors(errs []error) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
}
