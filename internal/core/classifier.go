package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/stockimport/internal/inventory"
)

// Bucket is the classification outcome for one row.
type Bucket int

const (
	BucketInsertable Bucket = iota + 1
	BucketUpdatable
	BucketInvalid
)

func (b Bucket) String() string {
	switch b {
	case BucketInsertable:
		return "insertable"
	case BucketUpdatable:
		return "updatable"
	case BucketInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// CandidateRecord is a classified row. Previous holds a snapshot of the
// persisted item an updatable record overwrites; Errors is set for invalid
// records.
type CandidateRecord struct {
	Bucket   Bucket
	Item     *inventory.Item
	Previous *inventory.Item
	Row      SourceRow
	Errors   []string
}

// InsertedRecord pairs a persisted identifier with the candidate it came from.
type InsertedRecord struct {
	ID        int64
	Candidate *CandidateRecord
}

// RecordClassifier validates mapped rows and sorts them into buckets.
type RecordClassifier struct {
	updateExisting bool
	key            inventory.UniqueKey
}

// NewRecordClassifier returns a classifier. key must be valid when
// updateExisting is set.
func NewRecordClassifier(updateExisting bool, key inventory.UniqueKey) *RecordClassifier {
	return &RecordClassifier{updateExisting: updateExisting, key: key}
}

// KeyValue returns the unique-key value carried by attrs, or "" when update
// mode is off or the row has none.
func (c *RecordClassifier) KeyValue(attrs map[string]string) string {
	if !c.updateExisting {
		return ""
	}
	return strings.TrimSpace(attrs[c.key.Attribute()])
}

// Classify places one row into a bucket. mapErr is the error returned by the
// mapper for this row, if any. Only lookup failures are returned as errors;
// every row-level problem yields an invalid record.
func (c *RecordClassifier) Classify(ctx context.Context, tx inventory.Tx, attrs map[string]string, row SourceRow, mapErr error) (CandidateRecord, error) {
	if mapErr != nil {
		return invalid(row, nil, mapErr.Error()), nil
	}

	if value := c.KeyValue(attrs); value != "" {
		existing, err := tx.FindItem(ctx, c.key, value)
		if err != nil {
			return CandidateRecord{}, fmt.Errorf("lookup line %d: %w", row.Line, err)
		}
		if existing != nil {
			previous := *existing
			if msgs := applyAndValidate(existing, attrs); len(msgs) > 0 {
				return invalid(row, existing, msgs...), nil
			}
			return CandidateRecord{Bucket: BucketUpdatable, Item: existing, Previous: &previous, Row: row}, nil
		}
	}

	item := inventory.NewItem()
	if msgs := applyAndValidate(item, attrs); len(msgs) > 0 {
		return invalid(row, item, msgs...), nil
	}
	return CandidateRecord{Bucket: BucketInsertable, Item: item, Row: row}, nil
}

// applyAndValidate assigns attrs and returns every construction and
// validation message, without duplicates.
func applyAndValidate(item *inventory.Item, attrs map[string]string) []string {
	var msgs []string

	if err := item.Apply(attrs); err != nil {
		var attrErrs inventory.AttributeErrors
		if errors.As(err, &attrErrs) {
			for _, e := range attrErrs {
				msgs = append(msgs, e.Error())
			}
		} else {
			msgs = append(msgs, err.Error())
		}
	}
	msgs = append(msgs, item.Validate()...)

	return dedupe(msgs)
}

func invalid(row SourceRow, item *inventory.Item, msgs ...string) CandidateRecord {
	return CandidateRecord{Bucket: BucketInvalid, Item: item, Row: row, Errors: msgs}
}

func dedupe(msgs []string) []string {
	if len(msgs) < 2 {
		return msgs
	}
	seen := make(map[string]struct{}, len(msgs))
	out := msgs[:0]
	for _, m := range msgs {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
