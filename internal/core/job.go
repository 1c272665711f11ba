package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/google/uuid"
)

// DefaultBatchSize is the number of buffered records that triggers a flush.
const DefaultBatchSize = 1000

// CorrelationMode selects how inserted rows are matched back to the records
// that produced them.
type CorrelationMode string

const (
	// CorrelationAuto uses returned identifiers when the store provides them
	// and the baseline range otherwise.
	CorrelationAuto CorrelationMode = "auto"

	// CorrelationReturning zips the identifiers returned by the bulk insert.
	// Requires a store that returns them.
	CorrelationReturning CorrelationMode = "returning"

	// CorrelationBaseline always reads MAX(id) before the insert and zips
	// the rows above it positionally. Best-effort under concurrent writers.
	CorrelationBaseline CorrelationMode = "baseline"

	// CorrelationPerRow inserts one record per statement and uses the exact
	// identifier of each.
	CorrelationPerRow CorrelationMode = "per_row"
)

// ParseCorrelationMode converts a configured mode name. Blank input yields
// CorrelationAuto.
func ParseCorrelationMode(s string) (CorrelationMode, error) {
	switch m := CorrelationMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return CorrelationAuto, nil
	case CorrelationAuto, CorrelationReturning, CorrelationBaseline, CorrelationPerRow:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported correlation mode %q (allowed: auto, returning, baseline, per_row)", s)
	}
}

// ImportJob describes one pipeline run. It is not modified once Run starts.
type ImportJob struct {
	RunID      string
	SourcePath string
	Actor      inventory.Actor
	BatchSize  int

	// ColumnMapping maps CSV header names to item attributes. Headers
	// without an entry fall back to their snake_case form.
	ColumnMapping map[string]string

	// Transformers maps an attribute to the name of a registered transformer.
	Transformers map[string]string

	UpdateExisting   bool
	UniqueKey        inventory.UniqueKey
	StrictTransforms bool
	Correlation      CorrelationMode
}

// withDefaults returns a copy with zero values replaced by defaults.
func (j ImportJob) withDefaults() ImportJob {
	if j.RunID == "" {
		j.RunID = uuid.NewString()
	}
	if j.BatchSize <= 0 {
		j.BatchSize = DefaultBatchSize
	}
	if j.UniqueKey == 0 {
		j.UniqueKey = inventory.DefaultUniqueKey
	}
	if j.Correlation == "" {
		j.Correlation = CorrelationAuto
	}
	return j
}

// Validate reports every configuration problem in the job.
func (j ImportJob) Validate() error {
	var errs []string

	if strings.TrimSpace(j.SourcePath) == "" {
		errs = append(errs, "source path is required")
	}
	if strings.TrimSpace(j.Actor.RequesterID) == "" {
		errs = append(errs, "requester id is required")
	}
	if j.BatchSize < 0 {
		errs = append(errs, fmt.Sprintf("batch size must be positive, got %d", j.BatchSize))
	}
	if j.UniqueKey != 0 && !j.UniqueKey.Valid() {
		errs = append(errs, fmt.Sprintf("unsupported unique key %d", j.UniqueKey))
	}
	if j.Correlation != "" {
		if _, err := ParseCorrelationMode(string(j.Correlation)); err != nil {
			errs = append(errs, err.Error())
		}
	}

	attrs := make([]string, 0, len(j.Transformers))
	for attr := range j.Transformers {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		if _, ok := LookupTransformer(j.Transformers[attr]); !ok {
			errs = append(errs, fmt.Sprintf("unknown transformer %q for %s (known: %s)",
				j.Transformers[attr], attr, strings.Join(TransformerNames(), ", ")))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidJob, strings.Join(errs, "; "))
	}
	return nil
}
