package core

import "time"

// InvalidRecord is a rejected row with the reasons it was rejected.
type InvalidRecord struct {
	Line   int               `json:"line"`
	Row    map[string]string `json:"row"`
	Errors []string          `json:"errors"`
}

// ImportResult summarizes a committed run.
type ImportResult struct {
	RunID               string          `json:"run_id"`
	RowsRead            int             `json:"rows_read"`
	ValidCount          int             `json:"valid_count"`
	UpdateCount         int             `json:"update_count"`
	AuditCount          int             `json:"audit_count"`
	CorrelationWarnings int             `json:"correlation_warnings"`
	Correlation         CorrelationMode `json:"correlation"`
	InvalidRecords      []InvalidRecord `json:"invalid_records"`
	Duration            time.Duration   `json:"-"`
	DurationMs          int64           `json:"duration_ms"`
}

// InvalidCount returns the number of rejected rows.
func (r *ImportResult) InvalidCount() int {
	return len(r.InvalidRecords)
}

func (r *ImportResult) payload() map[string]any {
	return map[string]any{
		"rows_read":            r.RowsRead,
		"valid_count":          r.ValidCount,
		"update_count":         r.UpdateCount,
		"invalid_count":        r.InvalidCount(),
		"audit_count":          r.AuditCount,
		"correlation_warnings": r.CorrelationWarnings,
		"correlation":          string(r.Correlation),
		"invalid_records":      r.InvalidRecords,
		"duration_ms":          r.DurationMs,
	}
}
