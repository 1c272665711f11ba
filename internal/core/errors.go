package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyMapping marks a row whose non-blank fields all mapped to unknown
// attributes.
var ErrEmptyMapping = errors.New("mapping error: row produced no known attributes")

// ErrRunNotFound is returned when a run id is not (or no longer) tracked.
var ErrRunNotFound = errors.New("import run not found")

// ErrInvalidJob wraps every job configuration problem.
var ErrInvalidJob = errors.New("invalid import job")

// ErrInvalidCSV wraps CSV syntax errors found while reading rows.
var ErrInvalidCSV = errors.New("invalid csv")

// SecurityReason classifies a SecurityError.
type SecurityReason string

const (
	ReasonNotFound       SecurityReason = "not_found"
	ReasonTooLarge       SecurityReason = "file_too_large"
	ReasonBadExtension   SecurityReason = "bad_extension"
	ReasonInvalidCSV     SecurityReason = "invalid_csv"
	ReasonMissingHeaders SecurityReason = "missing_headers"
	ReasonPathNotAllowed SecurityReason = "path_not_allowed"
)

// SecurityError is returned when a file fails the pre-import checks. No row
// has been read and nothing has been written when it is returned.
type SecurityError struct {
	Reason  SecurityReason
	Path    string
	Detail  string
	Missing []string // set for ReasonMissingHeaders
}

func (e *SecurityError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("security validation failed: %s: missing required headers: %s", e.Detail, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("security validation failed: %s", e.Detail)
}

// IsSecurityError reports whether err carries a SecurityError.
func IsSecurityError(err error) bool {
	var se *SecurityError
	return errors.As(err, &se)
}

// MappingError reports a transformer failure on one row when strict
// transforms are enabled.
type MappingError struct {
	Attribute   string
	Transformer string
	Err         error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping error: %s transformer failed on %s: %v", e.Transformer, e.Attribute, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// BatchWriteError wraps any failure inside the run's transaction: a bulk
// insert, an update save, an audit insert or the commit. The whole run has
// been rolled back when it is returned.
type BatchWriteError struct {
	RunID string
	Op    string
	Err   error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("batch write failed (%s): %v", e.Op, e.Err)
}

func (e *BatchWriteError) Unwrap() error {
	return e.Err
}

// IsBatchWriteError reports whether err carries a BatchWriteError.
func IsBatchWriteError(err error) bool {
	var be *BatchWriteError
	return errors.As(err, &be)
}
