package core

// error_messages.go maps technical errors to user-facing messages with codes
// support staff can look up.
//
// # Security Errors (SEC001-SEC099)
//
// Raised before any row is read; nothing was written.
//
//	SEC001 - File not found: The import file does not exist
//	         Action: Check the file path and upload the file again
//	SEC002 - File too large: File exceeds the maximum size limit
//	         Action: Split the file into smaller chunks
//	SEC003 - Wrong file type: Only .csv files can be imported
//	         Action: Export the sheet as CSV (comma-separated)
//	SEC004 - Invalid CSV: The file could not be parsed as CSV
//	         Action: Ensure the file is comma-separated with a header row
//	SEC005 - Missing headers: Required columns are missing
//	         Action: Add the missing columns or map them to existing headers
//	SEC006 - Path not allowed: The file is outside the import directories
//	         Action: Place the file in a configured import directory
//
// # Row Errors (ROW001-ROW099)
//
// Reported per row in invalid_records; never abort a run.
//
//	ROW001 - Mapping error: No column of the row maps to an item attribute
//	ROW002 - Transform failed: A value transformer rejected the cell
//	ROW003 - Invalid number: A quantity or price is not a number
//	ROW004 - Invalid status: Status is not active, inactive or discontinued
//
// # Database Errors (DB001-DB099)
//
// The run's transaction was rolled back.
//
//	DB001 - Duplicate key: A record with this SKU already exists
//	DB002 - Constraint: A value violates a database rule
//	DB003 - Foreign key: Referenced record does not exist
//	DB004 - Connection refused: Unable to connect to database
//	DB005 - Connection reset: Database connection was interrupted
//	DB006 - Timeout: Operation timed out
//	DB007 - Deadlock: Database was busy with conflicting operations
//	DB008 - Batch failed: A batch could not be written
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import cancelled: The run was cancelled
//	IMP002 - System busy: Too many imports in progress
//	IMP003 - Run not found: The run id is unknown or expired
//	IMP004 - Invalid job: The import options are not valid
//	IMP005 - Request timeout: The run exceeded its time limit
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// Typed errors are matched first; everything else is matched by
// case-insensitive substring, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var securityMessages = map[SecurityReason]UserMessage{
	ReasonNotFound: {
		Message: "The import file does not exist",
		Action:  "Check the file path and upload the file again",
		Code:    "SEC001",
	},
	ReasonTooLarge: {
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file into smaller chunks",
		Code:    "SEC002",
	},
	ReasonBadExtension: {
		Message: "Only .csv files can be imported",
		Action:  "Export the sheet as CSV (comma-separated)",
		Code:    "SEC003",
	},
	ReasonInvalidCSV: csvMessage,
	ReasonMissingHeaders: {
		Message: "Required columns are missing",
		Action:  "Add the missing columns or map them to existing headers",
		Code:    "SEC005",
	},
	ReasonPathNotAllowed: {
		Message: "The file is outside the import directories",
		Action:  "Place the file in a configured import directory",
		Code:    "SEC006",
	},
}

var csvMessage = UserMessage{
	Message: "The file could not be parsed as CSV",
	Action:  "Ensure the file is comma-separated with a header row",
	Code:    "SEC004",
}

var errorPatterns = []errorPattern{
	{pattern: "invalid csv", msg: csvMessage},

	// =========================================================================
	// Row errors
	// =========================================================================
	{
		pattern: "produced no known attributes",
		msg: UserMessage{
			Message: "No column of the row maps to an item attribute",
			Action:  "Check the column mapping for this file",
			Code:    "ROW001",
		},
	},
	{
		pattern: "transformer failed",
		msg: UserMessage{
			Message: "A value transformer rejected the cell",
			Action:  "Fix the value or disable strict transforms",
			Code:    "ROW002",
		},
	},
	{
		pattern: "is not a number",
		msg: UserMessage{
			Message: "A quantity or price is not a number",
			Action:  "Remove currency symbols and use standard decimal format",
			Code:    "ROW003",
		},
	},
	{
		pattern: "is not a whole number",
		msg: UserMessage{
			Message: "A quantity or price is not a number",
			Action:  "Use whole numbers for quantity",
			Code:    "ROW003",
		},
	},
	{
		pattern: "is not a valid status",
		msg: UserMessage{
			Message: "Status is not active, inactive or discontinued",
			Action:  "Use one of the allowed status values",
			Code:    "ROW004",
		},
	},

	// =========================================================================
	// Database constraint errors
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this SKU already exists",
			Action:  "Remove duplicates or re-run with update mode",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A record with this SKU already exists",
			Action:  "Remove duplicates or re-run with update mode",
			Code:    "DB001",
		},
	},
	{
		pattern: "check constraint",
		msg: UserMessage{
			Message: "A value violates a database rule",
			Action:  "Review quantities, prices and statuses in your CSV",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Please try again or contact support",
			Code:    "DB003",
		},
	},

	// =========================================================================
	// Database connection errors
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Import errors
	// =========================================================================
	{
		pattern: "import cancelled",
		msg: UserMessage{
			Message: "The import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "IMP001",
		},
	},
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import run not found",
		msg: UserMessage{
			Message: "Import run not found",
			Action:  "The run may have expired. Check the result or start a new import",
			Code:    "IMP003",
		},
	},
	{
		pattern: "invalid import job",
		msg: UserMessage{
			Message: "The import options are not valid",
			Action:  "Check the mapping, transformers and unique key",
			Code:    "IMP004",
		},
	},
	{pattern: "context deadline exceeded", msg: timeoutMessage},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "IMP001",
		},
	},
}

// timeoutMessage wins over every pattern: a run stopped by its deadline
// reports IMP005 however the error was wrapped.
var timeoutMessage = UserMessage{
	Message: "The import exceeded its time limit",
	Action:  "Try a smaller file or try again later",
	Code:    "IMP005",
}

var batchFailedMessage = UserMessage{
	Message: "A batch could not be written; no changes were saved",
	Action:  "Fix the reported problem and run the import again",
	Code:    "DB008",
}

// defaultMessage is returned when nothing matches (ERR000). Check the logs
// for the technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(&SecurityError{Reason: ReasonTooLarge})
//	// msg.Code == "SEC002"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutMessage
	}

	var se *SecurityError
	if errors.As(err, &se) {
		if msg, ok := securityMessages[se.Reason]; ok {
			return msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if IsBatchWriteError(err) {
		return batchFailedMessage
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something other than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
