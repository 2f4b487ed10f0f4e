package core

// error_messages.go maps technical load errors to operator-facing messages.
//
// # Error Codes Reference
//
// Every Failed LoadResult carries one of these codes, and the API returns
// them, so an operator can quote a code instead of a stack of wrapped errors.
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Duplicate key         Patterns: "duplicate key"
//	DB002 - Unique constraint     Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key           Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection lost       Sentinel: store.ErrConnLost
//	DB005 - Connection refused    Patterns: "connection refused", "connection reset"
//	DB006 - Missing table         Patterns: "does not exist", "no such table"
//	DB007 - Permission denied     Patterns: "permission denied"
//	DB008 - Timeout               Patterns: "timeout"
//	DB009 - Deadlock              Patterns: "deadlock"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Source file not found   Sentinel: source.ErrNotFound
//	FILE002 - No layout for file type Sentinel: ErrUnknownFileType
//	FILE003 - Invalid layout          Sentinel: layout.ErrUnknownType; Patterns: "invalid layout"
//	FILE004 - Corrupt compressed file Patterns: "gzip", "xz reader", "zstd", "bzip2"
//	FILE005 - Unknown encoding        Patterns: "unsupported encoding"
//	FILE006 - Read failure            Patterns: "read line"
//	FILE007 - Source access denied    Patterns: "accessdenied", "access denied"
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run in progress   Sentinel: ErrRunInProgress
//	RUN002 - Run cancelled     Sentinel: context.Canceled
//	RUN003 - Run timed out     Sentinel: context.DeadlineExceeded
//	RUN004 - Run not found     Sentinel: ErrRunNotFound
//	RUN005 - Invalid options   Sentinel: ErrInvalidOptions
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the logs for the original error.
//
// # Matching
//
// Sentinels are checked first with errors.Is, in table order. Patterns are
// then matched case-insensitively with strings.Contains; the first match
// wins, so specific patterns come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/rollload/internal/layout"
	"github.com/JonMunkholm/rollload/internal/source"
	"github.com/JonMunkholm/rollload/internal/store"
)

// UserMessage provides operator-facing error information with guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorSentinel struct {
	target error
	msg    UserMessage
}

// errorSentinels are matched with errors.Is before any pattern.
var errorSentinels = []errorSentinel{
	{
		target: store.ErrConnLost,
		msg: UserMessage{
			Message: "Database connection lost during the load",
			Action:  "Check database availability, then reload this file type with truncation",
			Code:    "DB004",
		},
	},
	{
		target: source.ErrNotFound,
		msg: UserMessage{
			Message: "Source file not found",
			Action:  "Check the data directory or bucket prefix and the catalog file prefix",
			Code:    "FILE001",
		},
	},
	{
		target: ErrUnknownFileType,
		msg: UserMessage{
			Message: "No layout is configured for this file type",
			Action:  "Add the file type to the layout document or remove it from the run",
			Code:    "FILE002",
		},
	},
	{
		target: layout.ErrUnknownType,
		msg: UserMessage{
			Message: "The layout document is invalid",
			Action:  "Fix the layout document and restart",
			Code:    "FILE003",
		},
	},
	{
		target: ErrRunInProgress,
		msg: UserMessage{
			Message: "A load run is already in progress",
			Action:  "Wait for the active run to finish",
			Code:    "RUN001",
		},
	},
	{
		target: context.Canceled,
		msg: UserMessage{
			Message: "The load was cancelled",
			Action:  "Start a new run when ready",
			Code:    "RUN002",
		},
	},
	{
		target: context.DeadlineExceeded,
		msg: UserMessage{
			Message: "The load timed out",
			Action:  "Raise the run timeout or load fewer file types per run",
			Code:    "RUN003",
		},
	},
	{
		target: ErrRunNotFound,
		msg: UserMessage{
			Message: "Run not found",
			Action:  "Only recent runs are kept; list runs to find a current id",
			Code:    "RUN004",
		},
	},
	{
		target: ErrInvalidOptions,
		msg: UserMessage{
			Message: "The load request is invalid",
			Action:  "Check the file types and record cap in the request",
			Code:    "RUN005",
		},
	},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to messages.
var errorPatterns = []errorPattern{
	// Store constraint errors. These normally cost one skipped row; they only
	// fail a file when raised outside the row fallback.
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Reload with truncation enabled or remove the duplicate rows",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A value must be unique but already exists",
			Action:  "Reload with truncation enabled",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Reload with truncation enabled",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Load the parent file types first",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Load the parent file types first",
			Code:    "DB003",
		},
	},

	// Connectivity and schema.
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Check DATABASE_URL and that the server is running",
			Code:    "DB005",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Reload this file type",
			Code:    "DB005",
		},
	},
	{
		pattern: "no such table",
		msg: UserMessage{
			Message: "Destination table does not exist",
			Action:  "Create the schema before loading",
			Code:    "DB006",
		},
	},
	{
		pattern: "does not exist",
		msg: UserMessage{
			Message: "Destination table does not exist",
			Action:  "Create the schema before loading",
			Code:    "DB006",
		},
	},
	{
		pattern: "permission denied",
		msg: UserMessage{
			Message: "The database user may not write this table",
			Action:  "Grant INSERT and TRUNCATE on the schema",
			Code:    "DB007",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Reload this file type",
			Code:    "DB008",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Lower load parallelism and reload",
			Code:    "DB009",
		},
	},

	// Source files.
	{
		pattern: "invalid layout",
		msg: UserMessage{
			Message: "The layout document is invalid",
			Action:  "Fix the layout document and restart",
			Code:    "FILE003",
		},
	},
	{
		pattern: "gzip",
		msg: UserMessage{
			Message: "Compressed source file is corrupt",
			Action:  "Download the export again",
			Code:    "FILE004",
		},
	},
	{
		pattern: "xz reader",
		msg: UserMessage{
			Message: "Compressed source file is corrupt",
			Action:  "Download the export again",
			Code:    "FILE004",
		},
	},
	{
		pattern: "zstd",
		msg: UserMessage{
			Message: "Compressed source file is corrupt",
			Action:  "Download the export again",
			Code:    "FILE004",
		},
	},
	{
		pattern: "bzip2",
		msg: UserMessage{
			Message: "Compressed source file is corrupt",
			Action:  "Download the export again",
			Code:    "FILE004",
		},
	},
	{
		pattern: "unsupported encoding",
		msg: UserMessage{
			Message: "The configured character encoding is not recognized",
			Action:  "Use an IANA or WHATWG encoding name such as latin-1 or windows-1252",
			Code:    "FILE005",
		},
	},
	{
		pattern: "read line",
		msg: UserMessage{
			Message: "The source file could not be read to the end",
			Action:  "Check the file is complete and reload",
			Code:    "FILE006",
		},
	},
	{
		pattern: "accessdenied",
		msg: UserMessage{
			Message: "Access to the source bucket was denied",
			Action:  "Check the S3 credentials and bucket policy",
			Code:    "FILE007",
		},
	},
	{
		pattern: "access denied",
		msg: UserMessage{
			Message: "Access to the source bucket was denied",
			Action:  "Check the S3 credentials and bucket policy",
			Code:    "FILE007",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for the underlying error",
	Code:    "ERR000",
}

// MapError converts a technical error to an operator-facing message.
//
// Example:
//
//	msg := MapError(fmt.Errorf("open: %w", source.ErrNotFound))
//	// msg.Code == "FILE001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, es := range errorSentinels {
		if errors.Is(err, es.target) {
			return es.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its mapped message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // Message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
