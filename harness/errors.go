package harness

import (
	"errors"
	"fmt"
)

// Category classifies harness failures.
type Category string

const (
	// CategoryConfig marks an invalid run configuration.
	CategoryConfig Category = "CONFIG"
	// CategoryMisuse marks a workload calling the harness incorrectly.
	CategoryMisuse Category = "MISUSE"
	// CategoryResource marks a failure to acquire, measure or release
	// run resources.
	CategoryResource Category = "RESOURCE"
)

// Error codes for each category.
const (
	// Config codes
	CodeUnknownBackend = "UNKNOWN_BACKEND"

	// Misuse codes
	CodeDuplicateSection = "DUPLICATE_SECTION"
	CodeUnknownSection   = "UNKNOWN_SECTION"
	CodeSectionClosed    = "SECTION_CLOSED"
	CodeDuplicateLabel   = "DUPLICATE_LABEL"
	CodeRunFinished      = "RUN_FINISHED"

	// Resource codes
	CodeTempDir   = "TEMP_DIR"
	CodeBackend   = "BACKEND"
	CodeDiskUsage = "DISK_USAGE"
	CodeTeardown  = "TEARDOWN"
)

// Sentinels for errors.Is. Matching compares category and code only.
var (
	ErrUnknownBackend   = &Error{Category: CategoryConfig, Code: CodeUnknownBackend}
	ErrDuplicateSection = &Error{Category: CategoryMisuse, Code: CodeDuplicateSection}
	ErrUnknownSection   = &Error{Category: CategoryMisuse, Code: CodeUnknownSection}
	ErrSectionClosed    = &Error{Category: CategoryMisuse, Code: CodeSectionClosed}
	ErrDuplicateLabel   = &Error{Category: CategoryMisuse, Code: CodeDuplicateLabel}
	ErrRunFinished      = &Error{Category: CategoryMisuse, Code: CodeRunFinished}
	ErrDiskUsage        = &Error{Category: CategoryResource, Code: CodeDiskUsage}
	ErrTeardown         = &Error{Category: CategoryResource, Code: CodeTeardown}
)

// Error is the structured error returned by the harness.
type Error struct {
	Category Category
	Code     string
	Message  string
	Cause    error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "harness error"
	}

	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, msg, e.Cause)
	}

	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}

	return false
}

// CategoryOf extracts the category from an error chain, or "" if the chain
// holds no harness error.
func CategoryOf(err error) Category {
	var he *Error
	if errors.As(err, &he) {
		return he.Category
	}

	return ""
}

// IsMisuse reports whether err signals a workload calling the harness
// incorrectly.
func IsMisuse(err error) bool {
	return CategoryOf(err) == CategoryMisuse
}

func misuse(code, format string, args ...any) *Error {
	return &Error{
		Category: CategoryMisuse,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	}
}

func resource(code, message string, cause error) *Error {
	return &Error{
		Category: CategoryResource,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}
