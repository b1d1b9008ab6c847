package manifest

import "fmt"

// FormatError is returned when a manifest or a migration status listing
// cannot be parsed.
type FormatError struct {
	// Line is the 1-based line of a migration listing the error refers
	// to, or zero.
	Line int
	Err  error
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("manifest format error at line %d: %v", e.Line, e.Err)
	}
	return "manifest format error: " + e.Err.Error()
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatErrorf(line int, format string, args ...interface{}) error {
	return &FormatError{Line: line, Err: fmt.Errorf(format, args...)}
}
