// Package errors provides the error taxonomy shared by all opcbridge components.
// It defines one typed variant per failure class (validation, structural,
// lifecycle, export, read and write), each carrying the structured context needed
// to locate the failure (field, source file, endpoint, alias) plus the wrapped
// underlying cause. All variants support errors.Is/errors.As chains.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard error variables for common conditions.
var (
	// Lifecycle conditions
	ErrNotCreated     = errors.New("handle not created")
	ErrAlreadyStarted = errors.New("endpoint already started")
	ErrNotConnected   = errors.New("session not connected")
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// Definition conditions
	ErrUnknownAlias    = errors.New("unknown alias")
	ErrUnsupportedType = errors.New("unsupported data type")
	ErrNoDefinitions   = errors.New("no point definitions loaded")
)

// ValidationError reports a bad field value in a single definition row or a
// bad call parameter. Local and recoverable: the caller skips the offending
// row and continues.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation: field %q value %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("validation: field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidation creates a ValidationError for a field/value pair.
func NewValidation(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// StructuralError reports a fatal load problem: missing or unreadable source,
// missing required columns, or a post-load invariant violation. The previously
// committed definition set is preserved by the caller.
type StructuralError struct {
	Source  string   // file path or logical source name
	Missing []string // required columns absent from the header, if any
	Err     error
}

func (e *StructuralError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("structural: source %q missing required columns: %s",
			e.Source, strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("structural: source %q: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("structural: source %q", e.Source)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// LifecycleError reports a create/start/stop/resolve failure. It always
// carries the original underlying cause and is only raised after the
// component has been returned to a defined lifecycle state.
type LifecycleError struct {
	Endpoint string
	Op       string // "create", "start", "stop", "resolve", "connect"
	Err      error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle: %s failed (endpoint=%s): %v", e.Op, e.Endpoint, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// WrapLifecycle wraps a cause into a LifecycleError. Returns nil for a nil cause.
func WrapLifecycle(err error, endpoint, op string) error {
	if err == nil {
		return nil
	}
	return &LifecycleError{Endpoint: endpoint, Op: op, Err: err}
}

// ExportError reports a failed alias-map export. No partial output file is
// assumed valid after one of these.
type ExportError struct {
	Path string
	Err  error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export: %s: %v", e.Path, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// ReadError reports a failed alias read on the client side.
type ReadError struct {
	Alias string
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %q: %v", e.Alias, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports a failed alias write on the client side.
type WriteError struct {
	Alias string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %q: %v", e.Alias, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsValidation checks whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStructural checks whether err is (or wraps) a StructuralError.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// IsLifecycle checks whether err is (or wraps) a LifecycleError.
func IsLifecycle(err error) bool {
	var le *LifecycleError
	return errors.As(err, &le)
}

// IsExport checks whether err is (or wraps) an ExportError.
func IsExport(err error) bool {
	var ee *ExportError
	return errors.As(err, &ee)
}
