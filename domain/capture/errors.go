package capture

import (
	"context"
	"errors"
	"fmt"
)

// Common errors for capture operations.
var (
	ErrInvalidScale      = errors.New("invalid scale factor")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrMissingURL        = errors.New("url is required")
	ErrCancelled         = errors.New("capture cancelled")
	ErrRecordNotFound    = errors.New("capture record not found")
	ErrArtifactNotFound  = errors.New("capture artifact not found")
)

// ValidationError reports a single invalid parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// OperationError wraps any failure of a capture so the host sees one message
// shape regardless of which step failed.
type OperationError struct {
	Mode Mode
	Err  error
}

// NewOperationError wraps err for the given mode. An existing OperationError
// is returned unchanged.
func NewOperationError(mode Mode, err error) *OperationError {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr
	}
	return &OperationError{Mode: mode, Err: err}
}

func (e *OperationError) Error() string {
	return "Operation failed: " + e.Err.Error()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Description returns the human readable context shown next to the message.
func (e *OperationError) Description() string {
	return fmt.Sprintf("Error occurred while %s website", e.Mode.Verb())
}

// IsCancellation reports whether err stems from a cancelled capture.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
