package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateName = errors.New("an image with this name already exists in your account")
	ErrNotFound      = errors.New("image not found or access denied")
	ErrAuthRequired  = errors.New("user not authenticated")
	ErrNegativeCount = errors.New("vulnerability counts must be non-negative")
	ErrInvalidName   = errors.New("image name is required")
	ErrInvalidURL    = errors.New("invalid registry url")
	ErrBatchFailed   = errors.New("batch operation failed")
)

// TransportError reports that the store or change stream could not be reached.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// TriggerInvokeError is the best-effort trigger failure. It never reaches the
// caller of a scan request; it is only logged and counted.
type TriggerInvokeError struct {
	Trigger string
	Err     error
}

func (e *TriggerInvokeError) Error() string {
	return fmt.Sprintf("invoke trigger %s: %v", e.Trigger, e.Err)
}
func (e *TriggerInvokeError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
