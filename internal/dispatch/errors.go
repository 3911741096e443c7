package dispatch

import (
	"errors"
	"fmt"
)

// ErrNoTransport is returned when a channel has no registered transport.
var ErrNoTransport = errors.New("no transport registered for channel")

// PermanentError marks a delivery failure that retrying cannot fix, such as an
// invalid address or a recipient who opted out.
type PermanentError struct {
	Code string
	Err  error
}

func (e *PermanentError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("permanent delivery failure: %v", e.Err)
	}
	return fmt.Sprintf("permanent delivery failure (%s): %v", e.Code, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(code string, err error) error {
	return &PermanentError{Code: code, Err: err}
}

// ProviderError carries a provider error code on a retryable failure.
type ProviderError struct {
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %s: %v", e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// ErrorCode extracts the provider code from err, if any.
func ErrorCode(err error) string {
	var p *PermanentError
	if errors.As(err, &p) {
		return p.Code
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
