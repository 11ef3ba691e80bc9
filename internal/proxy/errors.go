package proxy

import (
	"errors"
	"fmt"
)

// ErrForwardFailed matches every *ForwardError via errors.Is.
var ErrForwardFailed = errors.New("forwarding to origin failed")

// ForwardError reports that the origin could not be reached or returned a
// response that could not be read.
type ForwardError struct {
	Method string
	URL    string
	Err    error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forwarding %s %s failed: %v", e.Method, e.URL, e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}

// Is lets callers test for ErrForwardFailed without a type assertion.
func (e *ForwardError) Is(target error) bool {
	return target == ErrForwardFailed
}
