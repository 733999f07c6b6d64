package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunchFailure: the service could not be started.
	ErrLaunchFailure = errors.New("service launch failure")
	// ErrCaptureFailure: the service's output could not be read to completion.
	ErrCaptureFailure = errors.New("service capture failure")
	// ErrResultFormatFailure: the captured output is empty or not an envelope.
	ErrResultFormatFailure = errors.New("service result format failure")
)

// LaunchError wraps the exec error for a service that never ran.
type LaunchError struct {
	Entrypoint string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Entrypoint, e.Err)
}

func (e *LaunchError) Unwrap() []error { return []error{ErrLaunchFailure, e.Err} }

// CaptureError is returned when the service ran but its output stream was
// cut short, including termination on timeout.
type CaptureError struct {
	Entrypoint string
	Stderr     string
	Err        error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Entrypoint, e.Err)
}

func (e *CaptureError) Unwrap() []error { return []error{ErrCaptureFailure, e.Err} }

// ResultFormatError carries the raw stdout that failed to decode.
type ResultFormatError struct {
	Entrypoint string
	Stdout     string
	Stderr     string
	Err        error
}

func (e *ResultFormatError) Error() string {
	return fmt.Sprintf("decode result of %s: %v", e.Entrypoint, e.Err)
}

func (e *ResultFormatError) Unwrap() []error { return []error{ErrResultFormatFailure, e.Err} }
