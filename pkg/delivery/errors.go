package delivery

import "fmt"

// TransientError marks a delivery failure worth retrying: network faults and
// server-side (5xx) responses.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient delivery failure (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError marks a delivery failure that must not be retried: request
// validation (4xx) responses, or a retry budget exhausted on transient faults.
type TerminalError struct {
	StatusCode int
	Code       string
	Err        error
}

func (e *TerminalError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("delivery rejected (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }
