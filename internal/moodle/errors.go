package moodle

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is returned when a request is rejected locally before
// any remote call is made.
var ErrInvalidParameter = errors.New("invalid parameter")

// TransportError reports a network-level failure talking to Moodle. These
// are potentially transient.
type TransportError struct {
	Function string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Function, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable is always true for transport failures.
func (e *TransportError) Retryable() bool { return true }

// ProtocolError reports a response that could not be understood: a non-2xx
// status, a body that is not JSON, or JSON of an unexpected shape.
type ProtocolError struct {
	Function   string
	StatusCode int
	Reason     string
	Err        error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: protocol error: %s", e.Function, e.Reason)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Retryable is always false for protocol errors.
func (e *ProtocolError) Retryable() bool { return false }

// RemoteRejection is an application error reported by Moodle itself, such as
// an invalid token or an unknown record. Code and Message are verbatim.
type RemoteRejection struct {
	Function  string
	Exception string
	ErrorCode string
	Message   string
	DebugInfo string
}

func (e *RemoteRejection) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("%s: Moodle error [%s]: %s", e.Function, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("%s: Moodle error: %s", e.Function, e.Message)
}

// Retryable is always false for remote rejections.
func (e *RemoteRejection) Retryable() bool { return false }

// MissingRecord reports whether Moodle rejected the call because the
// referenced record does not exist or the id was not acceptable.
func (e *RemoteRejection) MissingRecord() bool {
	switch e.ErrorCode {
	case "invalidrecord", "invalidrecordunknown", "invalidparameter", "invaliddiscussionid", "invalidforumid":
		return true
	}
	return false
}

func newProtocolError(function, reason string, err error) *ProtocolError {
	return &ProtocolError{Function: function, Reason: reason, Err: err}
}
