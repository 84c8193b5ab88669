package relay

import (
	"errors"
	"fmt"
)

// RelayError represents a domain-specific error
type RelayError struct {
	Code    string
	Message string
	Cause   error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RelayError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
	ErrCodeCameraNotFound    = "CAMERA_NOT_FOUND"
	ErrCodeJobNotFound       = "JOB_NOT_FOUND"
	ErrCodeStartTimeout      = "START_TIMEOUT"
	ErrCodeProcessExit       = "PROCESS_EXIT"
	ErrCodeMonitorFailure    = "MONITOR_FAILURE"
	ErrCodeRestartInProgress = "RESTART_IN_PROGRESS"
)

// NewRelayError creates a new relay error
func NewRelayError(code, message string, cause error) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorCode extracts the relay error code, or empty for foreign errors.
func ErrorCode(err error) string {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Code
	}
	return ""
}
