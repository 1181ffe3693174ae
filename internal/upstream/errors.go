package upstream

import (
	"errors"
	"fmt"
)

// Sentinel errors for outcome classification.
var (
	// ErrTimeout marks an upstream call that exceeded the per-request deadline.
	ErrTimeout = errors.New("upstream: request timed out")

	// ErrLowQuality marks a completion deemed degenerate (empty or too short).
	ErrLowQuality = errors.New("upstream: low quality completion")
)

// Error is a non-2xx or transport failure from the upstream API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream: api error %d: %s", e.StatusCode, e.Message)
}

// ValidationError is a malformed request, rejected before routing.
// No metrics are recorded for these.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Msg
}

// IsTimeout reports whether err is a timeout failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsLowQuality reports whether err is a low-quality classification.
func IsLowQuality(err error) bool {
	return errors.Is(err, ErrLowQuality)
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StatusCode maps a classified error to the HTTP status surfaced to callers
// and used as the metrics status label. Successful attempts are 200.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case IsValidation(err):
		return 400
	case IsTimeout(err):
		return 504
	case IsLowQuality(err):
		return 502
	default:
		var ue *Error
		if errors.As(err, &ue) && ue.StatusCode >= 500 {
			return 502
		}
		if errors.As(err, &ue) && ue.StatusCode > 0 {
			return ue.StatusCode
		}
		return 502
	}
}
