package directory

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy for platform calls.
type ErrorCategory string

const (
	// ErrorTimeout indicates the platform took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the platform returned a body we could not decode
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates the API key was rejected
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorOutage indicates the platform is unavailable
	ErrorOutage ErrorCategory = "outage"

	// ErrorNotFound indicates the account or resource does not exist
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorConflict indicates the account is already in the requested state (409)
	ErrorConflict ErrorCategory = "conflict"

	// ErrorRateLimited indicates too many requests
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorRejected covers other 4xx responses, including 422 validation failures
	ErrorRejected ErrorCategory = "rejected"
)

// ErrAlreadyInState matches errors for enroll/unenroll calls that found the account
// already in the requested state.
var ErrAlreadyInState = errors.New("already in requested state")

// Error wraps a failed platform call.
type Error struct {
	Op         string
	Category   ErrorCategory
	StatusCode int
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s failed (%d): %s", e.Op, e.StatusCode, e.Message)
	case e.Underlying != nil:
		return fmt.Sprintf("%s failed [%s]: %v", e.Op, e.Category, e.Underlying)
	default:
		return fmt.Sprintf("%s failed [%s]: %s", e.Op, e.Category, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is lets errors.Is(err, ErrAlreadyInState) match conflict responses.
func (e *Error) Is(target error) bool {
	return target == ErrAlreadyInState && e.Category == ErrorConflict
}

// CategoryFromStatus maps an HTTP status to the taxonomy.
func CategoryFromStatus(status int) ErrorCategory {
	switch {
	case status == 401 || status == 403:
		return ErrorAuthentication
	case status == 404:
		return ErrorNotFound
	case status == 409:
		return ErrorConflict
	case status == 429:
		return ErrorRateLimited
	case status >= 500:
		return ErrorOutage
	default:
		return ErrorRejected
	}
}

// GetCategory extracts the category from an error, or "" when err is not an *Error.
func GetCategory(err error) ErrorCategory {
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}
