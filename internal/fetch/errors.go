package fetch

import (
	"errors"
	"fmt"
)

// Error is a typed endpoint fetch failure. StatusCode is set for non-2xx
// responses and Timeout for expired deadlines.
type Error struct {
	Endpoint   string
	StatusCode int
	Timeout    bool
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return "timeout"
	case e.StatusCode != 0:
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a fetch timeout.
func IsTimeout(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Timeout
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}
