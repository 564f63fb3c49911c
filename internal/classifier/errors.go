package classifier

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a ConnectionError raised without reaching the
// service: open circuit or failed health probe
var ErrUnavailable = errors.New("analysis service unavailable")

// TimeoutError is a connect or read timeout against the service
type TimeoutError struct {
	Endpoint string
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analysis service %s timed out: %v", e.Endpoint, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ConnectionError is a network failure or an HTTP 5xx
type ConnectionError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("analysis service %s unavailable (HTTP %d)", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("analysis service %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AnalysisError is a semantic rejection: HTTP 4xx or a 200 whose body
// does not match the response contract
type AnalysisError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis failed: %s HTTP %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analysis failed: %s HTTP %d - %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is or wraps a TimeoutError
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// IsConnection reports whether err is or wraps a ConnectionError
func IsConnection(err error) bool {
	var c *ConnectionError
	return errors.As(err, &c)
}

// IsAnalysis reports whether err is or wraps an AnalysisError
func IsAnalysis(err error) bool {
	var a *AnalysisError
	return errors.As(err, &a)
}
