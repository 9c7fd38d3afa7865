package arr

import (
	"errors"
	"fmt"
	"time"
)

// NotConfiguredError indicates the named service has no URL or API key.
// It is a valid, expected branch for optional services, never a 5xx.
type NotConfiguredError struct {
	Service string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("service %s is not configured", e.Service)
}

// TimeoutError indicates the upstream call exceeded its deadline.
type TimeoutError struct {
	Service  string
	Endpoint string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: request to %s timed out after %s", e.Service, e.Endpoint, e.Timeout)
}

// UpstreamStatusError indicates a non-2xx response from the upstream.
// Snippet holds at most 120 characters of the response body.
type UpstreamStatusError struct {
	Service    string
	Endpoint   string
	StatusCode int
	Snippet    string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Service, e.StatusCode, e.Snippet)
}

// NonJSONResponseError indicates a 2xx response whose content type is not
// JSON. Treated as a hard failure; no partial parsing is attempted.
type NonJSONResponseError struct {
	Service     string
	Endpoint    string
	ContentType string
	Snippet     string
}

func (e *NonJSONResponseError) Error() string {
	return fmt.Sprintf("%s: non-JSON response (%s) from %s: %s", e.Service, e.ContentType, e.Endpoint, e.Snippet)
}

// IsNotConfigured reports whether err is a NotConfiguredError.
func IsNotConfigured(err error) bool {
	var nc *NotConfiguredError
	return errors.As(err, &nc)
}

// FailureKind returns a short label for an upstream failure, used in logs
// and metrics.
func FailureKind(err error) string {
	var (
		nc *NotConfiguredError
		to *TimeoutError
		st *UpstreamStatusError
		nj *NonJSONResponseError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &nc):
		return "not_configured"
	case errors.As(err, &to):
		return "timeout"
	case errors.As(err, &st):
		return "status"
	case errors.As(err, &nj):
		return "non_json"
	default:
		return "network"
	}
}
