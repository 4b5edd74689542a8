package crawler

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Sentinel errors shared across subsystems.
var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps infrastructure faults (dedup or frontier
	// store unreachable). These fail the job rather than a single URL.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrJobNotRunning is returned when work is submitted against a job in
	// a terminal state.
	ErrJobNotRunning = errors.New("job is not running")
)

// ErrorClass categorizes a failed fetch for reporting and retry policy.
type ErrorClass string

// Fetch error classes.
const (
	ErrClassTimeout   ErrorClass = "timeout"
	ErrClassNetwork   ErrorClass = "network"
	ErrClassHTTPRetry ErrorClass = "http_retryable"
	ErrClassHTTPPerm  ErrorClass = "http_permanent"
	ErrClassBadURL    ErrorClass = "bad_url"
)

// ClassifyFetch maps a fetch outcome to an error class and a retry verdict.
// Timeouts, connection errors, 429 and 5xx are retryable; other 4xx and
// malformed URLs are permanent.
func ClassifyFetch(statusCode int, err error) (ErrorClass, bool) {
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return ErrClassTimeout, true
		case errors.As(err, &netErr) && netErr.Timeout():
			return ErrClassTimeout, true
		default:
			return ErrClassNetwork, true
		}
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrClassHTTPRetry, true
	case statusCode >= 500:
		return ErrClassHTTPRetry, true
	case statusCode >= 400:
		return ErrClassHTTPPerm, false
	default:
		return "", false
	}
}
