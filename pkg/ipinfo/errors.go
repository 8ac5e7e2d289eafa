package ipinfo

import (
	"errors"
	"fmt"
)

// Whole-batch failures. A call returning one of these produced no results.
var (
	// ErrTransport means the remote call could not be completed (network, TLS, timeout).
	ErrTransport = errors.New("ipinfo: transport error")
	// ErrAuth means the remote service rejected the credentials.
	ErrAuth = errors.New("ipinfo: authorization rejected")
	// ErrRateLimited means the request quota is exhausted.
	ErrRateLimited = errors.New("ipinfo: rate limit exceeded")
	// ErrRequest means the remote service refused or garbled the whole request.
	ErrRequest = errors.New("ipinfo: request failed")
)

// ErrPerIP is matched by every per-IP failure embedded in a Result.
var ErrPerIP = errors.New("ipinfo: lookup failed for ip")

const reasonNoData = "no data returned"

var errEmptyInput = errors.New("ipinfo: no ips given")

// RequestError carries the HTTP status and message of a failed remote call.
type RequestError struct {
	Kind       error
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (status %d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%v (status %d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Kind }

// IPError is a failure scoped to a single IP inside an otherwise successful batch.
type IPError struct {
	IP     string
	Reason string
}

func (e *IPError) Error() string {
	return fmt.Sprintf("ipinfo: %s: %s", e.IP, e.Reason)
}

func (e *IPError) Is(target error) bool { return target == ErrPerIP }

// retryable reports whether a whole-batch failure may succeed on a second attempt.
func retryable(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	var re *RequestError
	return errors.As(err, &re) && re.StatusCode >= 500
}
