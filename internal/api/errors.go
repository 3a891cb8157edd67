package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is returned when the server rejects the session and a
	// refresh either is not possible or did not help. Stored tokens have been
	// cleared.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrOffline is returned for mutations refused while the client is
	// offline.
	ErrOffline = errors.New("offline")
)

// StatusError is a non-retryable HTTP failure: a 4xx other than 401, 408 or
// 429.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("request failed: status %d: %s", e.StatusCode, e.Message)
}

// TransientError is a failure worth retrying: a transport error, 5xx, 408 or
// 429. When returned from Do, the retry budget has been exhausted.
type TransientError struct {
	// StatusCode is zero for transport errors.
	StatusCode int
	Message    string
	Attempts   int
	Err        error
}

func (e *TransientError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("transient failure after %d attempts: %v", e.Attempts, e.Err)
	case e.Message != "":
		return fmt.Sprintf("transient failure after %d attempts: status %d: %s", e.Attempts, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("transient failure after %d attempts: status %d", e.Attempts, e.StatusCode)
	}
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// retryableStatus reports whether a response status is worth another attempt.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
