package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired reports a failed refresh. Stored tokens have been
	// cleared and the user must log in again.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotAuthenticated reports that no usable session is stored. Requests
	// may still proceed anonymously.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// RejectedError is returned when the auth endpoint answers with a non-2xx
// status.
type RejectedError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s rejected: status %d: %s", e.Operation, e.StatusCode, e.Message)
}
