// Package result holds the structured outcome every client operation returns.
// Callers branch on the outcome instead of handling errors thrown across the
// client boundary.
package result

// Status classifies an outcome.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusCancelled
	StatusQueued
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusQueued:
		return "queued"
	default:
		return "unknown"
	}
}

// Result is the outcome of one logical operation. Exactly one of the
// constructors below produces each value; the zero value is a failure with no
// error and should not be used.
type Result[T any] struct {
	status    Status
	data      T
	err       error
	message   string
	fromCache bool
}

// NewSuccess creates a successful result carrying data and an optional
// server-supplied message.
func NewSuccess[T any](data T, message string) Result[T] {
	return Result[T]{status: StatusSuccess, data: data, message: message}
}

// NewFailed creates a failed result. The error's text becomes the message.
func NewFailed[T any](err error) Result[T] {
	r := Result[T]{status: StatusFailed, err: err}
	if err != nil {
		r.message = err.Error()
	}
	return r
}

// NewCancelled creates the outcome of an operation abandoned by its caller.
// It is not a failure.
func NewCancelled[T any]() Result[T] {
	return Result[T]{status: StatusCancelled, message: "request cancelled"}
}

// NewQueued creates the outcome of a mutation refused because the client is
// known to be offline. It reports as failed so callers do not treat the
// mutation as applied.
func NewQueued[T any](err error) Result[T] {
	r := NewFailed[T](err)
	r.status = StatusQueued
	return r
}

// Status returns the outcome classification.
func (r Result[T]) Status() Status {
	return r.status
}

// Failed returns the error when the operation failed or was queued.
// Cancelled and successful results report false.
func (r Result[T]) Failed() (error, bool) {
	if r.status == StatusFailed || r.status == StatusQueued {
		return r.err, true
	}
	return nil, false
}

// Data returns the payload and true only for successful results.
func (r Result[T]) Data() (T, bool) {
	if r.status != StatusSuccess {
		var zero T
		return zero, false
	}
	return r.data, true
}

func (r Result[T]) Succeeded() bool { return r.status == StatusSuccess }

func (r Result[T]) Cancelled() bool { return r.status == StatusCancelled }

func (r Result[T]) Queued() bool { return r.status == StatusQueued }

// FromCache reports whether the payload was served from the response cache
// without a network round trip.
func (r Result[T]) FromCache() bool { return r.fromCache }

func (r Result[T]) Message() string { return r.message }

// Err returns the failure error, or nil.
func (r Result[T]) Err() error { return r.err }

// WithCache returns a copy tagged as served from cache.
func (r Result[T]) WithCache() Result[T] {
	r.fromCache = true
	return r
}

// Map converts a successful payload with fn. Failure, cancellation and queued
// outcomes are carried across unchanged; an error from fn turns a success into
// a failure.
func Map[T, U any](r Result[T], fn func(T) (U, error)) Result[U] {
	out := Result[U]{
		status:    r.status,
		err:       r.err,
		message:   r.message,
		fromCache: r.fromCache,
	}
	if r.status != StatusSuccess {
		return out
	}

	data, err := fn(r.data)
	if err != nil {
		failed := NewFailed[U](err)
		failed.fromCache = r.fromCache
		return failed
	}
	out.data = data
	return out
}
