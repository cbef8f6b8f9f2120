package chatsync

import "errors"

// ErrNotAuthenticated is returned by Send when no principal is signed in.
var ErrNotAuthenticated = errors.New("not authenticated")

// BackendError wraps a failed gateway round trip.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return "backend " + e.Op + ": " + e.Err.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
