package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated indicates the request carries no actor.
	ErrUnauthenticated = errors.New("unauthenticated")
)
