package engine

import "errors"

// The engine's error taxonomy. Every failure maps onto one of these (or
// wraps storage.ErrNotFound); the hub surfaces them only to the
// originating connection, never as a broadcast.
var (
	ErrMalformedID  = errors.New("malformed id")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state")
)
