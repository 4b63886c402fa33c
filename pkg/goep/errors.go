package goep

import "errors"

// GOEP client errors.
var (
	// ErrClosed is returned after the client has been closed.
	ErrClosed = errors.New("goep: client closed")

	// ErrNoBearers is returned when ClientConfig has no bearer selector.
	ErrNoBearers = errors.New("goep: no bearers configured")

	// ErrNoResolver is returned by Open when the client has no resolver.
	ErrNoResolver = errors.New("goep: no resolver configured")

	// ErrNoHandler is returned when a session is opened without a handler.
	ErrNoHandler = errors.New("goep: no event handler")

	// ErrAlreadyOpen is returned when no idle session slot is available.
	ErrAlreadyOpen = errors.New("goep: session already open")

	// ErrSessionNotFound is returned for an unknown or idle session handle.
	ErrSessionNotFound = errors.New("goep: session not found")

	// ErrInvalidState is returned when an operation is not allowed in the
	// session's current state.
	ErrInvalidState = errors.New("goep: invalid state")

	// ErrNotConnected is returned by request calls before the session is
	// connected.
	ErrNotConnected = errors.New("goep: not connected")

	// ErrRequestInProgress is returned when starting a request while
	// another one is still being built or waiting to be sent.
	ErrRequestInProgress = errors.New("goep: request in progress")

	// ErrNoRequest is returned by header and Execute calls when no request
	// is being built.
	ErrNoRequest = errors.New("goep: no request in progress")

	// ErrInvalidEndpoint is returned for endpoint 0.
	ErrInvalidEndpoint = errors.New("goep: invalid endpoint")

	// ErrInvalidEvent is returned when decoding a malformed event.
	ErrInvalidEvent = errors.New("goep: invalid event")

	// ErrSessionIDExhausted is returned when every handle is in use.
	ErrSessionIDExhausted = errors.New("goep: session handle space exhausted")
)
