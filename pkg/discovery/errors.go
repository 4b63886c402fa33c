package discovery

import (
	"errors"
	"fmt"
)

// Package-level sentinel errors for discovery operations.
var (
	// ErrClosed is returned when querying a closed resolver.
	ErrClosed = errors.New("discovery: closed")

	// ErrInvalidService is returned for a zero or unparsable service id.
	ErrInvalidService = errors.New("discovery: invalid service")

	// ErrNoCallback is returned when Query is called without a done func.
	ErrNoCallback = errors.New("discovery: no completion callback")

	// ErrServiceNotFound is returned when the peer does not expose the service.
	ErrServiceNotFound = errors.New("discovery: service not found")

	// ErrTimeout is returned when a lookup times out.
	ErrTimeout = errors.New("discovery: operation timed out")
)

// QueryError is a failed query that carries a protocol status code from
// the lookup transaction.
type QueryError struct {
	Code uint8
	Err  error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("discovery: query failed (status 0x%02X)", e.Code)
	}
	return fmt.Sprintf("discovery: query failed (status 0x%02X): %v", e.Code, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Status returns the protocol status code.
func (e *QueryError) Status() uint8 {
	return e.Code
}
