package discovery

import (
	"context"
	"sync"

	"github.com/backkem/goep/pkg/bearer"
)

// Result is the outcome of a successful query.
type Result struct {
	// Endpoint is the bearer endpoint (channel or port) of the service.
	// Zero means the service exists but has no usable endpoint.
	Endpoint uint16

	// Name is the advertised service name, if any.
	Name string

	// Host is the network host the service was found on, if known.
	Host string
}

// Resolver looks up the endpoint of a service on a peer.
//
// Query starts a lookup and returns immediately. done is called exactly
// once, from another goroutine, when the lookup completes. A synchronous
// error means the query was not started and done will not be called.
type Resolver interface {
	Query(ctx context.Context, peer bearer.Address, service ServiceID, done func(Result, error)) error
}

// Lookup runs a query and waits for it.
func Lookup(ctx context.Context, r Resolver, peer bearer.Address, service ServiceID) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)

	err := r.Query(ctx, peer, service, func(res Result, err error) {
		ch <- outcome{res, err}
	})
	if err != nil {
		return Result{}, err
	}

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Result{}, ErrTimeout
		}
		return Result{}, ctx.Err()
	}
}

type staticKey struct {
	peer    bearer.Address
	service ServiceID
}

// Static resolves from a preconfigured table.
type Static struct {
	mu      sync.RWMutex
	entries map[staticKey]Result
}

var _ Resolver = (*Static)(nil)

// NewStatic creates an empty static resolver.
func NewStatic() *Static {
	return &Static{entries: make(map[staticKey]Result)}
}

// Add registers the result for service on peer, replacing any previous one.
func (s *Static) Add(peer bearer.Address, service ServiceID, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[staticKey{peer, service}] = res
}

// Remove deletes the entry for service on peer.
func (s *Static) Remove(peer bearer.Address, service ServiceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, staticKey{peer, service})
}

// Query implements Resolver. Unknown entries complete with
// ErrServiceNotFound.
func (s *Static) Query(ctx context.Context, peer bearer.Address, service ServiceID, done func(Result, error)) error {
	if done == nil {
		return ErrNoCallback
	}
	if !service.IsValid() {
		return ErrInvalidService
	}

	s.mu.RLock()
	res, ok := s.entries[staticKey{peer, service}]
	s.mu.RUnlock()

	go func() {
		if !ok {
			done(Result{}, ErrServiceNotFound)
			return
		}
		done(res, nil)
	}()
	return nil
}
