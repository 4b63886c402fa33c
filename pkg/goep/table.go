package goep

import (
	"sync"

	"github.com/backkem/goep/pkg/bearer"
)

// Handle allocation bounds.
const (
	// MinHandle is the first session handle.
	MinHandle Handle = 1

	// MaxHandle is the last session handle before wrapping.
	MaxHandle Handle = 0xFFFF

	// DefaultMaxSessions keeps a single active session per client.
	DefaultMaxSessions = 1
)

// Table holds the active (non-idle) sessions of a client.
//
// Handles are allocated sequentially, wrapping at MaxHandle and skipping
// zero, so a handle is not reused while its session is active.
type Table struct {
	sessions    map[Handle]*Session
	maxSessions int
	nextID      Handle

	mu sync.RWMutex
}

// NewTable creates a session table. maxSessions limits concurrent sessions
// (0 uses DefaultMaxSessions).
func NewTable(maxSessions int) *Table {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Table{
		sessions:    make(map[Handle]*Session),
		maxSessions: maxSessions,
		nextID:      MinHandle,
	}
}

// AllocateID returns an unused handle.
// Returns ErrAlreadyOpen if the table is at capacity.
func (t *Table) AllocateID() (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		return 0, ErrAlreadyOpen
	}

	start := t.nextID
	for {
		id := t.nextID

		t.nextID++
		if t.nextID == 0 {
			t.nextID = MinHandle
		}

		if _, exists := t.sessions[id]; !exists {
			return id, nil
		}
		if t.nextID == start {
			return 0, ErrSessionIDExhausted
		}
	}
}

// Add inserts s under its handle.
func (t *Table) Add(s *Session) error {
	if s == nil || s.handle == 0 {
		return ErrSessionNotFound
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		return ErrAlreadyOpen
	}
	if _, exists := t.sessions[s.handle]; exists {
		return ErrAlreadyOpen
	}
	t.sessions[s.handle] = s
	return nil
}

// Remove deletes the session with handle h. Unknown handles are ignored.
func (t *Table) Remove(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, h)
}

// Find returns the session with handle h, or nil.
func (t *Table) Find(h Handle) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[h]
}

// FindByChannel returns the session bound to channel ch of the bearer of
// kind, or nil.
func (t *Table) FindByChannel(kind bearer.Kind, ch bearer.ChannelID) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, s := range t.sessions {
		if s.kind == kind && s.channel == ch && s.state >= StateAwaitingChannelOpen {
			return s
		}
	}
	return nil
}

// Count returns the number of active sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// IsFull reports whether no further session can be opened.
func (t *Table) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions) >= t.maxSessions
}

// ForEach calls fn for every active session. fn must not modify the table.
func (t *Table) ForEach(fn func(*Session)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.sessions {
		fn(s)
	}
}
