// Package goep implements the client side of the Generic Object Exchange
// Profile: it establishes an OBEX session over a stream or packet bearer and
// composes outgoing OBEX requests directly in the bearer's send buffer.
//
// Opening a session is a two-stage asynchronous handshake. The service is
// first resolved to a bearer endpoint through a discovery.Resolver, then a
// bearer channel is opened to that endpoint. The outcome arrives as exactly
// one EventOpened. Once connected, a request is built with one of the
// Create*Request calls, extended with Add* header calls, and sent with
// Execute. Inbound packets are passed up unmodified as EventData.
//
// All collaborator completions are serialized on one dispatcher, and the
// session handler runs outside the client lock so it may call back into
// the client.
package goep

import "fmt"

// Handle identifies a session. Zero is never a valid handle.
type Handle uint16

// State is the connection state of a session.
type State int

const (
	// StateIdle is the quiescent state; a session may be opened.
	StateIdle State = iota

	// StateAwaitingDiscovery waits for the service endpoint lookup.
	StateAwaitingDiscovery

	// StateAwaitingChannelOpen waits for the bearer channel handshake.
	StateAwaitingChannelOpen

	// StateConnected has an open bearer channel.
	StateConnected
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingDiscovery:
		return "AwaitingDiscovery"
	case StateAwaitingChannelOpen:
		return "AwaitingChannelOpen"
	case StateConnected:
		return "Connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is the result code carried by EventOpened.
type Status uint8

const (
	StatusSuccess            Status = 0x00
	StatusConnectionFailed   Status = 0x04
	StatusConnectionTimeout  Status = 0x08
	StatusUnsupportedFeature Status = 0x11
	StatusDiscoveryFailed    Status = 0x80
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusConnectionFailed:
		return "ConnectionFailed"
	case StatusConnectionTimeout:
		return "ConnectionTimeout"
	case StatusUnsupportedFeature:
		return "UnsupportedFeature"
	case StatusDiscoveryFailed:
		return "DiscoveryFailed"
	default:
		return fmt.Sprintf("Status(0x%02X)", uint8(s))
	}
}

// EventType identifies an upward notification.
type EventType int

const (
	// EventOpened reports the outcome of an open attempt.
	EventOpened EventType = iota + 1

	// EventClosed reports that the session's channel is gone.
	EventClosed

	// EventSendReady answers one RequestSendReady call.
	EventSendReady

	// EventData carries one inbound packet.
	EventData
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "Opened"
	case EventClosed:
		return "Closed"
	case EventSendReady:
		return "SendReady"
	case EventData:
		return "Data"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}
