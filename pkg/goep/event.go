package goep

import (
	"encoding/binary"

	"github.com/backkem/goep/pkg/bearer"
)

// Event is an upward notification for one session.
type Event struct {
	Type    EventType
	Session Handle

	// Status, Peer, Link and Incoming are set on EventOpened. Link is only
	// meaningful when Status is StatusSuccess.
	Status   Status
	Peer     bearer.Address
	Link     bearer.LinkHandle
	Incoming bool

	// Data holds the inbound packet of an EventData.
	Data []byte
}

// Handler receives the events of a session.
type Handler func(Event)

// Binary event layout: class, length of the rest, subtype, handle (LE16),
// then the subtype payload.
const (
	EventClass uint8 = 0xEE

	SubeventOpened    uint8 = 0x01
	SubeventClosed    uint8 = 0x02
	SubeventSendReady uint8 = 0x03

	eventHeaderSize = 5
	openedEventSize = eventHeaderSize + 1 + 6 + 2 + 1
)

// Encode packs an opened, closed or send-ready event in the binary event
// layout. EventData has no binary form.
func (e Event) Encode() ([]byte, error) {
	var out []byte
	switch e.Type {
	case EventOpened:
		out = make([]byte, openedEventSize)
		out[2] = SubeventOpened
		out[5] = byte(e.Status)
		copy(out[6:12], e.Peer[:])
		binary.LittleEndian.PutUint16(out[12:14], uint16(e.Link))
		if e.Incoming {
			out[14] = 1
		}
	case EventClosed:
		out = make([]byte, eventHeaderSize)
		out[2] = SubeventClosed
	case EventSendReady:
		out = make([]byte, eventHeaderSize)
		out[2] = SubeventSendReady
	default:
		return nil, ErrInvalidEvent
	}

	out[0] = EventClass
	out[1] = byte(len(out) - 2)
	binary.LittleEndian.PutUint16(out[3:5], uint16(e.Session))
	return out, nil
}

// DecodeEvent parses an event produced by Encode.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) < eventHeaderSize || data[0] != EventClass || int(data[1]) != len(data)-2 {
		return Event{}, ErrInvalidEvent
	}

	e := Event{Session: Handle(binary.LittleEndian.Uint16(data[3:5]))}
	switch data[2] {
	case SubeventOpened:
		if len(data) != openedEventSize {
			return Event{}, ErrInvalidEvent
		}
		e.Type = EventOpened
		e.Status = Status(data[5])
		copy(e.Peer[:], data[6:12])
		e.Link = bearer.LinkHandle(binary.LittleEndian.Uint16(data[12:14]))
		e.Incoming = data[14] != 0
	case SubeventClosed, SubeventSendReady:
		if len(data) != eventHeaderSize {
			return Event{}, ErrInvalidEvent
		}
		e.Type = EventClosed
		if data[2] == SubeventSendReady {
			e.Type = EventSendReady
		}
	default:
		return Event{}, ErrInvalidEvent
	}
	return e, nil
}
