package bearer

// Kind identifies which lower transport carries a channel.
type Kind int

const (
	// KindUnknown is the zero value for an unset bearer kind.
	KindUnknown Kind = iota
	// KindStream is a reliable byte-stream channel (RFCOMM-like, TCP).
	KindStream
	// KindPacket is a datagram channel where one datagram is one message (L2CAP-like, UDP).
	KindPacket
)

// String returns the string representation of the bearer kind.
func (k Kind) String() string {
	switch k {
	case KindStream:
		return "Stream"
	case KindPacket:
		return "Packet"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the kind is a known bearer.
func (k Kind) IsValid() bool {
	return k == KindStream || k == KindPacket
}

// ParseKind parses "stream" or "packet".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "stream", "Stream":
		return KindStream, nil
	case "packet", "Packet":
		return KindPacket, nil
	default:
		return KindUnknown, ErrInvalidKind
	}
}

// EventType identifies a bearer notification.
type EventType int

const (
	// EventChannelOpened completes an Open call. Err is set on failure.
	EventChannelOpened EventType = iota + 1
	// EventChannelClosed reports that an open or opening channel went away.
	EventChannelClosed
	// EventSendReady fulfils one RequestSendReady registration.
	EventSendReady
	// EventData carries one inbound message.
	EventData
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventChannelOpened:
		return "ChannelOpened"
	case EventChannelClosed:
		return "ChannelClosed"
	case EventSendReady:
		return "SendReady"
	case EventData:
		return "Data"
	default:
		return "Unknown"
	}
}
