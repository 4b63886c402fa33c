package bearer

import "errors"

// Bearer errors.
var (
	// ErrClosed is returned when an operation is attempted on a stopped bearer.
	ErrClosed = errors.New("bearer: closed")

	// ErrNotStarted is returned when an operation requires a started bearer.
	ErrNotStarted = errors.New("bearer: not started")

	// ErrAlreadyStarted is returned when Start is called on a running bearer.
	ErrAlreadyStarted = errors.New("bearer: already started")

	// ErrInvalidAddress is returned for a malformed peer address.
	ErrInvalidAddress = errors.New("bearer: invalid address")

	// ErrInvalidKind is returned when a bearer kind string is not recognized.
	ErrInvalidKind = errors.New("bearer: invalid kind")

	// ErrInvalidEndpoint is returned when opening endpoint 0.
	ErrInvalidEndpoint = errors.New("bearer: invalid endpoint")

	// ErrNoDialer is returned when a stream bearer has no Dial function.
	ErrNoDialer = errors.New("bearer: no dialer configured")

	// ErrNoResolver is returned when a packet bearer has no Resolve function.
	ErrNoResolver = errors.New("bearer: no resolver configured")

	// ErrNoConn is returned when a packet bearer has no PacketConn.
	ErrNoConn = errors.New("bearer: no packet connection configured")

	// ErrChannelNotFound is returned for an unknown or not yet open channel.
	ErrChannelNotFound = errors.New("bearer: channel not found")

	// ErrAddressInUse is reported when a packet channel to the same remote
	// address is already open.
	ErrAddressInUse = errors.New("bearer: remote address already in use")

	// ErrBufferInUse is returned by Reserve while the send buffer is lent out.
	ErrBufferInUse = errors.New("bearer: send buffer in use")

	// ErrBufferReleased is returned when sending from a released buffer.
	ErrBufferReleased = errors.New("bearer: send buffer released")

	// ErrForeignBuffer is returned when a buffer reserved on another bearer
	// is passed to SendPrepared.
	ErrForeignBuffer = errors.New("bearer: buffer belongs to another bearer")

	// ErrBusy is returned when a write is already in flight on the channel.
	ErrBusy = errors.New("bearer: busy")

	// ErrInvalidLength is returned for a send length outside the buffer.
	ErrInvalidLength = errors.New("bearer: invalid length")

	// ErrInvalidMTU is returned for an MTU below the OBEX minimum packet size.
	ErrInvalidMTU = errors.New("bearer: invalid mtu")

	// ErrMessageTooLarge is returned when a message exceeds the channel MTU.
	ErrMessageTooLarge = errors.New("bearer: message too large")

	// ErrNoBearer is returned by the selector for an invalid kind.
	ErrNoBearer = errors.New("bearer: no bearer for kind")

	// ErrBearerNotConfigured is returned by the selector when the requested
	// kind has no bearer attached.
	ErrBearerNotConfigured = errors.New("bearer: bearer not configured")
)
