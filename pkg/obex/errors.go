package obex

import "errors"

// OBEX packet layer errors.
var (
	// Builder errors
	ErrBufferTooSmall  = errors.New("obex: buffer too small for packet header")
	ErrPacketTooLarge  = errors.New("obex: packet would exceed maximum length")
	ErrInvalidHeaderID = errors.New("obex: header id does not match value encoding")

	// Parser errors
	ErrPacketTooShort  = errors.New("obex: packet too short")
	ErrLengthMismatch  = errors.New("obex: packet length field does not match data")
	ErrMalformedHeader = errors.New("obex: malformed header")
	ErrInvalidLength   = errors.New("obex: invalid packet length")
)

// Packet layout constants.
const (
	// PacketHeaderSize is opcode (1) + packet length (2).
	PacketHeaderSize = 3

	// MaxPacketLength is the largest length the 16-bit length field can carry.
	MaxPacketLength = 0xFFFF

	// MinPacketLength is the minimum packet length allowed by OBEX 1.0.
	MinPacketLength = 255

	// ConnectionIDHeaderSize is header id (1) + 32-bit value (4).
	ConnectionIDHeaderSize = 5

	// headerPrefixSize is header id (1) + header length (2) for
	// length-prefixed encodings.
	headerPrefixSize = 3
)
