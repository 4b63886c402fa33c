// Package obex implements the packet layer of the Object Exchange protocol.
//
// An OBEX packet is a 1-byte opcode (or response code), a 2-byte big-endian
// packet length that covers the whole packet, optional opcode-specific fields,
// and a sequence of headers. The header identifier's two high bits select the
// header encoding:
//
//   - 0b00: null-terminated UCS-2 text, 2-byte length prefix
//   - 0b01: byte sequence, 2-byte length prefix
//   - 0b10: single byte
//   - 0b11: 4-byte big-endian quantity
//
// The package provides a Builder that composes a packet in place inside a
// caller-provided buffer, a parser for response packets, and stream framing
// for byte-oriented bearers.
package obex

import "fmt"

// Opcode identifies the purpose of a request packet.
type Opcode uint8

// FinalBit marks the last packet of a request or response.
const FinalBit uint8 = 0x80

const (
	OpcodeConnect    Opcode = 0x80
	OpcodeDisconnect Opcode = 0x81
	OpcodePut        Opcode = 0x02
	OpcodeGet        Opcode = 0x03
	OpcodeSetPath    Opcode = 0x85
	OpcodeAction     Opcode = 0x06
	OpcodeSession    Opcode = 0x87
	OpcodeAbort      Opcode = 0xFF
)

// Final returns the opcode with the final bit set.
func (o Opcode) Final() Opcode {
	return o | Opcode(FinalBit)
}

// IsFinal reports whether the final bit is set.
func (o Opcode) IsFinal() bool {
	return uint8(o)&FinalBit != 0
}

// Base returns the opcode without the final bit.
// Connect, Disconnect, SetPath, Session and Abort always carry it.
func (o Opcode) Base() Opcode {
	switch o {
	case OpcodeConnect, OpcodeDisconnect, OpcodeSetPath, OpcodeSession, OpcodeAbort:
		return o
	}
	return o &^ Opcode(FinalBit)
}

// String returns the opcode name.
func (o Opcode) String() string {
	name := ""
	switch o.Base() {
	case OpcodeConnect:
		return "Connect"
	case OpcodeDisconnect:
		return "Disconnect"
	case OpcodeSetPath:
		return "SetPath"
	case OpcodeSession:
		return "Session"
	case OpcodeAbort:
		return "Abort"
	case OpcodePut:
		name = "Put"
	case OpcodeGet:
		name = "Get"
	case OpcodeAction:
		name = "Action"
	default:
		return fmt.Sprintf("Opcode(0x%02X)", uint8(o))
	}
	if o.IsFinal() {
		return name + "Final"
	}
	return name
}

// HeaderID identifies an OBEX header.
type HeaderID uint8

const (
	HeaderCount                 HeaderID = 0xC0
	HeaderName                  HeaderID = 0x01
	HeaderType                  HeaderID = 0x42
	HeaderLength                HeaderID = 0xC3
	HeaderTime                  HeaderID = 0x44
	HeaderDescription           HeaderID = 0x05
	HeaderTarget                HeaderID = 0x46
	HeaderHTTP                  HeaderID = 0x47
	HeaderBody                  HeaderID = 0x48
	HeaderEndOfBody             HeaderID = 0x49
	HeaderWho                   HeaderID = 0x4A
	HeaderConnectionID          HeaderID = 0xCB
	HeaderApplicationParameters HeaderID = 0x4C
	HeaderAuthChallenge         HeaderID = 0x4D
	HeaderAuthResponse          HeaderID = 0x4E
	HeaderCreatorID             HeaderID = 0xCF
	HeaderWANUUID               HeaderID = 0x50
	HeaderObjectClass           HeaderID = 0x51
	HeaderSessionParameters     HeaderID = 0x52
	HeaderSessionSequenceNumber HeaderID = 0x93
	HeaderSRM                   HeaderID = 0x97
	HeaderSRMP                  HeaderID = 0x98
)

// String returns the header name.
func (h HeaderID) String() string {
	switch h {
	case HeaderCount:
		return "Count"
	case HeaderName:
		return "Name"
	case HeaderType:
		return "Type"
	case HeaderLength:
		return "Length"
	case HeaderTime:
		return "Time"
	case HeaderDescription:
		return "Description"
	case HeaderTarget:
		return "Target"
	case HeaderHTTP:
		return "HTTP"
	case HeaderBody:
		return "Body"
	case HeaderEndOfBody:
		return "EndOfBody"
	case HeaderWho:
		return "Who"
	case HeaderConnectionID:
		return "ConnectionID"
	case HeaderApplicationParameters:
		return "ApplicationParameters"
	case HeaderAuthChallenge:
		return "AuthChallenge"
	case HeaderAuthResponse:
		return "AuthResponse"
	case HeaderCreatorID:
		return "CreatorID"
	case HeaderWANUUID:
		return "WANUUID"
	case HeaderObjectClass:
		return "ObjectClass"
	case HeaderSessionParameters:
		return "SessionParameters"
	case HeaderSessionSequenceNumber:
		return "SessionSequenceNumber"
	case HeaderSRM:
		return "SRM"
	case HeaderSRMP:
		return "SRMP"
	default:
		return fmt.Sprintf("Header(0x%02X)", uint8(h))
	}
}

// Encoding returns the header's encoding class.
func (h HeaderID) Encoding() HeaderEncoding {
	return HeaderEncoding(uint8(h) & 0xC0)
}

// HeaderEncoding is the encoding class selected by a header ID's high bits.
type HeaderEncoding uint8

const (
	EncodingText   HeaderEncoding = 0x00
	EncodingBytes  HeaderEncoding = 0x40
	EncodingUint8  HeaderEncoding = 0x80
	EncodingUint32 HeaderEncoding = 0xC0
)

// String returns the encoding name.
func (e HeaderEncoding) String() string {
	switch e {
	case EncodingText:
		return "Text"
	case EncodingBytes:
		return "Bytes"
	case EncodingUint8:
		return "Uint8"
	case EncodingUint32:
		return "Uint32"
	default:
		return "Unknown"
	}
}

// FixedSize returns the value size of a fixed-size encoding, or 0 for
// length-prefixed encodings.
func (e HeaderEncoding) FixedSize() int {
	switch e {
	case EncodingUint8:
		return 1
	case EncodingUint32:
		return 4
	default:
		return 0
	}
}

// ResponseCode is the first byte of a response packet, final bit included.
type ResponseCode uint8

const (
	ResponseContinue            ResponseCode = 0x90
	ResponseSuccess             ResponseCode = 0xA0
	ResponseCreated             ResponseCode = 0xA1
	ResponseAccepted            ResponseCode = 0xA2
	ResponseBadRequest          ResponseCode = 0xC0
	ResponseUnauthorized        ResponseCode = 0xC1
	ResponseForbidden           ResponseCode = 0xC3
	ResponseNotFound            ResponseCode = 0xC4
	ResponseNotAcceptable       ResponseCode = 0xC6
	ResponsePreconditionFailed  ResponseCode = 0xCC
	ResponseInternalServerError ResponseCode = 0xD0
	ResponseNotImplemented      ResponseCode = 0xD1
	ResponseServiceUnavailable  ResponseCode = 0xD3
)

// String returns the response code name.
func (r ResponseCode) String() string {
	switch r {
	case ResponseContinue:
		return "Continue"
	case ResponseSuccess:
		return "Success"
	case ResponseCreated:
		return "Created"
	case ResponseAccepted:
		return "Accepted"
	case ResponseBadRequest:
		return "BadRequest"
	case ResponseUnauthorized:
		return "Unauthorized"
	case ResponseForbidden:
		return "Forbidden"
	case ResponseNotFound:
		return "NotFound"
	case ResponseNotAcceptable:
		return "NotAcceptable"
	case ResponsePreconditionFailed:
		return "PreconditionFailed"
	case ResponseInternalServerError:
		return "InternalServerError"
	case ResponseNotImplemented:
		return "NotImplemented"
	case ResponseServiceUnavailable:
		return "ServiceUnavailable"
	default:
		return fmt.Sprintf("Response(0x%02X)", uint8(r))
	}
}

// IsSuccess reports whether the code is in the 2xx class.
func (r ResponseCode) IsSuccess() bool {
	return uint8(r)&^FinalBit >= 0x20 && uint8(r)&^FinalBit < 0x30
}

// SetPath flags (OBEX 3.4.6).
const (
	SetPathBackup   uint8 = 0x01 // go up one level before applying Name
	SetPathNoCreate uint8 = 0x02 // do not create the folder if it does not exist
)

// Version is the OBEX protocol version 1.0 carried in Connect requests.
const Version uint8 = 0x10
