package obex

import "encoding/binary"

// Header is one decoded OBEX header. Value holds the raw payload without
// the id and length prefix; for 1-byte and 4-byte encodings it is the
// fixed-size value.
type Header struct {
	ID    HeaderID
	Value []byte
}

// Uint32 returns the value of a 4-byte header.
func (h Header) Uint32() (uint32, bool) {
	if h.ID.Encoding() != EncodingUint32 || len(h.Value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(h.Value), true
}

// Text returns the value of a text header.
func (h Header) Text() string {
	return DecodeText(h.Value)
}

// HeaderIterator walks the headers of an encoded packet body.
//
//	it := obex.NewHeaderIterator(data)
//	for it.Next() {
//	    h := it.Header()
//	}
//	if err := it.Err(); err != nil { ... }
type HeaderIterator struct {
	data []byte
	pos  int
	cur  Header
	err  error
}

// NewHeaderIterator returns an iterator over the headers in data.
func NewHeaderIterator(data []byte) *HeaderIterator {
	return &HeaderIterator{data: data}
}

// Next advances to the next header. It returns false at the end of the
// data or on a malformed header; check Err to distinguish.
func (it *HeaderIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.data) {
		return false
	}

	id := HeaderID(it.data[it.pos])
	rest := it.data[it.pos+1:]

	var valueStart, size int
	switch enc := id.Encoding(); enc {
	case EncodingUint8, EncodingUint32:
		valueStart = 1
		size = enc.FixedSize()
		if len(rest) < size {
			it.err = ErrMalformedHeader
			return false
		}
	default:
		if len(rest) < 2 {
			it.err = ErrMalformedHeader
			return false
		}
		total := int(binary.BigEndian.Uint16(rest[:2]))
		if total < headerPrefixSize || total-1 > len(rest) {
			it.err = ErrMalformedHeader
			return false
		}
		valueStart = headerPrefixSize
		size = total - headerPrefixSize
	}

	start := it.pos + valueStart
	it.cur = Header{ID: id, Value: it.data[start : start+size]}
	it.pos = start + size
	return true
}

// Header returns the header at the current position.
func (it *HeaderIterator) Header() Header {
	return it.cur
}

// Err returns the first decoding error, if any.
func (it *HeaderIterator) Err() error {
	return it.err
}

// Response is a decoded OBEX response packet.
type Response struct {
	Code ResponseCode

	// Connect response fields; only set when the request was Connect.
	Version         uint8
	Flags           uint8
	MaxPacketLength uint16

	Headers []Header
}

// ParseResponse decodes a response packet. request is the opcode of the
// request the response answers; it decides whether opcode-specific fields
// precede the headers. Header values alias data.
func ParseResponse(request Opcode, data []byte) (*Response, error) {
	if len(data) < PacketHeaderSize {
		return nil, ErrPacketTooShort
	}

	length := int(binary.BigEndian.Uint16(data[1:3]))
	if length < PacketHeaderSize || length > len(data) {
		return nil, ErrLengthMismatch
	}

	r := &Response{Code: ResponseCode(data[0])}
	body := data[PacketHeaderSize:length]

	if request.Base() == OpcodeConnect {
		if len(body) < 4 {
			return nil, ErrPacketTooShort
		}
		r.Version = body[0]
		r.Flags = body[1]
		r.MaxPacketLength = binary.BigEndian.Uint16(body[2:4])
		body = body[4:]
	}

	it := NewHeaderIterator(body)
	for it.Next() {
		r.Headers = append(r.Headers, it.Header())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	return r, nil
}

// IsFinal reports whether the response carries the final bit.
func (r *Response) IsFinal() bool {
	return uint8(r.Code)&FinalBit != 0
}

// Header returns the first header with the given ID.
func (r *Response) Header(id HeaderID) (Header, bool) {
	for _, h := range r.Headers {
		if h.ID == id {
			return h, true
		}
	}
	return Header{}, false
}

// ConnectionID returns the Connection ID header value, if present.
func (r *Response) ConnectionID() (uint32, bool) {
	h, ok := r.Header(HeaderConnectionID)
	if !ok {
		return 0, false
	}
	return h.Uint32()
}

// Name returns the decoded Name header, if present.
func (r *Response) Name() (string, bool) {
	h, ok := r.Header(HeaderName)
	if !ok {
		return "", false
	}
	return h.Text(), true
}

// Body returns the concatenation of all Body and EndOfBody headers and
// whether an EndOfBody header was seen.
func (r *Response) Body() ([]byte, bool) {
	var body []byte
	end := false
	for _, h := range r.Headers {
		switch h.ID {
		case HeaderBody:
			body = append(body, h.Value...)
		case HeaderEndOfBody:
			body = append(body, h.Value...)
			end = true
		}
	}
	return body, end
}
