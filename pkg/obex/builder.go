package obex

import "encoding/binary"

// Builder composes one OBEX packet in place inside a caller-owned buffer.
//
// The packet length lives in the buffer itself (bytes 1-2, big-endian) and is
// the only write cursor: every append re-reads it, copies the payload at that
// offset, and stores the advanced length back. The buffer therefore always
// holds a well-formed packet up to Len().
//
// Appends that would push the packet past the limit fail with
// ErrPacketTooLarge and leave the buffer untouched.
type Builder struct {
	buf   []byte
	limit int
}

// NewBuilder starts a packet with the given opcode in buf.
// limit caps the packet length; values <= 0 or larger than the buffer
// (or the 16-bit length space) are reduced to what fits.
func NewBuilder(buf []byte, opcode Opcode, limit int) (*Builder, error) {
	if len(buf) < PacketHeaderSize {
		return nil, ErrBufferTooSmall
	}
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	if limit > MaxPacketLength {
		limit = MaxPacketLength
	}
	if limit < PacketHeaderSize {
		return nil, ErrBufferTooSmall
	}

	buf[0] = byte(opcode)
	binary.BigEndian.PutUint16(buf[1:3], PacketHeaderSize)

	return &Builder{buf: buf, limit: limit}, nil
}

// Opcode returns the opcode written at the start of the packet.
func (b *Builder) Opcode() Opcode {
	return Opcode(b.buf[0])
}

// Len returns the current packet length as stored in the length field.
func (b *Builder) Len() int {
	return int(binary.BigEndian.Uint16(b.buf[1:3]))
}

// Limit returns the maximum packet length for this builder.
func (b *Builder) Limit() int {
	return b.limit
}

// Remaining returns how many more bytes can be appended.
func (b *Builder) Remaining() int {
	return b.limit - b.Len()
}

// Bytes returns the packet composed so far. The slice aliases the buffer.
func (b *Builder) Bytes() []byte {
	return b.buf[:b.Len()]
}

// Append copies raw bytes to the end of the packet and advances the length.
func (b *Builder) Append(data []byte) error {
	pos := b.Len()
	if pos+len(data) > b.limit {
		return ErrPacketTooLarge
	}
	copy(b.buf[pos:], data)
	binary.BigEndian.PutUint16(b.buf[1:3], uint16(pos+len(data)))
	return nil
}

// AppendFields appends untagged opcode-specific fields, e.g. the
// version/flags/max-length triple of Connect or the flags/constants pair
// of SetPath. Fields must precede all headers.
func (b *Builder) AppendFields(fields ...byte) error {
	return b.Append(fields)
}

// AddConnectionID appends the 5-byte Connection ID header.
// When a packet carries one it must be the first header.
func (b *Builder) AddConnectionID(id uint32) error {
	var header [ConnectionIDHeaderSize]byte
	header[0] = byte(HeaderConnectionID)
	binary.BigEndian.PutUint32(header[1:], id)
	return b.Append(header[:])
}

// AddFixedHeader appends a 1-byte or 4-byte header. The value length must
// match the encoding selected by the header ID.
func (b *Builder) AddFixedHeader(id HeaderID, value []byte) error {
	size := id.Encoding().FixedSize()
	if size == 0 || len(value) != size {
		return ErrInvalidHeaderID
	}
	header := make([]byte, 0, 1+size)
	header = append(header, byte(id))
	header = append(header, value...)
	return b.Append(header)
}

// AddUint8Header appends a single-byte header such as SRM.
func (b *Builder) AddUint8Header(id HeaderID, v uint8) error {
	return b.AddFixedHeader(id, []byte{v})
}

// AddUint32Header appends a 4-byte header such as Count or Length.
func (b *Builder) AddUint32Header(id HeaderID, v uint32) error {
	var value [4]byte
	binary.BigEndian.PutUint32(value[:], v)
	return b.AddFixedHeader(id, value[:])
}

// AddBytesHeader appends a length-prefixed header carrying payload as is.
func (b *Builder) AddBytesHeader(id HeaderID, payload []byte) error {
	if id.Encoding() != EncodingBytes {
		return ErrInvalidHeaderID
	}
	return b.addPrefixed(id, len(payload), func(dst []byte) {
		copy(dst, payload)
	})
}

// AddTextHeader appends a text header. Each input byte becomes a big-endian
// 16-bit unit (0x00, b) and a 0x0000 terminator follows, so the payload is
// 2*(len(text)+1) bytes. Only ASCII input round-trips; no Unicode expansion
// is performed.
func (b *Builder) AddTextHeader(id HeaderID, text string) error {
	if id.Encoding() != EncodingText {
		return ErrInvalidHeaderID
	}
	return b.addPrefixed(id, TextPayloadSize(text), func(dst []byte) {
		EncodeText(dst, text)
	})
}

// AddTypeHeader appends a media type with its NUL terminator as a
// byte-sequence header.
func (b *Builder) AddTypeHeader(id HeaderID, mime string) error {
	if id.Encoding() != EncodingBytes {
		return ErrInvalidHeaderID
	}
	return b.addPrefixed(id, len(mime)+1, func(dst []byte) {
		n := copy(dst, mime)
		dst[n] = 0
	})
}

// addPrefixed writes id + 2-byte header length + payload of size n.
// The header length covers the 3-byte prefix.
func (b *Builder) addPrefixed(id HeaderID, n int, fill func(dst []byte)) error {
	pos := b.Len()
	total := headerPrefixSize + n
	if pos+total > b.limit {
		return ErrPacketTooLarge
	}

	b.buf[pos] = byte(id)
	binary.BigEndian.PutUint16(b.buf[pos+1:pos+3], uint16(total))
	fill(b.buf[pos+headerPrefixSize : pos+total])
	binary.BigEndian.PutUint16(b.buf[1:3], uint16(pos+total))
	return nil
}

// TextPayloadSize returns the encoded payload size of a text header value.
func TextPayloadSize(text string) int {
	return 2 * (len(text) + 1)
}

// EncodeText writes the wide encoding of text, terminator included, into dst.
// dst must hold TextPayloadSize(text) bytes.
func EncodeText(dst []byte, text string) {
	pos := 0
	for i := 0; i < len(text); i++ {
		dst[pos] = 0
		dst[pos+1] = text[i]
		pos += 2
	}
	dst[pos] = 0
	dst[pos+1] = 0
}

// DecodeText reverses EncodeText. The low byte of each 16-bit unit is kept
// and decoding stops at the terminator.
func DecodeText(payload []byte) string {
	out := make([]byte, 0, len(payload)/2)
	for i := 0; i+1 < len(payload); i += 2 {
		if payload[i] == 0 && payload[i+1] == 0 {
			break
		}
		out = append(out, payload[i+1])
	}
	return string(out)
}
