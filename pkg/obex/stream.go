package obex

import (
	"encoding/binary"
	"errors"
	"io"
)

// PacketReader reads whole OBEX packets from a byte stream.
// OBEX packets are self-delimiting: the length at offset 1 covers the
// complete packet, so no extra framing is added on stream bearers.
type PacketReader struct {
	r   io.Reader
	max int
}

// NewPacketReader creates a reader that rejects packets longer than max.
// max <= 0 allows the full 16-bit length space.
func NewPacketReader(r io.Reader, max int) *PacketReader {
	if max <= 0 || max > MaxPacketLength {
		max = MaxPacketLength
	}
	return &PacketReader{r: r, max: max}
}

// Read returns the next packet including its 3-byte header.
// io.EOF is returned unchanged when the stream ends between packets.
func (pr *PacketReader) Read() ([]byte, error) {
	var head [PacketHeaderSize]byte
	if _, err := io.ReadFull(pr.r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrPacketTooShort
		}
		return nil, err
	}

	length := int(binary.BigEndian.Uint16(head[1:3]))
	if length < PacketHeaderSize || length > pr.max {
		return nil, ErrInvalidLength
	}

	packet := make([]byte, length)
	copy(packet, head[:])
	if _, err := io.ReadFull(pr.r, packet[PacketHeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrPacketTooShort
		}
		return nil, err
	}

	return packet, nil
}

// PacketWriter writes OBEX packets to a byte stream, one Write per packet.
type PacketWriter struct {
	w io.Writer
}

// NewPacketWriter creates a packet writer.
func NewPacketWriter(w io.Writer) *PacketWriter {
	return &PacketWriter{w: w}
}

// Write validates the packet's length field and writes it.
func (pw *PacketWriter) Write(packet []byte) (int, error) {
	if len(packet) < PacketHeaderSize {
		return 0, ErrPacketTooShort
	}
	if int(binary.BigEndian.Uint16(packet[1:3])) != len(packet) {
		return 0, ErrLengthMismatch
	}
	return pw.w.Write(packet)
}
