package mdns

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the size of the DNS message header.
const HeaderSize = 12

// ErrShortMessage is returned when a datagram cannot hold a header.
var ErrShortMessage = errors.New("mdns: message shorter than header")

// Header is the fixed DNS message header, decoded field by field.
type Header struct {
	ID      uint16
	Flags1  uint8
	Flags2  uint8
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// DecodeHeader decodes the header at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortMessage
	}
	return Header{
		ID:      binary.BigEndian.Uint16(b[0:]),
		Flags1:  b[2],
		Flags2:  b[3],
		QDCount: binary.BigEndian.Uint16(b[4:]),
		ANCount: binary.BigEndian.Uint16(b[6:]),
		NSCount: binary.BigEndian.Uint16(b[8:]),
		ARCount: binary.BigEndian.Uint16(b[10:]),
	}, nil
}

// AppendTo appends the encoded header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, h.ID)
	dst = append(dst, h.Flags1, h.Flags2)
	dst = binary.BigEndian.AppendUint16(dst, h.QDCount)
	dst = binary.BigEndian.AppendUint16(dst, h.ANCount)
	dst = binary.BigEndian.AppendUint16(dst, h.NSCount)
	return binary.BigEndian.AppendUint16(dst, h.ARCount)
}

// Opcode returns the 4-bit opcode (bits 3-6 of the first flags byte).
func (h Header) Opcode() uint8 {
	return (h.Flags1 >> 3) & 0x0f
}

// IsResponse reports whether the QR bit is set.
func (h Header) IsResponse() bool {
	return h.Flags1&0x80 != 0
}
