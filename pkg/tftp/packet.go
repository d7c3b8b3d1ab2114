package tftp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Protocol sizes (RFC 1350).
const (
	BlockSize     = 512
	HeaderSize    = 4
	MaxPacketSize = HeaderSize + BlockSize
)

// Opcode is the first field of every TFTP packet.
type Opcode uint16

// Opcodes
const (
	OpRRQ   Opcode = 1
	OpWRQ   Opcode = 2
	OpDATA  Opcode = 3
	OpACK   Opcode = 4
	OpERROR Opcode = 5
)

func (o Opcode) String() string {
	switch o {
	case OpRRQ:
		return "RRQ"
	case OpWRQ:
		return "WRQ"
	case OpDATA:
		return "DATA"
	case OpACK:
		return "ACK"
	case OpERROR:
		return "ERROR"
	}
	return fmt.Sprintf("Opcode(%d)", uint16(o))
}

// Mode is the transfer mode of a request.
type Mode int

// Modes
const (
	ModeBinary Mode = iota
	ModeASCII
)

func (m Mode) String() string {
	if m == ModeASCII {
		return "netascii"
	}
	return "octet"
}

// ParseMode maps a mode string from a request to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "octet", "binary":
		return ModeBinary, true
	case "netascii", "ascii":
		return ModeASCII, true
	}
	return ModeBinary, false
}

// BlockNum is the 16-bit DATA/ACK block number.
type BlockNum uint16

// Next returns the following block number, wrapping 65535 to 0.
func (b BlockNum) Next() BlockNum {
	return b + 1
}

// ParseError describes a malformed packet.
type ParseError struct {
	Field  string
	Offset int
	Reason string
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("tftp: malformed %s at offset %d: %s", e.Field, e.Offset, e.Reason)
}

// Request is a decoded RRQ or WRQ.
type Request struct {
	Op       Opcode
	Filename string
	ModeName string
}

// Mode returns the decoded transfer mode.
func (r *Request) Mode() (Mode, bool) {
	return ParseMode(r.ModeName)
}

// Data is a decoded DATA packet. Payload aliases the input buffer.
type Data struct {
	Block   BlockNum
	Payload []byte
}

// PeekOpcode reads the opcode of a packet.
func PeekOpcode(b []byte) (Opcode, error) {
	if len(b) < 2 {
		return 0, &ParseError{Field: "opcode", Offset: 0, Reason: "short packet"}
	}
	return Opcode(binary.BigEndian.Uint16(b)), nil
}

// ParseRequest decodes an RRQ or WRQ. Option extensions after the
// mode field are ignored.
func ParseRequest(b []byte) (*Request, error) {
	op, err := PeekOpcode(b)
	if err != nil {
		return nil, err
	}
	if op != OpRRQ && op != OpWRQ {
		return nil, &ParseError{Field: "opcode", Offset: 0, Reason: "not a request"}
	}
	name, next, err := cstring(b, 2, "filename")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, &ParseError{Field: "filename", Offset: 2, Reason: "empty"}
	}
	mode, _, err := cstring(b, next, "mode")
	if err != nil {
		return nil, err
	}
	return &Request{Op: op, Filename: name, ModeName: mode}, nil
}

// ParseData decodes a DATA packet.
func ParseData(b []byte) (*Data, error) {
	if err := expectOpcode(b, OpDATA); err != nil {
		return nil, err
	}
	if len(b) < HeaderSize {
		return nil, &ParseError{Field: "block", Offset: 2, Reason: "short packet"}
	}
	if len(b) > MaxPacketSize {
		return nil, &ParseError{Field: "data", Offset: HeaderSize, Reason: "payload exceeds block size"}
	}
	return &Data{
		Block:   BlockNum(binary.BigEndian.Uint16(b[2:])),
		Payload: b[HeaderSize:],
	}, nil
}

// ParseAck decodes an ACK packet and returns the acknowledged block.
func ParseAck(b []byte) (BlockNum, error) {
	if err := expectOpcode(b, OpACK); err != nil {
		return 0, err
	}
	if len(b) < HeaderSize {
		return 0, &ParseError{Field: "block", Offset: 2, Reason: "short packet"}
	}
	return BlockNum(binary.BigEndian.Uint16(b[2:])), nil
}

// ParseErrorPacket decodes an ERROR packet. A missing terminating NUL is
// tolerated.
func ParseErrorPacket(b []byte) (*Error, error) {
	if err := expectOpcode(b, OpERROR); err != nil {
		return nil, err
	}
	if len(b) < HeaderSize {
		return nil, &ParseError{Field: "error code", Offset: 2, Reason: "short packet"}
	}
	msg := b[HeaderSize:]
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	return &Error{Code: ErrorCode(binary.BigEndian.Uint16(b[2:])), Message: string(msg)}, nil
}

// AppendRequest appends an RRQ or WRQ.
func AppendRequest(dst []byte, op Opcode, filename string, mode Mode) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(op))
	dst = append(dst, filename...)
	dst = append(dst, 0)
	dst = append(dst, mode.String()...)
	return append(dst, 0)
}

// AppendData appends a DATA packet.
func AppendData(dst []byte, block BlockNum, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(OpDATA))
	dst = binary.BigEndian.AppendUint16(dst, uint16(block))
	return append(dst, payload...)
}

// AppendAck appends an ACK packet.
func AppendAck(dst []byte, block BlockNum) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(OpACK))
	return binary.BigEndian.AppendUint16(dst, uint16(block))
}

// AppendError appends an ERROR packet. The message is cut so the
// packet never exceeds MaxPacketSize.
func AppendError(dst []byte, code ErrorCode, msg string) []byte {
	if len(msg) > BlockSize-1 {
		msg = msg[:BlockSize-1]
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(OpERROR))
	dst = binary.BigEndian.AppendUint16(dst, uint16(code))
	dst = append(dst, msg...)
	return append(dst, 0)
}

func expectOpcode(b []byte, expected Opcode) error {
	op, err := PeekOpcode(b)
	if err != nil {
		return err
	}
	if op != expected {
		return &ParseError{Field: "opcode", Offset: 0, Reason: fmt.Sprintf("expect %s, got %s", expected, op)}
	}
	return nil
}

func cstring(b []byte, off int, field string) (string, int, error) {
	if off >= len(b) {
		return "", off, &ParseError{Field: field, Offset: off, Reason: "missing"}
	}
	end := bytes.IndexByte(b[off:], 0)
	if end < 0 {
		return "", off, &ParseError{Field: field, Offset: off, Reason: "not NUL terminated"}
	}
	return string(b[off : off+end]), off + end + 1, nil
}
