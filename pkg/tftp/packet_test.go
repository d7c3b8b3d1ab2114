package tftp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	testCases := []struct {
		name   string
		in     []byte
		expect *Request
		field  string
	}{
		{
			name:   "read request",
			in:     []byte("\x00\x01firmware.bin\x00octet\x00"),
			expect: &Request{Op: OpRRQ, Filename: "firmware.bin", ModeName: "octet"},
		},
		{
			name:   "write request with options",
			in:     []byte("\x00\x02a.txt\x00netascii\x00blksize\x001428\x00"),
			expect: &Request{Op: OpWRQ, Filename: "a.txt", ModeName: "netascii"},
		},
		{
			name:  "filename not terminated",
			in:    []byte("\x00\x01firmware.bin"),
			field: "filename",
		},
		{
			name:  "mode missing",
			in:    []byte("\x00\x01firmware.bin\x00"),
			field: "mode",
		},
		{
			name:  "mode not terminated",
			in:    []byte("\x00\x01firmware.bin\x00octet"),
			field: "mode",
		},
		{
			name:  "empty filename",
			in:    []byte("\x00\x01\x00octet\x00"),
			field: "filename",
		},
		{
			name:  "not a request",
			in:    []byte("\x00\x04\x00\x01"),
			field: "opcode",
		},
		{
			name:  "short",
			in:    []byte{0},
			field: "opcode",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := ParseRequest(tc.in)
			if tc.expect != nil {
				require.NoError(t, err)
				require.Equal(t, tc.expect, req)
				return
			}
			require.Error(t, err)
			perr, ok := err.(*ParseError)
			require.True(t, ok)
			require.Equal(t, tc.field, perr.Field)
		})
	}
}

func TestParseMode(t *testing.T) {
	testCases := []struct {
		in   string
		mode Mode
		ok   bool
	}{
		{"octet", ModeBinary, true},
		{"OCTET", ModeBinary, true},
		{"binary", ModeBinary, true},
		{"netascii", ModeASCII, true},
		{"ascii", ModeASCII, true},
		{"mail", ModeBinary, false},
		{"", ModeBinary, false},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			mode, ok := ParseMode(tc.in)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.mode, mode)
		})
	}
}

func TestParseData(t *testing.T) {
	data, err := ParseData([]byte{0, 3, 0x12, 0x34, 'a', 'b'})
	require.NoError(t, err)
	require.Equal(t, BlockNum(0x1234), data.Block)
	require.Equal(t, []byte("ab"), data.Payload)

	data, err = ParseData([]byte{0, 3, 0, 2})
	require.NoError(t, err)
	require.Empty(t, data.Payload)

	_, err = ParseData([]byte{0, 3, 0})
	require.Error(t, err)

	_, err = ParseData(append([]byte{0, 3, 0, 1}, make([]byte, BlockSize+1)...))
	require.Error(t, err)

	_, err = ParseData([]byte{0, 4, 0, 1})
	require.Error(t, err)
}

func TestParseAck(t *testing.T) {
	block, err := ParseAck([]byte{0, 4, 0xff, 0xff})
	require.NoError(t, err)
	require.Equal(t, BlockNum(65535), block)

	_, err = ParseAck([]byte{0, 4, 0})
	require.Error(t, err)
}

func TestParseErrorPacket(t *testing.T) {
	perr, err := ParseErrorPacket([]byte("\x00\x05\x00\x01not found\x00"))
	require.NoError(t, err)
	require.Equal(t, &Error{Code: ErrCodeFileNotFound, Message: "not found"}, perr)

	perr, err = ParseErrorPacket([]byte("\x00\x05\x00\x02denied"))
	require.NoError(t, err)
	require.Equal(t, "denied", perr.Message)
	require.Equal(t, "tftp: access violation: denied", perr.Error())

	_, err = ParseErrorPacket([]byte{0, 5, 0})
	require.Error(t, err)
}

func TestAppendPackets(t *testing.T) {
	require.Equal(t, []byte("\x00\x01boot.img\x00octet\x00"), AppendRequest(nil, OpRRQ, "boot.img", ModeBinary))
	require.Equal(t, []byte("\x00\x02a\x00netascii\x00"), AppendRequest(nil, OpWRQ, "a", ModeASCII))
	require.Equal(t, []byte{0, 3, 0, 7, 'x'}, AppendData(nil, 7, []byte("x")))
	require.Equal(t, []byte{0, 4, 1, 0}, AppendAck(nil, 256))
	require.Equal(t, []byte("\x00\x05\x00\x04bad\x00"), AppendError(nil, ErrCodeIllegalOperation, "bad"))

	long := AppendError(nil, ErrCodeNotDefined, string(bytes.Repeat([]byte{'x'}, 1000)))
	require.Len(t, long, MaxPacketSize)
}

func TestBlockNumWraps(t *testing.T) {
	require.Equal(t, BlockNum(2), BlockNum(1).Next())
	require.Equal(t, BlockNum(0), BlockNum(65535).Next())
}
