package tftp

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// ErrorCode is the code carried by an ERROR packet (RFC 1350).
type ErrorCode uint16

// Error codes
const (
	ErrCodeNotDefined        ErrorCode = 0
	ErrCodeFileNotFound      ErrorCode = 1
	ErrCodeAccessViolation   ErrorCode = 2
	ErrCodeDiskFull          ErrorCode = 3
	ErrCodeIllegalOperation  ErrorCode = 4
	ErrCodeUnknownTransferID ErrorCode = 5
	ErrCodeFileExists        ErrorCode = 6
	ErrCodeNoSuchUser        ErrorCode = 7
)

var errorCodeNames = [...]string{
	"not defined",
	"file not found",
	"access violation",
	"disk full or allocation exceeded",
	"illegal TFTP operation",
	"unknown transfer ID",
	"file already exists",
	"no such user",
}

func (c ErrorCode) String() string {
	if int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return fmt.Sprintf("error code %d", uint16(c))
}

// ErrFileTooLarge is returned by storage when a file exceeds its limit.
var ErrFileTooLarge = errors.New("file too large")

// Error is a TFTP protocol error, either received from a peer or
// returned by a Storage to choose the code sent to the peer.
type Error struct {
	Code    ErrorCode
	Message string
}

// Error implements error.
func (e *Error) Error() string {
	if e.Message == "" {
		return "tftp: " + e.Code.String()
	}
	return fmt.Sprintf("tftp: %s: %s", e.Code, e.Message)
}

// errorFor maps a storage error to the ERROR packet sent to the peer.
func errorFor(err error) *Error {
	var terr *Error
	switch {
	case errors.As(err, &terr):
		return terr
	case errors.Is(err, fs.ErrNotExist):
		return &Error{Code: ErrCodeFileNotFound, Message: ErrCodeFileNotFound.String()}
	case errors.Is(err, fs.ErrPermission):
		return &Error{Code: ErrCodeAccessViolation, Message: ErrCodeAccessViolation.String()}
	case errors.Is(err, fs.ErrExist):
		return &Error{Code: ErrCodeFileExists, Message: ErrCodeFileExists.String()}
	case errors.Is(err, ErrFileTooLarge), errors.Is(err, syscall.ENOSPC):
		return &Error{Code: ErrCodeDiskFull, Message: ErrCodeDiskFull.String()}
	}
	return &Error{Code: ErrCodeNotDefined, Message: err.Error()}
}
