// Package dpmierr implements the DPMI error taxonomy: POSIX errno
// propagation for system errors, plus a flat set of library-defined codes
// starting at 0x8000 (spec §6/§7).
package dpmierr

import (
	"fmt"
	"syscall"
)

// Code is a library-defined error code. Values below 0x8000 are reserved
// for POSIX errno passthrough (see Wrap/FromErrno); the library never
// allocates its own codes there.
type Code uint32

const base Code = 0x8000

const (
	CapfileInvalid Code = base + iota
	CapfileTruncated
	CapfileFifoExist
	InvalidProtocol
	InvalidHwaddr
	InvalidMulticast
	InvalidIface
	BufferLength
	BufferMultiple
	NotImplemented
)

var names = map[Code]string{
	CapfileInvalid:   "CAPFILE_INVALID",
	CapfileTruncated: "CAPFILE_TRUNCATED",
	CapfileFifoExist: "CAPFILE_FIFO_EXIST",
	InvalidProtocol:  "INVALID_PROTOCOL",
	InvalidHwaddr:    "INVALID_HWADDR",
	InvalidMulticast: "INVALID_MULTICAST",
	InvalidIface:     "INVALID_IFACE",
	BufferLength:     "BUFFER_LENGTH",
	BufferMultiple:   "BUFFER_MULTIPLE",
	NotImplemented:   "NOT_IMPLEMENTED",
}

// Error is a DPMI library error: a code plus an optional wrapped cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	text := ErrorString(e.Code)
	if e.Msg != "" {
		text = fmt.Sprintf("%s: %s", text, e.Msg)
	}
	if e.Err != nil {
		text = fmt.Sprintf("%s: %s", text, e.Err)
	}
	return text
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a library error with an optional formatted message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Wrap builds a library error that carries an underlying cause (typically
// a syscall/os error from a backend).
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// ErrorString maps a code to its human-readable name: POSIX errno text via
// syscall.Errno.Error() for codes below 0x8000, and the library's own
// constant names above it. Unknown codes above 0x8000 return "UNKNOWN".
func ErrorString(code Code) string {
	if code < base {
		return syscall.Errno(code).Error()
	}
	if name, ok := names[code]; ok {
		return name
	}
	return "UNKNOWN"
}

// FromErrno wraps a raw POSIX errno as a Code for uniform handling
// alongside library codes.
func FromErrno(errno syscall.Errno) Code {
	return Code(errno)
}
