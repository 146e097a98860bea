// Package modemerr defines the error kinds the modem simulator's core
// distinguishes: configuration problems, I/O failures, serial decode
// noise, unknown commands, and malformed command parameters.
package modemerr

import "errors"

// Kind classifies an error for callers that need to branch on it via
// Is (e.g. telling a ConfigError apart from an IoError).
type Kind int

const (
	// KindConfig covers bad serial port paths, invalid baud rates, and
	// invalid framing tuples. Fatal at startup.
	KindConfig Kind = iota
	// KindIO covers serial open/close/reopen failures and unexpected
	// socket errors (anything but would-block/timeout during close
	// detection).
	KindIO
	// KindDecode covers a serial buffer that isn't valid UTF-8. Never
	// fatal; the bytes are dropped and a warning logged.
	KindDecode
	// KindProtocol covers an unrecognized AT command.
	KindProtocol
	// KindParameter covers malformed arguments to SERVERSTART or
	// CHTTPACT.
	KindParameter
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	case KindDecode:
		return "decode"
	case KindProtocol:
		return "protocol"
	case KindParameter:
		return "parameter"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can use
// errors.Is/As while still printing a useful message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func new(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Config builds a KindConfig error.
func Config(msg string, cause error) error { return new(KindConfig, msg, cause) }

// IO builds a KindIO error.
func IO(msg string, cause error) error { return new(KindIO, msg, cause) }

// Decode builds a KindDecode error.
func Decode(msg string, cause error) error { return new(KindDecode, msg, cause) }

// Protocol builds a KindProtocol error.
func Protocol(msg string, cause error) error { return new(KindProtocol, msg, cause) }

// Parameter builds a KindParameter error.
func Parameter(msg string, cause error) error { return new(KindParameter, msg, cause) }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
