package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a failed transaction so callers can pick a remedy:
// restart the daemon (IO), fix the arguments (Server, InvalidArgument), or
// upgrade one side (VersionMismatch).
type Kind int

const (
	KindInvalidArgument Kind = iota + 1
	KindIO
	KindOutOfMemory
	KindVersionMismatch
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindIO:
		return "i/o error"
	case KindOutOfMemory:
		return "out of memory"
	case KindVersionMismatch:
		return "version mismatch"
	case KindServer:
		return "server error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrInvalidArgument = errors.New("sockopt: invalid argument")
	ErrIO              = errors.New("sockopt: i/o error")
	ErrOutOfMemory     = errors.New("sockopt: out of memory")
	ErrVersionMismatch = errors.New("sockopt: version mismatch")
	ErrServer          = errors.New("sockopt: server error")
)

// Numeric result codes. They double as reply errcode values the reference
// server emits for its own failures, so the value space overlaps on purpose
// with what a peer may report.
const (
	CodeOK              int32 = 0
	CodeInvalidArgument int32 = -1
	CodeIO              int32 = -2
	CodeOutOfMemory     int32 = -3
	CodeVersionMismatch int32 = -4
	CodeNotSupported    int32 = -5
	CodeTimeout         int32 = -6
	CodeBusy            int32 = -7
	CodeInternal        int32 = -8
)

// Error is the failure type returned by every layer.
type Error struct {
	Kind Kind
	// Op names the phase that failed: "connect", "send header", "recv body", ...
	Op string
	// Code and Message carry the peer's errcode and errstr for KindServer.
	Code    int32
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := "sockopt"
	if e.Op != "" {
		msg += " " + e.Op
	}
	switch {
	case e.Kind == KindServer:
		msg += fmt.Sprintf(": server error %d", e.Code)
		if e.Message != "" {
			msg += ": " + e.Message
		}
	case e.Message != "":
		msg += ": " + e.Kind.String() + ": " + e.Message
	default:
		msg += ": " + e.Kind.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindIO:
		return ErrIO
	case KindOutOfMemory:
		return ErrOutOfMemory
	case KindVersionMismatch:
		return ErrVersionMismatch
	case KindServer:
		return ErrServer
	}
	return nil
}

// Errorf builds an *Error of the given kind. When format wraps an error with
// %w the formatted error is kept as Err so errors.Is still reaches the cause.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	formatted := fmt.Errorf(format, args...)
	if errors.Unwrap(formatted) != nil {
		return &Error{Kind: kind, Op: op, Err: formatted}
	}
	return &Error{Kind: kind, Op: op, Message: formatted.Error()}
}

// ServerError reports a nonzero errcode returned by the peer.
func ServerError(code int32, message string) *Error {
	return &Error{Kind: KindServer, Code: code, Message: message}
}

// AsServerError extracts the peer's code and message from err.
func AsServerError(err error) (code int32, message string, ok bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindServer {
		return e.Code, e.Message, true
	}
	return 0, "", false
}

// Code maps err to the numeric result a C caller would have seen:
// 0 for nil, the peer's errcode for server errors, a negative Code* value otherwise.
func Code(err error) int32 {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if !errors.As(err, &e) {
		return CodeInternal
	}
	switch e.Kind {
	case KindServer:
		return e.Code
	case KindInvalidArgument:
		return CodeInvalidArgument
	case KindIO:
		return CodeIO
	case KindOutOfMemory:
		return CodeOutOfMemory
	case KindVersionMismatch:
		return CodeVersionMismatch
	}
	return CodeInternal
}

// CodeText is a short description of the negative codes this package defines.
func CodeText(code int32) string {
	switch code {
	case CodeOK:
		return "ok"
	case CodeInvalidArgument:
		return "invalid argument"
	case CodeIO:
		return "i/o error"
	case CodeOutOfMemory:
		return "no memory"
	case CodeVersionMismatch:
		return "version mismatch"
	case CodeNotSupported:
		return "not supported"
	case CodeTimeout:
		return "timeout"
	case CodeBusy:
		return "busy"
	case CodeInternal:
		return "internal error"
	}
	return fmt.Sprintf("error %d", code)
}
