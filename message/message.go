// Package message carries one sockopt transaction across the wire: it frames
// requests and replies, decodes them on the other end, and owns the reply body
// buffer until it is handed to the caller.
//
//	client                              server
//	SendMessage(req hdr, body) ───────▶ ReceiveRequest
//	Decoder.ReceiveReply ◀───────────── SendReply(reply hdr, body)
package message

import (
	"errors"

	"sockopt/protocol"
)

// Request is one decoded request frame as seen by the server.
type Request struct {
	Header protocol.RequestHeader
	Body   []byte
	Peer   Peer
}

// Peer identifies the process on the other end of the socket. Fields are zero
// when the platform cannot report them.
type Peer struct {
	PID int32
	UID uint32
	GID uint32
}

// Response is a server handler's answer. A nonzero Code suppresses Body on the wire.
type Response struct {
	Code      int32
	ErrString string
	Body      []byte
}

// OK builds a successful response carrying body.
func OK(body []byte) *Response {
	return &Response{Body: body}
}

// Fail builds an error response.
func Fail(code int32, errString string) *Response {
	return &Response{Code: code, ErrString: errString}
}

// FailErr maps err to an error response. Server errors keep their code and
// message; other sockopt errors use the matching negative code.
func FailErr(err error) *Response {
	if err == nil {
		return OK(nil)
	}
	if code, msg, ok := protocol.AsServerError(err); ok {
		return Fail(code, msg)
	}
	var e *protocol.Error
	if errors.As(err, &e) && e.Message != "" && e.Err == nil {
		return Fail(protocol.Code(err), e.Message)
	}
	return Fail(protocol.Code(err), err.Error())
}

// Reply is a decoded reply as seen by the client. Body is nil unless the
// caller asked for it and the server sent one.
type Reply struct {
	Header protocol.ReplyHeader
	Body   *Buffer
}
