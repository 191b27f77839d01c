package message

import (
	"io"

	"sockopt/protocol"
	"sockopt/transport"
)

// SendMessage writes a request header and then, if body is non-empty, the body.
// The header must already carry BodyLen == len(body).
//
// A failed send leaves the stream in an unknown state; the caller must close
// the connection rather than retry on it.
func SendMessage(w io.Writer, h *protocol.RequestHeader, body []byte) error {
	if h == nil {
		return protocol.Errorf(protocol.KindInvalidArgument, "send", "empty socket msg header")
	}
	if h.BodyLen != uint64(len(body)) {
		return protocol.Errorf(protocol.KindInvalidArgument, "send",
			"header body length %d does not match body of %d bytes", h.BodyLen, len(body))
	}

	var hdr [protocol.RequestHeaderSize]byte
	h.MarshalTo(hdr[:])
	return sendFrame(w, hdr[:], body)
}

// SendReply writes a reply header and body. A nonzero ErrCode forces an empty body.
func SendReply(w io.Writer, h *protocol.ReplyHeader, body []byte) error {
	if h == nil {
		return protocol.Errorf(protocol.KindInvalidArgument, "send", "empty reply msg header")
	}
	if h.ErrCode != protocol.CodeOK {
		body = nil
	}
	out := *h
	out.BodyLen = uint64(len(body))

	var hdr [protocol.ReplyHeaderSize]byte
	out.MarshalTo(hdr[:])
	return sendFrame(w, hdr[:], body)
}

func sendFrame(w io.Writer, hdr, body []byte) error {
	if n, err := transport.SendAll(w, hdr); err != nil {
		return protocol.Errorf(protocol.KindIO, "send header", "%d/%d sent: %w", n, len(hdr), err)
	}
	if len(body) > 0 {
		if n, err := transport.SendAll(w, body); err != nil {
			return protocol.Errorf(protocol.KindIO, "send body", "%d/%d sent: %w", n, len(body), err)
		}
	}
	return nil
}
