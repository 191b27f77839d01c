package message

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"sockopt/protocol"
	"sockopt/transport"
)

// DefaultMaxBody caps a single body allocation when no limit is configured.
const DefaultMaxBody uint64 = 64 << 20

// Allocator returns a buffer of exactly n bytes, or an error if it cannot.
type Allocator func(n uint64) ([]byte, error)

// Decoder reads replies. The zero value expects protocol.Version and applies
// DefaultMaxBody.
type Decoder struct {
	// Version is the protocol version the reply must carry. Zero means protocol.Version.
	Version uint32
	// MaxBody is the largest reply body the decoder will allocate. Zero means DefaultMaxBody.
	MaxBody uint64
	// Alloc overrides body allocation, mostly for tests.
	Alloc  Allocator
	Logger *zap.Logger
}

// ReceiveReply reads one reply from r.
//
// The header is always read in full first. A nonzero errcode ends the read
// there with a server error: the protocol says no body follows, and any
// body_len the peer put in such a header is ignored rather than waited for.
// Otherwise a body of exactly body_len bytes is allocated and read, and only
// then is the version checked, so the stream has been fully consumed.
//
// The body is handed over only when wantBody is set. On every error path, and
// when the body is not wanted, the decoder releases what it allocated and the
// returned Reply has a nil Body.
//
// An out-of-memory error leaves the body unread on the stream; the
// connection must be abandoned.
func (d *Decoder) ReceiveReply(r io.Reader, wantBody bool) (*Reply, error) {
	log := d.logger()

	var raw [protocol.ReplyHeaderSize]byte
	if n, err := transport.RecvAll(r, raw[:]); err != nil {
		log.Debug("socket msg header recv error", zap.Int("got", n), zap.Int("want", len(raw)), zap.Error(err))
		return nil, protocol.Errorf(protocol.KindIO, "recv header", "%d/%d received: %w", n, len(raw), err)
	}
	hdr, err := protocol.UnmarshalReplyHeader(raw[:])
	if err != nil {
		return nil, protocol.Errorf(protocol.KindIO, "recv header", "%w", err)
	}
	reply := &Reply{Header: *hdr}

	if hdr.ErrCode != protocol.CodeOK {
		if hdr.Version != d.version() {
			return reply, d.versionError(hdr)
		}
		if hdr.BodyLen > 0 {
			log.Warn("body on error reply ignored",
				zap.Int32("cmd", hdr.CommandID), zap.Int32("errcode", hdr.ErrCode), zap.Uint64("body_len", hdr.BodyLen))
		}
		log.Debug("errcode set in socket msg header",
			zap.Int32("cmd", hdr.CommandID), zap.Int32("errcode", hdr.ErrCode), zap.String("errstr", hdr.ErrString))
		return reply, protocol.ServerError(hdr.ErrCode, hdr.ErrString)
	}

	var body *Buffer
	if hdr.BodyLen > 0 {
		data, err := d.alloc(hdr.BodyLen)
		if err != nil {
			log.Debug("no memory for reply body", zap.Uint64("body_len", hdr.BodyLen), zap.Error(err))
			return reply, protocol.Errorf(protocol.KindOutOfMemory, "alloc body", "%d bytes: %w", hdr.BodyLen, err)
		}
		body = &Buffer{data: data}

		if n, err := transport.RecvAll(r, body.data); err != nil {
			body.Release()
			log.Debug("socket msg body recv error", zap.Int("got", n), zap.Uint64("want", hdr.BodyLen), zap.Error(err))
			return reply, protocol.Errorf(protocol.KindIO, "recv body", "%d/%d received: %w", n, hdr.BodyLen, err)
		}
	}

	if hdr.Version != d.version() {
		body.Release()
		return reply, d.versionError(hdr)
	}

	if wantBody {
		reply.Body = body
	} else {
		body.Release()
	}
	return reply, nil
}

func (d *Decoder) version() uint32 {
	if d.Version == 0 {
		return protocol.Version
	}
	return d.Version
}

func (d *Decoder) maxBody() uint64 {
	if d.MaxBody == 0 {
		return DefaultMaxBody
	}
	return d.MaxBody
}

func (d *Decoder) alloc(n uint64) ([]byte, error) {
	if n > d.maxBody() {
		return nil, fmt.Errorf("exceeds limit of %d bytes", d.maxBody())
	}
	if d.Alloc != nil {
		b, err := d.Alloc(n)
		if err != nil {
			return nil, err
		}
		if uint64(len(b)) != n {
			return nil, fmt.Errorf("allocator returned %d bytes", len(b))
		}
		return b, nil
	}
	return make([]byte, n), nil
}

func (d *Decoder) versionError(hdr *protocol.ReplyHeader) error {
	d.logger().Debug("socket msg version not match", zap.Uint32("got", hdr.Version), zap.Uint32("want", d.version()))
	return protocol.Errorf(protocol.KindVersionMismatch, "recv header", "reply version %d, want %d", hdr.Version, d.version())
}

func (d *Decoder) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// ReceiveRequest reads one request frame. A body larger than maxBody is not
// read: the header is returned with an out-of-memory error so the server can
// answer and drop the connection. Version and kind are left to the caller.
func ReceiveRequest(r io.Reader, maxBody uint64) (*Request, error) {
	if maxBody == 0 {
		maxBody = DefaultMaxBody
	}

	var raw [protocol.RequestHeaderSize]byte
	if n, err := transport.RecvAll(r, raw[:]); err != nil {
		return nil, protocol.Errorf(protocol.KindIO, "recv header", "%d/%d received: %w", n, len(raw), err)
	}
	hdr, err := protocol.UnmarshalRequestHeader(raw[:])
	if err != nil {
		return nil, protocol.Errorf(protocol.KindIO, "recv header", "%w", err)
	}
	req := &Request{Header: *hdr}

	if hdr.BodyLen == 0 {
		return req, nil
	}
	if hdr.BodyLen > maxBody {
		return req, protocol.Errorf(protocol.KindOutOfMemory, "alloc body", "%d bytes exceeds limit of %d", hdr.BodyLen, maxBody)
	}
	req.Body = make([]byte, hdr.BodyLen)
	if n, err := transport.RecvAll(r, req.Body); err != nil {
		req.Body = nil
		return req, protocol.Errorf(protocol.KindIO, "recv body", "%d/%d received: %w", n, hdr.BodyLen, err)
	}
	return req, nil
}
