// Package client is the control-plane side of sockopt: setsockopt/getsockopt
// style calls against a data-plane daemon over its local control socket.
//
// Every call is one transaction on its own connection:
//
//	resolve path → connect → send request → receive reply → close
//
// Nothing is shared between calls, so a Client may be used from many
// goroutines at once. Calls block until the daemon answers unless a timeout
// was configured with WithTimeout.
package client

import (
	"time"

	"go.uber.org/zap"

	"sockopt/codec"
	"sockopt/message"
	"sockopt/protocol"
	"sockopt/transport"
)

type Client struct {
	resolver Resolver
	dialer   transport.Dialer
	timeout  time.Duration
	decoder  message.Decoder
	codec    codec.Codec
	logger   *zap.Logger
}

type Option func(*Client)

// WithTimeout bounds each whole transaction, connect included. A deadline
// hit surfaces as an i/o error. Zero, the default, waits forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithDialer replaces the Unix-domain dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithResolver looks the socket path up per call instead of using a fixed one.
func WithResolver(r Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// WithMaxBody caps the reply body size the client will allocate.
func WithMaxBody(n uint64) Option {
	return func(c *Client) { c.decoder.MaxBody = n }
}

// WithAllocator overrides reply body allocation.
func WithAllocator(a message.Allocator) Option {
	return func(c *Client) { c.decoder.Alloc = a }
}

// WithCodec sets the codec used by SetValue and GetValue.
func WithCodec(cdc codec.Codec) Option {
	return func(c *Client) { c.codec = cdc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the daemon listening on socketPath.
func NewClient(socketPath string, opts ...Option) *Client {
	c := &Client{
		resolver: StaticPath(socketPath),
		codec:    &codec.BinaryCodec{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = transport.UnixDialer{Timeout: c.timeout}
	}
	c.decoder.Logger = c.logger
	return c
}

// Set sends a SET request for cmd with body in. Any reply body is discarded.
func (c *Client) Set(cmd int32, in []byte) error {
	_, err := c.transact(protocol.OpSet, cmd, in, false)
	return err
}

// Get sends a GET request for cmd and returns the reply body. The result is
// nil when the daemon sent no data; otherwise the caller owns it and should
// Release it when done.
func (c *Client) Get(cmd int32, in []byte) (*message.Buffer, error) {
	reply, err := c.transact(protocol.OpGet, cmd, in, true)
	if err != nil {
		return nil, err
	}
	return reply.Body, nil
}

func (c *Client) transact(kind protocol.OpKind, cmd int32, in []byte, wantBody bool) (*message.Reply, error) {
	log := c.logger.With(zap.Stringer("kind", kind), zap.Int32("cmd", cmd))

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}

	path, err := c.resolver.Resolve()
	if err != nil {
		log.Debug("resolve control socket failed", zap.Error(err))
		return nil, protocol.Errorf(protocol.KindIO, "connect", "resolve: %w", err)
	}

	conn, err := c.dialer.Dial(path)
	if err != nil {
		log.Debug("socket msg connection error", zap.String("path", path), zap.Error(err))
		return nil, protocol.Errorf(protocol.KindIO, "connect", "%s: %w", path, err)
	}
	// Closed on every path; a connection that failed mid-frame is never reused.
	defer conn.Close()

	if !deadline.IsZero() {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, protocol.Errorf(protocol.KindIO, "connect", "set deadline: %w", err)
		}
	}

	hdr := protocol.NewRequestHeader(kind, cmd, len(in))
	if err := message.SendMessage(conn, hdr, in); err != nil {
		log.Debug("send request failed", zap.Error(err))
		return nil, err
	}

	reply, err := c.decoder.ReceiveReply(conn, wantBody)
	if err != nil {
		if code, msg, ok := protocol.AsServerError(err); ok {
			log.Debug("server error", zap.Int32("errcode", code), zap.String("errstr", msg))
		} else {
			log.Debug("receive reply failed", zap.Error(err))
		}
		return nil, err
	}
	return reply, nil
}

// SetValue encodes v with the client's codec and sends it as a SET body.
func (c *Client) SetValue(cmd int32, v any) error {
	in, err := c.codec.Encode(v)
	if err != nil {
		return protocol.Errorf(protocol.KindInvalidArgument, "encode", "%w", err)
	}
	return c.Set(cmd, in)
}

// GetValue encodes in, sends a GET, and decodes the reply body into out. A
// reply without data leaves out untouched.
func (c *Client) GetValue(cmd int32, in any, out any) error {
	body, err := c.codec.Encode(in)
	if err != nil {
		return protocol.Errorf(protocol.KindInvalidArgument, "encode", "%w", err)
	}
	buf, err := c.Get(cmd, body)
	if err != nil {
		return err
	}
	defer buf.Release()
	if buf.Empty() || out == nil {
		return nil
	}
	if err := c.codec.Decode(buf.Bytes(), out); err != nil {
		return protocol.Errorf(protocol.KindInvalidArgument, "decode", "%w", err)
	}
	return nil
}
