// Package server is a reference data-plane control server for the sockopt
// protocol. Daemons register blocks of command ids, and the server answers
// each connection with exactly one reply.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection)
//	  → ReceiveRequest → version check → Middleware Chain → dispatch by (kind, cmd range)
//	  → SendReply → close
package server

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sockopt/message"
	"sockopt/metrics"
	"sockopt/middleware"
	"sockopt/protocol"
	"sockopt/registry"
)

// Server serves one control socket.
type Server struct {
	sockopts    sockoptTable
	mu          sync.Mutex // guards listener, path and endpoint
	listener    net.Listener
	path        string
	wg          sync.WaitGroup // tracks open connections for graceful shutdown
	shutdown    atomic.Bool    // set before the listener is closed so Accept errors are expected
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	maxBody     uint64
	socketMode  fs.FileMode
	logger      *zap.Logger
	metrics     *metrics.Metrics
	ready       chan struct{}

	registry registry.Registry // nil if not publishing
	service  string
	endpoint registry.Endpoint
	ttl      int64
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxBody caps request bodies; larger ones are refused with CodeOutOfMemory.
func WithMaxBody(n uint64) Option {
	return func(s *Server) { s.maxBody = n }
}

// WithSocketMode sets the permission bits of the socket file.
func WithSocketMode(mode fs.FileMode) Option {
	return func(s *Server) { s.socketMode = mode }
}

// WithMetrics counts connections in m. Request metrics come from middleware.MetricsMiddleware.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRegistry publishes the socket path under service while serving.
func WithRegistry(reg registry.Registry, service string, ttl int64, weight int) Option {
	return func(s *Server) {
		s.registry = reg
		s.service = service
		s.ttl = ttl
		s.endpoint.Weight = weight
	}
}

// NewServer creates a server with no registered commands.
func NewServer(opts ...Option) *Server {
	s := &Server{
		maxBody:    message.DefaultMaxBody,
		socketMode: 0o660,
		logger:     zap.NewNop(),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a block of commands. Ranges may not overlap an existing
// block in the same direction.
func (svr *Server) Register(opt *Sockopt) error {
	if err := svr.sockopts.register(opt); err != nil {
		return err
	}
	svr.logger.Debug("sockopt registered", zap.String("name", opt.Name),
		zap.Int32("set_min", opt.SetMin), zap.Int32("set_max", opt.SetMax),
		zap.Int32("get_min", opt.GetMin), zap.Int32("get_max", opt.GetMax))
	return nil
}

// Unregister removes a block by name.
func (svr *Server) Unregister(name string) bool {
	return svr.sockopts.unregister(name)
}

// Use registers a middleware. Middlewares are applied in the order they are added.
// It must be called before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Ready is closed once the socket is listening.
func (svr *Server) Ready() <-chan struct{} {
	return svr.ready
}

// Path returns the socket path passed to Serve.
func (svr *Server) Path() string {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	return svr.path
}

// Serve listens on the Unix socket at path and handles connections until
// Shutdown. A stale socket file left by a dead daemon is replaced; a live one
// is an error.
func (svr *Server) Serve(path string) error {
	// Build the middleware chain once at startup (not per-request)
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	listener, err := listenUnix(path, svr.socketMode)
	if err != nil {
		return err
	}
	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		listener.Close()
		return nil
	}
	svr.listener = listener
	svr.path = path
	svr.endpoint.ID = endpointID(path)
	svr.endpoint.Path = path
	svr.endpoint.Version = protocol.Version
	svr.mu.Unlock()
	svr.logger.Info("sockopt server listening", zap.String("path", path))

	if svr.registry != nil {
		if err := svr.registry.Register(svr.service, svr.endpoint, svr.ttl); err != nil {
			listener.Close()
			return fmt.Errorf("server: publish endpoint: %w", err)
		}
	}
	close(svr.ready)

	// Accept loop: one goroutine per connection
	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		// Add under mu so it is ordered before Shutdown's Wait.
		svr.mu.Lock()
		if svr.shutdown.Load() {
			svr.mu.Unlock()
			conn.Close()
			return nil
		}
		svr.wg.Add(1)
		svr.mu.Unlock()
		go svr.handleConn(conn)
	}
}

func endpointID(path string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + strconv.FormatUint(uint64(hashPath(path)), 16)
}

func hashPath(path string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(path))
	return h.Sum32()
}

// handleConn runs exactly one transaction and closes the connection.
func (svr *Server) handleConn(conn net.Conn) {
	defer svr.wg.Done()
	defer conn.Close()

	req, err := message.ReceiveRequest(conn, svr.maxBody)
	if err != nil {
		if req == nil || !errors.Is(err, protocol.ErrOutOfMemory) {
			svr.logger.Debug("request recv failed", zap.Error(err))
			svr.metrics.Connection("recv_error")
			return
		}
		// Body left unread: answer, then drop the connection.
		svr.writeReply(conn, &req.Header, message.Fail(protocol.CodeOutOfMemory, "request body too large"))
		svr.metrics.Connection("too_large")
		return
	}
	req.Peer = peerOf(conn)

	if req.Header.Version != protocol.Version {
		svr.logger.Debug("request version not match",
			zap.Uint32("got", req.Header.Version), zap.Uint32("want", protocol.Version), zap.Int32("pid", req.Peer.PID))
		svr.writeReply(conn, &req.Header, message.Fail(protocol.CodeVersionMismatch, "sockopt version not match"))
		svr.metrics.Connection("version_mismatch")
		return
	}

	resp := svr.handler(context.Background(), req)
	if resp == nil {
		resp = message.Fail(protocol.CodeInternal, "no response")
	}
	if svr.writeReply(conn, &req.Header, resp) {
		svr.metrics.Connection("ok")
	} else {
		svr.metrics.Connection("send_error")
	}
}

// writeReply echoes the request's version and command id. Error replies never carry a body.
func (svr *Server) writeReply(conn net.Conn, req *protocol.RequestHeader, resp *message.Response) bool {
	hdr := protocol.ReplyHeader{
		Version:   req.Version,
		CommandID: req.CommandID,
		ErrCode:   resp.Code,
		ErrString: resp.ErrString,
	}
	if err := message.SendReply(conn, &hdr, resp.Body); err != nil {
		svr.logger.Debug("reply send failed", zap.Int32("cmd", req.CommandID), zap.Error(err))
		return false
	}
	return true
}

// dispatch is the innermost handler: it finds the block serving the command
// and runs its set or get func.
func (svr *Server) dispatch(ctx context.Context, req *message.Request) *message.Response {
	kind, cmd := req.Header.Kind, req.Header.CommandID
	if kind != protocol.OpSet && kind != protocol.OpGet {
		return message.Fail(protocol.CodeInvalidArgument, "invalid sockopt type")
	}

	opt := svr.sockopts.lookup(kind, cmd)
	if opt == nil {
		return message.Fail(protocol.CodeNotSupported, fmt.Sprintf("sockopt %s %d not supported", kind, cmd))
	}

	if kind == protocol.OpSet {
		if err := opt.Set(ctx, cmd, req.Body); err != nil {
			return message.FailErr(err)
		}
		return message.OK(nil)
	}

	out, err := opt.Get(ctx, cmd, req.Body)
	if err != nil {
		return message.FailErr(err)
	}
	return message.OK(out)
}

// Shutdown performs graceful shutdown:
//  1. Deregister the endpoint (clients stop resolving to this socket)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener, which also removes the socket file
//  4. Wait for open connections to finish (with timeout)
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	id := svr.endpoint.ID
	svr.mu.Unlock()
	if svr.registry != nil && id != "" {
		if err := svr.registry.Deregister(svr.service, id); err != nil {
			svr.logger.Warn("deregister endpoint failed", zap.Error(err))
		}
	}

	svr.mu.Lock()
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for open connections to finish")
	}
}
