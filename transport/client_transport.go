package transport

import (
	"context"
	"net"
	"time"
)

// DefaultSocketPath is where the data-plane daemon listens unless configured otherwise.
const DefaultSocketPath = "/var/run/fastlb_ctrl"

// Dialer opens the stream connection for one transaction.
type Dialer interface {
	Dial(path string) (net.Conn, error)
}

// UnixDialer dials Unix-domain stream sockets.
type UnixDialer struct {
	// Timeout bounds the connect step only. Zero waits as long as the kernel does.
	Timeout time.Duration
}

func (d UnixDialer) Dial(path string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	return nd.DialContext(context.Background(), "unix", path)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(path string) (net.Conn, error)

func (f DialerFunc) Dial(path string) (net.Conn, error) { return f(path) }
