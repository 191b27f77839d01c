package client

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sockopt/loadbalance"
	"sockopt/metrics"
	"sockopt/middleware"
	"sockopt/protocol"
	"sockopt/registry"
	"sockopt/server"
	"sockopt/transport"
)

// ---- a daemon module used by the end-to-end tests ----

const (
	cmdSetWeight int32 = 100 + iota
	cmdSetFlags
)

const (
	cmdGetWeight int32 = 100 + iota
	cmdGetEcho
	cmdGetFail
)

type destState struct {
	mu     sync.Mutex
	weight uint32
}

func (d *destState) sockopt() *server.Sockopt {
	return &server.Sockopt{
		Name:   "dest",
		SetMin: cmdSetWeight, SetMax: cmdSetFlags,
		Set: func(_ context.Context, cmd int32, in []byte) error {
			if cmd != cmdSetWeight {
				return protocol.Errorf(protocol.KindInvalidArgument, "set", "flags are read-only")
			}
			if len(in) != 4 {
				return protocol.ServerError(protocol.CodeInvalidArgument, "weight must be 4 bytes")
			}
			d.mu.Lock()
			d.weight = protocol.ByteOrder.Uint32(in)
			d.mu.Unlock()
			return nil
		},
		GetMin: cmdGetWeight, GetMax: cmdGetFail,
		Get: func(_ context.Context, cmd int32, in []byte) ([]byte, error) {
			switch cmd {
			case cmdGetWeight:
				d.mu.Lock()
				defer d.mu.Unlock()
				out := make([]byte, 4)
				protocol.ByteOrder.PutUint32(out, d.weight)
				return out, nil
			case cmdGetEcho:
				return in, nil
			}
			return nil, protocol.ServerError(42, "bad request")
		},
	}
}

func recordingDialer(seen map[string]bool) transport.Dialer {
	var mu sync.Mutex
	return transport.DialerFunc(func(path string) (net.Conn, error) {
		mu.Lock()
		seen[path] = true
		mu.Unlock()
		return net.Dial("unix", path)
	})
}

func startDaemon(t testing.TB, opts ...server.Option) (*server.Server, string) {
	t.Helper()
	svr := server.NewServer(append([]server.Option{server.WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, svr.Register((&destState{}).sockopt()))

	path := socketPath(t)
	errc := make(chan error, 1)
	go func() { errc <- svr.Serve(path) }()
	select {
	case <-svr.Ready():
	case err := <-errc:
		t.Fatalf("serve: %v", err)
	}
	t.Cleanup(func() {
		svr.Shutdown(3 * time.Second)
		<-errc
	})
	return svr, path
}

// TestEndToEnd runs Client → Unix socket → Middleware → Server → module.
func TestEndToEnd(t *testing.T) {
	_, path := startDaemon(t)
	cli := NewClient(path, WithTimeout(2*time.Second))

	require.NoError(t, cli.SetValue(cmdSetWeight, uint32(17)))
	var weight uint32
	require.NoError(t, cli.GetValue(cmdGetWeight, nil, &weight))
	assert.Equal(t, uint32(17), weight)

	buf, err := cli.Get(cmdGetEcho, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf.Take()))

	buf, err = cli.Get(cmdGetEcho, nil)
	require.NoError(t, err)
	assert.Nil(t, buf, "empty reply is no data")

	_, err = cli.Get(cmdGetFail, nil)
	code, msg, ok := protocol.AsServerError(err)
	require.True(t, ok)
	assert.Equal(t, int32(42), code)
	assert.Equal(t, "bad request", msg)

	err = cli.Set(cmdSetFlags, nil)
	code, msg, _ = protocol.AsServerError(err)
	assert.Equal(t, protocol.CodeInvalidArgument, code)
	assert.Equal(t, "flags are read-only", msg)

	err = cli.Set(cmdSetWeight, []byte{1})
	code, _, _ = protocol.AsServerError(err)
	assert.Equal(t, protocol.CodeInvalidArgument, code)

	_, err = cli.Get(999, nil)
	code, _, _ = protocol.AsServerError(err)
	assert.Equal(t, protocol.CodeNotSupported, code)
}

func TestEndToEndMiddleware(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svr := server.NewServer(server.WithMetrics(m))
	svr.Use(middleware.MetricsMiddleware(m))
	svr.Use(middleware.TimeOutMiddleware(time.Second))
	svr.Use(middleware.RecoverMiddleware(zaptest.NewLogger(t)))
	require.NoError(t, svr.Register((&destState{}).sockopt()))
	require.NoError(t, svr.Register(&server.Sockopt{
		Name: "panicky", SetMin: 1, SetMax: 1,
		Set: func(context.Context, int32, []byte) error { panic("boom") },
	}))

	path := socketPath(t)
	errc := make(chan error, 1)
	go func() { errc <- svr.Serve(path) }()
	<-svr.Ready()

	cli := NewClient(path)
	err := cli.Set(1, nil)
	code, msg, ok := protocol.AsServerError(err)
	require.True(t, ok)
	assert.Equal(t, protocol.CodeInternal, code)
	assert.Contains(t, msg, "boom")

	// The server keeps answering after a handler panic.
	require.NoError(t, cli.Set(cmdSetWeight, []byte{0, 0, 0, 0}))
	require.NoError(t, svr.Shutdown(3*time.Second))
	require.NoError(t, <-errc)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("SET", "1", fmt.Sprint(protocol.CodeInternal))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("SET", fmt.Sprint(cmdSetWeight), "0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Connections.WithLabelValues("ok")))
}

func TestConcurrentClients(t *testing.T) {
	_, path := startDaemon(t)
	cli := NewClient(path, WithTimeout(5*time.Second))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 64 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("payload-%d-%s", i, strings.Repeat("x", i*100))
			buf, err := cli.Get(cmdGetEcho, []byte(want))
			if err != nil {
				errs <- err
				return
			}
			defer buf.Release()
			if got := string(buf.Bytes()); got != want {
				errs <- fmt.Errorf("call %d: got %d bytes, want %d", i, len(got), len(want))
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// TestMultiDaemonDiscovery publishes two daemons and spreads calls across both.
func TestMultiDaemonDiscovery(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	_, path1 := startDaemon(t, server.WithRegistry(reg, "fastlb", 10, 10))
	_, path2 := startDaemon(t, server.WithRegistry(reg, "fastlb", 10, 10))

	eps, err := reg.Discover("fastlb")
	require.NoError(t, err)
	require.Len(t, eps, 2)

	seen := map[string]bool{}
	resolver := &RegistryResolver{Registry: reg, Service: "fastlb", Balancer: &loadbalance.RoundRobinBalancer{}}
	cli := NewClient("", WithResolver(resolver), WithDialer(recordingDialer(seen)))
	for i := 1; i <= 10; i++ {
		buf, err := cli.Get(cmdGetEcho, []byte{byte(i)})
		require.NoError(t, err, "request %d", i)
		assert.Equal(t, []byte{byte(i)}, buf.Bytes())
	}
	assert.True(t, seen[path1] && seen[path2], "both daemons must be used: %v", seen)
}

// TestDiscoveryWithEtcd is the same flow against a real etcd.
func TestDiscoveryWithEtcd(t *testing.T) {
	endpoints := os.Getenv("SOCKOPT_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("SOCKOPT_ETCD_ENDPOINTS not set")
	}
	reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	service := fmt.Sprintf("sockopt-test-%d", os.Getpid())
	_, path := startDaemon(t, server.WithRegistry(reg, service, 10, 1))

	cli := NewClient("", WithResolver(&RegistryResolver{Registry: reg, Service: service}))
	buf, err := cli.Get(cmdGetEcho, []byte("etcd"))
	require.NoError(t, err)
	assert.Equal(t, "etcd", string(buf.Bytes()))

	eps, err := reg.Discover(service)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, path, eps[0].Path)
}
