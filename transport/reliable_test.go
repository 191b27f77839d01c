package transport

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"net"
	"os"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// trickleWriter accepts at most step bytes per call, like a congested socket.
type trickleWriter struct {
	buf  bytes.Buffer
	step int
}

func (w *trickleWriter) Write(p []byte) (int, error) {
	if len(p) > w.step {
		p = p[:w.step]
	}
	return w.buf.Write(p)
}

// trickleReader hands out at most step bytes per call.
type trickleReader struct {
	data []byte
	step int
}

func (r *trickleReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), r.step, len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// interruptingConn fails every other call with EINTR before moving any data.
type interruptingConn struct {
	r     io.Reader
	w     io.Writer
	calls int
}

func (c *interruptingConn) Read(p []byte) (int, error) {
	c.calls++
	if c.calls%2 == 1 {
		return 0, unix.EINTR
	}
	return c.r.Read(p)
}

func (c *interruptingConn) Write(p []byte) (int, error) {
	c.calls++
	if c.calls%2 == 1 {
		return 0, &os.SyscallError{Syscall: "write", Err: unix.EINTR}
	}
	return c.w.Write(p)
}

type stuckReader struct{}

func (stuckReader) Read([]byte) (int, error) { return 0, nil }

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestSendAllShortWrites(t *testing.T) {
	data := payload(1000)
	for _, step := range []int{1, 3, 7, 999, 1000, 4096} {
		w := &trickleWriter{step: step}
		n, err := SendAll(w, data)
		require.NoError(t, err, "step %d", step)
		assert.Equal(t, len(data), n)
		assert.Equal(t, data, w.buf.Bytes())
	}
}

func TestRecvAllShortReads(t *testing.T) {
	data := payload(1000)
	for _, step := range []int{1, 2, 13, 1000} {
		buf := make([]byte, len(data))
		n, err := RecvAll(&trickleReader{data: data, step: step}, buf)
		require.NoError(t, err, "step %d", step)
		assert.Equal(t, len(data), n)
		assert.Equal(t, data, buf)
	}
}

func TestRecvAllRandomChunks(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		data := payload(1 + rng.Intn(5000))
		one := make([]byte, len(data))
		_, err := RecvAll(bytes.NewReader(data), one)
		require.NoError(t, err)

		many := make([]byte, len(data))
		_, err = RecvAll(&trickleReader{data: data, step: 1 + rng.Intn(17)}, many)
		require.NoError(t, err)
		assert.Equal(t, one, many)
	}
}

func TestRecvAllClosedEarly(t *testing.T) {
	buf := make([]byte, 24)
	n, err := RecvAll(&trickleReader{data: payload(19), step: 7}, buf)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 19, n)
}

func TestRecvAllFinalBytesWithEOF(t *testing.T) {
	r := iotest.DataErrReader(bytes.NewReader([]byte("abc")))
	buf := make([]byte, 3)
	n, err := RecvAll(r, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestInterruptedCallsAreRetried(t *testing.T) {
	data := payload(64)

	var out bytes.Buffer
	wc := &interruptingConn{w: &out}
	n, err := SendAll(wc, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, out.Bytes())

	rc := &interruptingConn{r: &trickleReader{data: data, step: 5}}
	buf := make([]byte, len(data))
	n, err = RecvAll(rc, buf)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf)
}

func TestRecvAllNoProgress(t *testing.T) {
	_, err := RecvAll(stuckReader{}, make([]byte, 4))
	assert.ErrorIs(t, err, ErrNoProgress)
}

func TestRecvAllPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	r := io.MultiReader(bytes.NewReader([]byte{1, 2}), errReader{boom})
	n, err := RecvAll(r, make([]byte, 8))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, n)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestRecvAllocates(t *testing.T) {
	data := payload(12)
	buf, n, err := Recv(bytes.NewReader(data), 12)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, data, buf)

	buf, n, err = Recv(bytes.NewReader(data[:5]), 12)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, buf)
	assert.Equal(t, 5, n)
}

func socketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	conns := make([]net.Conn, 2)
	for i, fd := range fds {
		f := os.NewFile(uintptr(fd), "socketpair")
		c, err := net.FileConn(f)
		f.Close()
		require.NoError(t, err)
		conns[i] = c
	}
	t.Cleanup(func() {
		conns[0].Close()
		conns[1].Close()
	})
	return conns[0], conns[1]
}

func TestSocketPairLargeTransfer(t *testing.T) {
	a, b := socketPair(t)
	data := payload(4 << 20)

	errc := make(chan error, 1)
	go func() {
		_, err := SendAll(a, data)
		errc <- err
	}()

	buf := make([]byte, len(data))
	n, err := RecvAll(b, buf)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	assert.Equal(t, len(data), n)
	assert.True(t, bytes.Equal(data, buf))
}

func TestSocketPairPeerClosed(t *testing.T) {
	a, b := socketPair(t)
	go func() {
		SendAll(a, payload(10))
		a.Close()
	}()

	n, err := RecvAll(b, make([]byte, 24))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 10, n)
}
