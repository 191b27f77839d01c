// Package transport moves exact byte counts over a stream connection and opens
// the one-shot Unix-domain connections the sockopt client uses.
//
// A stream socket may accept or deliver fewer bytes than asked on any call.
// SendAll and RecvAll keep going with the remainder until the whole span is
// transferred, the peer closes, or a real error occurs:
//
//	want 24 ──write──▶ 10 ──write──▶ 24 ✓
//	want 24 ──read───▶  7 ──read───▶ 19 ──read──▶ EOF ✗ (ErrClosed, n=19)
//
// Interrupted system calls (EINTR) are retried and never surfaced.
package transport

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// ErrClosed means the peer closed the stream before the full span was transferred.
var ErrClosed = errors.New("transport: connection closed before transfer completed")

// ErrNoProgress is returned when the underlying reader or writer keeps
// reporting zero bytes without an error.
var ErrNoProgress = errors.New("transport: no progress")

// maxEmptyCalls bounds consecutive (0, nil) results, mirroring io.ReadFull's
// defence against misbehaving readers.
const maxEmptyCalls = 100

// SendAll writes all of b to w. It returns the number of bytes written, which
// equals len(b) exactly when err is nil.
func SendAll(w io.Writer, b []byte) (int, error) {
	sent, empty := 0, 0
	for sent < len(b) {
		n, err := w.Write(b[sent:])
		if n < 0 || n > len(b)-sent {
			return sent, io.ErrShortWrite
		}
		sent += n
		if err != nil {
			if isInterrupted(err) {
				continue
			}
			if isClosed(err) {
				return sent, errors.Join(ErrClosed, err)
			}
			return sent, err
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyCalls {
				return sent, ErrNoProgress
			}
			continue
		}
		empty = 0
	}
	return sent, nil
}

// RecvAll fills buf from r. It returns the number of bytes read, which equals
// len(buf) exactly when err is nil. End of stream before buf is full is ErrClosed.
func RecvAll(r io.Reader, buf []byte) (int, error) {
	got, empty := 0, 0
	for got < len(buf) {
		n, err := r.Read(buf[got:])
		if n < 0 || n > len(buf)-got {
			return got, errors.New("transport: invalid read count")
		}
		got += n
		if got == len(buf) {
			// A reader may return the final bytes together with io.EOF.
			return got, nil
		}
		if err != nil {
			if isInterrupted(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return got, ErrClosed
			}
			if isClosed(err) {
				return got, errors.Join(ErrClosed, err)
			}
			return got, err
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyCalls {
				return got, ErrNoProgress
			}
			continue
		}
		empty = 0
	}
	return got, nil
}

// Recv allocates n bytes and fills them from r.
func Recv(r io.Reader, n int) ([]byte, int, error) {
	buf := make([]byte, n)
	got, err := RecvAll(r, buf)
	if err != nil {
		return nil, got, err
	}
	return buf, got, nil
}

func isInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

func isClosed(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}
