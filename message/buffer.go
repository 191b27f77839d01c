package message

// Buffer owns a reply body received from the peer.
//
// Exactly one party holds the bytes at a time. The decoder creates the Buffer
// and either hands it to its caller or releases it before returning. The
// caller reads via Bytes and must eventually call Release, or move the bytes
// out with Take, after which the Buffer is empty.
//
// A nil *Buffer is the "no data" value; every method is safe to call on it.
type Buffer struct {
	data []byte
}

// NewBuffer takes ownership of b. A zero-length b yields nil.
func NewBuffer(b []byte) *Buffer {
	if len(b) == 0 {
		return nil
	}
	return &Buffer{data: b}
}

// Bytes returns the held bytes without transferring ownership. The slice is
// invalid after Release or Take.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the number of held bytes.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Empty reports whether the buffer holds nothing.
func (b *Buffer) Empty() bool { return b.Len() == 0 }

// Take moves the bytes out. The caller owns the returned slice.
func (b *Buffer) Take() []byte {
	if b == nil {
		return nil
	}
	data := b.data
	b.data = nil
	return data
}

// Release zeroes and drops the held bytes. Calling it more than once is harmless.
func (b *Buffer) Release() {
	if b == nil || b.data == nil {
		return
	}
	clear(b.data)
	b.data = nil
}
