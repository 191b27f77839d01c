// Package protocol defines the sockopt wire format shared by the control-plane
// client and the data-plane server.
//
// Every transaction is one request frame followed by one reply frame on a fresh
// Unix-domain stream connection. Both headers are fixed-size and use host-native
// byte order with C natural alignment, since both peers always run on the same host.
// Padding bytes are written as zero and ignored on receive.
//
// Request header (24 bytes):
//
//	0         4         8   9              16                  24
//	┌─────────┬─────────┬───┬──────────────┬───────────────────┐
//	│ version │ cmd id  │op │   padding    │     body_len      │
//	│  u32    │  i32    │u8 │   7 bytes    │       u64         │
//	└─────────┴─────────┴───┴──────────────┴───────────────────┘
//
// Reply header (88 bytes):
//
//	0         4         8         12                 76    80           88
//	┌─────────┬─────────┬─────────┬──────────────────┬─────┬────────────┐
//	│ version │ cmd id  │ errcode │  errstr [64]     │ pad │  body_len  │
//	│  u32    │  i32    │  i32    │  NUL padded      │ 4   │    u64     │
//	└─────────┴─────────┴─────────┴──────────────────┴─────┴────────────┘
//
// Each header is followed immediately by body_len raw bytes. A reply with a
// nonzero errcode carries no body.
package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// Version is the only protocol version this package speaks. Peers must match exactly.
	Version uint32 = 1

	RequestHeaderSize = 24
	ReplyHeaderSize   = 88

	// ErrStringSize is the capacity of the reply error string field, including
	// the NUL terminator.
	ErrStringSize = 64
	// MaxErrStringLen is the longest error text that survives encoding.
	MaxErrStringLen = ErrStringSize - 1
)

// ByteOrder is the byte order of every multi-byte header field.
var ByteOrder = binary.NativeEndian

// OpKind selects how the server interprets the command id.
type OpKind uint8

const (
	OpUnused OpKind = 0
	OpSet    OpKind = 1 // configure: input body in, no output
	OpGet    OpKind = 2 // query: input body in, output body out
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "SET"
	case OpGet:
		return "GET"
	case OpUnused:
		return "UNUSED"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// RequestHeader is the fixed header the client sends first.
type RequestHeader struct {
	Version   uint32
	CommandID int32
	Kind      OpKind
	BodyLen   uint64
}

// ReplyHeader is the fixed header the server sends first.
type ReplyHeader struct {
	Version   uint32
	CommandID int32 // echo of the request command id
	ErrCode   int32 // 0 on success
	ErrString string
	BodyLen   uint64
}

// NewRequestHeader fills a request header for the current protocol version.
func NewRequestHeader(kind OpKind, cmd int32, bodyLen int) *RequestHeader {
	return &RequestHeader{
		Version:   Version,
		CommandID: cmd,
		Kind:      kind,
		BodyLen:   uint64(bodyLen),
	}
}

// MarshalTo writes h into buf, which must hold RequestHeaderSize bytes.
func (h *RequestHeader) MarshalTo(buf []byte) {
	_ = buf[RequestHeaderSize-1]
	clear(buf[:RequestHeaderSize])
	ByteOrder.PutUint32(buf[0:4], h.Version)
	ByteOrder.PutUint32(buf[4:8], uint32(h.CommandID))
	buf[8] = byte(h.Kind)
	ByteOrder.PutUint64(buf[16:24], h.BodyLen)
}

// Marshal returns the wire form of h.
func (h *RequestHeader) Marshal() []byte {
	buf := make([]byte, RequestHeaderSize)
	h.MarshalTo(buf)
	return buf
}

// UnmarshalRequestHeader decodes a request header. It checks only the size;
// version and kind validation is left to the receiver.
func UnmarshalRequestHeader(buf []byte) (*RequestHeader, error) {
	if len(buf) != RequestHeaderSize {
		return nil, fmt.Errorf("protocol: invalid request header length: %d", len(buf))
	}
	return &RequestHeader{
		Version:   ByteOrder.Uint32(buf[0:4]),
		CommandID: int32(ByteOrder.Uint32(buf[4:8])),
		Kind:      OpKind(buf[8]),
		BodyLen:   ByteOrder.Uint64(buf[16:24]),
	}, nil
}

// MarshalTo writes h into buf, which must hold ReplyHeaderSize bytes.
// The error string is truncated as described by EncodeErrString.
func (h *ReplyHeader) MarshalTo(buf []byte) {
	_ = buf[ReplyHeaderSize-1]
	clear(buf[:ReplyHeaderSize])
	ByteOrder.PutUint32(buf[0:4], h.Version)
	ByteOrder.PutUint32(buf[4:8], uint32(h.CommandID))
	ByteOrder.PutUint32(buf[8:12], uint32(h.ErrCode))
	es := EncodeErrString(h.ErrString)
	copy(buf[12:12+ErrStringSize], es[:])
	ByteOrder.PutUint64(buf[80:88], h.BodyLen)
}

// Marshal returns the wire form of h.
func (h *ReplyHeader) Marshal() []byte {
	buf := make([]byte, ReplyHeaderSize)
	h.MarshalTo(buf)
	return buf
}

// UnmarshalReplyHeader decodes a reply header, copying the error string out
// of the fixed field.
func UnmarshalReplyHeader(buf []byte) (*ReplyHeader, error) {
	if len(buf) != ReplyHeaderSize {
		return nil, fmt.Errorf("protocol: invalid reply header length: %d", len(buf))
	}
	return &ReplyHeader{
		Version:   ByteOrder.Uint32(buf[0:4]),
		CommandID: int32(ByteOrder.Uint32(buf[4:8])),
		ErrCode:   int32(ByteOrder.Uint32(buf[8:12])),
		ErrString: DecodeErrString(buf[12 : 12+ErrStringSize]),
		BodyLen:   ByteOrder.Uint64(buf[80:88]),
	}, nil
}
