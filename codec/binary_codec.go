package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"sockopt/protocol"
)

// BinaryCodec lays out fixed-size values the way the data plane's C structs
// are laid out: host byte order, fields in declaration order. Padding must be
// spelled out as explicit blank fields (`_ [3]byte`).
//
// []byte passes through unchanged, so raw payloads can share the same path.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	}
	size := binary.Size(v)
	if size < 0 {
		return nil, fmt.Errorf("BinaryCodec: %T has no fixed size", v)
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := binary.Write(buf, protocol.ByteOrder, v); err != nil {
		return nil, fmt.Errorf("BinaryCodec: encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Decode requires data to be exactly the size of *v. A *[]byte receives a copy.
func (c *BinaryCodec) Decode(data []byte, v any) error {
	if raw, ok := v.(*[]byte); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("BinaryCodec: %T has no fixed size", v)
	}
	if size != len(data) {
		return fmt.Errorf("BinaryCodec: %T needs %d bytes, got %d", v, size, len(data))
	}
	if err := binary.Read(bytes.NewReader(data), protocol.ByteOrder, v); err != nil {
		return fmt.Errorf("BinaryCodec: decode %T: %w", v, err)
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
