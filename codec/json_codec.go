package codec

import (
	"encoding/json"
)

// JSONCodec carries payloads as JSON documents. Daemons built on the server
// package may use it; C data planes expect BinaryCodec layouts.
type JSONCodec struct{}

// Encode returns no body for a nil value rather than "null".
func (c *JSONCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
