package codec

import (
	"encoding"
	"fmt"
)

// BinaryCodec serializes values that implement encoding.BinaryMarshaler and
// encoding.BinaryUnmarshaler, such as hand-encoded schema messages.
type BinaryCodec struct{}

// Encode calls v.MarshalBinary.
func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("BinaryCodec: %T does not implement encoding.BinaryMarshaler", v)
	}
	return m.MarshalBinary()
}

// Decode calls v.UnmarshalBinary.
func (c *BinaryCodec) Decode(data []byte, v any) error {
	u, ok := v.(encoding.BinaryUnmarshaler)
	if !ok {
		return fmt.Errorf("BinaryCodec: %T does not implement encoding.BinaryUnmarshaler", v)
	}
	return u.UnmarshalBinary(data)
}

// Type returns CodecTypeBinary.
func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
