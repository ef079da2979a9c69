package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtoCodec serializes generated protobuf messages.
type ProtoCodec struct{}

// Encode marshals a proto.Message.
func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("ProtoCodec: %T is not a proto.Message", v)
	}
	return proto.Marshal(m)
}

// Decode unmarshals data into a proto.Message.
func (c *ProtoCodec) Decode(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("ProtoCodec: %T is not a proto.Message", v)
	}
	return proto.Unmarshal(data, m)
}

// Type returns CodecTypeProto.
func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}
