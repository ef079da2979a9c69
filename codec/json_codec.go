package codec

import (
	"encoding/json"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// JSONCodec writes JSON. Protobuf messages go through protojson so their
// field names and well-known types follow the proto JSON mapping; any other
// value uses encoding/json.
type JSONCodec struct{}

// Encode marshals v to JSON.
func (c *JSONCodec) Encode(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

// Decode unmarshals JSON data into v, ignoring unknown proto fields.
func (c *JSONCodec) Decode(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

// Type returns CodecTypeJSON.
func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
