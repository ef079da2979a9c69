// Package codec is the serialization collaborator of the channel and the
// provider: it turns request and response values into bytes and back.
package codec

import "fmt"

// CodecType identifies a Codec.
type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
	CodecTypeProto  CodecType = 2
)

// Codec turns request and response values into bytes and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType, defaulting to protobuf.
func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeJSON:
		return &JSONCodec{}
	case CodecTypeBinary:
		return &BinaryCodec{}
	default:
		return &ProtoCodec{}
	}
}

// String returns the codec name.
func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeProto:
		return "proto"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}
