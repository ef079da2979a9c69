// Package message defines RPCHeader, the metadata block that precedes the
// serialized arguments of every request.
//
// The header is encoded with the protobuf wire format so that any provider
// built against the same schema can parse it:
//
//	field 1  service_name  string
//	field 2  method_name   string
//	field 3  args_size     uint32 (varint)
//
// Zero values are omitted, as a proto3 encoder does.
package message

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldServiceName protowire.Number = 1
	fieldMethodName  protowire.Number = 2
	fieldArgsSize    protowire.Number = 3
)

// ErrInvalidHeader is returned for bytes that are not a valid RPCHeader.
var ErrInvalidHeader = errors.New("message: invalid rpc header")

// RPCHeader describes one request on the wire.
//
//   - ServiceName, MethodName select the method on the provider.
//   - ArgsSize is the exact byte length of the argument payload that follows
//     the header; argument messages are not self-delimiting.
type RPCHeader struct {
	ServiceName string
	MethodName  string
	ArgsSize    uint32
}

// MarshalBinary encodes the header. It never fails; the error exists to
// satisfy encoding.BinaryMarshaler.
func (h *RPCHeader) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(nil), nil
}

// AppendBinary appends the encoded header to b.
func (h *RPCHeader) AppendBinary(b []byte) []byte {
	if h.ServiceName != "" {
		b = protowire.AppendTag(b, fieldServiceName, protowire.BytesType)
		b = protowire.AppendString(b, h.ServiceName)
	}
	if h.MethodName != "" {
		b = protowire.AppendTag(b, fieldMethodName, protowire.BytesType)
		b = protowire.AppendString(b, h.MethodName)
	}
	if h.ArgsSize != 0 {
		b = protowire.AppendTag(b, fieldArgsSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.ArgsSize))
	}
	return b
}

// UnmarshalBinary decodes data into h. Unknown fields are skipped.
func (h *RPCHeader) UnmarshalBinary(data []byte) error {
	*h = RPCHeader{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidHeader, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldServiceName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("%w: service_name: %v", ErrInvalidHeader, protowire.ParseError(n))
			}
			h.ServiceName = v
			data = data[n:]
		case num == fieldMethodName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("%w: method_name: %v", ErrInvalidHeader, protowire.ParseError(n))
			}
			h.MethodName = v
			data = data[n:]
		case num == fieldArgsSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: args_size: %v", ErrInvalidHeader, protowire.ParseError(n))
			}
			if v > math.MaxUint32 {
				return fmt.Errorf("%w: args_size %d overflows uint32", ErrInvalidHeader, v)
			}
			h.ArgsSize = uint32(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrInvalidHeader, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// Path returns the registry node path "/{service}/{method}" for the header.
func (h *RPCHeader) Path() string {
	return "/" + h.ServiceName + "/" + h.MethodName
}
