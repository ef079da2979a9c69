// Package protocol implements the request framing of krpc.
//
// A request is the serialized RPCHeader prefixed by its length as a protobuf
// varint32, followed by the serialized arguments. The header carries the
// argument length, so the receiver reads the prefix, then the header, then
// exactly ArgsSize bytes:
//
//	┌──────────────┬──────────────────────────┬───────────────────────┐
//	│ varint32 hlen│ RPCHeader (hlen bytes)   │ args (ArgsSize bytes) │
//	│ 1..5 bytes   │ service, method, argsize │ serialized request    │
//	└──────────────┴──────────────────────────┴───────────────────────┘
//
// Responses carry no framing: the provider writes the serialized response
// message and the caller parses whatever one read returns.
package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"krpc/message"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// MaxHeaderSize bounds the header length accepted by Decode.
	MaxHeaderSize = 64 * 1024
	// MaxArgsSize bounds the argument length accepted by Decode.
	MaxArgsSize = 64 * 1024 * 1024
)

var (
	ErrHeaderTooLarge = errors.New("protocol: header too large")
	ErrArgsTooLarge   = errors.New("protocol: args too large")
	ErrArgsMismatch   = errors.New("protocol: args_size does not match payload")
)

// AppendFrame appends the complete request frame for h and args to b.
// h.ArgsSize must equal len(args).
func AppendFrame(b []byte, h *message.RPCHeader, args []byte) ([]byte, error) {
	if uint64(len(args)) > math.MaxUint32 || h.ArgsSize != uint32(len(args)) {
		return nil, fmt.Errorf("%w: header says %d, payload is %d bytes", ErrArgsMismatch, h.ArgsSize, len(args))
	}
	header := h.AppendBinary(nil)
	if len(header) > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, len(header))
	}
	b = protowire.AppendVarint(b, uint64(len(header)))
	b = append(b, header...)
	b = append(b, args...)
	return b, nil
}

// NewFrame builds the request frame for the given method and arguments.
func NewFrame(service, method string, args []byte) ([]byte, error) {
	h := message.RPCHeader{
		ServiceName: service,
		MethodName:  method,
		ArgsSize:    uint32(len(args)),
	}
	return AppendFrame(make([]byte, 0, len(service)+len(method)+len(args)+16), &h, args)
}

// Encode writes one request frame to w in a single Write call.
func Encode(w io.Writer, h *message.RPCHeader, args []byte) error {
	frame, err := AppendFrame(nil, h, args)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Decode reads one request frame from r. It returns io.EOF when r is
// exhausted cleanly before a new frame starts.
func Decode(r *bufio.Reader) (*message.RPCHeader, []byte, error) {
	headerLen, err := binary.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, io.EOF
		}
		return nil, nil, fmt.Errorf("protocol: read header length: %w", err)
	}
	if headerLen > MaxHeaderSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerLen)
	}

	headerBuf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, fmt.Errorf("protocol: read header: %w", err)
	}
	h := new(message.RPCHeader)
	if err := h.UnmarshalBinary(headerBuf); err != nil {
		return nil, nil, err
	}
	if h.ArgsSize > MaxArgsSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrArgsTooLarge, h.ArgsSize)
	}

	args := make([]byte, h.ArgsSize)
	if _, err := io.ReadFull(r, args); err != nil {
		return nil, nil, fmt.Errorf("protocol: read args: %w", err)
	}
	return h, args, nil
}
