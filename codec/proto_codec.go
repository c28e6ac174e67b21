package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ErrNotProtoMessage is returned when ProtoCodec is handed a value that is
// not a proto.Message.
var ErrNotProtoMessage = errors.New("ProtoCodec: value must implement proto.Message")

// ProtoCodec uses the protobuf binary wire format. Values must be generated
// message types (or well-known types).
type ProtoCodec struct{}

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w, got %T", ErrNotProtoMessage, v)
	}
	return proto.Marshal(m)
}

func (c *ProtoCodec) Decode(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w, got %T", ErrNotProtoMessage, v)
	}
	return proto.Unmarshal(data, m)
}

func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}
