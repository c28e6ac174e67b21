// Package codec serializes typed request and response values into the raw
// payloads the peer engine carries. The engine itself never looks inside a
// payload.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON  CodecType = 0
	CodecTypeProto CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeProto:
		return "proto"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType, falling back to JSON.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeProto {
		return &ProtoCodec{}
	}
	return &JSONCodec{}
}

// ParseType maps a configuration name ("json", "proto") to a CodecType.
func ParseType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "proto", "protobuf":
		return CodecTypeProto, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}
