package codec

import "encoding/json"

var (
	_ Codec = (*JSONCodec)(nil)
	_ Codec = (*ProtoCodec)(nil)
)

// JSONCodec carries payloads as JSON documents. It is the default for
// services and clients built without an explicit codec, and the only one the
// calculator example speaks.
type JSONCodec struct{}

// Encode renders v as a compact JSON document.
func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode fills v, which must be a pointer, from a JSON payload.
func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
