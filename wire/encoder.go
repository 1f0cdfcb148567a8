package wire

import (
	"github.com/anirudhraja/protoforge/registry"
	"github.com/anirudhraja/protoforge/schema"
)

// Encoder handles low-level protobuf wire format encoding. Output is always
// deterministic: declared fields ascend by number and map entries are
// written in key order.
type Encoder struct {
	buf      []byte
	registry *registry.Registry
}

// NewEncoder creates a new wire format encoder
func NewEncoder() *Encoder {
	return &Encoder{
		buf: make([]byte, 0),
	}
}

// NewEncoderWithRegistry creates an encoder with schema registry
func NewEncoderWithRegistry(reg *registry.Registry) *Encoder {
	return &Encoder{
		buf:      make([]byte, 0),
		registry: reg,
	}
}

// Bytes returns the encoded bytes
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Reset clears the encoder buffer
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// EncodeMessage encodes a message using schema - main entry point
func EncodeMessage(data map[string]interface{}, msg *schema.Message, reg *registry.Registry) ([]byte, error) {
	encoder := NewEncoderWithRegistry(reg)
	me := NewMessageEncoder(encoder)
	if err := me.EncodeMessage(data, msg); err != nil {
		return nil, err
	}
	return encoder.Bytes(), nil
}
