package wire

import (
	"fmt"
)

// BytesDecoder handles length-delimited bytes decoding operations
type BytesDecoder struct {
	decoder *Decoder
}

// BytesEncoder handles length-delimited bytes encoding operations
type BytesEncoder struct {
	encoder *Encoder
}

// NewBytesDecoder creates a new bytes decoder
func NewBytesDecoder(d *Decoder) *BytesDecoder {
	return &BytesDecoder{decoder: d}
}

// NewBytesEncoder creates a new bytes encoder
func NewBytesEncoder(e *Encoder) *BytesEncoder {
	return &BytesEncoder{encoder: e}
}

// DECODER METHODS

// readFrame consumes a length prefix and returns the frame it declares,
// aliasing the input buffer. The caller decides whether to copy.
func (bd *BytesDecoder) readFrame() ([]byte, error) {
	vd := NewVarintDecoder(bd.decoder)
	length, err := vd.DecodeVarint()
	if err != nil {
		return nil, fmt.Errorf("failed to decode bytes length: %w", err)
	}

	d := bd.decoder
	if length > uint64(len(d.buf)-d.pos) {
		return nil, fmt.Errorf("%w: declared length %d, have %d bytes", ErrUnexpectedEOF, length, len(d.buf)-d.pos)
	}

	data := d.buf[d.pos : d.pos+int(length)]
	d.pos += int(length)
	return data, nil
}

// DecodeBytes decodes a length-delimited byte array. The result is a copy
// unless the decoder was opened with ZeroCopy.
func (bd *BytesDecoder) DecodeBytes() ([]byte, error) {
	data, err := bd.readFrame()
	if err != nil {
		return nil, err
	}
	if bd.decoder.zeroCopy {
		return data, nil
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// DecodeString decodes a length-delimited string
func (bd *BytesDecoder) DecodeString() (string, error) {
	data, err := bd.readFrame()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeRawBytes decodes bytes without copying (shares buffer)
func (bd *BytesDecoder) DecodeRawBytes() ([]byte, error) {
	return bd.readFrame()
}

// SkipBytes skips over a length-delimited byte array
func (bd *BytesDecoder) SkipBytes() error {
	_, err := bd.readFrame()
	return err
}

// ENCODER METHODS

// EncodeBytes encodes a byte array as length-delimited
func (be *BytesEncoder) EncodeBytes(data []byte) error {
	ve := NewVarintEncoder(be.encoder)
	ve.EncodeVarint(uint64(len(data)))
	be.encoder.buf = append(be.encoder.buf, data...)
	return nil
}

// EncodeString encodes a string as length-delimited bytes
func (be *BytesEncoder) EncodeString(s string) error {
	ve := NewVarintEncoder(be.encoder)
	ve.EncodeVarint(uint64(len(s)))
	be.encoder.buf = append(be.encoder.buf, s...)
	return nil
}

// UTILITY FUNCTIONS

// BytesSize returns the size needed to encode the given bytes
func BytesSize(data []byte) int {
	return VarintSize(uint64(len(data))) + len(data)
}

// StringSize returns the size needed to encode the given string
func StringSize(s string) int {
	return VarintSize(uint64(len(s))) + len(s)
}

// Convenience methods for direct access

// DecodeBytes - convenience method for main decoder
func (d *Decoder) DecodeBytes() ([]byte, error) {
	bd := NewBytesDecoder(d)
	return bd.DecodeBytes()
}

// EncodeBytes - convenience method for main encoder
func (e *Encoder) EncodeBytes(data []byte) error {
	be := NewBytesEncoder(e)
	return be.EncodeBytes(data)
}

// EncodeString - convenience method for main encoder
func (e *Encoder) EncodeString(s string) error {
	be := NewBytesEncoder(e)
	return be.EncodeString(s)
}
