package wire

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/anirudhraja/protoforge/registry"
	"github.com/anirudhraja/protoforge/schema"
)

// DefaultRecursionLimit bounds message and group nesting when DecodeOptions
// does not say otherwise.
const DefaultRecursionLimit = 100

// DecodeOptions configures a single decode call. The zero value gives the
// defaults: limit 100, no extensions, copied byte values.
type DecodeOptions struct {
	// MaxDepth overrides the nesting limit when positive.
	MaxDepth int
	// Extensions resolves field numbers inside extension ranges. Nil means
	// every in-range number stays an unknown field.
	Extensions *ExtensionRegistry
	// ZeroCopy lets decoded bytes values and preserved unknown fields alias
	// the input buffer instead of copying.
	ZeroCopy bool
}

// Decoder handles low-level protobuf wire format decoding
type Decoder struct {
	buf      []byte
	pos      int
	registry *registry.Registry
	exts     *ExtensionRegistry
	zeroCopy bool
	depth    int // remaining nesting budget
}

// NewDecoder creates a new wire format decoder
func NewDecoder(data []byte) *Decoder {
	return &Decoder{
		buf:   data,
		depth: DefaultRecursionLimit,
	}
}

// NewDecoderWithRegistry creates a decoder with schema registry
func NewDecoderWithRegistry(data []byte, reg *registry.Registry) *Decoder {
	return &Decoder{
		buf:      data,
		registry: reg,
		depth:    DefaultRecursionLimit,
	}
}

// NewDecoderWithOptions creates a decoder with schema registry and per-call
// options.
func NewDecoderWithOptions(data []byte, reg *registry.Registry, opts DecodeOptions) *Decoder {
	d := &Decoder{
		buf:      data,
		registry: reg,
		exts:     opts.Extensions,
		zeroCopy: opts.ZeroCopy,
		depth:    opts.MaxDepth,
	}
	if d.depth <= 0 {
		d.depth = DefaultRecursionLimit
	}
	return d
}

// DecodeMessage decodes protobuf bytes using schema - main entry point
func DecodeMessage(data []byte, msg *schema.Message, reg *registry.Registry) (map[string]interface{}, error) {
	return NewDecoderWithRegistry(data, reg).DecodeWithSchema(msg)
}

// DecodeMessageWithOptions decodes protobuf bytes with per-call options.
func DecodeMessageWithOptions(data []byte, msg *schema.Message, reg *registry.Registry, opts DecodeOptions) (map[string]interface{}, error) {
	return NewDecoderWithOptions(data, reg, opts).DecodeWithSchema(msg)
}

// MergeMessage decodes data on top of an already decoded message. The result
// is identical to decoding the concatenation of both source buffers: singular
// scalars take the last value, singular messages merge field by field,
// repeated fields append.
func MergeMessage(data []byte, into map[string]interface{}, msg *schema.Message, reg *registry.Registry) error {
	return NewDecoderWithRegistry(data, reg).decodeInto(msg, into)
}

// MergeMessageWithOptions is MergeMessage with per-call options.
func MergeMessageWithOptions(data []byte, into map[string]interface{}, msg *schema.Message, reg *registry.Registry, opts DecodeOptions) error {
	return NewDecoderWithOptions(data, reg, opts).decodeInto(msg, into)
}

// DecodeWithSchema decodes the buffer as one message of the given schema.
func (d *Decoder) DecodeWithSchema(msg *schema.Message) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	if err := d.decodeInto(msg, result); err != nil {
		return nil, err
	}
	return result, nil
}

// MergeWithSchema decodes the buffer on top of an existing decoded message.
func (d *Decoder) MergeWithSchema(msg *schema.Message, into map[string]interface{}) error {
	return d.decodeInto(msg, into)
}

// DecodeTag reads and validates a field tag. Field number 0, numbers beyond
// the 29-bit range and wire types 6 and 7 are rejected with ErrInvalidTag.
func (d *Decoder) DecodeTag() (FieldNumber, WireType, error) {
	raw, err := d.DecodeVarint()
	if err != nil {
		return 0, 0, err
	}

	if raw>>3 == 0 || raw>>3 > uint64(MaxFieldNumber) {
		return 0, 0, fmt.Errorf("%w: field number %d", ErrInvalidTag, raw>>3)
	}
	num, wt := ParseTag(Tag(raw))
	if !wt.IsValid() {
		return 0, 0, fmt.Errorf("%w: wire type %d", ErrInvalidTag, wt)
	}
	return num, wt, nil
}

// decodeInto is the merge loop: every decoded field lands in result on top
// of whatever a previous buffer put there.
func (d *Decoder) decodeInto(msg *schema.Message, result map[string]interface{}) error {
	for d.pos < len(d.buf) {
		tagStart := d.pos
		fieldNumber, wireType, err := d.DecodeTag()
		if err != nil {
			return fmt.Errorf("failed to decode message %s: %w", msg.Name, err)
		}
		if wireType == WireEndGroup {
			return fmt.Errorf("failed to decode message %s: %w", msg.Name, ErrUnexpectedEndGroup)
		}

		// Legacy groups are never declared by a schema here; they and any
		// unmatched field number ride along verbatim in the unknown set.
		// Numbers inside an extension range first get a chance to resolve
		// against the injected extension registry.
		if wireType == WireStartGroup {
			if err := d.skipGroup(fieldNumber); err != nil {
				return fmt.Errorf("failed to decode message %s: %w", msg.Name, err)
			}
			appendUnknown(result, UnknownField{Number: fieldNumber, Type: wireType, Raw: d.capture(tagStart)})
			continue
		}

		field := findField(msg, fieldNumber)
		if field == nil {
			if ext := d.resolveExtension(msg, fieldNumber); ext != nil {
				if err := d.decodeFieldInto(result, fieldForExtension(ext), wireType); err != nil {
					return wrapWithField(err, ExtensionKey(ext.FullName))
				}
				continue
			}
			if err := d.skipFieldPayload(fieldNumber, wireType); err != nil {
				return fmt.Errorf("failed to decode message %s: %w", msg.Name, err)
			}
			appendUnknown(result, UnknownField{Number: fieldNumber, Type: wireType, Raw: d.capture(tagStart)})
			continue
		}

		if err := d.decodeFieldInto(result, field, wireType); err != nil {
			return wrapWithField(err, field.Name)
		}
	}

	return nil
}

// decodeFieldInto decodes one occurrence of a known field and stores it with
// merge semantics.
func (d *Decoder) decodeFieldInto(result map[string]interface{}, field *schema.Field, wireType WireType) error {
	if field.Type.Kind == schema.KindMap {
		if wireType != WireBytes {
			return unexpectedWireType(WireBytes, wireType)
		}
		mapDecoder := NewMapDecoder(d)
		key, value, err := mapDecoder.DecodeMapEntry(field)
		if err != nil {
			return err
		}
		m, ok := result[field.Name].(map[interface{}]interface{})
		if !ok {
			m = make(map[interface{}]interface{})
			result[field.Name] = m
		}
		m[key] = value
		return nil
	}

	if field.Label == schema.LabelRepeated {
		// Decoders accept both encodings of a repeated scalar field no
		// matter how the schema says it should be written.
		if wireType == WireBytes && packedEligible(&field.Type) {
			elems, err := d.decodePacked(&field.Type)
			if err != nil {
				return err
			}
			arr, _ := result[field.Name].([]interface{})
			result[field.Name] = append(arr, elems...)
			return nil
		}
		value, err := d.decodeSingular(field, wireType)
		if err != nil {
			return err
		}
		arr, _ := result[field.Name].([]interface{})
		result[field.Name] = append(arr, value)
		return nil
	}

	if field.Type.Kind == schema.KindMessage {
		if wireType != WireBytes {
			return unexpectedWireType(WireBytes, wireType)
		}
		previous := result[field.Name]
		existing, _ := previous.(map[string]interface{})
		md := NewMessageDecoder(d)
		value, err := md.mergeMessage(field.Type.MessageType, existing)
		if err != nil {
			return err
		}
		// Schema-less frames stay raw; merging raw frames is concatenation.
		if newFrame, ok := value.([]byte); ok {
			if oldFrame, ok := previous.([]byte); ok {
				value = append(append([]byte{}, oldFrame...), newFrame...)
			}
		}
		result[field.Name] = value
		return nil
	}

	value, err := d.decodeSingular(field, wireType)
	if err != nil {
		return err
	}
	result[field.Name] = value
	return nil
}

// decodeSingular decodes one value of a non-map field.
func (d *Decoder) decodeSingular(field *schema.Field, wireType WireType) (interface{}, error) {
	switch field.Type.Kind {
	case schema.KindPrimitive:
		if want := scalarWireType(field.Type.PrimitiveType); wireType != want {
			return nil, unexpectedWireType(want, wireType)
		}
		value, err := d.decodePrimitive(field.Type.PrimitiveType, wireType)
		if err != nil {
			return nil, err
		}
		if field.Resolved.ValidateUTF8 && field.Type.PrimitiveType == schema.TypeString {
			if s, ok := value.(string); ok && !utf8.ValidString(s) {
				return nil, ErrInvalidUTF8
			}
		}
		return value, nil

	case schema.KindEnum:
		if wireType != WireVarint {
			return nil, unexpectedWireType(WireVarint, wireType)
		}
		return d.decodeEnumValue(field.Type.EnumType)

	case schema.KindMessage:
		if wireType != WireBytes {
			return nil, unexpectedWireType(WireBytes, wireType)
		}
		md := NewMessageDecoder(d)
		return md.DecodeMessage(field.Type.MessageType)

	case schema.KindWrapper:
		return d.decodeWrapper(field.Type.WrapperType, wireType)

	default:
		return nil, fmt.Errorf("unsupported field kind: %s", field.Type.Kind)
	}
}

// decodeEnumValue decodes an enum number. Known numbers come back as the
// declared name; unknown numbers are preserved as raw int32, never an error.
func (d *Decoder) decodeEnumValue(enumType string) (interface{}, error) {
	vd := NewVarintDecoder(d)
	number, err := vd.DecodeEnum()
	if err != nil {
		return nil, err
	}

	if d.registry != nil {
		if enum, lookupErr := d.registry.GetEnum(enumType); lookupErr == nil {
			if name, convErr := enum.NameByNumber(number); convErr == nil {
				return name, nil
			}
		}
	}
	return number, nil
}

// decodePacked decodes a packed frame into its elements. A frame ending in
// the middle of an element is ErrPackedLengthMismatch.
func (d *Decoder) decodePacked(fieldType *schema.FieldType) ([]interface{}, error) {
	bd := NewBytesDecoder(d)
	frame, err := bd.DecodeRawBytes()
	if err != nil {
		return nil, err
	}

	elemWire := scalarElemWireType(fieldType)
	switch elemWire {
	case WireFixed32:
		if len(frame)%4 != 0 {
			return nil, fmt.Errorf("%w: %d-byte frame of 4-byte elements", ErrPackedLengthMismatch, len(frame))
		}
	case WireFixed64:
		if len(frame)%8 != 0 {
			return nil, fmt.Errorf("%w: %d-byte frame of 8-byte elements", ErrPackedLengthMismatch, len(frame))
		}
	}

	// Packed frames hold scalars only, so elements do not spend nesting
	// budget.
	sub := &Decoder{buf: frame, registry: d.registry, exts: d.exts, zeroCopy: d.zeroCopy, depth: d.depth}

	var elems []interface{}
	for sub.pos < len(sub.buf) {
		var value interface{}
		var elemErr error
		if fieldType.Kind == schema.KindEnum {
			value, elemErr = sub.decodeEnumValue(fieldType.EnumType)
		} else {
			value, elemErr = sub.decodePrimitive(fieldType.PrimitiveType, elemWire)
		}
		if elemErr != nil {
			if errors.Is(elemErr, ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: %v", ErrPackedLengthMismatch, elemErr)
			}
			return nil, elemErr
		}
		elems = append(elems, value)
	}
	return elems, nil
}

// decodePrimitive decodes a primitive type using the appropriate decoder
func (d *Decoder) decodePrimitive(primitiveType schema.PrimitiveType, wireType WireType) (interface{}, error) {
	switch wireType {
	case WireVarint:
		vd := NewVarintDecoder(d)
		rawValue, err := vd.DecodeVarint()
		if err != nil {
			return nil, err
		}
		switch primitiveType {
		case schema.TypeInt32:
			return int32(rawValue), nil
		case schema.TypeInt64:
			return int64(rawValue), nil
		case schema.TypeUint32:
			return uint32(rawValue), nil
		case schema.TypeUint64:
			return rawValue, nil
		case schema.TypeSint32:
			return DecodeZigZag32(rawValue), nil
		case schema.TypeSint64:
			return DecodeZigZag64(rawValue), nil
		case schema.TypeBool:
			return rawValue != 0, nil
		default:
			return rawValue, nil
		}
	case WireFixed32:
		fd := NewFixedDecoder(d)
		switch primitiveType {
		case schema.TypeFloat:
			return fd.DecodeFloat32()
		case schema.TypeSfixed32:
			return fd.DecodeSfixed32()
		default:
			return fd.DecodeFixed32()
		}
	case WireFixed64:
		fd := NewFixedDecoder(d)
		switch primitiveType {
		case schema.TypeDouble:
			return fd.DecodeFloat64()
		case schema.TypeSfixed64:
			return fd.DecodeSfixed64()
		default:
			return fd.DecodeFixed64()
		}
	case WireBytes:
		bd := NewBytesDecoder(d)
		if primitiveType == schema.TypeString {
			return bd.DecodeString()
		}
		return bd.DecodeBytes()
	default:
		return nil, fmt.Errorf("invalid wire type %d for primitive %s", wireType, primitiveType)
	}
}

// decodeWrapper decodes a google.protobuf.*Value message down to its scalar.
// An empty wrapper carries the scalar's zero value.
func (d *Decoder) decodeWrapper(wrapperType schema.WrapperType, wireType WireType) (interface{}, error) {
	if wireType != WireBytes {
		return nil, unexpectedWireType(WireBytes, wireType)
	}

	bd := NewBytesDecoder(d)
	frame, err := bd.DecodeRawBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to decode wrapper message bytes: %w", err)
	}
	sub, err := d.subDecoder(frame)
	if err != nil {
		return nil, err
	}

	scalarType := wrapperScalarType(wrapperType)
	value := wrapperZero(wrapperType)
	for sub.pos < len(sub.buf) {
		num, wt, err := sub.DecodeTag()
		if err != nil {
			return nil, fmt.Errorf("failed to decode wrapper field tag: %w", err)
		}
		if num != 1 {
			if err := sub.skipFieldPayload(num, wt); err != nil {
				return nil, err
			}
			continue
		}
		if want := scalarWireType(scalarType); wt != want {
			return nil, unexpectedWireType(want, wt)
		}
		value, err = sub.decodePrimitive(scalarType, wt)
		if err != nil {
			return nil, fmt.Errorf("failed to decode wrapper value: %w", err)
		}
	}
	return value, nil
}

// decodeRawValue decodes without type information. For groups the returned
// bytes span the group body without its start and end tags.
func (d *Decoder) decodeRawValue(fieldNumber FieldNumber, wireType WireType) (interface{}, error) {
	switch wireType {
	case WireVarint:
		vd := NewVarintDecoder(d)
		return vd.DecodeVarint()
	case WireFixed64:
		fd := NewFixedDecoder(d)
		return fd.DecodeFixed64()
	case WireBytes:
		bd := NewBytesDecoder(d)
		return bd.DecodeBytes()
	case WireStartGroup:
		start := d.pos
		end, err := d.scanGroup(fieldNumber)
		if err != nil {
			return nil, err
		}
		body := d.buf[start:end]
		if d.zeroCopy {
			return body, nil
		}
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	case WireEndGroup:
		return nil, ErrUnexpectedEndGroup
	case WireFixed32:
		fd := NewFixedDecoder(d)
		return fd.DecodeFixed32()
	default:
		return nil, fmt.Errorf("%w: wire type %d", ErrInvalidTag, wireType)
	}
}

// skipFieldPayload advances past one field's payload, tag already consumed.
func (d *Decoder) skipFieldPayload(fieldNumber FieldNumber, wireType WireType) error {
	switch wireType {
	case WireVarint:
		vd := NewVarintDecoder(d)
		return vd.SkipVarint()
	case WireFixed64:
		if d.pos+8 > len(d.buf) {
			return fmt.Errorf("%w: need 8 bytes to skip fixed64", ErrUnexpectedEOF)
		}
		d.pos += 8
		return nil
	case WireBytes:
		bd := NewBytesDecoder(d)
		return bd.SkipBytes()
	case WireStartGroup:
		return d.skipGroup(fieldNumber)
	case WireEndGroup:
		return ErrUnexpectedEndGroup
	case WireFixed32:
		if d.pos+4 > len(d.buf) {
			return fmt.Errorf("%w: need 4 bytes to skip fixed32", ErrUnexpectedEOF)
		}
		d.pos += 4
		return nil
	default:
		return fmt.Errorf("%w: wire type %d", ErrInvalidTag, wireType)
	}
}

// skipGroup consumes nested fields until the matching end-group tag.
func (d *Decoder) skipGroup(fieldNumber FieldNumber) error {
	_, err := d.scanGroup(fieldNumber)
	return err
}

// scanGroup consumes a group body and returns the offset of its end tag.
// Group nesting spends the same budget as message nesting.
func (d *Decoder) scanGroup(fieldNumber FieldNumber) (int, error) {
	if d.depth <= 0 {
		return 0, ErrRecursionLimitExceeded
	}
	d.depth--
	defer func() { d.depth++ }()

	for {
		if d.pos >= len(d.buf) {
			return 0, fmt.Errorf("%w: group %d not terminated", ErrUnexpectedEOF, fieldNumber)
		}
		tagStart := d.pos
		innerNumber, innerType, err := d.DecodeTag()
		if err != nil {
			return 0, err
		}
		if innerType == WireEndGroup {
			if innerNumber != fieldNumber {
				return 0, fmt.Errorf("%w: group %d closed by end tag %d", ErrUnexpectedEndGroup, fieldNumber, innerNumber)
			}
			return tagStart, nil
		}
		if err := d.skipFieldPayload(innerNumber, innerType); err != nil {
			return 0, err
		}
	}
}

// subDecoder opens a nested frame, spending one level of nesting budget.
func (d *Decoder) subDecoder(frame []byte) (*Decoder, error) {
	if d.depth <= 0 {
		return nil, ErrRecursionLimitExceeded
	}
	return &Decoder{
		buf:      frame,
		registry: d.registry,
		exts:     d.exts,
		zeroCopy: d.zeroCopy,
		depth:    d.depth - 1,
	}, nil
}

// capture returns the raw bytes consumed since start.
func (d *Decoder) capture(start int) []byte {
	raw := d.buf[start:d.pos]
	if d.zeroCopy {
		return raw
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}

// resolveExtension returns the registered extension for a field number, or
// nil when the number is outside every extension range of the message or no
// registration matches.
func (d *Decoder) resolveExtension(msg *schema.Message, fieldNumber FieldNumber) *schema.Extension {
	if d.exts == nil {
		return nil
	}
	inRange := false
	for _, r := range msg.ExtensionRanges {
		if r.Contains(int32(fieldNumber)) {
			inRange = true
			break
		}
	}
	if !inRange {
		return nil
	}
	ext, ok := d.exts.Resolve(msg.FullName, int32(fieldNumber))
	if !ok {
		return nil
	}
	return ext
}

// DecodeField decodes a single field from the current position without a
// schema. Returns nil at the end of the buffer.
func (d *Decoder) DecodeField() (*Value, error) {
	if d.pos >= len(d.buf) {
		return nil, nil
	}

	fieldNumber, wireType, err := d.DecodeTag()
	if err != nil {
		return nil, err
	}

	data, err := d.decodeRawValue(fieldNumber, wireType)
	if err != nil {
		return nil, err
	}

	return &Value{
		FieldNumber: fieldNumber,
		WireType:    wireType,
		Data:        data,
	}, nil
}

// findField locates a declared field by number, looking through oneof groups
// as well.
func findField(msg *schema.Message, fieldNumber FieldNumber) *schema.Field {
	return msg.FieldByNumber(int32(fieldNumber))
}

// packedEligible reports whether a repeated field of this type may use
// packed encoding. Strings, bytes and messages never pack; enums do.
func packedEligible(fieldType *schema.FieldType) bool {
	if fieldType.Kind == schema.KindEnum {
		return true
	}
	return fieldType.Kind == schema.KindPrimitive && schema.IsPackedType(fieldType.PrimitiveType)
}

// scalarElemWireType is the element wire type used inside a packed frame.
func scalarElemWireType(fieldType *schema.FieldType) WireType {
	if fieldType.Kind == schema.KindEnum {
		return WireVarint
	}
	return scalarWireType(fieldType.PrimitiveType)
}

// scalarWireType is the wire type a primitive scalar uses outside packed
// frames.
func scalarWireType(primitiveType schema.PrimitiveType) WireType {
	switch primitiveType {
	case schema.TypeString, schema.TypeBytes:
		return WireBytes
	case schema.TypeFloat, schema.TypeFixed32, schema.TypeSfixed32:
		return WireFixed32
	case schema.TypeDouble, schema.TypeFixed64, schema.TypeSfixed64:
		return WireFixed64
	default:
		return WireVarint
	}
}

// wrapperScalarType maps a wrapper type to the primitive its value field
// carries.
func wrapperScalarType(wrapperType schema.WrapperType) schema.PrimitiveType {
	switch wrapperType {
	case schema.WrapperDoubleValue:
		return schema.TypeDouble
	case schema.WrapperFloatValue:
		return schema.TypeFloat
	case schema.WrapperInt64Value:
		return schema.TypeInt64
	case schema.WrapperUInt64Value:
		return schema.TypeUint64
	case schema.WrapperInt32Value:
		return schema.TypeInt32
	case schema.WrapperUInt32Value:
		return schema.TypeUint32
	case schema.WrapperBoolValue:
		return schema.TypeBool
	case schema.WrapperStringValue:
		return schema.TypeString
	default:
		return schema.TypeBytes
	}
}

// wrapperZero is the value an empty wrapper message carries.
func wrapperZero(wrapperType schema.WrapperType) interface{} {
	switch wrapperType {
	case schema.WrapperDoubleValue:
		return float64(0)
	case schema.WrapperFloatValue:
		return float32(0)
	case schema.WrapperInt64Value:
		return int64(0)
	case schema.WrapperUInt64Value:
		return uint64(0)
	case schema.WrapperInt32Value:
		return int32(0)
	case schema.WrapperUInt32Value:
		return uint32(0)
	case schema.WrapperBoolValue:
		return false
	case schema.WrapperStringValue:
		return ""
	default:
		return []byte{}
	}
}

func unexpectedWireType(want, got WireType) error {
	return fmt.Errorf("unexpected wire type %d, want %d", got, want)
}
