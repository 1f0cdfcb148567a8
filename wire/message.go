package wire

import (
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/anirudhraja/protoforge/schema"
)

// MessageDecoder handles message decoding operations
type MessageDecoder struct {
	decoder *Decoder
}

// MessageEncoder handles message encoding operations
type MessageEncoder struct {
	encoder *Encoder
}

// NewMessageDecoder creates a new message decoder
func NewMessageDecoder(d *Decoder) *MessageDecoder {
	return &MessageDecoder{decoder: d}
}

// NewMessageEncoder creates a new message encoder
func NewMessageEncoder(e *Encoder) *MessageEncoder {
	return &MessageEncoder{encoder: e}
}

// DECODER METHODS

// DecodeMessage decodes a nested message
func (md *MessageDecoder) DecodeMessage(messageType string) (interface{}, error) {
	return md.mergeMessage(messageType, nil)
}

// mergeMessage decodes a length-delimited message frame. When a previously
// decoded value is handed in, fields merge into it; otherwise a fresh map is
// built. Without a schema the raw frame bytes come back instead.
func (md *MessageDecoder) mergeMessage(messageType string, into map[string]interface{}) (interface{}, error) {
	bd := NewBytesDecoder(md.decoder)
	frame, err := bd.DecodeRawBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to decode message bytes: %w", err)
	}

	var msg *schema.Message
	if md.decoder.registry != nil {
		if m, lookupErr := md.decoder.registry.GetMessage(messageType); lookupErr == nil {
			msg = m
		}
	}
	if msg == nil {
		if md.decoder.zeroCopy {
			return frame, nil
		}
		out := make([]byte, len(frame))
		copy(out, frame)
		return out, nil
	}

	sub, err := md.decoder.subDecoder(frame)
	if err != nil {
		return nil, err
	}
	if into == nil {
		into = make(map[string]interface{})
	}
	if err := sub.decodeInto(msg, into); err != nil {
		return nil, err
	}
	return into, nil
}

// ENCODER METHODS

// EncodeMessage encodes a message with the given data. Fields are written in
// ascending field number order so equal inputs produce identical bytes, and
// any preserved unknown fields are re-emitted verbatim after the declared
// ones.
func (me *MessageEncoder) EncodeMessage(data map[string]interface{}, msg *schema.Message) error {
	messageEncoder := NewEncoder()
	messageEncoder.registry = me.encoder.registry

	type fieldEntry struct {
		key   string
		value interface{}
		field *schema.Field
	}
	var entries []fieldEntry
	var unknown UnknownFieldSet

	for key, value := range data {
		if key == UnknownFieldsKey {
			switch u := value.(type) {
			case UnknownFieldSet:
				unknown = u
			case []UnknownField:
				unknown = UnknownFieldSet(u)
			}
			continue
		}

		field := me.findFieldByName(msg, key)
		if field == nil {
			ext, err := me.resolveExtensionKey(msg, key)
			if err != nil {
				return err
			}
			if ext == nil {
				continue // names with no schema home are dropped
			}
			field = fieldForExtension(ext)
		}
		entries = append(entries, fieldEntry{key: key, value: value, field: field})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].field.Number < entries[j].field.Number
	})

	for _, entry := range entries {
		if err := me.encodeField(messageEncoder, entry.value, entry.field); err != nil {
			return wrapWithField(err, entry.key)
		}
	}

	messageEncoder.buf = unknown.Encode(messageEncoder.buf)

	me.encoder.buf = append(me.encoder.buf, messageEncoder.buf...)
	return nil
}

// encodeField encodes one field, honoring presence: nil values and
// implicit-presence zero scalars stay off the wire.
func (me *MessageEncoder) encodeField(encoder *Encoder, value interface{}, field *schema.Field) error {
	if value == nil {
		return nil
	}

	if field.Type.Kind == schema.KindMap {
		return me.encodeMapField(encoder, value, field)
	}
	if field.Label == schema.LabelRepeated {
		return me.encodeRepeatedField(encoder, value, field)
	}

	if !field.HasPresence() {
		zero, err := me.isZeroValue(encoder, value, field)
		if err != nil {
			return err
		}
		if zero {
			return nil
		}
	}

	return me.encodeSingularField(encoder, value, field)
}

// encodeSingularField writes the field tag followed by one value.
func (me *MessageEncoder) encodeSingularField(encoder *Encoder, value interface{}, field *schema.Field) error {
	ve := NewVarintEncoder(encoder)
	ve.EncodeVarint(uint64(MakeTag(FieldNumber(field.Number), wireTypeOf(&field.Type))))
	return me.encodeFieldValue(encoder, value, field)
}

// encodeFieldValue encodes a single value based on the field type.
func (me *MessageEncoder) encodeFieldValue(encoder *Encoder, value interface{}, field *schema.Field) error {
	switch field.Type.Kind {
	case schema.KindPrimitive:
		return me.encodePrimitiveField(encoder, value, field.Type.PrimitiveType, field.Resolved.ValidateUTF8)
	case schema.KindMessage:
		return me.encodeMessageField(encoder, value, field.Type.MessageType)
	case schema.KindEnum:
		return me.encodeEnumField(encoder, value, field.Type.EnumType)
	case schema.KindWrapper:
		return me.encodeWrapperField(encoder, value, field.Type.WrapperType)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Type.Kind)
	}
}

// encodeRepeatedField encodes a repeated field, packed when the resolved
// features say so and the element type allows it.
func (me *MessageEncoder) encodeRepeatedField(encoder *Encoder, value interface{}, field *schema.Field) error {
	slice, err := toSlice(value)
	if err != nil {
		return err
	}
	if len(slice) == 0 {
		return nil
	}

	if field.Resolved.Packed && packedEligible(&field.Type) {
		elemEncoder := NewEncoder()
		elemEncoder.registry = encoder.registry
		for _, element := range slice {
			if err := me.encodePackedElement(elemEncoder, element, field); err != nil {
				return err
			}
		}
		ve := NewVarintEncoder(encoder)
		ve.EncodeVarint(uint64(MakeTag(FieldNumber(field.Number), WireBytes)))
		be := NewBytesEncoder(encoder)
		return be.EncodeBytes(elemEncoder.Bytes())
	}

	for _, element := range slice {
		if element == nil {
			continue
		}
		if err := me.encodeSingularField(encoder, element, field); err != nil {
			return err
		}
	}
	return nil
}

// encodePackedElement writes one element of a packed frame, no tag.
func (me *MessageEncoder) encodePackedElement(encoder *Encoder, value interface{}, field *schema.Field) error {
	if field.Type.Kind == schema.KindEnum {
		return me.encodeEnumField(encoder, value, field.Type.EnumType)
	}
	return me.encodePrimitiveField(encoder, value, field.Type.PrimitiveType, false)
}

// encodePrimitiveField encodes a primitive field
func (me *MessageEncoder) encodePrimitiveField(encoder *Encoder, value interface{}, primitiveType schema.PrimitiveType, validateUTF8 bool) error {
	switch primitiveType {
	case schema.TypeString:
		s, ok := value.(string)
		if !ok {
			return typeMismatch("string", value)
		}
		if validateUTF8 && !utf8.ValidString(s) {
			return ErrInvalidUTF8
		}
		be := NewBytesEncoder(encoder)
		return be.EncodeString(s)
	case schema.TypeBytes:
		b, ok := value.([]byte)
		if !ok {
			return typeMismatch("[]byte", value)
		}
		be := NewBytesEncoder(encoder)
		return be.EncodeBytes(b)
	case schema.TypeInt32:
		v, err := asInt32(value)
		if err != nil {
			return err
		}
		NewVarintEncoder(encoder).EncodeInt32(v)
		return nil
	case schema.TypeInt64:
		v, err := asInt64(value)
		if err != nil {
			return err
		}
		NewVarintEncoder(encoder).EncodeInt64(v)
		return nil
	case schema.TypeUint32:
		v, err := asUint32(value)
		if err != nil {
			return err
		}
		NewVarintEncoder(encoder).EncodeUint32(v)
		return nil
	case schema.TypeUint64:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		NewVarintEncoder(encoder).EncodeUint64(v)
		return nil
	case schema.TypeSint32:
		v, err := asInt32(value)
		if err != nil {
			return err
		}
		NewVarintEncoder(encoder).EncodeSint32(v)
		return nil
	case schema.TypeSint64:
		v, err := asInt64(value)
		if err != nil {
			return err
		}
		NewVarintEncoder(encoder).EncodeSint64(v)
		return nil
	case schema.TypeBool:
		v, ok := value.(bool)
		if !ok {
			return typeMismatch("bool", value)
		}
		NewVarintEncoder(encoder).EncodeBool(v)
		return nil
	case schema.TypeFixed32:
		v, err := asUint32(value)
		if err != nil {
			return err
		}
		return NewFixedEncoder(encoder).EncodeFixed32(v)
	case schema.TypeSfixed32:
		v, err := asInt32(value)
		if err != nil {
			return err
		}
		return NewFixedEncoder(encoder).EncodeSfixed32(v)
	case schema.TypeFixed64:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		return NewFixedEncoder(encoder).EncodeFixed64(v)
	case schema.TypeSfixed64:
		v, err := asInt64(value)
		if err != nil {
			return err
		}
		return NewFixedEncoder(encoder).EncodeSfixed64(v)
	case schema.TypeFloat:
		v, ok := value.(float32)
		if !ok {
			return typeMismatch("float32", value)
		}
		return NewFixedEncoder(encoder).EncodeFloat32(v)
	case schema.TypeDouble:
		v, ok := value.(float64)
		if !ok {
			return typeMismatch("float64", value)
		}
		return NewFixedEncoder(encoder).EncodeFloat64(v)
	default:
		return fmt.Errorf("unsupported primitive type: %s", primitiveType)
	}
}

// encodeMessageField encodes a nested message field
func (me *MessageEncoder) encodeMessageField(encoder *Encoder, value interface{}, messageTypeName string) error {
	// Pre-encoded frames pass straight through.
	if messageBytes, ok := value.([]byte); ok {
		be := NewBytesEncoder(encoder)
		return be.EncodeBytes(messageBytes)
	}

	messageData, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("message value must be map[string]interface{} or []byte, got %T", value)
	}

	if encoder.registry == nil {
		return fmt.Errorf("registry is required to encode message fields")
	}
	messageSchema, err := encoder.registry.GetMessage(messageTypeName)
	if err != nil {
		return fmt.Errorf("failed to get message schema for %s: %w", messageTypeName, err)
	}

	nestedEncoder := NewEncoder()
	nestedEncoder.registry = encoder.registry
	if err := NewMessageEncoder(nestedEncoder).EncodeMessage(messageData, messageSchema); err != nil {
		return err
	}

	be := NewBytesEncoder(encoder)
	return be.EncodeBytes(nestedEncoder.Bytes())
}

// encodeEnumField encodes an enum field from a raw number or a declared name.
func (me *MessageEncoder) encodeEnumField(encoder *Encoder, value interface{}, enumType string) error {
	var number int32
	switch v := value.(type) {
	case int32:
		number = v
	case int:
		n, err := asInt32(v)
		if err != nil {
			return err
		}
		number = n
	case string:
		if encoder.registry == nil {
			return fmt.Errorf("registry is required to encode enum %s by name", enumType)
		}
		enum, err := encoder.registry.GetEnum(enumType)
		if err != nil {
			return err
		}
		n, ok := enum.NumberByName(v)
		if !ok {
			return fmt.Errorf("enum %s has no value named %q", enumType, v)
		}
		number = n
	default:
		return fmt.Errorf("enum value must be int32 or a declared name, got %T", value)
	}

	NewVarintEncoder(encoder).EncodeEnum(number)
	return nil
}

// encodeWrapperField encodes a google.protobuf.*Value message from its bare
// scalar. The zero scalar produces an empty wrapper frame, matching how the
// well-known types encode their implicit-presence value field.
func (me *MessageEncoder) encodeWrapperField(encoder *Encoder, value interface{}, wrapperType schema.WrapperType) error {
	scalarType := wrapperScalarType(wrapperType)

	wrapperEncoder := NewEncoder()
	wrapperEncoder.registry = encoder.registry

	if !isZeroScalar(value) {
		ve := NewVarintEncoder(wrapperEncoder)
		ve.EncodeVarint(uint64(MakeTag(FieldNumber(1), scalarWireType(scalarType))))
		if err := me.encodePrimitiveField(wrapperEncoder, value, scalarType, false); err != nil {
			return fmt.Errorf("failed to encode wrapper value: %w", err)
		}
	}

	be := NewBytesEncoder(encoder)
	return be.EncodeBytes(wrapperEncoder.Bytes())
}

// encodeMapField normalizes the map value and hands it to the map encoder.
func (me *MessageEncoder) encodeMapField(encoder *Encoder, value interface{}, field *schema.Field) error {
	mapData, err := toMapData(value)
	if err != nil {
		return err
	}

	mapEncoder := NewMapEncoder(encoder)
	return mapEncoder.EncodeMap(mapData, field)
}

// isZeroValue reports whether an implicit-presence field holds its type's
// zero value and can stay off the wire.
func (me *MessageEncoder) isZeroValue(encoder *Encoder, value interface{}, field *schema.Field) (bool, error) {
	if field.Type.Kind == schema.KindEnum {
		if name, ok := value.(string); ok {
			if encoder.registry == nil {
				return false, nil
			}
			enum, err := encoder.registry.GetEnum(field.Type.EnumType)
			if err != nil {
				return false, nil
			}
			number, ok := enum.NumberByName(name)
			return ok && number == 0, nil
		}
	}
	return isZeroScalar(value), nil
}

// UTILITY METHODS

// isZeroScalar reports whether the value is its Go type's zero.
func isZeroScalar(value interface{}) bool {
	switch v := value.(type) {
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case bool:
		return !v
	case int:
		return v == 0
	case int32:
		return v == 0
	case int64:
		return v == 0
	case uint32:
		return v == 0
	case uint64:
		return v == 0
	case float32:
		return v == 0
	case float64:
		return v == 0
	default:
		return false
	}
}

func typeMismatch(want string, got interface{}) error {
	return fmt.Errorf("expected %s value, got %T", want, got)
}

func asInt32(value interface{}) (int32, error) {
	switch v := value.(type) {
	case int32:
		return v, nil
	case int:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, fmt.Errorf("value %d overflows int32", v)
		}
		return int32(v), nil
	default:
		return 0, typeMismatch("int32", value)
	}
}

func asInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	default:
		return 0, typeMismatch("int64", value)
	}
}

func asUint32(value interface{}) (uint32, error) {
	switch v := value.(type) {
	case uint32:
		return v, nil
	case int:
		if v < 0 || v > math.MaxUint32 {
			return 0, fmt.Errorf("value %d overflows uint32", v)
		}
		return uint32(v), nil
	default:
		return 0, typeMismatch("uint32", value)
	}
}

func asUint64(value interface{}) (uint64, error) {
	switch v := value.(type) {
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("value %d overflows uint64", v)
		}
		return uint64(v), nil
	default:
		return 0, typeMismatch("uint64", value)
	}
}

// toSlice converts the supported slice representations to []interface{}.
func toSlice(value interface{}) ([]interface{}, error) {
	if slice, ok := value.([]interface{}); ok {
		return slice, nil
	}
	switch v := value.(type) {
	case []map[string]interface{}:
		slice := make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
		return slice, nil
	case []string:
		slice := make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
		return slice, nil
	case []int32:
		slice := make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
		return slice, nil
	case []int64:
		slice := make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
		return slice, nil
	case []uint32:
		slice := make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
		return slice, nil
	case []uint64:
		slice := make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
		return slice, nil
	case []bool:
		slice := make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
		return slice, nil
	case []float32:
		slice := make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
		return slice, nil
	case []float64:
		slice := make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
		return slice, nil
	case [][]byte:
		slice := make([]interface{}, len(v))
		for i, val := range v {
			slice[i] = val
		}
		return slice, nil
	default:
		return nil, fmt.Errorf("repeated field value must be a slice, got %T", value)
	}
}

// toMapData converts the supported map representations to the canonical
// map[interface{}]interface{} form.
func toMapData(value interface{}) (map[interface{}]interface{}, error) {
	switch v := value.(type) {
	case map[interface{}]interface{}:
		return v, nil
	case map[string]interface{}:
		mapData := make(map[interface{}]interface{}, len(v))
		for k, val := range v {
			mapData[k] = val
		}
		return mapData, nil
	case map[string]string:
		mapData := make(map[interface{}]interface{}, len(v))
		for k, val := range v {
			mapData[k] = val
		}
		return mapData, nil
	case map[string]int64:
		mapData := make(map[interface{}]interface{}, len(v))
		for k, val := range v {
			mapData[k] = val
		}
		return mapData, nil
	case map[string]int32:
		mapData := make(map[interface{}]interface{}, len(v))
		for k, val := range v {
			mapData[k] = val
		}
		return mapData, nil
	case map[int32]string:
		mapData := make(map[interface{}]interface{}, len(v))
		for k, val := range v {
			mapData[k] = val
		}
		return mapData, nil
	case map[int64]string:
		mapData := make(map[interface{}]interface{}, len(v))
		for k, val := range v {
			mapData[k] = val
		}
		return mapData, nil
	case map[string]float64:
		mapData := make(map[interface{}]interface{}, len(v))
		for k, val := range v {
			mapData[k] = val
		}
		return mapData, nil
	default:
		return nil, fmt.Errorf("unsupported map type: %T", value)
	}
}

// wireTypeOf returns the wire type a field of this type is tagged with.
func wireTypeOf(fieldType *schema.FieldType) WireType {
	switch fieldType.Kind {
	case schema.KindPrimitive:
		return scalarWireType(fieldType.PrimitiveType)
	case schema.KindMessage, schema.KindMap, schema.KindWrapper:
		return WireBytes
	case schema.KindEnum:
		return WireVarint
	default:
		return WireVarint
	}
}

// findFieldByName finds a field by name in a message
func (me *MessageEncoder) findFieldByName(msg *schema.Message, fieldName string) *schema.Field {
	return msg.FieldByName(fieldName)
}

// resolveExtensionKey maps a bracketed key like "[pkg.ext_name]" to its
// extension declaration in the schema registry.
func (me *MessageEncoder) resolveExtensionKey(msg *schema.Message, key string) (*schema.Extension, error) {
	if len(key) < 3 || key[0] != '[' || key[len(key)-1] != ']' {
		return nil, nil
	}
	if me.encoder.registry == nil {
		return nil, fmt.Errorf("registry is required to encode extension %s", key)
	}

	fullName := key[1 : len(key)-1]
	ext, err := me.encoder.registry.GetExtension(fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve extension %s: %w", key, err)
	}
	if ext.Extendee != msg.FullName {
		return nil, fmt.Errorf("extension %s extends %s, not %s", fullName, ext.Extendee, msg.FullName)
	}
	return ext, nil
}

// Convenience methods for direct access

// DecodeMessage - convenience method for main decoder
func (d *Decoder) DecodeMessage(messageType string) (interface{}, error) {
	md := NewMessageDecoder(d)
	return md.DecodeMessage(messageType)
}

// EncodeMessage - convenience method for main encoder
func (e *Encoder) EncodeMessage(data map[string]interface{}, msg *schema.Message) error {
	me := NewMessageEncoder(e)
	return me.EncodeMessage(data, msg)
}
