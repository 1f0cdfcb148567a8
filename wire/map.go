package wire

import (
	"fmt"
	"sort"

	"github.com/anirudhraja/protoforge/schema"
)

// MapDecoder handles map decoding operations
type MapDecoder struct {
	decoder *Decoder
}

// MapEncoder handles map encoding operations
type MapEncoder struct {
	encoder *Encoder
}

// NewMapDecoder creates a new map decoder
func NewMapDecoder(d *Decoder) *MapDecoder {
	return &MapDecoder{decoder: d}
}

// NewMapEncoder creates a new map encoder
func NewMapEncoder(e *Encoder) *MapEncoder {
	return &MapEncoder{encoder: e}
}

// mapEntryFields views a map field as the synthetic entry message the wire
// format actually carries: key as field 1, value as field 2. The parent
// field's resolved features flow through so UTF-8 enforcement reaches entry
// strings.
func mapEntryFields(field *schema.Field) (*schema.Field, *schema.Field) {
	keyField := &schema.Field{
		Name:       "key",
		Number:     1,
		Type:       *field.Type.MapKey,
		OneofIndex: -1,
		Resolved:   field.Resolved,
	}
	valueField := &schema.Field{
		Name:       "value",
		Number:     2,
		Type:       *field.Type.MapValue,
		OneofIndex: -1,
		Resolved:   field.Resolved,
	}
	return keyField, valueField
}

// DECODER METHODS

// DecodeMapEntry decodes one map entry frame into its key-value pair. A key
// or value missing from the frame takes its type's zero value.
func (md *MapDecoder) DecodeMapEntry(field *schema.Field) (interface{}, interface{}, error) {
	bd := NewBytesDecoder(md.decoder)
	frame, err := bd.DecodeRawBytes()
	if err != nil {
		return nil, nil, err
	}
	entryDecoder, err := md.decoder.subDecoder(frame)
	if err != nil {
		return nil, nil, err
	}

	keyField, valueField := mapEntryFields(field)

	var key, value interface{}
	for entryDecoder.pos < len(entryDecoder.buf) {
		fieldNumber, wireType, err := entryDecoder.DecodeTag()
		if err != nil {
			return nil, nil, err
		}

		switch fieldNumber {
		case 1:
			key, err = entryDecoder.decodeSingular(keyField, wireType)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to decode map key: %w", err)
			}
		case 2:
			value, err = entryDecoder.decodeSingular(valueField, wireType)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to decode map value: %w", err)
			}
		default:
			if err := entryDecoder.skipFieldPayload(fieldNumber, wireType); err != nil {
				return nil, nil, err
			}
		}
	}

	if key == nil {
		key = md.zeroValueFor(field.Type.MapKey)
	}
	if value == nil {
		value = md.zeroValueFor(field.Type.MapValue)
	}
	return key, value, nil
}

// zeroValueFor is the value an absent map key or value field stands for.
func (md *MapDecoder) zeroValueFor(fieldType *schema.FieldType) interface{} {
	switch fieldType.Kind {
	case schema.KindPrimitive:
		switch fieldType.PrimitiveType {
		case schema.TypeString:
			return ""
		case schema.TypeBytes:
			return []byte{}
		case schema.TypeBool:
			return false
		case schema.TypeInt32, schema.TypeSint32, schema.TypeSfixed32:
			return int32(0)
		case schema.TypeInt64, schema.TypeSint64, schema.TypeSfixed64:
			return int64(0)
		case schema.TypeUint32, schema.TypeFixed32:
			return uint32(0)
		case schema.TypeUint64, schema.TypeFixed64:
			return uint64(0)
		case schema.TypeFloat:
			return float32(0)
		case schema.TypeDouble:
			return float64(0)
		default:
			return nil
		}
	case schema.KindEnum:
		if md.decoder.registry != nil {
			if enum, err := md.decoder.registry.GetEnum(fieldType.EnumType); err == nil {
				if name, convErr := enum.NameByNumber(0); convErr == nil {
					return name
				}
			}
		}
		return int32(0)
	case schema.KindMessage:
		return map[string]interface{}{}
	case schema.KindWrapper:
		return wrapperZero(fieldType.WrapperType)
	default:
		return nil
	}
}

// ENCODER METHODS

// EncodeMap encodes a complete map field, one length-delimited entry per
// key, keys in sorted order so the output is deterministic.
func (me *MapEncoder) EncodeMap(mapData map[interface{}]interface{}, field *schema.Field) error {
	for _, key := range sortedMapKeys(mapData) {
		ve := NewVarintEncoder(me.encoder)
		ve.EncodeVarint(uint64(MakeTag(FieldNumber(field.Number), WireBytes)))

		if err := me.EncodeMapEntry(key, mapData[key], field); err != nil {
			return err
		}
	}
	return nil
}

// EncodeMapEntry encodes a single key-value pair as an entry frame. Zero
// keys and zero scalar values stay off the wire the way implicit-presence
// fields do; decoders fill them back in.
func (me *MapEncoder) EncodeMapEntry(key, value interface{}, field *schema.Field) error {
	entryEncoder := NewEncoder()
	entryEncoder.registry = me.encoder.registry

	keyField, valueField := mapEntryFields(field)
	enc := NewMessageEncoder(entryEncoder)

	if !isZeroScalar(key) {
		if err := enc.encodeSingularField(entryEncoder, key, keyField); err != nil {
			return fmt.Errorf("failed to encode map key: %w", err)
		}
	}

	emitValue := false
	switch field.Type.MapValue.Kind {
	case schema.KindMessage, schema.KindWrapper:
		emitValue = value != nil
	default:
		zero, err := enc.isZeroValue(entryEncoder, value, valueField)
		if err != nil {
			return err
		}
		emitValue = !zero
	}
	if emitValue {
		if err := enc.encodeSingularField(entryEncoder, value, valueField); err != nil {
			return fmt.Errorf("failed to encode map value: %w", err)
		}
	}

	be := NewBytesEncoder(me.encoder)
	return be.EncodeBytes(entryEncoder.Bytes())
}

// sortedMapKeys orders map keys for deterministic encoding. All keys of one
// map share a type, so the per-type comparisons never mix.
func sortedMapKeys(mapData map[interface{}]interface{}) []interface{} {
	keys := make([]interface{}, 0, len(mapData))
	for key := range mapData {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessMapKey(keys[i], keys[j])
	})
	return keys
}

func lessMapKey(a, b interface{}) bool {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		return av < bv
	case bool:
		bv, _ := b.(bool)
		return !av && bv
	case int32:
		bv, _ := b.(int32)
		return av < bv
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case uint32:
		bv, _ := b.(uint32)
		return av < bv
	case uint64:
		bv, _ := b.(uint64)
		return av < bv
	default:
		return fmt.Sprint(a) < fmt.Sprint(b)
	}
}
