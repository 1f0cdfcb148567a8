package wire

// ===== PROTOBUF WIRE FORMAT TYPES =====

// WireType represents protobuf wire format types
type WireType int32

const (
	WireVarint     WireType = 0 // int32, int64, uint32, uint64, sint32, sint64, bool, enum
	WireFixed64    WireType = 1 // fixed64, sfixed64, double
	WireBytes      WireType = 2 // string, bytes, embedded messages, packed repeated fields
	WireStartGroup WireType = 3 // legacy group start, decoded but never produced
	WireEndGroup   WireType = 4 // legacy group end
	WireFixed32    WireType = 5 // fixed32, sfixed32, float
)

// IsValid reports whether the wire type is one the wire format defines.
// Values 6 and 7 are unassigned and make a tag invalid.
func (w WireType) IsValid() bool {
	return w >= WireVarint && w <= WireFixed32
}

// FieldNumber represents a protobuf field number
type FieldNumber int32

const (
	// MaxFieldNumber is the largest declarable field number, 2^29 - 1.
	MaxFieldNumber FieldNumber = 536870911
	// FirstReservedNumber and LastReservedNumber bound the range set aside
	// for the protobuf implementation itself. Schemas cannot declare fields
	// there, but such numbers may still appear on the wire as unknown fields.
	FirstReservedNumber FieldNumber = 19000
	LastReservedNumber  FieldNumber = 19999
)

// IsValid reports whether the number may appear in a wire-format tag.
func (n FieldNumber) IsValid() bool {
	return n >= 1 && n <= MaxFieldNumber
}

// IsReserved reports whether the number falls in the implementation-reserved
// declaration range.
func (n FieldNumber) IsReserved() bool {
	return n >= FirstReservedNumber && n <= LastReservedNumber
}

// Tag represents a protobuf field tag (field number + wire type)
type Tag uint64

// MakeTag creates a tag from field number and wire type
func MakeTag(fieldNumber FieldNumber, wireType WireType) Tag {
	return Tag(uint64(fieldNumber)<<3 | uint64(wireType))
}

// ParseTag parses a tag into field number and wire type
func ParseTag(tag Tag) (FieldNumber, WireType) {
	return FieldNumber(tag >> 3), WireType(tag & 0x7)
}

// TagSize returns the encoded size of a field tag.
func TagSize(fieldNumber FieldNumber) int {
	return VarintSize(uint64(fieldNumber) << 3)
}

// Value represents a decoded protobuf value
type Value struct {
	FieldNumber FieldNumber
	WireType    WireType
	Data        interface{} // Actual value
}
