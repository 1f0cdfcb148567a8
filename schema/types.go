package schema

// ProtoRepo represents a collection of .proto files and their definitions.
type ProtoRepo struct {
	ProtoFiles map[string]*ProtoFile `json:"proto_files"`
}

// ProtoFile represents a single .proto file
type ProtoFile struct {
	Name       string       `json:"name"`
	Package    string       `json:"package"`
	Syntax     string       `json:"syntax"` // proto2, proto3 or editions
	Edition    Edition      `json:"edition,omitempty"`
	Imports    []*Import    `json:"imports"`
	Messages   []*Message   `json:"messages"`
	Enums      []*Enum      `json:"enums"`
	Extensions []*Extension `json:"extensions"` // top-level extend blocks
	Services   []*Service   `json:"services"`
	Features   *FeatureSet  `json:"features,omitempty"` // file-level feature overrides
}

// Import represents an import statement
type Import struct {
	Path   string `json:"path"`   // "google/protobuf/timestamp.proto"
	Public bool   `json:"public"` // public import
	Weak   bool   `json:"weak"`   // weak import
}

// Message represents a protobuf message definition
type Message struct {
	Name            string            `json:"name"`      // "User"
	FullName        string            `json:"full_name"` // "mypackage.User", no leading dot
	Fields          []*Field          `json:"fields"`
	NestedTypes     []*Message        `json:"nested_types"`
	NestedEnums     []*Enum           `json:"nested_enums"`
	Extensions      []*Extension      `json:"extensions"`       // nested extend blocks
	ExtensionRanges []*ExtensionRange `json:"extension_ranges"` // numbers open for extension
	OneofGroups     []*Oneof          `json:"oneof_groups"`
	MapEntry        bool              `json:"map_entry"`  // synthetic map entry message
	IsWrapper       bool              `json:"is_wrapper"` // google.protobuf.*Value wrapper
	Features        *FeatureSet       `json:"features,omitempty"`
}

// FieldByNumber returns the declared field with the given number, looking
// through oneof groups as well. Nil when no field declares the number.
func (m *Message) FieldByNumber(number int32) *Field {
	for _, f := range m.Fields {
		if f.Number == number {
			return f
		}
	}
	for _, g := range m.OneofGroups {
		for _, f := range g.Fields {
			if f.Number == number {
				return f
			}
		}
	}
	return nil
}

// FieldByName returns the declared field with the given name, looking
// through oneof groups as well. Nil when no field declares the name.
func (m *Message) FieldByName(name string) *Field {
	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}
	for _, g := range m.OneofGroups {
		for _, f := range g.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// ExtensionRange is an inclusive field-number range a message keeps open for
// extensions.
type ExtensionRange struct {
	Start int32 `json:"start"`
	End   int32 `json:"end"`
}

// Contains reports whether n falls inside the range.
func (r *ExtensionRange) Contains(n int32) bool {
	return n >= r.Start && n <= r.End
}

// Field represents a message field
type Field struct {
	Name           string      `json:"name"`          // "user_name"
	Number         int32       `json:"number"`        // 1
	Label          FieldLabel  `json:"label"`         // optional, required, repeated
	Type           FieldType   `json:"type"`          // field type information
	DefaultValue   string      `json:"default_value"` // default value (proto2)
	JsonName       string      `json:"json_name"`     // JSON field name
	OneofIndex     int32       `json:"oneof_index"`   // oneof group index (-1 if not in oneof)
	Proto3Optional bool        `json:"proto3_optional"`
	PackedOpt      *bool       `json:"packed,omitempty"`   // explicit [packed=...] option
	Features       *FeatureSet `json:"features,omitempty"` // field-level feature overrides
	Resolved       Resolved    `json:"resolved"`           // filled during registry load
}

// Resolved holds the post-cascade feature values a field actually operates
// under. The wire codec and codegen consumers read these and never look at
// syntax or edition again.
type Resolved struct {
	Presence     Presence `json:"presence"`
	Packed       bool     `json:"packed"`        // wire packing for repeated scalars
	ValidateUTF8 bool     `json:"validate_utf8"` // enforce UTF-8 on string fields
	ClosedEnum   bool     `json:"closed_enum"`
}

// Required reports whether the field carries proto2 required semantics.
func (f *Field) Required() bool {
	return f.Resolved.Presence == PresenceLegacyRequired
}

// HasPresence reports whether the field distinguishes set-to-default from
// unset. Repeated and map fields never track presence; message-typed and
// oneof fields always do.
func (f *Field) HasPresence() bool {
	if f.Label == LabelRepeated || f.Type.Kind == KindMap {
		return false
	}
	if f.Type.Kind == KindMessage || f.Type.Kind == KindWrapper {
		return true
	}
	if f.OneofIndex >= 0 {
		return true
	}
	return f.Resolved.Presence != PresenceImplicit
}

// Extension is a field declared in an extend block, living outside the
// extended message's own declaration.
type Extension struct {
	Name     string     `json:"name"`      // "priority"
	FullName string     `json:"full_name"` // "mypackage.priority"
	Extendee string     `json:"extendee"`  // full name of the extended message
	Number   int32      `json:"number"`
	Label    FieldLabel `json:"label"`
	Type     FieldType  `json:"type"`
}

// Oneof represents a oneof group
type Oneof struct {
	Name   string   `json:"name"`   // "user_info"
	Fields []*Field `json:"fields"` // fields in this oneof
}

// FieldLabel represents field labels
type FieldLabel string

const (
	LabelOptional FieldLabel = "optional"
	LabelRequired FieldLabel = "required"
	LabelRepeated FieldLabel = "repeated"
)

// FieldType represents field type information
type FieldType struct {
	Kind          TypeKind      `json:"kind"`                     // primitive, message, enum, map, wrapper
	PrimitiveType PrimitiveType `json:"primitive_type,omitempty"` // for primitive types
	MessageType   string        `json:"message_type,omitempty"`   // for message types: "mypackage.User"
	EnumType      string        `json:"enum_type,omitempty"`      // for enum types
	WrapperType   WrapperType   `json:"wrapper_type,omitempty"`   // for wrapper types
	MapKey        *FieldType    `json:"map_key,omitempty"`        // for map key type
	MapValue      *FieldType    `json:"map_value,omitempty"`      // for map value type
}

// TypeKind represents the kind of field type
type TypeKind string

const (
	KindPrimitive TypeKind = "primitive"
	KindMessage   TypeKind = "message"
	KindEnum      TypeKind = "enum"
	KindMap       TypeKind = "map"
	KindWrapper   TypeKind = "wrapper"
)

// PrimitiveType represents protobuf primitive types
type PrimitiveType string

const (
	TypeDouble   PrimitiveType = "double"
	TypeFloat    PrimitiveType = "float"
	TypeInt64    PrimitiveType = "int64"
	TypeUint64   PrimitiveType = "uint64"
	TypeInt32    PrimitiveType = "int32"
	TypeFixed64  PrimitiveType = "fixed64"
	TypeFixed32  PrimitiveType = "fixed32"
	TypeBool     PrimitiveType = "bool"
	TypeString   PrimitiveType = "string"
	TypeBytes    PrimitiveType = "bytes"
	TypeUint32   PrimitiveType = "uint32"
	TypeSfixed32 PrimitiveType = "sfixed32"
	TypeSfixed64 PrimitiveType = "sfixed64"
	TypeSint32   PrimitiveType = "sint32"
	TypeSint64   PrimitiveType = "sint64"
)

var packedEligible = map[PrimitiveType]struct{}{
	TypeDouble:   {},
	TypeFloat:    {},
	TypeInt64:    {},
	TypeUint64:   {},
	TypeInt32:    {},
	TypeFixed64:  {},
	TypeFixed32:  {},
	TypeBool:     {},
	TypeUint32:   {},
	TypeSfixed32: {},
	TypeSfixed64: {},
	TypeSint32:   {},
	TypeSint64:   {},
}

// IsPackedType checks and returns if the Primitive type can use packed
// encoding under the repeated label. Strings, bytes and messages never pack.
func IsPackedType(t PrimitiveType) bool {
	_, ok := packedEligible[t]
	return ok
}

// WrapperType represents protobuf wrapper types
type WrapperType string

const (
	WrapperDoubleValue WrapperType = "google.protobuf.DoubleValue"
	WrapperFloatValue  WrapperType = "google.protobuf.FloatValue"
	WrapperInt64Value  WrapperType = "google.protobuf.Int64Value"
	WrapperUInt64Value WrapperType = "google.protobuf.UInt64Value"
	WrapperInt32Value  WrapperType = "google.protobuf.Int32Value"
	WrapperUInt32Value WrapperType = "google.protobuf.UInt32Value"
	WrapperBoolValue   WrapperType = "google.protobuf.BoolValue"
	WrapperStringValue WrapperType = "google.protobuf.StringValue"
	WrapperBytesValue  WrapperType = "google.protobuf.BytesValue"
)

// Enum represents an enum definition
type Enum struct {
	Name       string       `json:"name"`      // "Status"
	FullName   string       `json:"full_name"` // "mypackage.Status"
	Values     []*EnumValue `json:"values"`
	AllowAlias bool         `json:"allow_alias"`
	Features   *FeatureSet  `json:"features,omitempty"`
}

// EnumValue represents an enum value
type EnumValue struct {
	Name     string `json:"name"`      // "ACTIVE"
	Number   int32  `json:"number"`    // 1
	JsonName string `json:"json_name"` // JSON field name
}

// Service represents a service definition
type Service struct {
	Name     string    `json:"name"`      // "UserService"
	FullName string    `json:"full_name"` // "mypackage.UserService"
	Methods  []*Method `json:"methods"`   // service methods
}

// Method represents a service method
type Method struct {
	Name            string `json:"name"`             // "GetUser"
	InputType       string `json:"input_type"`       // "GetUserRequest"
	OutputType      string `json:"output_type"`      // "GetUserResponse"
	ClientStreaming bool   `json:"client_streaming"` // stream input
	ServerStreaming bool   `json:"server_streaming"` // stream output
}
