package schema

// Edition identifies the protobuf edition a file is compiled under. The two
// legacy syntaxes are modeled as editions so feature resolution has a single
// cascade for every file.
type Edition string

const (
	EditionProto2 Edition = "proto2"
	EditionProto3 Edition = "proto3"
	Edition2023   Edition = "2023"
	Edition2024   Edition = "2024"
)

// Presence is the field_presence feature: how a singular field tracks
// set-versus-unset.
type Presence string

const (
	PresenceExplicit       Presence = "explicit"
	PresenceImplicit       Presence = "implicit"
	PresenceLegacyRequired Presence = "legacy_required"
)

// EnumSemantics is the enum_type feature: open enums carry unknown numbers in
// the field itself, closed enums treat them as out of range.
type EnumSemantics string

const (
	EnumOpen   EnumSemantics = "open"
	EnumClosed EnumSemantics = "closed"
)

// RepeatedEncoding is the repeated_field_encoding feature.
type RepeatedEncoding string

const (
	RepeatedPacked   RepeatedEncoding = "packed"
	RepeatedExpanded RepeatedEncoding = "expanded"
)

// Utf8Validation is the utf8_validation feature for string fields.
type Utf8Validation string

const (
	Utf8Verify Utf8Validation = "verify"
	Utf8None   Utf8Validation = "none"
)

// MessageEncoding is the message_encoding feature. Delimited is the legacy
// group encoding; new schemas use length-prefixed framing.
type MessageEncoding string

const (
	MessageLengthPrefixed MessageEncoding = "length_prefixed"
	MessageDelimited      MessageEncoding = "delimited"
)

// JSONFormat is the json_format feature. Kept as schema metadata; this
// library performs no JSON mapping.
type JSONFormat string

const (
	JSONAllow            JSONFormat = "allow"
	JSONLegacyBestEffort JSONFormat = "legacy_best_effort"
)

// FeatureSet is one level of the feature cascade. A zero value means the
// level does not set that feature and the parent level's value shows through.
type FeatureSet struct {
	FieldPresence         Presence         `json:"field_presence,omitempty"`
	EnumType              EnumSemantics    `json:"enum_type,omitempty"`
	RepeatedFieldEncoding RepeatedEncoding `json:"repeated_field_encoding,omitempty"`
	Utf8Validation        Utf8Validation   `json:"utf8_validation,omitempty"`
	MessageEncoding       MessageEncoding  `json:"message_encoding,omitempty"`
	JSONFormat            JSONFormat       `json:"json_format,omitempty"`
}

// Clone returns a copy of the set. A nil receiver yields an empty set.
func (fs *FeatureSet) Clone() *FeatureSet {
	if fs == nil {
		return &FeatureSet{}
	}
	c := *fs
	return &c
}

// With layers override on top of fs: only the features override explicitly
// sets replace the receiver's values. A nil override returns fs unchanged.
func (fs FeatureSet) With(override *FeatureSet) FeatureSet {
	if override == nil {
		return fs
	}
	merged := fs
	if override.FieldPresence != "" {
		merged.FieldPresence = override.FieldPresence
	}
	if override.EnumType != "" {
		merged.EnumType = override.EnumType
	}
	if override.RepeatedFieldEncoding != "" {
		merged.RepeatedFieldEncoding = override.RepeatedFieldEncoding
	}
	if override.Utf8Validation != "" {
		merged.Utf8Validation = override.Utf8Validation
	}
	if override.MessageEncoding != "" {
		merged.MessageEncoding = override.MessageEncoding
	}
	if override.JSONFormat != "" {
		merged.JSONFormat = override.JSONFormat
	}
	return merged
}
