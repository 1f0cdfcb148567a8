package wire

// UnknownFieldsKey is the decoded-map key unknown fields are collected
// under. Proto identifiers must start with a letter, so the key can never
// collide with a declared field name.
const UnknownFieldsKey = "_unknown"

// UnknownField is one field the schema did not account for, kept exactly as
// it appeared on the wire. Raw holds the complete original bytes including
// the tag, so re-emission reproduces the input byte for byte even when the
// producer used an over-long tag varint or legacy group framing.
type UnknownField struct {
	Number FieldNumber
	Type   WireType
	Raw    []byte
}

// UnknownFieldSet accumulates unknown fields in the order they were seen.
type UnknownFieldSet []UnknownField

// Encode appends every preserved field verbatim to buf. The buffer is grown
// by Size up front so the copies never reallocate.
func (s UnknownFieldSet) Encode(buf []byte) []byte {
	if need := len(buf) + s.Size(); cap(buf) < need {
		grown := make([]byte, len(buf), need)
		copy(grown, buf)
		buf = grown
	}
	for _, f := range s {
		buf = append(buf, f.Raw...)
	}
	return buf
}

// Size returns the total encoded size of the set.
func (s UnknownFieldSet) Size() int {
	n := 0
	for _, f := range s {
		n += len(f.Raw)
	}
	return n
}

// appendUnknown records an unknown field on the decode result.
func appendUnknown(result map[string]interface{}, f UnknownField) {
	set, _ := result[UnknownFieldsKey].(UnknownFieldSet)
	result[UnknownFieldsKey] = append(set, f)
}
