package wire

import (
	"errors"
	"testing"
)

func TestTag_MakeAndParse(t *testing.T) {
	tests := []struct {
		name        string
		fieldNumber FieldNumber
		wireType    WireType
		tag         Tag
	}{
		{"field_1_varint", 1, WireVarint, 0x08},
		{"field_1_bytes", 1, WireBytes, 0x0A},
		{"field_2_fixed64", 2, WireFixed64, 0x11},
		{"field_4_bytes", 4, WireBytes, 0x22},
		{"field_5_fixed32", 5, WireFixed32, 0x2D},
		{"field_15_varint", 15, WireVarint, 0x78},
		{"field_16_varint", 16, WireVarint, 0x80},
		{"max_field", MaxFieldNumber, WireBytes, Tag(uint64(MaxFieldNumber)<<3 | 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag := MakeTag(tt.fieldNumber, tt.wireType)
			if tag != tt.tag {
				t.Errorf("MakeTag(%d, %d): expected %#x, got %#x", tt.fieldNumber, tt.wireType, tt.tag, tag)
			}
			num, wt := ParseTag(tag)
			if num != tt.fieldNumber || wt != tt.wireType {
				t.Errorf("ParseTag(%#x): expected (%d, %d), got (%d, %d)", tag, tt.fieldNumber, tt.wireType, num, wt)
			}
		})
	}
}

func TestTag_Size(t *testing.T) {
	tests := []struct {
		fieldNumber FieldNumber
		size        int
	}{
		{1, 1},
		{15, 1},
		{16, 2},
		{2047, 2},
		{2048, 3},
		{MaxFieldNumber, 5},
	}
	for _, tt := range tests {
		if got := TagSize(tt.fieldNumber); got != tt.size {
			t.Errorf("TagSize(%d): expected %d, got %d", tt.fieldNumber, tt.size, got)
		}
	}
}

func TestWireType_IsValid(t *testing.T) {
	valid := []WireType{WireVarint, WireFixed64, WireBytes, WireStartGroup, WireEndGroup, WireFixed32}
	for _, wt := range valid {
		if !wt.IsValid() {
			t.Errorf("Expected wire type %d to be valid", wt)
		}
	}
	for _, wt := range []WireType{6, 7, -1, 8} {
		if wt.IsValid() {
			t.Errorf("Expected wire type %d to be invalid", wt)
		}
	}
}

func TestFieldNumber_Ranges(t *testing.T) {
	tests := []struct {
		number   FieldNumber
		valid    bool
		reserved bool
	}{
		{0, false, false},
		{1, true, false},
		{18999, true, false},
		{19000, true, true},
		{19500, true, true},
		{19999, true, true},
		{20000, true, false},
		{MaxFieldNumber, true, false},
		{MaxFieldNumber + 1, false, false},
	}
	for _, tt := range tests {
		if got := tt.number.IsValid(); got != tt.valid {
			t.Errorf("FieldNumber(%d).IsValid(): expected %v, got %v", tt.number, tt.valid, got)
		}
		if got := tt.number.IsReserved(); got != tt.reserved {
			t.Errorf("FieldNumber(%d).IsReserved(): expected %v, got %v", tt.number, tt.reserved, got)
		}
	}
}

func TestDecodeTag_Validation(t *testing.T) {
	t.Run("valid_tag", func(t *testing.T) {
		num, wt, err := NewDecoder([]byte{0x08}).DecodeTag()
		if err != nil {
			t.Fatalf("Failed to decode tag: %v", err)
		}
		if num != 1 || wt != WireVarint {
			t.Errorf("Expected (1, varint), got (%d, %d)", num, wt)
		}
	})

	t.Run("overlong_tag_varint", func(t *testing.T) {
		// Field 1 varint written as a two-byte varint. Still field 1.
		num, wt, err := NewDecoder([]byte{0x88, 0x00}).DecodeTag()
		if err != nil {
			t.Fatalf("Failed to decode over-long tag: %v", err)
		}
		if num != 1 || wt != WireVarint {
			t.Errorf("Expected (1, varint), got (%d, %d)", num, wt)
		}
	})

	t.Run("field_number_zero", func(t *testing.T) {
		_, _, err := NewDecoder([]byte{0x00}).DecodeTag()
		if !errors.Is(err, ErrInvalidTag) {
			t.Errorf("Expected ErrInvalidTag, got %v", err)
		}
	})

	t.Run("wire_type_6", func(t *testing.T) {
		_, _, err := NewDecoder([]byte{0x0E}).DecodeTag()
		if !errors.Is(err, ErrInvalidTag) {
			t.Errorf("Expected ErrInvalidTag, got %v", err)
		}
	})

	t.Run("wire_type_7", func(t *testing.T) {
		_, _, err := NewDecoder([]byte{0x0F}).DecodeTag()
		if !errors.Is(err, ErrInvalidTag) {
			t.Errorf("Expected ErrInvalidTag, got %v", err)
		}
	})

	t.Run("field_number_too_large", func(t *testing.T) {
		// (2^29) << 3 = 2^32, one past the largest encodable tag.
		_, _, err := NewDecoder([]byte{0x80, 0x80, 0x80, 0x80, 0x10}).DecodeTag()
		if !errors.Is(err, ErrInvalidTag) {
			t.Errorf("Expected ErrInvalidTag, got %v", err)
		}
	})

	t.Run("truncated_tag", func(t *testing.T) {
		_, _, err := NewDecoder([]byte{0x80}).DecodeTag()
		if !errors.Is(err, ErrUnexpectedEOF) {
			t.Errorf("Expected ErrUnexpectedEOF, got %v", err)
		}
	})
}
