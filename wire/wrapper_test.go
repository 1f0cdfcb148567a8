package wire

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/anirudhraja/protoforge/schema"
)

func wrapperMessage(wrapperType schema.WrapperType) *schema.Message {
	return &schema.Message{
		Name: "WrapperHolder",
		Fields: []*schema.Field{
			{
				Name:   "wrapper_field",
				Number: 1,
				Type: schema.FieldType{
					Kind:        schema.KindWrapper,
					WrapperType: wrapperType,
				},
			},
		},
	}
}

func TestWrapperTypes_Encoding_Decoding(t *testing.T) {
	tests := []struct {
		name        string
		wrapperType schema.WrapperType
		value       interface{}
		expectNil   bool
	}{
		{
			name:        "DoubleValue",
			wrapperType: schema.WrapperDoubleValue,
			value:       float64(3.14159),
		},
		{
			name:        "FloatValue",
			wrapperType: schema.WrapperFloatValue,
			value:       float32(2.718),
		},
		{
			name:        "Int64Value",
			wrapperType: schema.WrapperInt64Value,
			value:       int64(-9223372036854775808),
		},
		{
			name:        "UInt64Value",
			wrapperType: schema.WrapperUInt64Value,
			value:       uint64(18446744073709551615),
		},
		{
			name:        "Int32Value",
			wrapperType: schema.WrapperInt32Value,
			value:       int32(-2147483648),
		},
		{
			name:        "UInt32Value",
			wrapperType: schema.WrapperUInt32Value,
			value:       uint32(4294967295),
		},
		{
			name:        "BoolValue_true",
			wrapperType: schema.WrapperBoolValue,
			value:       true,
		},
		{
			name:        "BoolValue_false",
			wrapperType: schema.WrapperBoolValue,
			value:       false,
		},
		{
			name:        "StringValue",
			wrapperType: schema.WrapperStringValue,
			value:       "Hello, wrapper types!",
		},
		{
			name:        "BytesValue",
			wrapperType: schema.WrapperBytesValue,
			value:       []byte{0x01, 0x02, 0x03, 0xFF},
		},
		{
			name:        "NilValue",
			wrapperType: schema.WrapperStringValue,
			value:       nil,
			expectNil:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			message := wrapperMessage(tt.wrapperType)

			testData := map[string]interface{}{}
			if !tt.expectNil {
				testData["wrapper_field"] = tt.value
			}

			// Encode the message
			encodedData, err := EncodeMessage(testData, message, nil)
			if err != nil {
				t.Fatalf("Failed to encode message: %v", err)
			}

			// Decode the message
			decodedData, err := DecodeMessage(encodedData, message, nil)
			if err != nil {
				t.Fatalf("Failed to decode message: %v", err)
			}

			// Verify the result
			if tt.expectNil {
				if len(encodedData) != 0 {
					t.Errorf("Expected empty encoding for absent wrapper, got % X", encodedData)
				}
				if wrapperField, exists := decodedData["wrapper_field"]; exists {
					t.Errorf("Expected no wrapper field, got %v", wrapperField)
				}
				return
			}

			wrapperField, exists := decodedData["wrapper_field"]
			if !exists {
				t.Fatal("Expected wrapper field to exist")
			}
			if !reflect.DeepEqual(wrapperField, tt.value) {
				t.Errorf("Expected %v (%T), got %v (%T)", tt.value, tt.value, wrapperField, wrapperField)
			}
		})
	}
}

func TestWrapperTypes_ZeroValueWireFormat(t *testing.T) {
	// A present zero wrapper encodes as an empty frame. That is how a
	// wrapper keeps presence without a payload.
	tests := []struct {
		name        string
		wrapperType schema.WrapperType
		zero        interface{}
	}{
		{"int32_zero", schema.WrapperInt32Value, int32(0)},
		{"int64_zero", schema.WrapperInt64Value, int64(0)},
		{"uint32_zero", schema.WrapperUInt32Value, uint32(0)},
		{"uint64_zero", schema.WrapperUInt64Value, uint64(0)},
		{"bool_false", schema.WrapperBoolValue, false},
		{"float_zero", schema.WrapperFloatValue, float32(0)},
		{"double_zero", schema.WrapperDoubleValue, float64(0)},
		{"empty_string", schema.WrapperStringValue, ""},
		{"empty_bytes", schema.WrapperBytesValue, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			message := wrapperMessage(tt.wrapperType)

			encodedData, err := EncodeMessage(map[string]interface{}{"wrapper_field": tt.zero}, message, nil)
			if err != nil {
				t.Fatalf("Failed to encode: %v", err)
			}
			if !bytes.Equal(encodedData, []byte{0x0A, 0x00}) {
				t.Errorf("Expected empty frame 0A 00, got % X", encodedData)
			}

			decodedData, err := DecodeMessage(encodedData, message, nil)
			if err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			wrapperField, exists := decodedData["wrapper_field"]
			if !exists {
				t.Fatal("Expected wrapper field to exist")
			}
			if !reflect.DeepEqual(wrapperField, tt.zero) {
				t.Errorf("Expected %v (%T), got %v (%T)", tt.zero, tt.zero, wrapperField, wrapperField)
			}
		})
	}
}

func TestWrapperTypes_NonZeroWireFormat(t *testing.T) {
	message := wrapperMessage(schema.WrapperInt32Value)

	encodedData, err := EncodeMessage(map[string]interface{}{"wrapper_field": int32(5)}, message, nil)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	// Outer frame for field 1, inner varint field 1 carrying the scalar.
	want := []byte{0x0A, 0x02, 0x08, 0x05}
	if !bytes.Equal(encodedData, want) {
		t.Errorf("Expected % X, got % X", want, encodedData)
	}
}

func TestWrapperTypes_UnknownFieldInsideFrameSkipped(t *testing.T) {
	message := wrapperMessage(schema.WrapperInt32Value)

	// Frame carrying field 2 (not part of any wrapper) plus the value field.
	input := []byte{0x0A, 0x04, 0x10, 0x01, 0x08, 0x07}
	decodedData, err := DecodeMessage(input, message, nil)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if decodedData["wrapper_field"] != int32(7) {
		t.Errorf("Expected 7, got %v", decodedData["wrapper_field"])
	}
}

func TestWrapperTypes_RepeatedFields(t *testing.T) {
	message := &schema.Message{
		Name: "WrapperLists",
		Fields: []*schema.Field{
			{
				Name:   "repeated_strings",
				Number: 1,
				Label:  schema.LabelRepeated,
				Type: schema.FieldType{
					Kind:        schema.KindWrapper,
					WrapperType: schema.WrapperStringValue,
				},
			},
			{
				Name:   "repeated_ints",
				Number: 2,
				Label:  schema.LabelRepeated,
				Type: schema.FieldType{
					Kind:        schema.KindWrapper,
					WrapperType: schema.WrapperInt32Value,
				},
			},
		},
	}

	testData := map[string]interface{}{
		"repeated_strings": []interface{}{"hello", "world", "test"},
		"repeated_ints":    []interface{}{int32(1), int32(0), int32(3)},
	}

	encodedData, err := EncodeMessage(testData, message, nil)
	if err != nil {
		t.Fatalf("Failed to encode message: %v", err)
	}
	decodedData, err := DecodeMessage(encodedData, message, nil)
	if err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}

	// The zero element in the middle of the list survives.
	if !reflect.DeepEqual(decodedData["repeated_strings"], testData["repeated_strings"]) {
		t.Errorf("Expected %v, got %v", testData["repeated_strings"], decodedData["repeated_strings"])
	}
	if !reflect.DeepEqual(decodedData["repeated_ints"], testData["repeated_ints"]) {
		t.Errorf("Expected %v, got %v", testData["repeated_ints"], decodedData["repeated_ints"])
	}
}
