package wire

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/anirudhraja/protoforge/registry"
	"github.com/anirudhraja/protoforge/schema"
)

func mergeTestRegistry(t *testing.T) *registryForMerge {
	t.Helper()
	contact := &schema.Message{
		Name: "Contact",
		Fields: []*schema.Field{
			{
				Name:   "name",
				Number: 1,
				Type: schema.FieldType{
					Kind:          schema.KindPrimitive,
					PrimitiveType: schema.TypeString,
				},
			},
			{
				Name:   "id",
				Number: 2,
				Type: schema.FieldType{
					Kind:          schema.KindPrimitive,
					PrimitiveType: schema.TypeInt32,
				},
			},
			{
				Name:   "tags",
				Number: 3,
				Label:  schema.LabelRepeated,
				Type: schema.FieldType{
					Kind:          schema.KindPrimitive,
					PrimitiveType: schema.TypeString,
				},
			},
			{
				Name:   "address",
				Number: 4,
				Type: schema.FieldType{
					Kind:        schema.KindMessage,
					MessageType: "Address",
				},
			},
			{
				Name:   "attrs",
				Number: 5,
				Type: schema.FieldType{
					Kind: schema.KindMap,
					MapKey: &schema.FieldType{
						Kind:          schema.KindPrimitive,
						PrimitiveType: schema.TypeString,
					},
					MapValue: &schema.FieldType{
						Kind:          schema.KindPrimitive,
						PrimitiveType: schema.TypeInt32,
					},
				},
			},
		},
	}
	address := &schema.Message{
		Name: "Address",
		Fields: []*schema.Field{
			{
				Name:   "street",
				Number: 1,
				Type: schema.FieldType{
					Kind:          schema.KindPrimitive,
					PrimitiveType: schema.TypeString,
				},
			},
			{
				Name:   "city",
				Number: 2,
				Type: schema.FieldType{
					Kind:          schema.KindPrimitive,
					PrimitiveType: schema.TypeString,
				},
			},
		},
	}
	reg := buildRegistry(t, &schema.ProtoFile{
		Name:     "crm.proto",
		Package:  "crm",
		Syntax:   "proto3",
		Messages: []*schema.Message{contact, address},
	})
	contactMsg, err := reg.GetMessage("Contact")
	if err != nil {
		t.Fatalf("Failed to look up Contact: %v", err)
	}
	addressMsg, err := reg.GetMessage("Address")
	if err != nil {
		t.Fatalf("Failed to look up Address: %v", err)
	}
	return &registryForMerge{reg: reg, contact: contactMsg, address: addressMsg}
}

type registryForMerge struct {
	reg     *registry.Registry
	contact *schema.Message
	address *schema.Message
}

func (r *registryForMerge) encode(t *testing.T, data map[string]interface{}) []byte {
	t.Helper()
	encoded, err := EncodeMessage(data, r.contact, r.reg)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	return encoded
}

func TestMerge_ScalarLastWins(t *testing.T) {
	env := mergeTestRegistry(t)

	first := env.encode(t, map[string]interface{}{"name": "alice", "id": int32(7)})
	second := env.encode(t, map[string]interface{}{"name": "bob"})

	merged, err := DecodeMessage(first, env.contact, env.reg)
	if err != nil {
		t.Fatalf("Failed to decode first: %v", err)
	}
	if err := MergeMessage(second, merged, env.contact, env.reg); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}

	// The later name wins, the untouched id survives.
	if merged["name"] != "bob" {
		t.Errorf("Expected name bob, got %v", merged["name"])
	}
	if merged["id"] != int32(7) {
		t.Errorf("Expected id 7, got %v", merged["id"])
	}
}

func TestMerge_NestedMessagesMergeRecursively(t *testing.T) {
	env := mergeTestRegistry(t)

	first := env.encode(t, map[string]interface{}{
		"address": map[string]interface{}{"street": "1 Main St"},
	})
	second := env.encode(t, map[string]interface{}{
		"address": map[string]interface{}{"city": "Springfield"},
	})

	merged, err := DecodeMessage(first, env.contact, env.reg)
	if err != nil {
		t.Fatalf("Failed to decode first: %v", err)
	}
	if err := MergeMessage(second, merged, env.contact, env.reg); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}

	want := map[string]interface{}{"street": "1 Main St", "city": "Springfield"}
	if !reflect.DeepEqual(merged["address"], want) {
		t.Errorf("Expected %v, got %v", want, merged["address"])
	}
}

func TestMerge_RepeatedAppends(t *testing.T) {
	env := mergeTestRegistry(t)

	first := env.encode(t, map[string]interface{}{"tags": []interface{}{"red", "green"}})
	second := env.encode(t, map[string]interface{}{"tags": []interface{}{"blue"}})

	merged, err := DecodeMessage(first, env.contact, env.reg)
	if err != nil {
		t.Fatalf("Failed to decode first: %v", err)
	}
	if err := MergeMessage(second, merged, env.contact, env.reg); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}

	want := []interface{}{"red", "green", "blue"}
	if !reflect.DeepEqual(merged["tags"], want) {
		t.Errorf("Expected %v, got %v", want, merged["tags"])
	}
}

func TestMerge_MapsMergeByKey(t *testing.T) {
	env := mergeTestRegistry(t)

	first := env.encode(t, map[string]interface{}{
		"attrs": map[string]interface{}{"a": int32(1), "b": int32(2)},
	})
	second := env.encode(t, map[string]interface{}{
		"attrs": map[string]interface{}{"b": int32(9), "c": int32(3)},
	})

	merged, err := DecodeMessage(first, env.contact, env.reg)
	if err != nil {
		t.Fatalf("Failed to decode first: %v", err)
	}
	if err := MergeMessage(second, merged, env.contact, env.reg); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}

	want := map[interface{}]interface{}{"a": int32(1), "b": int32(9), "c": int32(3)}
	if !reflect.DeepEqual(merged["attrs"], want) {
		t.Errorf("Expected %v, got %v", want, merged["attrs"])
	}
}

func TestMerge_EquivalentToConcatenation(t *testing.T) {
	env := mergeTestRegistry(t)

	first := env.encode(t, map[string]interface{}{
		"name":    "alice",
		"id":      int32(7),
		"tags":    []interface{}{"red"},
		"address": map[string]interface{}{"street": "1 Main St"},
		"attrs":   map[string]interface{}{"a": int32(1)},
	})
	second := env.encode(t, map[string]interface{}{
		"name":    "bob",
		"tags":    []interface{}{"blue"},
		"address": map[string]interface{}{"city": "Springfield"},
		"attrs":   map[string]interface{}{"b": int32(2)},
	})

	merged, err := DecodeMessage(first, env.contact, env.reg)
	if err != nil {
		t.Fatalf("Failed to decode first: %v", err)
	}
	if err := MergeMessage(second, merged, env.contact, env.reg); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}

	concatenated, err := DecodeMessage(append(append([]byte{}, first...), second...), env.contact, env.reg)
	if err != nil {
		t.Fatalf("Failed to decode concatenation: %v", err)
	}

	if !reflect.DeepEqual(merged, concatenated) {
		t.Errorf("Merge and concatenation disagree:\nmerge:  %v\nconcat: %v", merged, concatenated)
	}
}

func TestMerge_RawFramesConcatenate(t *testing.T) {
	env := mergeTestRegistry(t)

	first := env.encode(t, map[string]interface{}{
		"address": map[string]interface{}{"street": "1 Main St"},
	})
	second := env.encode(t, map[string]interface{}{
		"address": map[string]interface{}{"city": "Springfield"},
	})

	// Without a registry the frames stay raw, and merging them is frame
	// concatenation.
	merged, err := DecodeMessage(first, env.contact, nil)
	if err != nil {
		t.Fatalf("Failed to decode first: %v", err)
	}
	if err := MergeMessage(second, merged, env.contact, nil); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}

	frame, ok := merged["address"].([]byte)
	if !ok {
		t.Fatalf("Expected raw frame, got %T", merged["address"])
	}

	firstFrame, err := DecodeMessage(first, env.contact, nil)
	if err != nil {
		t.Fatalf("Failed to decode first frame: %v", err)
	}
	secondFrame, err := DecodeMessage(second, env.contact, nil)
	if err != nil {
		t.Fatalf("Failed to decode second frame: %v", err)
	}
	want := append(append([]byte{}, firstFrame["address"].([]byte)...), secondFrame["address"].([]byte)...)
	if !bytes.Equal(frame, want) {
		t.Errorf("Expected concatenated frame % X, got % X", want, frame)
	}

	// The concatenated frame still decodes to the merged message.
	decoded, err := DecodeMessage(frame, env.address, env.reg)
	if err != nil {
		t.Fatalf("Failed to decode concatenated frame: %v", err)
	}
	wantAddr := map[string]interface{}{"street": "1 Main St", "city": "Springfield"}
	if !reflect.DeepEqual(decoded, wantAddr) {
		t.Errorf("Expected %v, got %v", wantAddr, decoded)
	}
}

func TestMerge_UnknownFieldsAccumulate(t *testing.T) {
	env := mergeTestRegistry(t)

	undeclared := func(value uint64) []byte {
		encoder := NewEncoder()
		encoder.EncodeVarint(uint64(MakeTag(99, WireVarint)))
		encoder.EncodeVarint(value)
		return encoder.Bytes()
	}

	merged, err := DecodeMessage(undeclared(1), env.contact, env.reg)
	if err != nil {
		t.Fatalf("Failed to decode first: %v", err)
	}
	if err := MergeMessage(undeclared(2), merged, env.contact, env.reg); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}

	unknown, ok := merged[UnknownFieldsKey].(UnknownFieldSet)
	if !ok {
		t.Fatalf("Expected unknown field set, got %T", merged[UnknownFieldsKey])
	}
	if len(unknown) != 2 {
		t.Fatalf("Expected 2 unknown fields, got %d", len(unknown))
	}
	for i, f := range unknown {
		if f.Number != 99 {
			t.Errorf("Unknown %d: expected number 99, got %d", i, f.Number)
		}
	}
	if !bytes.Equal(unknown[0].Raw, undeclared(1)) || !bytes.Equal(unknown[1].Raw, undeclared(2)) {
		t.Error("Expected unknown raw bytes preserved in arrival order")
	}
}

func TestMerge_IntoEmptyMapMatchesDecode(t *testing.T) {
	env := mergeTestRegistry(t)

	encoded := env.encode(t, map[string]interface{}{"name": "alice", "id": int32(7)})

	merged := map[string]interface{}{}
	if err := MergeMessage(encoded, merged, env.contact, env.reg); err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}
	decoded, err := DecodeMessage(encoded, env.contact, env.reg)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if !reflect.DeepEqual(merged, decoded) {
		t.Errorf("Expected merge into empty map to match decode:\nmerge:  %v\ndecode: %v", merged, decoded)
	}
}
