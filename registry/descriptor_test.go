package registry

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/anirudhraja/protoforge/schema"
)

func fieldDesc(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Type:   typ.Enum(),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}
}

func messageFieldDesc(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	fd := fieldDesc(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	fd.TypeName = proto.String(typeName)
	return fd
}

func basicDescriptorSet() *descriptorpb.FileDescriptorSet {
	return &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			{
				Name:    proto.String("shop.proto"),
				Package: proto.String("shop"),
				Syntax:  proto.String("proto3"),
				MessageType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("Item"),
						Field: []*descriptorpb.FieldDescriptorProto{
							fieldDesc("sku", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
							fieldDesc("price", 2, descriptorpb.FieldDescriptorProto_TYPE_INT64),
						},
					},
				},
				EnumType: []*descriptorpb.EnumDescriptorProto{
					{
						Name: proto.String("Availability"),
						Value: []*descriptorpb.EnumValueDescriptorProto{
							{Name: proto.String("AVAILABILITY_UNKNOWN"), Number: proto.Int32(0)},
							{Name: proto.String("AVAILABILITY_IN_STOCK"), Number: proto.Int32(1)},
						},
					},
				},
				Service: []*descriptorpb.ServiceDescriptorProto{
					{
						Name: proto.String("Inventory"),
						Method: []*descriptorpb.MethodDescriptorProto{
							{
								Name:            proto.String("Lookup"),
								InputType:       proto.String(".shop.Item"),
								OutputType:      proto.String(".shop.Item"),
								ServerStreaming: proto.Bool(true),
							},
						},
					},
				},
			},
		},
	}
}

func TestLoadDescriptorSet_Basic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.LoadDescriptorSet(basicDescriptorSet()))

	item, err := reg.GetMessage("shop.Item")
	require.NoError(t, err)
	require.Len(t, item.Fields, 2)
	assert.Equal(t, schema.TypeString, item.Fields[0].Type.PrimitiveType)
	assert.Equal(t, int32(-1), item.Fields[0].OneofIndex)

	// proto3 without optional means implicit presence.
	assert.Equal(t, schema.PresenceImplicit, item.Fields[0].Resolved.Presence)

	avail, err := reg.GetEnum("shop.Availability")
	require.NoError(t, err)
	assert.Len(t, avail.Values, 2)

	inv, err := reg.GetService("shop.Inventory")
	require.NoError(t, err)
	require.Len(t, inv.Methods, 1)
	assert.Equal(t, "shop.Item", inv.Methods[0].InputType)
	assert.True(t, inv.Methods[0].ServerStreaming)
}

func TestLoadDescriptorSet_MapEntryFolding(t *testing.T) {
	fds := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			{
				Name:    proto.String("user.proto"),
				Package: proto.String("shop"),
				Syntax:  proto.String("proto3"),
				MessageType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("User"),
						Field: []*descriptorpb.FieldDescriptorProto{
							func() *descriptorpb.FieldDescriptorProto {
								fd := messageFieldDesc("attrs", 1, ".shop.User.AttrsEntry")
								fd.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
								return fd
							}(),
							func() *descriptorpb.FieldDescriptorProto {
								fd := messageFieldDesc("carts", 2, ".shop.User.CartsEntry")
								fd.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
								return fd
							}(),
						},
						NestedType: []*descriptorpb.DescriptorProto{
							{
								Name:    proto.String("AttrsEntry"),
								Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
								Field: []*descriptorpb.FieldDescriptorProto{
									fieldDesc("key", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
									fieldDesc("value", 2, descriptorpb.FieldDescriptorProto_TYPE_INT64),
								},
							},
							{
								Name:    proto.String("CartsEntry"),
								Options: &descriptorpb.MessageOptions{MapEntry: proto.Bool(true)},
								Field: []*descriptorpb.FieldDescriptorProto{
									fieldDesc("key", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32),
									messageFieldDesc("value", 2, ".shop.Cart"),
								},
							},
						},
					},
					{
						Name: proto.String("Cart"),
						Field: []*descriptorpb.FieldDescriptorProto{
							fieldDesc("id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
						},
					},
				},
			},
		},
	}

	reg := NewRegistry()
	require.NoError(t, reg.LoadDescriptorSet(fds))

	user, err := reg.GetMessage("shop.User")
	require.NoError(t, err)
	require.Len(t, user.Fields, 2)

	attrs := user.Fields[0]
	assert.Equal(t, schema.KindMap, attrs.Type.Kind)
	assert.Equal(t, schema.TypeString, attrs.Type.MapKey.PrimitiveType)
	assert.Equal(t, schema.TypeInt64, attrs.Type.MapValue.PrimitiveType)

	carts := user.Fields[1]
	assert.Equal(t, schema.KindMap, carts.Type.Kind)
	assert.Equal(t, schema.TypeInt32, carts.Type.MapKey.PrimitiveType)
	assert.Equal(t, schema.KindMessage, carts.Type.MapValue.Kind)
	assert.Equal(t, "shop.Cart", carts.Type.MapValue.MessageType)

	// The synthetic entry messages fold away entirely.
	_, err = reg.GetMessage("shop.User.AttrsEntry")
	assert.Error(t, err)
	_, err = reg.GetMessage("shop.User.CartsEntry")
	assert.Error(t, err)
}

func TestLoadDescriptorSet_OneofHandling(t *testing.T) {
	nickname := fieldDesc("nickname", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING)
	nickname.OneofIndex = proto.Int32(0)
	nickname.Proto3Optional = proto.Bool(true)

	email := fieldDesc("email", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING)
	email.OneofIndex = proto.Int32(1)
	phone := fieldDesc("phone", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING)
	phone.OneofIndex = proto.Int32(1)

	fds := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			{
				Name:    proto.String("contact.proto"),
				Package: proto.String("crm"),
				Syntax:  proto.String("proto3"),
				MessageType: []*descriptorpb.DescriptorProto{
					{
						Name:  proto.String("Contact"),
						Field: []*descriptorpb.FieldDescriptorProto{nickname, email, phone},
						OneofDecl: []*descriptorpb.OneofDescriptorProto{
							{Name: proto.String("_nickname")},
							{Name: proto.String("method")},
						},
					},
				},
			},
		},
	}

	reg := NewRegistry()
	require.NoError(t, reg.LoadDescriptorSet(fds))

	contact, err := reg.GetMessage("crm.Contact")
	require.NoError(t, err)

	// The synthetic oneof carrying the proto3 optional folds back into a
	// plain field; the real oneof survives with remapped indices.
	require.Len(t, contact.Fields, 1)
	nick := contact.Fields[0]
	assert.Equal(t, "nickname", nick.Name)
	assert.True(t, nick.Proto3Optional)
	assert.Equal(t, int32(-1), nick.OneofIndex)
	assert.Equal(t, schema.PresenceExplicit, nick.Resolved.Presence)

	require.Len(t, contact.OneofGroups, 1)
	method := contact.OneofGroups[0]
	assert.Equal(t, "method", method.Name)
	require.Len(t, method.Fields, 2)
	assert.Equal(t, int32(0), method.Fields[0].OneofIndex)
	assert.Equal(t, int32(0), method.Fields[1].OneofIndex)
	assert.Equal(t, schema.PresenceExplicit, method.Fields[0].Resolved.Presence)
}

func TestLoadDescriptorSet_ExtensionRangesEndExclusive(t *testing.T) {
	fds := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			{
				Name:    proto.String("base.proto"),
				Package: proto.String("ext"),
				Syntax:  proto.String("proto2"),
				MessageType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("Base"),
						ExtensionRange: []*descriptorpb.DescriptorProto_ExtensionRange{
							{Start: proto.Int32(100), End: proto.Int32(200)},
						},
					},
				},
				Extension: []*descriptorpb.FieldDescriptorProto{
					func() *descriptorpb.FieldDescriptorProto {
						fd := fieldDesc("note", 100, descriptorpb.FieldDescriptorProto_TYPE_STRING)
						fd.Extendee = proto.String(".ext.Base")
						return fd
					}(),
				},
			},
		},
	}

	reg := NewRegistry()
	require.NoError(t, reg.LoadDescriptorSet(fds))

	base, err := reg.GetMessage("ext.Base")
	require.NoError(t, err)
	require.Len(t, base.ExtensionRanges, 1)

	// Descriptor ranges exclude their end; the schema range includes it.
	assert.Equal(t, int32(100), base.ExtensionRanges[0].Start)
	assert.Equal(t, int32(199), base.ExtensionRanges[0].End)
	assert.True(t, base.ExtensionRanges[0].Contains(199))
	assert.False(t, base.ExtensionRanges[0].Contains(200))

	note, err := reg.GetExtension("ext.note")
	require.NoError(t, err)
	assert.Equal(t, "ext.Base", note.Extendee)

	byNum, ok := reg.GetExtensionByNumber("ext.Base", 100)
	require.True(t, ok)
	assert.Equal(t, "ext.note", byNum.FullName)
}

func TestLoadDescriptorSet_GroupFieldsDropped(t *testing.T) {
	group := fieldDesc("legacy", 2, descriptorpb.FieldDescriptorProto_TYPE_GROUP)
	group.TypeName = proto.String(".old.Message.Legacy")

	fds := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			{
				Name:    proto.String("old.proto"),
				Package: proto.String("old"),
				Syntax:  proto.String("proto2"),
				MessageType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("Message"),
						Field: []*descriptorpb.FieldDescriptorProto{
							fieldDesc("kept", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
							group,
						},
						NestedType: []*descriptorpb.DescriptorProto{
							{Name: proto.String("Legacy")},
						},
					},
				},
			},
		},
	}

	reg := NewRegistry()
	require.NoError(t, reg.LoadDescriptorSet(fds))

	msg, err := reg.GetMessage("old.Message")
	require.NoError(t, err)
	require.Len(t, msg.Fields, 1)
	assert.Equal(t, "kept", msg.Fields[0].Name)
}

func TestLoadDescriptorSet_WrapperTyping(t *testing.T) {
	fds := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			{
				Name:    proto.String("prefs.proto"),
				Package: proto.String("prefs"),
				Syntax:  proto.String("proto3"),
				MessageType: []*descriptorpb.DescriptorProto{
					{
						Name: proto.String("Prefs"),
						Field: []*descriptorpb.FieldDescriptorProto{
							messageFieldDesc("label", 1, ".google.protobuf.StringValue"),
						},
					},
				},
			},
		},
	}

	reg := NewRegistry()
	require.NoError(t, reg.LoadDescriptorSet(fds))

	prefs, err := reg.GetMessage("prefs.Prefs")
	require.NoError(t, err)
	assert.Equal(t, schema.KindWrapper, prefs.Fields[0].Type.Kind)
	assert.Equal(t, schema.WrapperStringValue, prefs.Fields[0].Type.WrapperType)
}

func TestLoadDescriptorSet_Editions(t *testing.T) {
	t.Run("edition_2023_with_file_features", func(t *testing.T) {
		fds := &descriptorpb.FileDescriptorSet{
			File: []*descriptorpb.FileDescriptorProto{
				{
					Name:    proto.String("ed.proto"),
					Package: proto.String("ed"),
					Syntax:  proto.String("editions"),
					Edition: descriptorpb.Edition_EDITION_2023.Enum(),
					Options: &descriptorpb.FileOptions{
						Features: &descriptorpb.FeatureSet{
							FieldPresence: descriptorpb.FeatureSet_IMPLICIT.Enum(),
						},
					},
					MessageType: []*descriptorpb.DescriptorProto{
						{
							Name: proto.String("M"),
							Field: []*descriptorpb.FieldDescriptorProto{
								fieldDesc("x", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32),
							},
						},
					},
				},
			},
		}

		reg := NewRegistry()
		require.NoError(t, reg.LoadDescriptorSet(fds))

		m, err := reg.GetMessage("ed.M")
		require.NoError(t, err)
		// The file override flips the 2023 default of explicit presence.
		assert.Equal(t, schema.PresenceImplicit, m.Fields[0].Resolved.Presence)
	})

	t.Run("unsupported_edition", func(t *testing.T) {
		fds := &descriptorpb.FileDescriptorSet{
			File: []*descriptorpb.FileDescriptorProto{
				{
					Name:    proto.String("bad.proto"),
					Syntax:  proto.String("editions"),
					Edition: descriptorpb.Edition_EDITION_1_TEST_ONLY.Enum(),
				},
			},
		}

		err := NewRegistry().LoadDescriptorSet(fds)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported edition")
	})
}

func TestLoadDescriptorSetBytes(t *testing.T) {
	raw, err := proto.Marshal(basicDescriptorSet())
	require.NoError(t, err)

	t.Run("plain", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.LoadDescriptorSetBytes(raw))
		_, err := reg.GetMessage("shop.Item")
		assert.NoError(t, err)
	})

	t.Run("gzipped", func(t *testing.T) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		reg := NewRegistry()
		require.NoError(t, reg.LoadDescriptorSetBytes(buf.Bytes()))
		_, err = reg.GetMessage("shop.Item")
		assert.NoError(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		err := NewRegistry().LoadDescriptorSetBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF})
		assert.Error(t, err)
	})
}

func TestLoadDescriptorSetFile(t *testing.T) {
	raw, err := proto.Marshal(basicDescriptorSet())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "shop.binpb")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	reg := NewRegistry()
	require.NoError(t, reg.LoadDescriptorSetFile(path))
	_, err = reg.GetMessage("shop.Item")
	assert.NoError(t, err)

	assert.Error(t, NewRegistry().LoadDescriptorSetFile(filepath.Join(t.TempDir(), "missing.binpb")))
}
