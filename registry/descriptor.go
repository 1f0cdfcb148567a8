package registry

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/anirudhraja/protoforge/schema"
)

// LoadDescriptorSetFile loads a compiled descriptor set, as produced by
// protoc --descriptor_set_out, from disk. Gzipped sets are detected and
// decompressed transparently.
func (r *Registry) LoadDescriptorSetFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read descriptor set: %w", err)
	}
	return r.LoadDescriptorSetBytes(data)
}

// LoadDescriptorSetBytes loads a serialized FileDescriptorSet, optionally
// gzip-compressed.
func (r *Registry) LoadDescriptorSetBytes(data []byte) error {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to open gzipped descriptor set: %w", err)
		}
		defer zr.Close()
		inflated, err := io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("failed to decompress descriptor set: %w", err)
		}
		data = inflated
	}

	fds := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(data, fds); err != nil {
		return fmt.Errorf("failed to unmarshal descriptor set: %w", err)
	}
	return r.LoadDescriptorSet(fds)
}

// LoadDescriptorSet loads every file in a FileDescriptorSet. The set is
// expected to be transitively closed over imports, which protoc guarantees
// with --include_imports.
func (r *Registry) LoadDescriptorSet(fds *descriptorpb.FileDescriptorSet) error {
	r.ensureInit()

	for _, fdp := range fds.GetFile() {
		protoFile, err := convertFileDescriptor(fdp)
		if err != nil {
			return fmt.Errorf("descriptor %s: %w", fdp.GetName(), err)
		}
		r.repo.ProtoFiles[fdp.GetName()] = protoFile
	}

	return r.buildSymbolTable()
}

func convertFileDescriptor(fdp *descriptorpb.FileDescriptorProto) (*schema.ProtoFile, error) {
	protoFile := &schema.ProtoFile{
		Name:     fdp.GetName(),
		Package:  fdp.GetPackage(),
		Syntax:   fdp.GetSyntax(),
		Features: convertFeatureSet(fdp.GetOptions().GetFeatures()),
	}
	if protoFile.Syntax == "" {
		protoFile.Syntax = "proto2"
	}
	if protoFile.Syntax == "editions" {
		edition, err := convertEdition(fdp.GetEdition())
		if err != nil {
			return nil, err
		}
		protoFile.Edition = edition
	}

	public := make(map[int32]bool, len(fdp.GetPublicDependency()))
	for _, idx := range fdp.GetPublicDependency() {
		public[idx] = true
	}
	weak := make(map[int32]bool, len(fdp.GetWeakDependency()))
	for _, idx := range fdp.GetWeakDependency() {
		weak[idx] = true
	}
	for i, dep := range fdp.GetDependency() {
		protoFile.Imports = append(protoFile.Imports, &schema.Import{
			Path:   dep,
			Public: public[int32(i)],
			Weak:   weak[int32(i)],
		})
	}

	for _, dp := range fdp.GetMessageType() {
		msg, err := convertDescriptor(dp)
		if err != nil {
			return nil, err
		}
		protoFile.Messages = append(protoFile.Messages, msg)
	}
	for _, ed := range fdp.GetEnumType() {
		protoFile.Enums = append(protoFile.Enums, convertEnumDescriptor(ed))
	}
	for _, fd := range fdp.GetExtension() {
		ext, err := convertExtensionDescriptor(fd)
		if err != nil {
			return nil, err
		}
		if ext != nil {
			protoFile.Extensions = append(protoFile.Extensions, ext)
		}
	}
	for _, sd := range fdp.GetService() {
		protoFile.Services = append(protoFile.Services, convertServiceDescriptor(sd))
	}
	return protoFile, nil
}

func convertEdition(e descriptorpb.Edition) (schema.Edition, error) {
	switch e {
	case descriptorpb.Edition_EDITION_PROTO2:
		return schema.EditionProto2, nil
	case descriptorpb.Edition_EDITION_PROTO3:
		return schema.EditionProto3, nil
	case descriptorpb.Edition_EDITION_2023:
		return schema.Edition2023, nil
	case descriptorpb.Edition_EDITION_2024:
		return schema.Edition2024, nil
	default:
		return "", fmt.Errorf("unsupported edition: %s", e)
	}
}

// convertDescriptor maps a message descriptor onto the schema model. Map
// entry submessages fold into map-kind fields, and the synthetic oneofs
// that carry proto3 optional fields fold back into plain optional fields.
func convertDescriptor(dp *descriptorpb.DescriptorProto) (*schema.Message, error) {
	msg := &schema.Message{
		Name:     dp.GetName(),
		MapEntry: dp.GetOptions().GetMapEntry(),
		Features: convertFeatureSet(dp.GetOptions().GetFeatures()),
	}

	mapEntries := make(map[string]*descriptorpb.DescriptorProto)
	for _, nested := range dp.GetNestedType() {
		if nested.GetOptions().GetMapEntry() {
			mapEntries[nested.GetName()] = nested
		}
	}

	synthetic := make(map[int32]bool)
	for _, fd := range dp.GetField() {
		if fd.OneofIndex != nil && fd.GetProto3Optional() {
			synthetic[fd.GetOneofIndex()] = true
		}
	}
	oneofIndexMap := make(map[int32]int32)
	for i, od := range dp.GetOneofDecl() {
		if synthetic[int32(i)] {
			continue
		}
		oneofIndexMap[int32(i)] = int32(len(msg.OneofGroups))
		msg.OneofGroups = append(msg.OneofGroups, &schema.Oneof{Name: od.GetName()})
	}

	for _, fd := range dp.GetField() {
		field, err := convertFieldDescriptor(fd, mapEntries)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", dp.GetName(), err)
		}
		if field == nil {
			continue
		}
		if fd.OneofIndex != nil && !fd.GetProto3Optional() {
			newIndex, ok := oneofIndexMap[fd.GetOneofIndex()]
			if !ok {
				return nil, fmt.Errorf("message %s field %s: oneof index %d out of range",
					dp.GetName(), fd.GetName(), fd.GetOneofIndex())
			}
			field.OneofIndex = newIndex
			msg.OneofGroups[newIndex].Fields = append(msg.OneofGroups[newIndex].Fields, field)
			continue
		}
		msg.Fields = append(msg.Fields, field)
	}

	for _, nested := range dp.GetNestedType() {
		if nested.GetOptions().GetMapEntry() {
			continue
		}
		converted, err := convertDescriptor(nested)
		if err != nil {
			return nil, err
		}
		msg.NestedTypes = append(msg.NestedTypes, converted)
	}
	for _, ed := range dp.GetEnumType() {
		msg.NestedEnums = append(msg.NestedEnums, convertEnumDescriptor(ed))
	}
	for _, er := range dp.GetExtensionRange() {
		// Descriptor ranges are end-exclusive; the schema model is
		// inclusive on both ends.
		msg.ExtensionRanges = append(msg.ExtensionRanges, &schema.ExtensionRange{
			Start: er.GetStart(),
			End:   er.GetEnd() - 1,
		})
	}
	for _, fd := range dp.GetExtension() {
		ext, err := convertExtensionDescriptor(fd)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", dp.GetName(), err)
		}
		if ext != nil {
			msg.Extensions = append(msg.Extensions, ext)
		}
	}
	return msg, nil
}

// convertFieldDescriptor maps one field descriptor. Group-typed fields
// return nil: group declarations are legacy-only and their payloads survive
// decode through the unknown field set instead.
func convertFieldDescriptor(fd *descriptorpb.FieldDescriptorProto, mapEntries map[string]*descriptorpb.DescriptorProto) (*schema.Field, error) {
	if fd.GetType() == descriptorpb.FieldDescriptorProto_TYPE_GROUP {
		return nil, nil
	}

	fieldType, err := convertFieldDescriptorType(fd, mapEntries)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fd.GetName(), err)
	}

	field := &schema.Field{
		Name:           fd.GetName(),
		Number:         fd.GetNumber(),
		Label:          convertLabel(fd.GetLabel()),
		Type:           fieldType,
		DefaultValue:   fd.GetDefaultValue(),
		JsonName:       fd.GetJsonName(),
		OneofIndex:     -1,
		Proto3Optional: fd.GetProto3Optional(),
		Features:       convertFeatureSet(fd.GetOptions().GetFeatures()),
	}
	if opts := fd.GetOptions(); opts != nil && opts.Packed != nil {
		packed := opts.GetPacked()
		field.PackedOpt = &packed
	}
	return field, nil
}

func convertExtensionDescriptor(fd *descriptorpb.FieldDescriptorProto) (*schema.Extension, error) {
	field, err := convertFieldDescriptor(fd, nil)
	if err != nil || field == nil {
		return nil, err
	}
	return &schema.Extension{
		Name:     field.Name,
		Extendee: strings.TrimPrefix(fd.GetExtendee(), "."),
		Number:   field.Number,
		Label:    field.Label,
		Type:     field.Type,
	}, nil
}

func convertLabel(label descriptorpb.FieldDescriptorProto_Label) schema.FieldLabel {
	switch label {
	case descriptorpb.FieldDescriptorProto_LABEL_REQUIRED:
		return schema.LabelRequired
	case descriptorpb.FieldDescriptorProto_LABEL_REPEATED:
		return schema.LabelRepeated
	default:
		return schema.LabelOptional
	}
}

var descriptorPrimitives = map[descriptorpb.FieldDescriptorProto_Type]schema.PrimitiveType{
	descriptorpb.FieldDescriptorProto_TYPE_DOUBLE:   schema.TypeDouble,
	descriptorpb.FieldDescriptorProto_TYPE_FLOAT:    schema.TypeFloat,
	descriptorpb.FieldDescriptorProto_TYPE_INT64:    schema.TypeInt64,
	descriptorpb.FieldDescriptorProto_TYPE_UINT64:   schema.TypeUint64,
	descriptorpb.FieldDescriptorProto_TYPE_INT32:    schema.TypeInt32,
	descriptorpb.FieldDescriptorProto_TYPE_FIXED64:  schema.TypeFixed64,
	descriptorpb.FieldDescriptorProto_TYPE_FIXED32:  schema.TypeFixed32,
	descriptorpb.FieldDescriptorProto_TYPE_BOOL:     schema.TypeBool,
	descriptorpb.FieldDescriptorProto_TYPE_STRING:   schema.TypeString,
	descriptorpb.FieldDescriptorProto_TYPE_BYTES:    schema.TypeBytes,
	descriptorpb.FieldDescriptorProto_TYPE_UINT32:   schema.TypeUint32,
	descriptorpb.FieldDescriptorProto_TYPE_SFIXED32: schema.TypeSfixed32,
	descriptorpb.FieldDescriptorProto_TYPE_SFIXED64: schema.TypeSfixed64,
	descriptorpb.FieldDescriptorProto_TYPE_SINT32:   schema.TypeSint32,
	descriptorpb.FieldDescriptorProto_TYPE_SINT64:   schema.TypeSint64,
}

func convertFieldDescriptorType(fd *descriptorpb.FieldDescriptorProto, mapEntries map[string]*descriptorpb.DescriptorProto) (schema.FieldType, error) {
	if pt, ok := descriptorPrimitives[fd.GetType()]; ok {
		return schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: pt}, nil
	}

	typeName := strings.TrimPrefix(fd.GetTypeName(), ".")
	switch fd.GetType() {
	case descriptorpb.FieldDescriptorProto_TYPE_ENUM:
		return schema.FieldType{Kind: schema.KindEnum, EnumType: typeName}, nil
	case descriptorpb.FieldDescriptorProto_TYPE_MESSAGE:
		if wt, ok := wrapperTypes[typeName]; ok {
			return schema.FieldType{Kind: schema.KindWrapper, WrapperType: wt}, nil
		}
		if entry, ok := mapEntries[lastSegment(typeName)]; ok {
			return convertMapEntryType(entry, mapEntries)
		}
		return schema.FieldType{Kind: schema.KindMessage, MessageType: typeName}, nil
	default:
		return schema.FieldType{}, fmt.Errorf("unsupported descriptor type %s", fd.GetType())
	}
}

func convertMapEntryType(entry *descriptorpb.DescriptorProto, mapEntries map[string]*descriptorpb.DescriptorProto) (schema.FieldType, error) {
	var keyType, valueType *schema.FieldType
	for _, fd := range entry.GetField() {
		ft, err := convertFieldDescriptorType(fd, mapEntries)
		if err != nil {
			return schema.FieldType{}, err
		}
		switch fd.GetNumber() {
		case 1:
			keyType = &ft
		case 2:
			valueType = &ft
		}
	}
	if keyType == nil || valueType == nil {
		return schema.FieldType{}, fmt.Errorf("map entry %s is missing key or value", entry.GetName())
	}
	return schema.FieldType{Kind: schema.KindMap, MapKey: keyType, MapValue: valueType}, nil
}

func convertEnumDescriptor(ed *descriptorpb.EnumDescriptorProto) *schema.Enum {
	enum := &schema.Enum{
		Name:       ed.GetName(),
		AllowAlias: ed.GetOptions().GetAllowAlias(),
		Features:   convertFeatureSet(ed.GetOptions().GetFeatures()),
	}
	for _, vd := range ed.GetValue() {
		enum.Values = append(enum.Values, &schema.EnumValue{
			Name:   vd.GetName(),
			Number: vd.GetNumber(),
		})
	}
	return enum
}

func convertServiceDescriptor(sd *descriptorpb.ServiceDescriptorProto) *schema.Service {
	service := &schema.Service{Name: sd.GetName()}
	for _, md := range sd.GetMethod() {
		service.Methods = append(service.Methods, &schema.Method{
			Name:            md.GetName(),
			InputType:       strings.TrimPrefix(md.GetInputType(), "."),
			OutputType:      strings.TrimPrefix(md.GetOutputType(), "."),
			ClientStreaming: md.GetClientStreaming(),
			ServerStreaming: md.GetServerStreaming(),
		})
	}
	return service
}

// convertFeatureSet maps descriptor feature options onto the schema model.
// Unset features stay zero so the cascade treats them as inherited.
func convertFeatureSet(fs *descriptorpb.FeatureSet) *schema.FeatureSet {
	if fs == nil {
		return nil
	}
	out := &schema.FeatureSet{}
	switch fs.GetFieldPresence() {
	case descriptorpb.FeatureSet_EXPLICIT:
		out.FieldPresence = schema.PresenceExplicit
	case descriptorpb.FeatureSet_IMPLICIT:
		out.FieldPresence = schema.PresenceImplicit
	case descriptorpb.FeatureSet_LEGACY_REQUIRED:
		out.FieldPresence = schema.PresenceLegacyRequired
	}
	switch fs.GetEnumType() {
	case descriptorpb.FeatureSet_OPEN:
		out.EnumType = schema.EnumOpen
	case descriptorpb.FeatureSet_CLOSED:
		out.EnumType = schema.EnumClosed
	}
	switch fs.GetRepeatedFieldEncoding() {
	case descriptorpb.FeatureSet_PACKED:
		out.RepeatedFieldEncoding = schema.RepeatedPacked
	case descriptorpb.FeatureSet_EXPANDED:
		out.RepeatedFieldEncoding = schema.RepeatedExpanded
	}
	switch fs.GetUtf8Validation() {
	case descriptorpb.FeatureSet_VERIFY:
		out.Utf8Validation = schema.Utf8Verify
	case descriptorpb.FeatureSet_NONE:
		out.Utf8Validation = schema.Utf8None
	}
	switch fs.GetMessageEncoding() {
	case descriptorpb.FeatureSet_LENGTH_PREFIXED:
		out.MessageEncoding = schema.MessageLengthPrefixed
	case descriptorpb.FeatureSet_DELIMITED:
		out.MessageEncoding = schema.MessageDelimited
	}
	switch fs.GetJsonFormat() {
	case descriptorpb.FeatureSet_ALLOW:
		out.JSONFormat = schema.JSONAllow
	case descriptorpb.FeatureSet_LEGACY_BEST_EFFORT:
		out.JSONFormat = schema.JSONLegacyBestEffort
	}
	return out
}

func lastSegment(fullName string) string {
	if idx := strings.LastIndex(fullName, "."); idx >= 0 {
		return fullName[idx+1:]
	}
	return fullName
}
