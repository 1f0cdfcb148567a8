package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	protoparser "github.com/yoheimuta/go-protoparser/v4"
	"github.com/yoheimuta/go-protoparser/v4/parser"

	"github.com/anirudhraja/protoforge/schema"
)

// loadProtoSource parses one .proto file and everything it imports,
// depth-first. The repository doubles as the visited set, so import cycles
// and repeated loads of the same file are harmless.
func (r *Registry) loadProtoSource(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, loaded := r.repo.ProtoFiles[abs]; loaded {
		return nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	parsed, err := protoparser.Parse(bytes.NewBuffer(content))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	protoFile, err := convertProto(filepath.Base(abs), parsed)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	r.repo.ProtoFiles[abs] = protoFile

	for _, imp := range protoFile.Imports {
		resolved, err := r.findProto(imp.Path)
		if err != nil {
			// Well-known imports need no file on disk: wrapper types
			// are recognized by name, and the handful of other
			// well-known messages are synthesized.
			if wk := wellKnownFile(imp.Path); wk != nil {
				if _, loaded := r.repo.ProtoFiles[imp.Path]; !loaded {
					r.repo.ProtoFiles[imp.Path] = wk
				}
				continue
			}
			if strings.HasPrefix(imp.Path, "google/protobuf/") {
				continue
			}
			return err
		}
		if err := r.loadProtoSource(resolved); err != nil {
			return err
		}
	}
	return nil
}

// findProto resolves an import path against the registered import roots.
func (r *Registry) findProto(importPath string) (string, error) {
	if !strings.HasSuffix(importPath, ".proto") {
		return "", fmt.Errorf("import %s is not a .proto file", importPath)
	}
	for _, dir := range r.importPaths {
		fullPath := filepath.Join(dir, importPath)
		if _, err := os.Stat(fullPath); err == nil {
			return fullPath, nil
		}
	}
	return "", fmt.Errorf("import not found on any import path: %s", importPath)
}

// convertProto maps a parsed .proto file onto the schema model.
func convertProto(name string, p *parser.Proto) (*schema.ProtoFile, error) {
	protoFile := &schema.ProtoFile{
		Name:     name,
		Syntax:   "proto2",
		Imports:  []*schema.Import{},
		Messages: []*schema.Message{},
		Enums:    []*schema.Enum{},
		Services: []*schema.Service{},
	}
	if p.Syntax != nil && p.Syntax.ProtobufVersion != "" {
		protoFile.Syntax = p.Syntax.ProtobufVersion
	}

	for _, visitee := range p.ProtoBody {
		switch body := visitee.(type) {
		case *parser.Package:
			protoFile.Package = body.Name
		case *parser.Import:
			protoFile.Imports = append(protoFile.Imports, &schema.Import{
				Path:   strings.Trim(body.Location, `"`),
				Public: body.Modifier == parser.ImportModifierPublic,
				Weak:   body.Modifier == parser.ImportModifierWeak,
			})
		case *parser.Message:
			msg, err := convertMessage(body, protoFile.Syntax)
			if err != nil {
				return nil, err
			}
			protoFile.Messages = append(protoFile.Messages, msg)
		case *parser.Enum:
			enum, err := convertEnum(body)
			if err != nil {
				return nil, err
			}
			protoFile.Enums = append(protoFile.Enums, enum)
		case *parser.Extend:
			exts, err := convertExtend(body, protoFile.Syntax)
			if err != nil {
				return nil, err
			}
			protoFile.Extensions = append(protoFile.Extensions, exts...)
		case *parser.Service:
			protoFile.Services = append(protoFile.Services, convertService(body))
		}
	}
	return protoFile, nil
}

// convertMessage maps a message declaration, recursing into nested types.
func convertMessage(m *parser.Message, syntax string) (*schema.Message, error) {
	msg := &schema.Message{
		Name:        m.MessageName,
		Fields:      []*schema.Field{},
		NestedTypes: []*schema.Message{},
		NestedEnums: []*schema.Enum{},
	}

	for _, visitee := range m.MessageBody {
		switch body := visitee.(type) {
		case *parser.Field:
			field, err := convertField(body, syntax)
			if err != nil {
				return nil, fmt.Errorf("message %s: %w", m.MessageName, err)
			}
			msg.Fields = append(msg.Fields, field)
		case *parser.MapField:
			field, err := convertMapField(body)
			if err != nil {
				return nil, fmt.Errorf("message %s: %w", m.MessageName, err)
			}
			msg.Fields = append(msg.Fields, field)
		case *parser.Oneof:
			oneofIndex := int32(len(msg.OneofGroups))
			oneof := &schema.Oneof{Name: body.OneofName}
			for _, of := range body.OneofFields {
				field, err := convertOneofField(of, oneofIndex)
				if err != nil {
					return nil, fmt.Errorf("message %s oneof %s: %w", m.MessageName, body.OneofName, err)
				}
				oneof.Fields = append(oneof.Fields, field)
			}
			msg.OneofGroups = append(msg.OneofGroups, oneof)
		case *parser.Message:
			nested, err := convertMessage(body, syntax)
			if err != nil {
				return nil, err
			}
			msg.NestedTypes = append(msg.NestedTypes, nested)
		case *parser.Enum:
			enum, err := convertEnum(body)
			if err != nil {
				return nil, err
			}
			msg.NestedEnums = append(msg.NestedEnums, enum)
		case *parser.Extensions:
			for _, rng := range body.Ranges {
				er, err := convertRange(rng)
				if err != nil {
					return nil, fmt.Errorf("message %s: %w", m.MessageName, err)
				}
				msg.ExtensionRanges = append(msg.ExtensionRanges, er)
			}
		case *parser.Extend:
			exts, err := convertExtend(body, syntax)
			if err != nil {
				return nil, err
			}
			msg.Extensions = append(msg.Extensions, exts...)
			// Reserved statements and legacy group declarations carry no
			// codec behavior; group payloads on the wire round-trip
			// through the unknown field set.
		}
	}
	return msg, nil
}

// convertField maps a normal (non-map, non-oneof) field declaration.
func convertField(f *parser.Field, syntax string) (*schema.Field, error) {
	number, err := parseFieldNumber(f.FieldNumber)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.FieldName, err)
	}

	field := &schema.Field{
		Name:       f.FieldName,
		Number:     number,
		Label:      schema.LabelOptional,
		Type:       typeOf(f.Type),
		OneofIndex: -1,
	}
	switch {
	case f.IsRepeated:
		field.Label = schema.LabelRepeated
	case f.IsRequired:
		field.Label = schema.LabelRequired
	case f.IsOptional && syntax == "proto3":
		field.Proto3Optional = true
	}
	applyFieldOptions(field, f.FieldOptions)
	return field, nil
}

// convertMapField maps a map<K,V> declaration onto a single map-kind field.
func convertMapField(mf *parser.MapField) (*schema.Field, error) {
	number, err := parseFieldNumber(mf.FieldNumber)
	if err != nil {
		return nil, fmt.Errorf("map field %s: %w", mf.MapName, err)
	}
	keyType := typeOf(mf.KeyType)
	if !validMapKey(keyType) {
		return nil, fmt.Errorf("map field %s: %s is not a valid map key type", mf.MapName, mf.KeyType)
	}
	valueType := typeOf(mf.Type)

	field := &schema.Field{
		Name:   mf.MapName,
		Number: number,
		Label:  schema.LabelRepeated,
		Type: schema.FieldType{
			Kind:     schema.KindMap,
			MapKey:   &keyType,
			MapValue: &valueType,
		},
		OneofIndex: -1,
	}
	applyFieldOptions(field, mf.FieldOptions)
	return field, nil
}

// convertOneofField maps a member of a oneof group.
func convertOneofField(of *parser.OneofField, oneofIndex int32) (*schema.Field, error) {
	number, err := parseFieldNumber(of.FieldNumber)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", of.FieldName, err)
	}
	field := &schema.Field{
		Name:       of.FieldName,
		Number:     number,
		Label:      schema.LabelOptional,
		Type:       typeOf(of.Type),
		OneofIndex: oneofIndex,
	}
	applyFieldOptions(field, of.FieldOptions)
	return field, nil
}

// convertEnum maps an enum declaration.
func convertEnum(e *parser.Enum) (*schema.Enum, error) {
	enum := &schema.Enum{
		Name:   e.EnumName,
		Values: []*schema.EnumValue{},
	}
	for _, visitee := range e.EnumBody {
		switch body := visitee.(type) {
		case *parser.EnumField:
			number, err := strconv.ParseInt(body.Number, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("enum %s value %s: invalid number %q", e.EnumName, body.Ident, body.Number)
			}
			enum.Values = append(enum.Values, &schema.EnumValue{
				Name:   body.Ident,
				Number: int32(number),
			})
		case *parser.Option:
			if body.OptionName == "allow_alias" && body.Constant == "true" {
				enum.AllowAlias = true
			}
		}
	}
	return enum, nil
}

// convertExtend maps every field of an extend block to an extension
// declaration. The extendee stays as written; reference resolution rewrites
// it to a fully qualified name.
func convertExtend(e *parser.Extend, syntax string) ([]*schema.Extension, error) {
	var exts []*schema.Extension
	for _, visitee := range e.ExtendBody {
		field, ok := visitee.(*parser.Field)
		if !ok {
			continue
		}
		converted, err := convertField(field, syntax)
		if err != nil {
			return nil, fmt.Errorf("extend %s: %w", e.MessageType, err)
		}
		exts = append(exts, &schema.Extension{
			Name:     converted.Name,
			Extendee: strings.TrimPrefix(e.MessageType, "."),
			Number:   converted.Number,
			Label:    converted.Label,
			Type:     converted.Type,
		})
	}
	return exts, nil
}

// convertService maps a service declaration and its rpc methods.
func convertService(s *parser.Service) *schema.Service {
	service := &schema.Service{
		Name:    s.ServiceName,
		Methods: []*schema.Method{},
	}
	for _, visitee := range s.ServiceBody {
		rpc, ok := visitee.(*parser.RPC)
		if !ok {
			continue
		}
		method := &schema.Method{Name: rpc.RPCName}
		if rpc.RPCRequest != nil {
			method.InputType = rpc.RPCRequest.MessageType
			method.ClientStreaming = rpc.RPCRequest.IsStream
		}
		if rpc.RPCResponse != nil {
			method.OutputType = rpc.RPCResponse.MessageType
			method.ServerStreaming = rpc.RPCResponse.IsStream
		}
		service.Methods = append(service.Methods, method)
	}
	return service
}

// convertRange parses an extensions range. The end is inclusive; a bare
// number covers just itself and "max" runs to the highest valid number.
func convertRange(rng *parser.Range) (*schema.ExtensionRange, error) {
	begin, err := strconv.ParseInt(rng.Begin, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid extension range start %q", rng.Begin)
	}
	end := begin
	switch rng.End {
	case "":
	case "max":
		end = maxFieldNumber
	default:
		end, err = strconv.ParseInt(rng.End, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid extension range end %q", rng.End)
		}
	}
	return &schema.ExtensionRange{Start: int32(begin), End: int32(end)}, nil
}

// applyFieldOptions folds [option=value] annotations into the field.
func applyFieldOptions(field *schema.Field, options []*parser.FieldOption) {
	for _, opt := range options {
		switch opt.OptionName {
		case "default":
			field.DefaultValue = strings.Trim(opt.Constant, `"`)
		case "json_name":
			field.JsonName = strings.Trim(opt.Constant, `"`)
		case "packed":
			packed := opt.Constant == "true"
			field.PackedOpt = &packed
		}
	}
}

const (
	maxFieldNumber     = 536870911
	firstReservedField = 19000
	lastReservedField  = 19999
)

// parseFieldNumber parses and validates a declared field number. The
// 19000-19999 range belongs to the descriptor language itself and may not be
// declared.
func parseFieldNumber(raw string) (int32, error) {
	number, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid field number %q", raw)
	}
	if number < 1 || number > maxFieldNumber {
		return 0, fmt.Errorf("field number %d out of range [1, %d]", number, maxFieldNumber)
	}
	if number >= firstReservedField && number <= lastReservedField {
		return 0, fmt.Errorf("field number %d is in the reserved range [%d, %d]", number, firstReservedField, lastReservedField)
	}
	return int32(number), nil
}

var primitiveTypes = map[string]schema.PrimitiveType{
	"double":   schema.TypeDouble,
	"float":    schema.TypeFloat,
	"int32":    schema.TypeInt32,
	"int64":    schema.TypeInt64,
	"uint32":   schema.TypeUint32,
	"uint64":   schema.TypeUint64,
	"sint32":   schema.TypeSint32,
	"sint64":   schema.TypeSint64,
	"fixed32":  schema.TypeFixed32,
	"fixed64":  schema.TypeFixed64,
	"sfixed32": schema.TypeSfixed32,
	"sfixed64": schema.TypeSfixed64,
	"bool":     schema.TypeBool,
	"string":   schema.TypeString,
	"bytes":    schema.TypeBytes,
}

var wrapperTypes = map[string]schema.WrapperType{
	"google.protobuf.DoubleValue": schema.WrapperDoubleValue,
	"google.protobuf.FloatValue":  schema.WrapperFloatValue,
	"google.protobuf.Int64Value":  schema.WrapperInt64Value,
	"google.protobuf.UInt64Value": schema.WrapperUInt64Value,
	"google.protobuf.Int32Value":  schema.WrapperInt32Value,
	"google.protobuf.UInt32Value": schema.WrapperUInt32Value,
	"google.protobuf.BoolValue":   schema.WrapperBoolValue,
	"google.protobuf.StringValue": schema.WrapperStringValue,
	"google.protobuf.BytesValue":  schema.WrapperBytesValue,
}

// typeOf maps a source type name onto the schema type model. Names that are
// neither primitives nor wrappers are carried as message references until
// resolution settles whether they name a message or an enum.
func typeOf(name string) schema.FieldType {
	if pt, ok := primitiveTypes[name]; ok {
		return schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: pt}
	}
	if wt, ok := wrapperTypes[strings.TrimPrefix(name, ".")]; ok {
		return schema.FieldType{Kind: schema.KindWrapper, WrapperType: wt}
	}
	return schema.FieldType{Kind: schema.KindMessage, MessageType: name}
}

// validMapKey reports whether a type may key a map field: any integral or
// bool or string type, per the descriptor language.
func validMapKey(t schema.FieldType) bool {
	if t.Kind != schema.KindPrimitive {
		return false
	}
	switch t.PrimitiveType {
	case schema.TypeDouble, schema.TypeFloat, schema.TypeBytes:
		return false
	default:
		return true
	}
}

// wellKnownFile synthesizes declarations for well-known imports that are not
// on the import path. Wrapper types are intentionally absent: fields
// referencing them are typed by name without needing a declaration.
func wellKnownFile(importPath string) *schema.ProtoFile {
	var messages []*schema.Message
	switch importPath {
	case "google/protobuf/timestamp.proto":
		messages = []*schema.Message{secondsNanosMessage("Timestamp")}
	case "google/protobuf/duration.proto":
		messages = []*schema.Message{secondsNanosMessage("Duration")}
	case "google/protobuf/empty.proto":
		messages = []*schema.Message{{Name: "Empty", Fields: []*schema.Field{}}}
	case "google/protobuf/any.proto":
		messages = []*schema.Message{{
			Name: "Any",
			Fields: []*schema.Field{
				{Name: "type_url", Number: 1, Label: schema.LabelOptional, OneofIndex: -1,
					Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeString}},
				{Name: "value", Number: 2, Label: schema.LabelOptional, OneofIndex: -1,
					Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeBytes}},
			},
		}}
	case "google/protobuf/field_mask.proto":
		messages = []*schema.Message{{
			Name: "FieldMask",
			Fields: []*schema.Field{
				{Name: "paths", Number: 1, Label: schema.LabelRepeated, OneofIndex: -1,
					Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeString}},
			},
		}}
	default:
		return nil
	}
	return &schema.ProtoFile{
		Name:     filepath.Base(importPath),
		Package:  "google.protobuf",
		Syntax:   "proto3",
		Messages: messages,
	}
}

func secondsNanosMessage(name string) *schema.Message {
	return &schema.Message{
		Name: name,
		Fields: []*schema.Field{
			{Name: "seconds", Number: 1, Label: schema.LabelOptional, OneofIndex: -1,
				Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeInt64}},
			{Name: "nanos", Number: 2, Label: schema.LabelOptional, OneofIndex: -1,
				Type: schema.FieldType{Kind: schema.KindPrimitive, PrimitiveType: schema.TypeInt32}},
		},
	}
}
