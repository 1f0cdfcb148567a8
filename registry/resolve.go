package registry

import (
	"fmt"
	"strings"

	"github.com/anirudhraja/protoforge/schema"
)

type symbolKind int

const (
	symbolMessage symbolKind = iota
	symbolEnum
)

// resolveReferences rewrites every type reference in the repository to a
// fully qualified name, deciding along the way whether each named type is a
// message or an enum. Resolution follows descriptor scoping: a leading dot
// means fully qualified; otherwise scopes are tried innermost first, from
// the declaring message outward through its package.
//
// Ref - https://github.com/protocolbuffers/protobuf/blob/b7a5772caf08d62a20fd1bca258f501fa4db022c/src/google/protobuf/descriptor.proto#L186-L191
func (r *Registry) resolveReferences() error {
	names := make(map[string]symbolKind, len(r.messages)+len(r.enums))
	for name := range r.messages {
		names[name] = symbolMessage
	}
	for name := range r.enums {
		names[name] = symbolEnum
	}

	for _, protoFile := range r.repo.ProtoFiles {
		pkg := protoFile.Package
		for _, msg := range protoFile.Messages {
			if err := r.resolveMessage(msg, names); err != nil {
				return err
			}
		}
		for _, ext := range protoFile.Extensions {
			if err := r.resolveExtension(ext, pkg, names); err != nil {
				return err
			}
		}
		for _, service := range protoFile.Services {
			if err := r.resolveService(service, pkg, names); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) resolveMessage(msg *schema.Message, names map[string]symbolKind) error {
	scope := msg.FullName
	for _, field := range msg.Fields {
		if err := resolveFieldType(&field.Type, scope, names); err != nil {
			return fmt.Errorf("message %s field %s: %w", msg.FullName, field.Name, err)
		}
	}
	for _, oneof := range msg.OneofGroups {
		for _, field := range oneof.Fields {
			if err := resolveFieldType(&field.Type, scope, names); err != nil {
				return fmt.Errorf("message %s field %s: %w", msg.FullName, field.Name, err)
			}
		}
	}
	for _, ext := range msg.Extensions {
		if err := r.resolveExtension(ext, scope, names); err != nil {
			return err
		}
	}
	for _, nested := range msg.NestedTypes {
		if err := r.resolveMessage(nested, names); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) resolveExtension(ext *schema.Extension, scope string, names map[string]symbolKind) error {
	extendee, kind, err := resolveName(ext.Extendee, scope, names)
	if err != nil {
		return fmt.Errorf("extension %s: %w", ext.FullName, err)
	}
	if kind != symbolMessage {
		return fmt.Errorf("extension %s: extendee %s is not a message", ext.FullName, extendee)
	}
	ext.Extendee = extendee
	if err := resolveFieldType(&ext.Type, scope, names); err != nil {
		return fmt.Errorf("extension %s: %w", ext.FullName, err)
	}
	return nil
}

func (r *Registry) resolveService(service *schema.Service, pkg string, names map[string]symbolKind) error {
	for _, method := range service.Methods {
		input, kind, err := resolveName(method.InputType, pkg, names)
		if err != nil {
			return fmt.Errorf("service %s method %s: %w", service.FullName, method.Name, err)
		}
		if kind != symbolMessage {
			return fmt.Errorf("service %s method %s: input %s is not a message", service.FullName, method.Name, input)
		}
		method.InputType = input

		output, kind, err := resolveName(method.OutputType, pkg, names)
		if err != nil {
			return fmt.Errorf("service %s method %s: %w", service.FullName, method.Name, err)
		}
		if kind != symbolMessage {
			return fmt.Errorf("service %s method %s: output %s is not a message", service.FullName, method.Name, output)
		}
		method.OutputType = output
	}
	return nil
}

// resolveFieldType settles a field's named type references. Source loading
// records every unknown name as a message reference; whichever symbol the
// name resolves to decides the final kind.
func resolveFieldType(t *schema.FieldType, scope string, names map[string]symbolKind) error {
	switch t.Kind {
	case schema.KindMessage:
		fullName, kind, err := resolveName(t.MessageType, scope, names)
		if err != nil {
			return err
		}
		if kind == symbolEnum {
			t.Kind = schema.KindEnum
			t.EnumType = fullName
			t.MessageType = ""
		} else {
			t.MessageType = fullName
		}
	case schema.KindEnum:
		fullName, kind, err := resolveName(t.EnumType, scope, names)
		if err != nil {
			return err
		}
		if kind != symbolEnum {
			return fmt.Errorf("%s resolved to a message where an enum was expected", t.EnumType)
		}
		t.EnumType = fullName
	case schema.KindMap:
		if t.MapValue != nil {
			return resolveFieldType(t.MapValue, scope, names)
		}
	}
	return nil
}

// resolveName finds the declared symbol a type reference points at. A name
// prefixed with a dot must match exactly once the dot is stripped. A
// relative name is tried against each enclosing scope, dropping the last
// segment each round, with the bare name checked last.
func resolveName(name, scope string, names map[string]symbolKind) (string, symbolKind, error) {
	if name == "" {
		return "", 0, fmt.Errorf("empty type name")
	}
	if strings.HasPrefix(name, ".") {
		fullName := strings.TrimPrefix(name, ".")
		if kind, ok := names[fullName]; ok {
			return fullName, kind, nil
		}
		return "", 0, fmt.Errorf("unable to resolve fully qualified type name: %s", name)
	}

	var parts []string
	if scope != "" {
		parts = strings.Split(scope, ".")
	}
	for {
		candidate := name
		if len(parts) > 0 {
			candidate = strings.Join(parts, ".") + "." + name
		}
		if kind, ok := names[candidate]; ok {
			return candidate, kind, nil
		}
		if len(parts) == 0 {
			break
		}
		parts = parts[:len(parts)-1]
	}
	return "", 0, fmt.Errorf("unable to resolve type name: %s", name)
}
