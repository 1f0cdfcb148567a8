// Package features resolves the effective behavior of every field in a
// schema by cascading feature overrides from broad to narrow scope: edition
// defaults, then file, then message, then field. The two legacy syntaxes are
// folded into the same cascade, so downstream code branches on resolved
// feature values and never on "which edition is this".
package features

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/anirudhraja/protoforge/schema"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger routes resolution debug output to the given logger. The default
// is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// Resolver computes effective feature sets for files, messages and fields.
type Resolver struct {
	log *zap.Logger
}

// NewResolver returns a Resolver ready for use.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{log: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Defaults returns the full feature set an edition starts from. Every later
// level of the cascade overrides individual entries of this set.
func Defaults(e schema.Edition) (schema.FeatureSet, error) {
	switch e {
	case schema.EditionProto2:
		return schema.FeatureSet{
			FieldPresence:         schema.PresenceExplicit,
			EnumType:              schema.EnumClosed,
			RepeatedFieldEncoding: schema.RepeatedExpanded,
			Utf8Validation:        schema.Utf8None,
			MessageEncoding:       schema.MessageLengthPrefixed,
			JSONFormat:            schema.JSONLegacyBestEffort,
		}, nil
	case schema.EditionProto3:
		return schema.FeatureSet{
			FieldPresence:         schema.PresenceImplicit,
			EnumType:              schema.EnumOpen,
			RepeatedFieldEncoding: schema.RepeatedPacked,
			Utf8Validation:        schema.Utf8Verify,
			MessageEncoding:       schema.MessageLengthPrefixed,
			JSONFormat:            schema.JSONAllow,
		}, nil
	case schema.Edition2023, schema.Edition2024:
		return schema.FeatureSet{
			FieldPresence:         schema.PresenceExplicit,
			EnumType:              schema.EnumOpen,
			RepeatedFieldEncoding: schema.RepeatedPacked,
			Utf8Validation:        schema.Utf8Verify,
			MessageEncoding:       schema.MessageLengthPrefixed,
			JSONFormat:            schema.JSONAllow,
		}, nil
	default:
		return schema.FeatureSet{}, fmt.Errorf("unsupported edition: %q", e)
	}
}

// EditionOf maps a file's syntax declaration to the edition its defaults come
// from. Files with no syntax line are proto2, matching compiler behavior.
func EditionOf(file *schema.ProtoFile) schema.Edition {
	if file.Edition != "" {
		return file.Edition
	}
	switch file.Syntax {
	case "proto3":
		return schema.EditionProto3
	case "editions":
		// The loader records the declared edition; an editions file
		// without one is handed the current edition.
		return schema.Edition2023
	default:
		return schema.EditionProto2
	}
}

// FileFeatures resolves the feature set a file's declarations inherit:
// edition defaults layered with the file-level overrides.
func (r *Resolver) FileFeatures(file *schema.ProtoFile) (schema.FeatureSet, error) {
	edition := EditionOf(file)
	defaults, err := Defaults(edition)
	if err != nil {
		return schema.FeatureSet{}, fmt.Errorf("file %s: %w", file.Name, err)
	}
	return defaults.With(file.Features), nil
}

// MessageFeatures layers a message's overrides onto its parent scope, which
// is the file set for top-level messages or the enclosing message's set for
// nested ones.
func (r *Resolver) MessageFeatures(parent schema.FeatureSet, msg *schema.Message) schema.FeatureSet {
	return parent.With(msg.Features)
}

// FieldFeatures layers a field's overrides onto its enclosing message's set.
// This is the raw cascade value; Apply additionally folds in the legacy
// label and structural rules before stamping Field.Resolved.
func (r *Resolver) FieldFeatures(parent schema.FeatureSet, field *schema.Field) schema.FeatureSet {
	return parent.With(field.Features)
}

// Apply resolves features for every field in the repo and stamps
// Field.Resolved. After Apply returns, the wire codec and any generation
// consumer read Resolved values only.
func Apply(repo *schema.ProtoRepo, opts ...Option) error {
	return NewResolver(opts...).Apply(repo)
}

// Apply walks every file in the repo, resolves the cascade for each message
// and field, and writes the outcome into Field.Resolved.
func (r *Resolver) Apply(repo *schema.ProtoRepo) error {
	if repo == nil {
		return nil
	}

	enums, err := r.enumSemantics(repo)
	if err != nil {
		return err
	}

	for path, file := range repo.ProtoFiles {
		fileSet, err := r.FileFeatures(file)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		r.log.Debug("resolved file features",
			zap.String("file", file.Name),
			zap.String("edition", string(EditionOf(file))),
		)
		for _, msg := range file.Messages {
			r.applyMessage(fileSet, msg, enums)
		}
	}
	return nil
}

// applyMessage stamps every field of msg and recurses into nested messages.
func (r *Resolver) applyMessage(parent schema.FeatureSet, msg *schema.Message, enums map[string]schema.EnumSemantics) {
	msgSet := r.MessageFeatures(parent, msg)
	for _, field := range msg.Fields {
		r.stampField(msgSet, field, enums)
	}
	for _, oneof := range msg.OneofGroups {
		for _, field := range oneof.Fields {
			r.stampField(msgSet, field, enums)
		}
	}
	for _, nested := range msg.NestedTypes {
		r.applyMessage(msgSet, nested, enums)
	}
}

// stampField computes the field's effective behavior and writes it to
// Field.Resolved. The label and shape rules here unify the legacy syntaxes
// with editions: a required label always means legacy-required presence,
// message-typed and oneof fields always track presence, and repeated or map
// fields never do.
func (r *Resolver) stampField(parent schema.FeatureSet, field *schema.Field, enums map[string]schema.EnumSemantics) {
	eff := r.FieldFeatures(parent, field)

	var res schema.Resolved
	switch {
	case field.Label == schema.LabelRepeated || field.Type.Kind == schema.KindMap:
		res.Presence = schema.PresenceImplicit
	case field.Label == schema.LabelRequired:
		res.Presence = schema.PresenceLegacyRequired
	case field.Type.Kind == schema.KindMessage || field.Type.Kind == schema.KindWrapper:
		res.Presence = schema.PresenceExplicit
	case field.OneofIndex >= 0 || field.Proto3Optional:
		res.Presence = schema.PresenceExplicit
	default:
		res.Presence = eff.FieldPresence
	}

	if field.Label == schema.LabelRepeated && packable(field.Type) {
		if field.PackedOpt != nil {
			res.Packed = *field.PackedOpt
		} else {
			res.Packed = eff.RepeatedFieldEncoding == schema.RepeatedPacked
		}
	}

	res.ValidateUTF8 = eff.Utf8Validation == schema.Utf8Verify

	if field.Type.Kind == schema.KindEnum {
		res.ClosedEnum = enums[field.Type.EnumType] == schema.EnumClosed
	}

	field.Resolved = res
}

// packable reports whether a repeated field of this type may use packed
// encoding. Strings, bytes and messages never pack.
func packable(t schema.FieldType) bool {
	switch t.Kind {
	case schema.KindPrimitive:
		return schema.IsPackedType(t.PrimitiveType)
	case schema.KindEnum:
		return true
	default:
		return false
	}
}

// enumSemantics indexes every declared enum by full name to whether it
// resolves open or closed. Field stamping consults this to mark fields whose
// enum rejects undeclared numbers.
func (r *Resolver) enumSemantics(repo *schema.ProtoRepo) (map[string]schema.EnumSemantics, error) {
	out := make(map[string]schema.EnumSemantics)
	for path, file := range repo.ProtoFiles {
		fileSet, err := r.FileFeatures(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, enum := range file.Enums {
			out[enumKey(enum)] = fileSet.With(enum.Features).EnumType
		}
		for _, msg := range file.Messages {
			r.collectEnumSemantics(fileSet, msg, out)
		}
	}
	return out, nil
}

func (r *Resolver) collectEnumSemantics(parent schema.FeatureSet, msg *schema.Message, out map[string]schema.EnumSemantics) {
	msgSet := r.MessageFeatures(parent, msg)
	for _, enum := range msg.NestedEnums {
		out[enumKey(enum)] = msgSet.With(enum.Features).EnumType
	}
	for _, nested := range msg.NestedTypes {
		r.collectEnumSemantics(msgSet, nested, out)
	}
}

func enumKey(enum *schema.Enum) string {
	if enum.FullName != "" {
		return enum.FullName
	}
	return enum.Name
}
