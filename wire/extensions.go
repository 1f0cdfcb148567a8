package wire

import (
	"fmt"

	"github.com/anirudhraja/protoforge/schema"
)

// ExtensionRegistry maps (extended message, field number) pairs to extension
// declarations. Decoders consult it for field numbers that fall inside a
// message's extension ranges; registration conflicts are rejected up front
// so resolution is unambiguous. The registry is handed to each decode call
// through DecodeOptions, never installed globally.
type ExtensionRegistry struct {
	byExtendee map[string]map[int32]*schema.Extension
}

// NewExtensionRegistry creates an empty extension registry.
func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{
		byExtendee: make(map[string]map[int32]*schema.Extension),
	}
}

// Register adds an extension. Registering a second extension for the same
// (extendee, number) pair fails with ErrDuplicateExtension.
func (r *ExtensionRegistry) Register(ext *schema.Extension) error {
	byNumber := r.byExtendee[ext.Extendee]
	if byNumber == nil {
		byNumber = make(map[int32]*schema.Extension)
		r.byExtendee[ext.Extendee] = byNumber
	}

	if existing, ok := byNumber[ext.Number]; ok {
		return fmt.Errorf("%w: field %d of %s claimed by both %s and %s",
			ErrDuplicateExtension, ext.Number, ext.Extendee, existing.FullName, ext.FullName)
	}

	byNumber[ext.Number] = ext
	return nil
}

// RegisterAll adds every extension, stopping at the first conflict.
func (r *ExtensionRegistry) RegisterAll(exts []*schema.Extension) error {
	for _, ext := range exts {
		if err := r.Register(ext); err != nil {
			return err
		}
	}
	return nil
}

// Resolve looks up the extension for an (extendee, number) pair.
func (r *ExtensionRegistry) Resolve(extendee string, number int32) (*schema.Extension, bool) {
	ext, ok := r.byExtendee[extendee][number]
	return ext, ok
}

// Len returns the number of registered extensions.
func (r *ExtensionRegistry) Len() int {
	n := 0
	for _, byNumber := range r.byExtendee {
		n += len(byNumber)
	}
	return n
}

// ExtensionKey is the decoded-map key a matched extension is stored under.
// The bracket form cannot collide with declared field names.
func ExtensionKey(fullName string) string {
	return "[" + fullName + "]"
}

// fieldForExtension views an extension declaration as a regular field so the
// typed decode and encode paths apply unchanged. Extensions carry explicit
// presence and are never packed.
func fieldForExtension(ext *schema.Extension) *schema.Field {
	return &schema.Field{
		Name:       ExtensionKey(ext.FullName),
		Number:     ext.Number,
		Label:      ext.Label,
		Type:       ext.Type,
		OneofIndex: -1,
		Resolved: schema.Resolved{
			Presence: schema.PresenceExplicit,
		},
	}
}
