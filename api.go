// Package protoforge decodes and encodes protobuf wire data against schemas
// loaded at runtime, with no generated code. Schemas come from .proto
// sources or compiled descriptor sets; messages are plain maps keyed by
// field name.
package protoforge

import (
	"fmt"

	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/anirudhraja/protoforge/graph"
	"github.com/anirudhraja/protoforge/registry"
	"github.com/anirudhraja/protoforge/schema"
	"github.com/anirudhraja/protoforge/wire"
)

// ===== SCHEMA-AWARE API =====

// Protoforge provides schema-aware protobuf operations without generated code.
type Protoforge struct {
	registry *registry.Registry
}

// New creates a new Protoforge instance.
func New() *Protoforge {
	return &Protoforge{
		registry: registry.NewRegistry(),
	}
}

// LoadSchema loads a .proto file, or every .proto file under a directory,
// along with their imports.
func (p *Protoforge) LoadSchema(protoPath string) error {
	return p.registry.LoadSchema(protoPath)
}

// LoadRepo loads a protobuf repository constructed in memory.
func (p *Protoforge) LoadRepo(repo *schema.ProtoRepo) error {
	return p.registry.LoadRepo(repo)
}

// LoadDescriptorSet loads a compiled FileDescriptorSet.
func (p *Protoforge) LoadDescriptorSet(fds *descriptorpb.FileDescriptorSet) error {
	return p.registry.LoadDescriptorSet(fds)
}

// LoadDescriptorSetBytes loads a serialized FileDescriptorSet, optionally
// gzip-compressed.
func (p *Protoforge) LoadDescriptorSetBytes(data []byte) error {
	return p.registry.LoadDescriptorSetBytes(data)
}

// LoadDescriptorSetFile loads a descriptor set from disk, as produced by
// protoc --descriptor_set_out.
func (p *Protoforge) LoadDescriptorSetFile(path string) error {
	return p.registry.LoadDescriptorSetFile(path)
}

// Parse decodes protobuf bytes using the schema-aware decoder.
func (p *Protoforge) Parse(data []byte, messageType string) (map[string]interface{}, error) {
	msg, err := p.registry.GetMessage(messageType)
	if err != nil {
		return nil, fmt.Errorf("message type not found: %s", messageType)
	}
	return wire.DecodeMessage(data, msg, p.registry)
}

// ParseWithOptions decodes with caller-controlled recursion depth, zero-copy
// behavior and a per-call extension registry.
func (p *Protoforge) ParseWithOptions(data []byte, messageType string, opts wire.DecodeOptions) (map[string]interface{}, error) {
	msg, err := p.registry.GetMessage(messageType)
	if err != nil {
		return nil, fmt.Errorf("message type not found: %s", messageType)
	}
	return wire.DecodeMessageWithOptions(data, msg, p.registry, opts)
}

// Merge decodes protobuf bytes on top of an already-decoded message,
// applying wire merge semantics: singular scalars take the last value,
// singular messages merge field by field, repeated fields append.
func (p *Protoforge) Merge(data []byte, into map[string]interface{}, messageType string) error {
	msg, err := p.registry.GetMessage(messageType)
	if err != nil {
		return fmt.Errorf("message type not found: %s", messageType)
	}
	return wire.MergeMessage(data, into, msg, p.registry)
}

// Marshal encodes a map to protobuf bytes using schema information. Output
// is deterministic: fields ascend by number and map entries sort by key.
func (p *Protoforge) Marshal(data map[string]interface{}, messageType string) ([]byte, error) {
	msg, err := p.registry.GetMessage(messageType)
	if err != nil {
		return nil, fmt.Errorf("message type not found: %s", messageType)
	}
	return wire.EncodeMessage(data, msg, p.registry)
}

// ===== SCHEMA ANALYSIS =====

// BuildMessageGraph builds the reference graph over every loaded message
// and computes which fields must box their storage. Call it only after all
// schema files are loaded; cycle membership depends on the whole set.
func (p *Protoforge) BuildMessageGraph(opts ...graph.Option) (*graph.Graph, error) {
	return graph.Build(p.registry.Repo(), opts...)
}

// ExtensionRegistry collects every loaded extension declaration into a
// registry suitable for injection via wire.DecodeOptions. The result is a
// snapshot: callers may also build narrower registries by hand and decode
// the same bytes with different registries at different times.
func (p *Protoforge) ExtensionRegistry() (*wire.ExtensionRegistry, error) {
	exts := wire.NewExtensionRegistry()
	if err := exts.RegisterAll(p.registry.Extensions()); err != nil {
		return nil, err
	}
	return exts, nil
}

// ===== REGISTRY ACCESS =====

func (p *Protoforge) GetRegistry() *registry.Registry { return p.registry }
func (p *Protoforge) ListMessages() []string          { return p.registry.ListMessages() }
func (p *Protoforge) ListEnums() []string             { return p.registry.ListEnums() }
func (p *Protoforge) ListServices() []string          { return p.registry.ListServices() }
