// Package registry loads protobuf schemas from .proto sources or compiled
// descriptor sets and resolves message, enum, service and extension names
// for the codec.
package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anirudhraja/protoforge/features"
	"github.com/anirudhraja/protoforge/schema"
)

// Registry stores the schema of the protobuf messages. We look this up when
// we need to parse or marshal a message. Load calls accumulate: files from
// several LoadSchema and descriptor-set loads share one symbol space, so
// cross-file references resolve no matter which call brought each side in.
//
// A Registry is mutable during loading only. Once loaded it must be treated
// as read-only; concurrent lookups are safe, concurrent loads are not.
type Registry struct {
	repo        *schema.ProtoRepo
	importPaths []string

	messages   map[string]*schema.Message             // fully qualified name -> message
	enums      map[string]*schema.Enum                // fully qualified name -> enum
	services   map[string]*schema.Service             // fully qualified name -> service
	extensions map[string]*schema.Extension           // fully qualified name -> extension
	extByNum   map[string]map[int32]*schema.Extension // extendee -> field number -> extension
}

// NewRegistry creates an empty registry. Import paths are the roots against
// which import statements in .proto files resolve; LoadSchema adds its own
// root automatically, so most callers pass none.
func NewRegistry(importPaths ...string) *Registry {
	return &Registry{importPaths: importPaths}
}

// ensureInit makes the registry usable regardless of which load entry point
// runs first.
func (r *Registry) ensureInit() {
	if r.repo == nil {
		r.repo = &schema.ProtoRepo{ProtoFiles: make(map[string]*schema.ProtoFile)}
	}
}

// Repo exposes the loaded file tree for consumers that walk whole schemas,
// such as graph construction.
func (r *Registry) Repo() *schema.ProtoRepo {
	r.ensureInit()
	return r.repo
}

// AddImportPath adds a root directory for resolving import statements.
func (r *Registry) AddImportPath(dir string) {
	for _, existing := range r.importPaths {
		if existing == dir {
			return
		}
	}
	r.importPaths = append(r.importPaths, dir)
}

// LoadSchema loads a single .proto file, or recursively every .proto file
// under a directory, along with anything they import.
func (r *Registry) LoadSchema(protoPath string) error {
	r.ensureInit()

	info, err := os.Stat(protoPath)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}

	if !info.IsDir() {
		if !strings.HasSuffix(protoPath, ".proto") {
			return fmt.Errorf("file %s is not a .proto file", protoPath)
		}
		r.AddImportPath(filepath.Dir(protoPath))
		if err := r.loadProtoSource(protoPath); err != nil {
			return fmt.Errorf("failed to load proto file: %w", err)
		}
	} else {
		r.AddImportPath(protoPath)
		err = filepath.WalkDir(protoPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".proto") {
				return nil
			}
			if err := r.loadProtoSource(path); err != nil {
				return fmt.Errorf("failed to load proto file %s: %w", path, err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to walk directory: %w", err)
		}
	}

	return r.buildSymbolTable()
}

// LoadRepo merges an already-constructed file tree into the registry. This
// is the entry point for schemas built in memory rather than parsed from
// sources or descriptor sets; names resolve and features stamp exactly as
// they do for loaded files.
func (r *Registry) LoadRepo(repo *schema.ProtoRepo) error {
	r.ensureInit()
	if repo != nil {
		for path, protoFile := range repo.ProtoFiles {
			r.repo.ProtoFiles[path] = protoFile
		}
	}
	return r.buildSymbolTable()
}

// buildSymbolTable rebuilds the lookup maps from the loaded repository. It
// runs after every load so the symbol space always reflects every file seen
// so far.
func (r *Registry) buildSymbolTable() error {
	r.messages = make(map[string]*schema.Message)
	r.enums = make(map[string]*schema.Enum)
	r.services = make(map[string]*schema.Service)
	r.extensions = make(map[string]*schema.Extension)
	r.extByNum = make(map[string]map[int32]*schema.Extension)

	// Pass 1: register every declared name, stamping full names as we go.
	for _, protoFile := range r.repo.ProtoFiles {
		if err := r.registerNames(protoFile); err != nil {
			return err
		}
	}

	// Pass 2: rewrite type references to fully qualified names.
	if err := r.resolveReferences(); err != nil {
		return fmt.Errorf("failed to resolve type references: %w", err)
	}

	// Pass 3: index extensions by resolved extendee and field number.
	if err := r.indexExtensions(); err != nil {
		return err
	}

	// Pass 4: resolve features so every field carries its effective
	// presence, packing and validation behavior.
	if err := features.Apply(r.repo); err != nil {
		return fmt.Errorf("failed to resolve features: %w", err)
	}

	return nil
}

// registerNames registers all message, enum, service and extension names
// declared in one file.
func (r *Registry) registerNames(protoFile *schema.ProtoFile) error {
	pkg := protoFile.Package

	for _, msg := range protoFile.Messages {
		if err := r.registerMessage(pkg, msg); err != nil {
			return err
		}
	}

	for _, enum := range protoFile.Enums {
		if err := r.registerEnum(getFullName(pkg, enum.Name), enum); err != nil {
			return err
		}
	}

	for _, service := range protoFile.Services {
		fullName := getFullName(pkg, service.Name)
		if _, exists := r.services[fullName]; exists {
			return fmt.Errorf("duplicate service name: %s", fullName)
		}
		service.FullName = fullName
		r.services[fullName] = service
	}

	for _, ext := range protoFile.Extensions {
		if err := r.registerExtension(pkg, ext); err != nil {
			return err
		}
	}

	return nil
}

// registerMessage registers a message and, recursively, everything declared
// inside it.
func (r *Registry) registerMessage(scope string, msg *schema.Message) error {
	fullName := getFullName(scope, msg.Name)
	if _, exists := r.messages[fullName]; exists {
		return fmt.Errorf("duplicate message name: %s", fullName)
	}
	if _, exists := r.enums[fullName]; exists {
		return fmt.Errorf("name %s declared as both message and enum", fullName)
	}
	msg.FullName = fullName
	if _, ok := wrapperTypes[fullName]; ok {
		msg.IsWrapper = true
	}
	r.messages[fullName] = msg

	for _, nested := range msg.NestedTypes {
		if err := r.registerMessage(fullName, nested); err != nil {
			return err
		}
	}
	for _, nestedEnum := range msg.NestedEnums {
		if err := r.registerEnum(getFullName(fullName, nestedEnum.Name), nestedEnum); err != nil {
			return err
		}
	}
	for _, ext := range msg.Extensions {
		if err := r.registerExtension(fullName, ext); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) registerEnum(fullName string, enum *schema.Enum) error {
	if _, exists := r.enums[fullName]; exists {
		return fmt.Errorf("duplicate enum name: %s", fullName)
	}
	if _, exists := r.messages[fullName]; exists {
		return fmt.Errorf("name %s declared as both message and enum", fullName)
	}
	enum.FullName = fullName
	r.enums[fullName] = enum
	return nil
}

func (r *Registry) registerExtension(scope string, ext *schema.Extension) error {
	fullName := getFullName(scope, ext.Name)
	if _, exists := r.extensions[fullName]; exists {
		return fmt.Errorf("duplicate extension name: %s", fullName)
	}
	ext.FullName = fullName
	r.extensions[fullName] = ext
	return nil
}

// indexExtensions builds the (extendee, field number) index. It runs after
// reference resolution so extendees are fully qualified, which is what makes
// conflicting declarations from different files collide here.
func (r *Registry) indexExtensions() error {
	names := make([]string, 0, len(r.extensions))
	for name := range r.extensions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ext := r.extensions[name]
		byNum := r.extByNum[ext.Extendee]
		if byNum == nil {
			byNum = make(map[int32]*schema.Extension)
			r.extByNum[ext.Extendee] = byNum
		}
		if other, exists := byNum[ext.Number]; exists {
			return fmt.Errorf("extensions %s and %s both claim field %d of %s",
				other.FullName, ext.FullName, ext.Number, ext.Extendee)
		}
		byNum[ext.Number] = ext
	}
	return nil
}

func getFullName(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}

// GetMessage retrieves a message definition by name. Lookup is exact on the
// fully qualified name first, then falls back to the shortest unambiguous
// suffix match so callers may use bare names for convenience.
func (r *Registry) GetMessage(name string) (*schema.Message, error) {
	if msg, exists := r.messages[name]; exists {
		return msg, nil
	}
	if fullName, ok := suffixMatch(messageKeys(r.messages), name); ok {
		return r.messages[fullName], nil
	}
	return nil, fmt.Errorf("message not found: %s", name)
}

// GetEnum retrieves an enum definition by name.
func (r *Registry) GetEnum(name string) (*schema.Enum, error) {
	if enum, exists := r.enums[name]; exists {
		return enum, nil
	}
	if fullName, ok := suffixMatch(enumKeys(r.enums), name); ok {
		return r.enums[fullName], nil
	}
	return nil, fmt.Errorf("enum not found: %s", name)
}

// GetService retrieves a service definition by name.
func (r *Registry) GetService(name string) (*schema.Service, error) {
	if service, exists := r.services[name]; exists {
		return service, nil
	}
	keys := make([]string, 0, len(r.services))
	for k := range r.services {
		keys = append(keys, k)
	}
	if fullName, ok := suffixMatch(keys, name); ok {
		return r.services[fullName], nil
	}
	return nil, fmt.Errorf("service not found: %s", name)
}

// GetExtension retrieves an extension declaration by its fully qualified
// name, or by suffix as with the other lookups.
func (r *Registry) GetExtension(name string) (*schema.Extension, error) {
	if ext, exists := r.extensions[name]; exists {
		return ext, nil
	}
	keys := make([]string, 0, len(r.extensions))
	for k := range r.extensions {
		keys = append(keys, k)
	}
	if fullName, ok := suffixMatch(keys, name); ok {
		return r.extensions[fullName], nil
	}
	return nil, fmt.Errorf("extension not found: %s", name)
}

// GetExtensionByNumber retrieves the extension claiming the given field
// number of the extended message, if any.
func (r *Registry) GetExtensionByNumber(extendee string, number int32) (*schema.Extension, bool) {
	ext, ok := r.extByNum[extendee][number]
	return ext, ok
}

// ExtensionsFor returns every loaded extension of the given message, in
// field number order.
func (r *Registry) ExtensionsFor(extendee string) []*schema.Extension {
	byNum := r.extByNum[extendee]
	if len(byNum) == 0 {
		return nil
	}
	out := make([]*schema.Extension, 0, len(byNum))
	for _, ext := range byNum {
		out = append(out, ext)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Extensions returns every loaded extension, sorted by fully qualified name.
func (r *Registry) Extensions() []*schema.Extension {
	out := make([]*schema.Extension, 0, len(r.extensions))
	for _, ext := range r.extensions {
		out = append(out, ext)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out
}

// ListMessages returns all registered message names, sorted.
func (r *Registry) ListMessages() []string {
	return sortedKeys(messageKeys(r.messages))
}

// ListEnums returns all registered enum names, sorted.
func (r *Registry) ListEnums() []string {
	return sortedKeys(enumKeys(r.enums))
}

// ListServices returns all registered service names, sorted.
func (r *Registry) ListServices() []string {
	keys := make([]string, 0, len(r.services))
	for k := range r.services {
		keys = append(keys, k)
	}
	return sortedKeys(keys)
}

func messageKeys(m map[string]*schema.Message) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func enumKeys(m map[string]*schema.Enum) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func sortedKeys(keys []string) []string {
	sort.Strings(keys)
	return keys
}

// suffixMatch finds the first full name, in sorted order, that ends with
// "."+name. Sorting keeps the fallback deterministic when a bare name is
// ambiguous.
func suffixMatch(keys []string, name string) (string, bool) {
	sort.Strings(keys)
	for _, fullName := range keys {
		if strings.HasSuffix(fullName, "."+name) {
			return fullName, true
		}
	}
	return "", false
}
