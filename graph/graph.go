// Package graph builds the reference graph over a schema's message types
// and marks the fields whose storage must be boxed: a non-repeated message
// field whose target can reach back to the declaring type would otherwise
// give the declaring type infinite size.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/anirudhraja/protoforge/schema"
)

// ErrUnresolvedTypeReference reports a field whose message type is absent
// from the schema. The graph cannot be built over a dangling reference.
var ErrUnresolvedTypeReference = errors.New("unresolved type reference")

// Option configures graph construction.
type Option func(*builder)

// WithLogger routes construction debug output to the given logger. The
// default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *builder) {
		if log != nil {
			b.log = log
		}
	}
}

// FieldRef identifies a field by its declaring message and field number.
type FieldRef struct {
	Message string
	Number  int32
}

// Edge is one directed reference: the declaring message points at the
// message type of one of its non-repeated, non-map fields.
type Edge struct {
	From, To  int // node indexes
	Field     FieldRef
	FieldName string
}

// node is one message type in the arena. Outgoing edges are kept as indexes
// into the shared edge list, so the cyclic reference structure lives
// entirely in flat slices.
type node struct {
	name  string
	edges []int
}

// Graph is the message reference graph of one loaded schema, with cycle
// analysis already applied. It is immutable after Build and safe for
// concurrent readers.
type Graph struct {
	nodes   []node
	index   map[string]int
	edges   []Edge
	comp    []int // node index -> strongly connected component id
	mustBox map[FieldRef]bool
}

type builder struct {
	log *zap.Logger
}

// Build constructs the graph over every message in the repo and computes
// which fields must box. The repo must hold the entire schema, imports
// included: whether a field closes a cycle cannot be decided from one file
// in isolation.
//
// Repeated and map fields never create edges because their storage is
// already heap-indirected. Wrapper fields reference leaf well-known types
// and are skipped for the same reason extension fields are: neither can
// close a cycle through the declaring message's value storage.
func Build(repo *schema.ProtoRepo, opts ...Option) (*Graph, error) {
	b := &builder{log: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}

	messages := collectMessages(repo)
	names := make([]string, 0, len(messages))
	byName := make(map[string]*schema.Message, len(messages))
	for _, msg := range messages {
		name := messageName(msg)
		if _, seen := byName[name]; seen {
			continue
		}
		byName[name] = msg
		names = append(names, name)
	}
	sort.Strings(names)

	g := &Graph{
		index:   make(map[string]int, len(names)),
		mustBox: make(map[FieldRef]bool),
	}
	for i, name := range names {
		g.nodes = append(g.nodes, node{name: name})
		g.index[name] = i
	}

	for _, name := range names {
		msg := byName[name]
		if msg.MapEntry {
			continue
		}
		from := g.index[name]
		for _, field := range messageFields(msg) {
			if field.Label == schema.LabelRepeated || field.Type.Kind != schema.KindMessage {
				continue
			}
			to, ok := g.index[field.Type.MessageType]
			if !ok {
				return nil, fmt.Errorf("%w: message %s field %s references %s",
					ErrUnresolvedTypeReference, name, field.Name, field.Type.MessageType)
			}
			edgeIdx := len(g.edges)
			g.edges = append(g.edges, Edge{
				From:      from,
				To:        to,
				Field:     FieldRef{Message: name, Number: field.Number},
				FieldName: field.Name,
			})
			g.nodes[from].edges = append(g.nodes[from].edges, edgeIdx)
		}
	}

	g.comp = stronglyConnected(g)
	for _, edge := range g.edges {
		if g.comp[edge.From] == g.comp[edge.To] {
			g.mustBox[edge.Field] = true
			b.log.Debug("field requires boxing",
				zap.String("message", edge.Field.Message),
				zap.String("field", edge.FieldName),
				zap.Int32("number", edge.Field.Number),
				zap.String("type", g.nodes[edge.To].name),
			)
		}
	}

	b.log.Debug("message graph built",
		zap.Int("messages", len(g.nodes)),
		zap.Int("edges", len(g.edges)),
		zap.Int("boxed_fields", len(g.mustBox)),
	)
	return g, nil
}

// MustBox reports whether the given field closes a reference cycle and so
// requires heap indirection for its storage.
func (g *Graph) MustBox(message string, fieldNumber int32) bool {
	return g.mustBox[FieldRef{Message: message, Number: fieldNumber}]
}

// BoxedFields returns every field marked must-box, ordered by message name
// and field number.
func (g *Graph) BoxedFields() []FieldRef {
	out := make([]FieldRef, 0, len(g.mustBox))
	for ref := range g.mustBox {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Message != out[j].Message {
			return out[i].Message < out[j].Message
		}
		return out[i].Number < out[j].Number
	})
	return out
}

// Messages returns the full names of every message node, sorted.
func (g *Graph) Messages() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.name
	}
	return out
}

// Contains reports whether the graph has a node for the named message.
func (g *Graph) Contains(message string) bool {
	_, ok := g.index[message]
	return ok
}

// InCycle reports whether the named message belongs to a reference cycle,
// including a self-reference.
func (g *Graph) InCycle(message string) bool {
	v, ok := g.index[message]
	if !ok {
		return false
	}
	for _, edge := range g.edges {
		if g.comp[edge.From] != g.comp[edge.To] {
			continue
		}
		if g.comp[edge.From] == g.comp[v] {
			return true
		}
	}
	return false
}

// Nested reports whether inner is reachable from outer through singular
// message references. A message reaches itself. Unknown names report false.
func (g *Graph) Nested(outer, inner string) bool {
	from, ok := g.index[outer]
	if !ok {
		return false
	}
	to, ok := g.index[inner]
	if !ok {
		return false
	}
	if from == to {
		return true
	}

	seen := make([]bool, len(g.nodes))
	seen[from] = true
	stack := []int{from}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, idx := range g.nodes[v].edges {
			w := g.edges[idx].To
			if w == to {
				return true
			}
			if !seen[w] {
				seen[w] = true
				stack = append(stack, w)
			}
		}
	}
	return false
}

// collectMessages gathers every message in the repo, nested ones included.
func collectMessages(repo *schema.ProtoRepo) []*schema.Message {
	var out []*schema.Message
	if repo == nil {
		return out
	}
	var walk func(msg *schema.Message)
	walk = func(msg *schema.Message) {
		out = append(out, msg)
		for _, nested := range msg.NestedTypes {
			walk(nested)
		}
	}
	for _, protoFile := range repo.ProtoFiles {
		for _, msg := range protoFile.Messages {
			walk(msg)
		}
	}
	return out
}

// messageFields lists a message's fields including oneof members, in
// declaration order.
func messageFields(msg *schema.Message) []*schema.Field {
	if len(msg.OneofGroups) == 0 {
		return msg.Fields
	}
	fields := make([]*schema.Field, 0, len(msg.Fields))
	fields = append(fields, msg.Fields...)
	for _, oneof := range msg.OneofGroups {
		fields = append(fields, oneof.Fields...)
	}
	return fields
}

func messageName(msg *schema.Message) string {
	if msg.FullName != "" {
		return msg.FullName
	}
	return msg.Name
}

// stronglyConnected runs Tarjan's algorithm iteratively and returns the
// component id of every node. Nodes in the same component reach each other,
// so an edge within a component closes a cycle.
func stronglyConnected(g *Graph) []int {
	n := len(g.nodes)
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	comp := make([]int, n)
	for i := range index {
		index[i] = -1
		comp[i] = -1
	}

	var (
		stack []int
		next  int
		ncomp int
	)

	type frame struct {
		v    int
		edge int
	}

	visit := func(v int) {
		index[v] = next
		lowlink[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true
	}

	for root := 0; root < n; root++ {
		if index[root] != -1 {
			continue
		}
		visit(root)
		frames := []frame{{v: root}}
		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			adjacent := g.nodes[f.v].edges
			if f.edge < len(adjacent) {
				w := g.edges[adjacent[f.edge]].To
				f.edge++
				if index[w] == -1 {
					visit(w)
					frames = append(frames, frame{v: w})
				} else if onStack[w] && index[w] < lowlink[f.v] {
					lowlink[f.v] = index[w]
				}
				continue
			}

			v := f.v
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := frames[len(frames)-1].v
				if lowlink[v] < lowlink[parent] {
					lowlink[parent] = lowlink[v]
				}
			}
			if lowlink[v] == index[v] {
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp[w] = ncomp
					if w == v {
						break
					}
				}
				ncomp++
			}
		}
	}
	return comp
}
