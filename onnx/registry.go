package onnx

import (
	"reflect"
	"sort"
	"sync"

	"github.com/gomlx/onnx-lower/ir"
	"k8s.io/klog/v2"
)

// OpDesc identifies one ONNX operator name claimed by an OpParser.
type OpDesc struct {
	Name string
}

// OpParser validates ONNX nodes of the operators it claims and lowers them to IR instructions.
//
// Implementations are stateless: given the same inputs, attributes and opset they perform the same
// validation and emit equivalent instructions. Parse must not add any instruction to the graph
// before all the validation that can make it fail has passed.
type OpParser interface {
	// Operators returns the names this parser handles.
	Operators() []OpDesc

	// Parse validates the node and adds its instructions to the graph, returning the one that
	// represents the node's output. desc is the descriptor the node was resolved to, and args the
	// node's already converted inputs.
	Parse(desc OpDesc, info *NodeInfo, args []*ir.Instruction) (*ir.Instruction, error)
}

type registryEntry struct {
	desc   OpDesc
	parser OpParser
}

// Registry maps ONNX operator names to their parsers.
//
// It is built once and never modified afterwards, so it is safe for concurrent use.
type Registry struct {
	entries map[string]registryEntry
}

// NewRegistry creates a registry with all the operators claimed by parsers.
//
// It returns a ConfigurationError if an operator name is claimed by two different parsers.
func NewRegistry(parsers ...OpParser) (*Registry, error) {
	r := &Registry{entries: make(map[string]registryEntry)}
	for _, parser := range parsers {
		for _, desc := range parser.Operators() {
			if desc.Name == "" {
				return nil, opErrorf(ConfigurationError, "", "parser %T claims an empty operator name", parser)
			}
			if existing, found := r.entries[desc.Name]; found && !sameParser(existing.parser, parser) {
				return nil, opErrorf(ConfigurationError, desc.Name,
					"operator claimed by both %T and %T", existing.parser, parser)
			}
			r.entries[desc.Name] = registryEntry{desc: desc, parser: parser}
		}
	}
	return r, nil
}

// MustNewRegistry is like NewRegistry, but panics on errors. Use it to build registries at start up.
func MustNewRegistry(parsers ...OpParser) *Registry {
	r, err := NewRegistry(parsers...)
	if err != nil {
		panic(err)
	}
	return r
}

func sameParser(a, b OpParser) bool {
	typeA, typeB := reflect.TypeOf(a), reflect.TypeOf(b)
	if typeA != typeB || !typeA.Comparable() {
		return false
	}
	return a == b
}

// Resolve returns the parser registered for the operator name.
// It returns an UnknownOperatorError if there is none.
func (r *Registry) Resolve(name string) (OpParser, OpDesc, error) {
	entry, found := r.entries[name]
	if !found {
		return nil, OpDesc{}, opErrorf(UnknownOperatorError, name, "unsupported ONNX operator")
	}
	return entry.parser, entry.desc, nil
}

// ResolveNode is like Resolve, but also checks the node's domain: only the default ONNX domain is
// supported.
func (r *Registry) ResolveNode(node *Node) (OpParser, OpDesc, error) {
	if node.Domain != "" && node.Domain != "ai.onnx" {
		return nil, OpDesc{}, opErrorf(UnknownOperatorError, node.OpType, "unsupported operator domain %q", node.Domain)
	}
	return r.Resolve(node.OpType)
}

// Names returns the sorted list of registered operator names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse resolves the node's operator and calls its parser.
func (r *Registry) Parse(node *Node, info *NodeInfo, args []*ir.Instruction) (*ir.Instruction, error) {
	parser, desc, err := r.ResolveNode(node)
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("parsing %s with %T", node, parser)
	return parser.Parse(desc, info, args)
}

// DefaultParsers returns the parsers of all operators supported by this package.
func DefaultParsers() []OpParser {
	return []OpParser{
		quantizeLinearParser{},
		dequantizeLinearParser{},
		castParser{},
		identityParser{},
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the registry of DefaultParsers. It is built on first use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = MustNewRegistry(DefaultParsers()...)
	})
	return defaultRegistry
}
