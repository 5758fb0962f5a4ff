package onnx

import (
	"fmt"
	"strings"

	"github.com/gomlx/onnx-lower/ir"
)

// Node is one operator invocation of an ONNX graph.
type Node struct {
	Name   string
	OpType string

	// Domain of the operator. Empty means the default ONNX domain ("ai.onnx").
	Domain string

	// Inputs and Outputs are value names. An empty input name marks an omitted optional input.
	Inputs  []string
	Outputs []string

	Attributes Attributes
}

// String returns a one-line description of the node, used in error messages.
func (n *Node) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(", n.OpType)
	sb.WriteString(strings.Join(n.Inputs, ", "))
	sb.WriteString(")")
	for _, name := range n.Attributes.Names() {
		fmt.Fprintf(&sb, " %s=%s", name, n.Attributes[name])
	}
	if n.Name != "" {
		fmt.Fprintf(&sb, " [%s]", n.Name)
	}
	return sb.String()
}

// NodeInfo is the parsing state of one node, given to OpParser.Parse.
//
// Attributes are read-only; AddInstruction is the only way a parser changes the graph.
type NodeInfo struct {
	// Name of the node being parsed, for error messages.
	Name string

	Attributes Attributes

	// Opset is the version of the default ONNX domain the model was exported with.
	Opset int

	graph *ir.Graph
}

// NewNodeInfo creates the parsing state for a node that will add its instructions to g.
func NewNodeInfo(g *ir.Graph, name string, attributes Attributes, opset int) *NodeInfo {
	return &NodeInfo{Name: name, Attributes: attributes, Opset: opset, graph: g}
}

// AddInstruction adds an instruction to the graph being built.
func (info *NodeInfo) AddInstruction(op ir.Op, inputs ...*ir.Instruction) (*ir.Instruction, error) {
	return info.graph.AddInstruction(op, inputs...)
}

// supports reports whether the opset version of the node has the given behavior.
func (info *NodeInfo) supports(feature opsetFeature) bool {
	return feature.supportedBy(info.Opset)
}
