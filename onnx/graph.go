package onnx

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/onnx-lower/ir"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ValueInfo describes a graph input: a value given at execution time.
type ValueInfo struct {
	Name  string
	Shape shapes.Shape
}

// Initializer is a constant value of the graph, stored with the model.
type Initializer struct {
	Name  string
	Value *tensors.Tensor
}

// Model is an ONNX graph: nodes connected by value names, with its inputs, initializers and outputs.
type Model struct {
	Name string

	// Opset version of the default ONNX domain. 0 means DefaultOpset.
	Opset int

	Inputs       []ValueInfo
	Initializers []Initializer
	Nodes        []*Node

	// Outputs are the names of the values returned by the graph.
	Outputs []string
}

// Converter lowers Models to IR graphs.
type Converter struct {
	// Registry used to resolve the nodes' operators. If nil, DefaultRegistry() is used.
	Registry *Registry

	// Opset overrides the model's opset version, if > 0.
	Opset int
}

// opset returns the opset version used to convert model.
func (c *Converter) opset(model *Model) int {
	switch {
	case c.Opset > 0:
		return c.Opset
	case model.Opset > 0:
		return model.Opset
	default:
		return DefaultOpset
	}
}

// conversion holds the state of one Converter.Convert call.
type conversion struct {
	registry *Registry
	opset    int
	graph    *ir.Graph

	nodeOutputToNode map[string]*Node
	converted        map[string]*ir.Instruction
	visiting         map[*Node]bool
}

// Convert lowers the model to a new IR graph.
//
// Only the nodes the model outputs depend on are converted. Conversion stops at the first node
// that fails, and its error is wrapped with the node's description: use KindOf to classify it.
func (c *Converter) Convert(model *Model) (*ir.Graph, error) {
	registry := c.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	conv := &conversion{
		registry:         registry,
		opset:            c.opset(model),
		graph:            ir.NewGraph(model.Name),
		nodeOutputToNode: make(map[string]*Node),
		converted:        make(map[string]*ir.Instruction),
		visiting:         make(map[*Node]bool),
	}
	klog.V(1).Infof("converting model %q with opset %d", model.Name, conv.opset)

	for _, input := range model.Inputs {
		ins, err := conv.graph.AddParameter(input.Name, input.Shape)
		if err != nil {
			return nil, errors.WithMessagef(err, "model %q input", model.Name)
		}
		conv.converted[input.Name] = ins
	}
	for _, initializer := range model.Initializers {
		if _, found := conv.converted[initializer.Name]; found {
			return nil, errors.Errorf("model %q: initializer %q has the same name as an input or another initializer",
				model.Name, initializer.Name)
		}
		ins, err := conv.graph.AddLiteral(initializer.Name, initializer.Value)
		if err != nil {
			return nil, errors.WithMessagef(err, "model %q initializer", model.Name)
		}
		conv.converted[initializer.Name] = ins
	}
	for _, node := range model.Nodes {
		if len(node.Outputs) != 1 || node.Outputs[0] == "" {
			return nil, errors.Errorf("model %q: node %s has %d outputs, only nodes with exactly one named output are supported",
				model.Name, node, len(node.Outputs))
		}
		output := node.Outputs[0]
		if _, found := conv.converted[output]; found {
			return nil, errors.Errorf("model %q: node %s output %q is also an input or initializer", model.Name, node, output)
		}
		if other, found := conv.nodeOutputToNode[output]; found {
			return nil, errors.Errorf("model %q: output %q produced by both %s and %s", model.Name, output, other, node)
		}
		conv.nodeOutputToNode[output] = node
	}
	if len(model.Outputs) == 0 {
		return nil, errors.Errorf("model %q has no outputs", model.Name)
	}

	outputs := make([]*ir.Instruction, len(model.Outputs))
	err := exceptions.TryCatch[error](func() {
		// Convert all nodes recursively, which will implicitly yield a topological order.
		for ii, outputName := range model.Outputs {
			outputs[ii] = conv.recursiveConvert(outputName)
		}
	})
	if err != nil {
		return nil, err
	}
	if err = conv.graph.SetOutputs(outputs...); err != nil {
		return nil, err
	}
	return conv.graph, nil
}

// recursiveConvert returns the instruction for the value name, converting the node that produces
// it, and its inputs, if not converted yet. It panics with an error on failure.
func (conv *conversion) recursiveConvert(valueName string) *ir.Instruction {
	if ins, found := conv.converted[valueName]; found {
		return ins
	}
	node, found := conv.nodeOutputToNode[valueName]
	if !found {
		exceptions.Panicf("value %q is not an input, an initializer or the output of any node", valueName)
	}
	if conv.visiting[node] {
		exceptions.Panicf("cycle in the graph: node %s depends on its own output %q", node, valueName)
	}
	conv.visiting[node] = true
	defer delete(conv.visiting, node)

	inputNames := trimOmittedInputs(node.Inputs)
	args := make([]*ir.Instruction, len(inputNames))
	for ii, inputName := range inputNames {
		if inputName == "" {
			panic(errors.Errorf("node %s: omitted optional input #%d followed by given inputs is not supported", node, ii))
		}
		args[ii] = conv.recursiveConvert(inputName)
	}

	ins := conv.convertNode(node, args)
	conv.converted[valueName] = ins
	return ins
}

// convertNode parses one node, whose inputs are already converted.
func (conv *conversion) convertNode(node *Node, args []*ir.Instruction) *ir.Instruction {
	klog.V(1).Infof("converting node %s", node)
	info := NewNodeInfo(conv.graph, node.Name, node.Attributes, conv.opset)
	ins, err := conv.registry.Parse(node, info, args)
	if err != nil {
		panic(errors.WithMessagef(err, "node %s", nodeLabel(node)))
	}
	return ins
}

// trimOmittedInputs drops the trailing empty input names, used by ONNX to mark omitted optional inputs.
func trimOmittedInputs(inputs []string) []string {
	n := len(inputs)
	for n > 0 && inputs[n-1] == "" {
		n--
	}
	return inputs[:n]
}

// nodeLabel identifies a node in error messages.
func nodeLabel(node *Node) string {
	if node.Name == "" {
		return fmt.Sprintf("(%s -> %q)", node.OpType, node.Outputs[0])
	}
	return fmt.Sprintf("%q (%s)", node.Name, node.OpType)
}
