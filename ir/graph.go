package ir

import (
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Instruction is one node of the IR graph. It is immutable once created.
type Instruction struct {
	graph   *Graph
	id      int
	name    string
	op      Op
	inputs  []*Instruction
	shape   shapes.Shape
	literal *tensors.Tensor
}

// ID is the position of the instruction in its graph.
func (ins *Instruction) ID() int { return ins.id }

// Name of a parameter or literal. Empty for other instructions.
func (ins *Instruction) Name() string { return ins.name }

// Op returns the instruction operation.
func (ins *Instruction) Op() Op { return ins.op }

// Inputs returns the instruction inputs. The returned slice must not be modified.
func (ins *Instruction) Inputs() []*Instruction { return ins.inputs }

// Shape returns the output shape of the instruction.
func (ins *Instruction) Shape() shapes.Shape { return ins.shape }

// Literal returns the value of an OpLiteral instruction, or nil.
func (ins *Instruction) Literal() *tensors.Tensor { return ins.literal }

// Graph that owns the instruction.
func (ins *Instruction) Graph() *Graph { return ins.graph }

// String returns the instruction reference, e.g. "@3".
func (ins *Instruction) String() string {
	return fmt.Sprintf("@%d", ins.id)
}

// Graph is an append-only container of instructions.
//
// A Graph is not safe for concurrent use: it is meant to be built by one goroutine.
type Graph struct {
	name         string
	instructions []*Instruction
	parameters   map[string]*Instruction
	outputs      []*Instruction
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name:       name,
		parameters: make(map[string]*Instruction),
	}
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// Instructions returns all instructions in creation (and hence topological) order.
// The returned slice must not be modified.
func (g *Graph) Instructions() []*Instruction { return g.instructions }

// Len returns the number of instructions in the graph.
func (g *Graph) Len() int { return len(g.instructions) }

// Parameter returns the parameter with the given name, or nil.
func (g *Graph) Parameter(name string) *Instruction { return g.parameters[name] }

// Outputs returns the instructions marked as the graph outputs.
func (g *Graph) Outputs() []*Instruction { return g.outputs }

func (g *Graph) push(ins *Instruction) *Instruction {
	ins.graph = g
	ins.id = len(g.instructions)
	g.instructions = append(g.instructions, ins)
	return ins
}

// AddParameter adds a named graph input with the given shape.
func (g *Graph) AddParameter(name string, shape shapes.Shape) (*Instruction, error) {
	if name == "" {
		return nil, errors.New("ir: parameter name cannot be empty")
	}
	if _, found := g.parameters[name]; found {
		return nil, errors.Errorf("ir: parameter %q already defined in graph %q", name, g.name)
	}
	if err := checkShape(shape); err != nil {
		return nil, errors.WithMessagef(err, "ir: parameter %q", name)
	}
	ins := g.push(&Instruction{name: name, op: Op{Code: OpParameter}, shape: shape.Clone()})
	g.parameters[name] = ins
	return ins, nil
}

// AddLiteral adds a constant value to the graph.
func (g *Graph) AddLiteral(name string, value *tensors.Tensor) (*Instruction, error) {
	if value == nil {
		return nil, errors.Errorf("ir: nil value for literal %q", name)
	}
	shape := value.Shape()
	if err := checkShape(shape); err != nil {
		return nil, errors.WithMessagef(err, "ir: literal %q", name)
	}
	return g.push(&Instruction{name: name, op: Op{Code: OpLiteral}, shape: shape, literal: value}), nil
}

// AddInstruction adds an instruction with the given op and inputs, and returns it.
//
// The output shape is inferred from the op and the inputs shapes. If the inference fails, an
// error is returned and the graph is left unchanged.
func (g *Graph) AddInstruction(op Op, inputs ...*Instruction) (*Instruction, error) {
	for ii, input := range inputs {
		if input == nil {
			return nil, errors.Errorf("ir: %s input #%d is nil", op.Code, ii)
		}
		if input.graph != g {
			return nil, errors.Errorf("ir: %s input #%d (%s) belongs to a different graph", op.Code, ii, input)
		}
	}
	shape, err := inferShape(op, inputs)
	if err != nil {
		return nil, err
	}
	return g.push(&Instruction{op: op, inputs: append([]*Instruction(nil), inputs...), shape: shape}), nil
}

// SetOutputs marks the graph outputs.
func (g *Graph) SetOutputs(outputs ...*Instruction) error {
	for ii, output := range outputs {
		if output == nil || output.graph != g {
			return errors.Errorf("ir: output #%d is not an instruction of graph %q", ii, g.name)
		}
	}
	g.outputs = append([]*Instruction(nil), outputs...)
	return nil
}

// String dumps the graph, one instruction per line:
//
//	@0 = @param:x -> float32[2, 4]
//	@2 = quantizelinear(@0, @1) -> uint8[2, 4]
func (g *Graph) String() string {
	var sb strings.Builder
	for _, ins := range g.instructions {
		fmt.Fprintf(&sb, "%s = %s", ins, ins.op)
		if ins.name != "" {
			fmt.Fprintf(&sb, ":%s", ins.name)
		}
		if len(ins.inputs) > 0 {
			refs := make([]string, len(ins.inputs))
			for ii, input := range ins.inputs {
				refs[ii] = input.String()
			}
			fmt.Fprintf(&sb, "(%s)", strings.Join(refs, ", "))
		}
		fmt.Fprintf(&sb, " -> %s\n", FormatShape(ins.shape))
	}
	if len(g.outputs) > 0 {
		refs := make([]string, len(g.outputs))
		for ii, output := range g.outputs {
			refs[ii] = output.String()
		}
		fmt.Fprintf(&sb, "@return(%s)\n", strings.Join(refs, ", "))
	}
	return sb.String()
}

// FormatShape renders a shape as "float32[2, 4]" (scalars as "float32[]").
func FormatShape(shape shapes.Shape) string {
	return TypeName(shape.DType) + "[" + formatInts(shape.Dimensions) + "]"
}

// FormatDims renders dimensions as "{2, 4}".
func FormatDims(dims []int) string {
	return "{" + formatInts(dims) + "}"
}

func checkShape(shape shapes.Shape) error {
	if shape.DType == dtypes.InvalidDType {
		return errors.Errorf("invalid element type %s", shape.DType)
	}
	for axis, dim := range shape.Dimensions {
		if dim <= 0 {
			return errors.Errorf("dimension %d of shape %s must be positive", axis, FormatShape(shape))
		}
	}
	return nil
}
