package cli

import (
	"bytes"
	"os"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/onnx-lower/internal/generate"
	"github.com/gomlx/onnx-lower/ir"
	"github.com/gomlx/onnx-lower/onnx"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ModelFile is the YAML description of an ONNX graph, as accepted by the lower command.
type ModelFile struct {
	Name         string            `yaml:"name"`
	Opset        int               `yaml:"opset"`
	Inputs       []TensorFile      `yaml:"inputs"`
	Initializers []InitializerFile `yaml:"initializers"`
	Nodes        []NodeFile        `yaml:"nodes"`
	Outputs      []string          `yaml:"outputs"`
}

// TensorFile describes a graph input.
type TensorFile struct {
	Name  string `yaml:"name"`
	DType string `yaml:"dtype"`
	Dims  []int  `yaml:"dims"`
}

// InitializerFile describes a constant: either with explicit Values, or with values generated
// deterministically from Seed.
type InitializerFile struct {
	TensorFile `yaml:",inline"`
	Values     []float64 `yaml:"values"`
	Generate   bool      `yaml:"generate"`
	Seed       uint64    `yaml:"seed"`
}

// NodeFile describes one node.
type NodeFile struct {
	Name       string                   `yaml:"name"`
	Op         string                   `yaml:"op"`
	Domain     string                   `yaml:"domain"`
	Inputs     []string                 `yaml:"inputs"`
	Outputs    []string                 `yaml:"outputs"`
	Attributes map[string]AttributeFile `yaml:"attributes"`
}

// AttributeFile is one attribute value: exactly one of its fields must be set.
// DType is a shortcut for an integer attribute holding an ONNX element type code, e.g. "int8".
type AttributeFile struct {
	Int    *int64   `yaml:"int"`
	Float  *float32 `yaml:"float"`
	Ints   []int64  `yaml:"ints"`
	String *string  `yaml:"string"`
	DType  *string  `yaml:"dtype"`
}

// LoadModel reads and converts the YAML model file at path.
func LoadModel(path string) (*onnx.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model file %q", path)
	}
	model, err := ParseModel(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "model file %q", path)
	}
	return model, nil
}

// ParseModel parses a YAML model description. Unknown fields are rejected.
func ParseModel(data []byte) (*onnx.Model, error) {
	var file ModelFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	return file.toModel()
}

func (file *ModelFile) toModel() (*onnx.Model, error) {
	model := &onnx.Model{Name: file.Name, Opset: file.Opset, Outputs: file.Outputs}
	for _, input := range file.Inputs {
		shape, err := input.shape()
		if err != nil {
			return nil, errors.WithMessagef(err, "input %q", input.Name)
		}
		model.Inputs = append(model.Inputs, onnx.ValueInfo{Name: input.Name, Shape: shape})
	}
	for _, initializer := range file.Initializers {
		value, err := initializer.tensor()
		if err != nil {
			return nil, errors.WithMessagef(err, "initializer %q", initializer.Name)
		}
		model.Initializers = append(model.Initializers, onnx.Initializer{Name: initializer.Name, Value: value})
	}
	for ii, nodeFile := range file.Nodes {
		node := &onnx.Node{
			Name:    nodeFile.Name,
			OpType:  nodeFile.Op,
			Domain:  nodeFile.Domain,
			Inputs:  nodeFile.Inputs,
			Outputs: nodeFile.Outputs,
		}
		if node.OpType == "" {
			return nil, errors.Errorf("node #%d (%q) has no op", ii, nodeFile.Name)
		}
		if len(nodeFile.Attributes) > 0 {
			node.Attributes = make(onnx.Attributes, len(nodeFile.Attributes))
			for name, attrFile := range nodeFile.Attributes {
				attr, err := attrFile.attribute()
				if err != nil {
					return nil, errors.WithMessagef(err, "node #%d (%q) attribute %q", ii, nodeFile.Name, name)
				}
				node.Attributes[name] = attr
			}
		}
		model.Nodes = append(model.Nodes, node)
	}
	return model, nil
}

func (tf *TensorFile) shape() (shapes.Shape, error) {
	if tf.Name == "" {
		return shapes.Shape{}, errors.New("missing name")
	}
	dtype, err := ir.ParseTypeName(tf.DType)
	if err != nil {
		return shapes.Shape{}, err
	}
	for axis, dim := range tf.Dims {
		if dim <= 0 {
			return shapes.Shape{}, errors.Errorf("dimension %d must be positive, got %d", axis, dim)
		}
	}
	return shapes.Make(dtype, tf.Dims...), nil
}

func (initializer *InitializerFile) tensor() (*tensors.Tensor, error) {
	shape, err := initializer.shape()
	if err != nil {
		return nil, err
	}
	switch {
	case initializer.Generate && initializer.Values != nil:
		return nil, errors.New("only one of values or generate can be given")
	case initializer.Generate:
		return generate.Tensor(shape, initializer.Seed)
	case initializer.Values != nil:
		return generate.FromValues(shape, initializer.Values)
	default:
		return nil, errors.New("one of values or generate must be given")
	}
}

func (attrFile AttributeFile) attribute() (*onnx.Attribute, error) {
	var attr *onnx.Attribute
	numSet := 0
	if attrFile.Int != nil {
		attr = onnx.IntAttr(*attrFile.Int)
		numSet++
	}
	if attrFile.Float != nil {
		attr = onnx.FloatAttr(*attrFile.Float)
		numSet++
	}
	if attrFile.Ints != nil {
		attr = onnx.IntsAttr(attrFile.Ints...)
		numSet++
	}
	if attrFile.String != nil {
		attr = onnx.StringAttr(*attrFile.String)
		numSet++
	}
	if attrFile.DType != nil {
		dtype, err := ir.ParseTypeName(*attrFile.DType)
		if err != nil {
			return nil, err
		}
		code, err := onnx.DataTypeFor(dtype)
		if err != nil {
			return nil, err
		}
		attr = onnx.IntAttr(int64(code))
		numSet++
	}
	if numSet != 1 {
		return nil, errors.Errorf("exactly one of int, float, ints, string or dtype must be given, got %d", numSet)
	}
	return attr, nil
}
