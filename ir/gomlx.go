package ir

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ToGoMLX builds in g the GoMLX computation of the targets instructions, and returns the
// corresponding nodes.
//
// The graph parameters are taken from params, by name. Literals become GoMLX constants.
//
// GoMLX reports graph building errors by panicking: they are caught and returned as errors.
func ToGoMLX(g *graph.Graph, params map[string]*graph.Node, targets ...*Instruction) (outputs []*graph.Node, err error) {
	err = exceptions.TryCatch[error](func() {
		converted := make(map[*Instruction]*graph.Node)
		outputs = make([]*graph.Node, len(targets))
		for ii, target := range targets {
			outputs[ii] = lowerInstruction(g, params, target, converted)
		}
	})
	if err != nil {
		outputs = nil
		err = errors.WithMessage(err, "ir: failed to build GoMLX graph")
	}
	return
}

// lowerInstruction recursively converts ins and its inputs. It panics on errors.
func lowerInstruction(g *graph.Graph, params map[string]*graph.Node, ins *Instruction, converted map[*Instruction]*graph.Node) *graph.Node {
	if node, found := converted[ins]; found {
		return node
	}
	inputs := make([]*graph.Node, len(ins.inputs))
	for ii, input := range ins.inputs {
		inputs[ii] = lowerInstruction(g, params, input, converted)
	}

	var result *graph.Node
	switch ins.op.Code {
	case OpParameter:
		result = params[ins.name]
		if result == nil {
			exceptions.Panicf("no value given for parameter %q", ins.name)
		}
		if !slices.Equal(result.Shape().Dimensions, ins.shape.Dimensions) || result.DType() != ins.shape.DType {
			exceptions.Panicf("parameter %q given with shape %s, expected %s", ins.name, result.Shape(), FormatShape(ins.shape))
		}
	case OpLiteral:
		result = graph.Const(g, ins.literal)
	case OpConvert:
		result = graph.ConvertDType(inputs[0], ins.shape.DType)
	case OpReshape:
		result = graph.Reshape(inputs[0], ins.shape.Dimensions...)
	case OpUnsqueeze:
		result = graph.Reshape(inputs[0], ins.shape.Dimensions...)
	case OpMultiBroadcast:
		result = broadcastToDims(inputs[0], ins.shape.Dimensions)
	case OpQuantizeLinear:
		var zeroPoint *graph.Node
		if len(inputs) > 2 {
			zeroPoint = inputs[2]
		}
		result = quantizeLinear(inputs[0], inputs[1], zeroPoint, ins.shape.DType)
	case OpDequantizeLinear:
		var zeroPoint *graph.Node
		if len(inputs) > 2 {
			zeroPoint = inputs[2]
		}
		result = dequantizeLinear(inputs[0], inputs[1], zeroPoint)
	default:
		exceptions.Panicf("op %q cannot be converted to GoMLX", ins.op.Code)
	}
	converted[ins] = result
	return result
}

// broadcastToDims implements the multidirectional broadcast: it first expands operand to the
// target rank, prepending axes of dimension 1, and then broadcasts it.
func broadcastToDims(operand *graph.Node, dims []int) *graph.Node {
	if operand.Rank() < len(dims) {
		operand = graph.ExpandLeftToRank(operand, len(dims))
	}
	if slices.Equal(operand.Shape().Dimensions, dims) {
		return operand
	}
	return graph.BroadcastToDims(operand, dims...)
}

// quantizeLinear computes y = saturate(round(x / scale) + zeroPoint), converted to outputDType.
// The rounding happens before the zero point is added.
func quantizeLinear(x, scale, zeroPoint *graph.Node, outputDType dtypes.DType) *graph.Node {
	g := x.Graph()
	dims := x.Shape().Dimensions
	scale = broadcastToDims(scale, dims)
	x = graph.ConvertDType(x, scale.DType())
	y := graph.Round(graph.Div(x, scale))
	if zeroPoint != nil {
		zeroPoint = broadcastToDims(zeroPoint, dims)
		y = graph.Add(y, graph.ConvertDType(zeroPoint, y.DType()))
	}

	var minVal, maxVal *graph.Node
	switch outputDType {
	case dtypes.Int8:
		minVal = graph.Scalar(g, y.DType(), -128)
		maxVal = graph.Scalar(g, y.DType(), 127)
	case dtypes.Uint8:
		minVal = graph.Scalar(g, y.DType(), 0)
		maxVal = graph.Scalar(g, y.DType(), 255)
	case dtypes.Int16:
		minVal = graph.Scalar(g, y.DType(), -32768)
		maxVal = graph.Scalar(g, y.DType(), 32767)
	case dtypes.Uint16:
		minVal = graph.Scalar(g, y.DType(), 0)
		maxVal = graph.Scalar(g, y.DType(), 65535)
	case dtypes.Int32:
		minVal = graph.Scalar(g, y.DType(), -2147483648)
		maxVal = graph.Scalar(g, y.DType(), 2147483647)
	default:
		// Other types (float8, etc.) are not saturated.
	}
	if minVal != nil && maxVal != nil {
		y = graph.Clip(y, minVal, maxVal)
	}
	return graph.ConvertDType(y, outputDType)
}

// dequantizeLinear computes (x - zeroPoint) * scale, in the scale's dtype.
func dequantizeLinear(x, scale, zeroPoint *graph.Node) *graph.Node {
	dims := x.Shape().Dimensions
	scale = broadcastToDims(scale, dims)
	if zeroPoint != nil {
		zeroPoint = broadcastToDims(zeroPoint, dims)
		x = graph.Sub(graph.ConvertDType(x, dtypes.Int32), graph.ConvertDType(zeroPoint, dtypes.Int32))
	}
	return graph.Mul(graph.ConvertDType(x, scale.DType()), scale)
}
