package onnx

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/onnx-lower/ir"
)

// castParser lowers Cast and CastLike nodes to a convert instruction.
//
// See ONNX documentation in:
// https://onnx.ai/onnx/operators/onnx__Cast.html
// https://onnx.ai/onnx/operators/onnx__CastLike.html
type castParser struct{}

func (castParser) Operators() []OpDesc {
	return []OpDesc{{Name: "Cast"}, {Name: "CastLike"}}
}

func (castParser) Parse(desc OpDesc, info *NodeInfo, args []*ir.Instruction) (*ir.Instruction, error) {
	opName := desc.Name
	numInputs := 1
	if opName == "CastLike" {
		numInputs = 2
	}
	if len(args) != numInputs {
		return nil, opErrorf(ArityError, opName, "must have %d input(s), %d input(s) provided", numInputs, len(args))
	}

	var targetType dtypes.DType
	if opName == "CastLike" {
		targetType = args[1].Shape().DType
	} else {
		var found bool
		var err error
		targetType, found, err = info.Attributes.DType(opName, "to")
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, opErrorf(TypeMismatchError, opName, "missing required attribute \"to\"")
		}
	}
	if args[0].Shape().DType == targetType {
		return args[0], nil
	}
	return info.AddInstruction(ir.MakeOp(ir.OpConvert, ir.AttrTargetType, targetType), args[0])
}

// identityParser lowers Identity nodes: the output is the input instruction itself.
type identityParser struct{}

func (identityParser) Operators() []OpDesc {
	return []OpDesc{{Name: "Identity"}}
}

func (identityParser) Parse(desc OpDesc, _ *NodeInfo, args []*ir.Instruction) (*ir.Instruction, error) {
	if len(args) != 1 {
		return nil, opErrorf(ArityError, desc.Name, "must have 1 input, %d input(s) provided", len(args))
	}
	return args[0], nil
}
