package onnx

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/onnx-lower/ir"
)

// quantizeLinearParser lowers QuantizeLinear nodes: y = saturate(round(x / y_scale) + y_zero_point).
//
// See ONNX documentation in:
// https://onnx.ai/onnx/operators/onnx__QuantizeLinear.html
type quantizeLinearParser struct{}

func (quantizeLinearParser) Operators() []OpDesc {
	return []OpDesc{{Name: "QuantizeLinear"}}
}

func (quantizeLinearParser) Parse(desc OpDesc, info *NodeInfo, args []*ir.Instruction) (*ir.Instruction, error) {
	opName := desc.Name
	if len(args) != 2 && len(args) != 3 {
		return nil, opErrorf(ArityError, opName, "must have either 2 or 3 inputs, %d input(s) provided", len(args))
	}
	x, scale := args[0], args[1]
	var zeroPoint *ir.Instruction
	if len(args) == 3 {
		zeroPoint = args[2]
	}

	if info.supports(featureQuantizeScaleTypeMatchesInput) && x.Shape().DType != scale.Shape().DType {
		return nil, opErrorf(TypeMismatchError, opName, "x and y_scale must be of same type, got %s and %s",
			ir.TypeName(x.Shape().DType), ir.TypeName(scale.Shape().DType))
	}

	if zeroPoint != nil && !slices.Equal(scale.Shape().Dimensions, zeroPoint.Shape().Dimensions) {
		return nil, opErrorf(ShapeMismatchError, opName,
			"y_scale and y_zero_point shapes must be equal. Provided y_scale shape: %s, provided y_zero_point shape: %s",
			ir.FormatDims(scale.Shape().Dimensions), ir.FormatDims(zeroPoint.Shape().Dimensions))
	}

	axis, err := info.Attributes.IntOr(opName, "axis", 1)
	if err != nil {
		return nil, err
	}
	blockSize, err := info.Attributes.IntOr(opName, "block_size", 0)
	if err != nil {
		return nil, err
	}
	outputType, hasOutputType, err := info.Attributes.DType(opName, "output_dtype")
	if err != nil {
		return nil, err
	}
	if hasOutputType && zeroPoint != nil && outputType != zeroPoint.Shape().DType {
		return nil, opErrorf(TypeMismatchError, opName, "output_type and y_zero_point type must match, got %s and %s",
			ir.TypeName(outputType), ir.TypeName(zeroPoint.Shape().DType))
	}

	args, err = transformQuantizeDequantizeLinearInputs(info, opName, blockSize, axis, args)
	if err != nil {
		return nil, err
	}

	if !info.supports(featureQuantizeScaleTypeMatchesInput) {
		// Only x and y_scale are converted: y_zero_point already has the quantized type.
		commonDType := ir.CommonDType(args[0].Shape().DType, args[1].Shape().DType)
		for ii := range 2 {
			if args[ii].Shape().DType == commonDType {
				continue
			}
			args[ii], err = info.AddInstruction(ir.MakeOp(ir.OpConvert, ir.AttrTargetType, commonDType), args[ii])
			if err != nil {
				return nil, err
			}
		}
	}

	op := ir.MakeOp(ir.OpQuantizeLinear)
	if hasOutputType {
		op = ir.MakeOp(ir.OpQuantizeLinear, ir.AttrOutType, outputType)
	}
	return info.AddInstruction(op, args...)
}

// dequantizeLinearParser lowers DequantizeLinear nodes: y = (x - x_zero_point) * x_scale.
//
// See ONNX documentation in:
// https://onnx.ai/onnx/operators/onnx__DequantizeLinear.html
type dequantizeLinearParser struct{}

func (dequantizeLinearParser) Operators() []OpDesc {
	return []OpDesc{{Name: "DequantizeLinear"}}
}

func (dequantizeLinearParser) Parse(desc OpDesc, info *NodeInfo, args []*ir.Instruction) (*ir.Instruction, error) {
	opName := desc.Name
	if len(args) != 2 && len(args) != 3 {
		return nil, opErrorf(ArityError, opName, "must have either 2 or 3 inputs, %d input(s) provided", len(args))
	}
	x, scale := args[0], args[1]
	if !isFloat(scale.Shape().DType) {
		return nil, opErrorf(TypeMismatchError, opName, "x_scale must be a float type, got %s", ir.TypeName(scale.Shape().DType))
	}
	if len(args) == 3 {
		zeroPoint := args[2]
		if !slices.Equal(scale.Shape().Dimensions, zeroPoint.Shape().Dimensions) {
			return nil, opErrorf(ShapeMismatchError, opName,
				"x_scale and x_zero_point shapes must be equal. Provided x_scale shape: %s, provided x_zero_point shape: %s",
				ir.FormatDims(scale.Shape().Dimensions), ir.FormatDims(zeroPoint.Shape().Dimensions))
		}
		if zeroPoint.Shape().DType != x.Shape().DType {
			return nil, opErrorf(TypeMismatchError, opName, "x and x_zero_point must be of same type, got %s and %s",
				ir.TypeName(x.Shape().DType), ir.TypeName(zeroPoint.Shape().DType))
		}
	}

	axis, err := info.Attributes.IntOr(opName, "axis", 1)
	if err != nil {
		return nil, err
	}
	blockSize, err := info.Attributes.IntOr(opName, "block_size", 0)
	if err != nil {
		return nil, err
	}
	args, err = transformQuantizeDequantizeLinearInputs(info, opName, blockSize, axis, args)
	if err != nil {
		return nil, err
	}
	return info.AddInstruction(ir.MakeOp(ir.OpDequantizeLinear), args...)
}

func isFloat(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64:
		return true
	default:
		return false
	}
}
