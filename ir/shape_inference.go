package ir

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// inferShape computes the output shape of op applied to inputs.
func inferShape(op Op, inputs []*Instruction) (shapes.Shape, error) {
	switch op.Code {
	case OpConvert:
		return inferConvert(op, inputs)
	case OpReshape:
		return inferReshape(op, inputs)
	case OpUnsqueeze:
		return inferUnsqueeze(op, inputs)
	case OpMultiBroadcast:
		return inferMultiBroadcast(op, inputs)
	case OpQuantizeLinear:
		return inferQuantizeLinear(op, inputs)
	case OpDequantizeLinear:
		return inferDequantizeLinear(op, inputs)
	case OpParameter, OpLiteral:
		return shapes.Shape{}, errors.Errorf("ir: %s instructions must be created with AddParameter/AddLiteral", op.Code)
	default:
		return shapes.Shape{}, errors.Errorf("ir: unknown op %q", op.Code)
	}
}

func checkNumInputs(op Op, inputs []*Instruction, minInputs, maxInputs int) error {
	if len(inputs) < minInputs || len(inputs) > maxInputs {
		if minInputs == maxInputs {
			return errors.Errorf("ir: %s takes %d input(s), %d given", op.Code, minInputs, len(inputs))
		}
		return errors.Errorf("ir: %s takes %d to %d inputs, %d given", op.Code, minInputs, maxInputs, len(inputs))
	}
	return nil
}

func inferConvert(op Op, inputs []*Instruction) (shapes.Shape, error) {
	if err := checkNumInputs(op, inputs, 1, 1); err != nil {
		return shapes.Shape{}, err
	}
	targetType, found := op.DType(AttrTargetType)
	if !found || targetType == dtypes.InvalidDType {
		return shapes.Shape{}, errors.Errorf("ir: %s requires attribute %q", op.Code, AttrTargetType)
	}
	return shapes.Make(targetType, inputs[0].shape.Dimensions...), nil
}

func inferReshape(op Op, inputs []*Instruction) (shapes.Shape, error) {
	if err := checkNumInputs(op, inputs, 1, 1); err != nil {
		return shapes.Shape{}, err
	}
	operand := inputs[0].shape
	dims := op.Ints(AttrDims)
	output := shapes.Make(operand.DType, dims...)
	if err := checkShape(output); err != nil {
		return shapes.Shape{}, errors.WithMessagef(err, "ir: %s", op.Code)
	}
	if output.Size() != operand.Size() {
		return shapes.Shape{}, errors.Errorf("ir: cannot reshape %s to dimensions %s: element counts differ",
			FormatShape(operand), FormatDims(dims))
	}
	return output, nil
}

func inferUnsqueeze(op Op, inputs []*Instruction) (shapes.Shape, error) {
	if err := checkNumInputs(op, inputs, 1, 1); err != nil {
		return shapes.Shape{}, err
	}
	operand := inputs[0].shape
	axes := slices.Clone(op.Ints(AttrAxes))
	slices.Sort(axes)
	outputRank := operand.Rank() + len(axes)
	dims := make([]int, 0, outputRank)
	srcAxis, axesIdx := 0, 0
	for axis := range outputRank {
		if axesIdx < len(axes) && axes[axesIdx] == axis {
			dims = append(dims, 1)
			axesIdx++
			continue
		}
		if srcAxis >= operand.Rank() {
			break
		}
		dims = append(dims, operand.Dimensions[srcAxis])
		srcAxis++
	}
	if axesIdx != len(axes) || len(dims) != outputRank {
		return shapes.Shape{}, errors.Errorf("ir: invalid %s axes %s for operand %s",
			op.Code, FormatDims(op.Ints(AttrAxes)), FormatShape(operand))
	}
	return shapes.Make(operand.DType, dims...), nil
}

func inferMultiBroadcast(op Op, inputs []*Instruction) (shapes.Shape, error) {
	if err := checkNumInputs(op, inputs, 1, 1); err != nil {
		return shapes.Shape{}, err
	}
	operand := inputs[0].shape
	outLens := op.Ints(AttrOutLens)
	if !IsBroadcastable(operand.Dimensions, outLens) {
		return shapes.Shape{}, errors.Errorf("ir: cannot broadcast %s to dimensions %s",
			FormatShape(operand), FormatDims(outLens))
	}
	return shapes.Make(operand.DType, outLens...), nil
}

// IsBroadcastable returns whether dimensions from can be broadcast to dimensions to, following
// the multidirectional (numpy) rule: from is right-aligned with to, and each of its dimensions must
// either be 1 or equal to the corresponding one in to.
func IsBroadcastable(from, to []int) bool {
	if len(from) > len(to) {
		return false
	}
	offset := len(to) - len(from)
	for axis, dim := range from {
		if dim != 1 && dim != to[axis+offset] {
			return false
		}
	}
	return true
}

// quantizationOperands checks the operands common to quantizelinear and dequantizelinear.
func quantizationOperands(op Op, inputs []*Instruction) (x, scale shapes.Shape, zeroPoint *shapes.Shape, err error) {
	if err = checkNumInputs(op, inputs, 2, 3); err != nil {
		return
	}
	x, scale = inputs[0].shape, inputs[1].shape
	if !IsBroadcastable(scale.Dimensions, x.Dimensions) {
		err = errors.Errorf("ir: %s scale %s is not broadcastable to input %s", op.Code, FormatShape(scale), FormatShape(x))
		return
	}
	if len(inputs) == 3 {
		zp := inputs[2].shape
		if !IsBroadcastable(zp.Dimensions, x.Dimensions) {
			err = errors.Errorf("ir: %s zero point %s is not broadcastable to input %s", op.Code, FormatShape(zp), FormatShape(x))
			return
		}
		zeroPoint = &zp
	}
	return
}

func inferQuantizeLinear(op Op, inputs []*Instruction) (shapes.Shape, error) {
	x, scale, zeroPoint, err := quantizationOperands(op, inputs)
	if err != nil {
		return shapes.Shape{}, err
	}
	if x.DType != scale.DType {
		return shapes.Shape{}, errors.Errorf("ir: %s input %s and scale %s must have the same element type",
			op.Code, FormatShape(x), FormatShape(scale))
	}
	outType := dtypes.Uint8
	if zeroPoint != nil {
		outType = zeroPoint.DType
	}
	if explicit, found := op.DType(AttrOutType); found {
		outType = explicit
	}
	return shapes.Make(outType, x.Dimensions...), nil
}

func inferDequantizeLinear(op Op, inputs []*Instruction) (shapes.Shape, error) {
	x, scale, zeroPoint, err := quantizationOperands(op, inputs)
	if err != nil {
		return shapes.Shape{}, err
	}
	if zeroPoint != nil && zeroPoint.DType != x.DType {
		return shapes.Shape{}, errors.Errorf("ir: %s input %s and zero point %s must have the same element type",
			op.Code, FormatShape(x), FormatShape(*zeroPoint))
	}
	return shapes.Make(scale.DType, x.Dimensions...), nil
}
