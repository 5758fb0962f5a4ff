package onnx

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/onnx-lower/ir"
	"k8s.io/klog/v2"
)

// quantizationGranularity is how the scale and zero point of a quantization op vary over the input.
type quantizationGranularity int

const (
	perTensor quantizationGranularity = iota
	perAxis
	perBlock
)

func (q quantizationGranularity) String() string {
	switch q {
	case perTensor:
		return "per-tensor"
	case perAxis:
		return "per-axis"
	default:
		return "per-block"
	}
}

// quantizationPlan is how the quantization parameters (scale and zero point) of one node are
// reshaped to broadcast against the input. It is computed, and fully validated, before any
// instruction is emitted.
type quantizationPlan struct {
	granularity quantizationGranularity
	axis        int
	blockSize   int
	xDims       []int

	// targetDims is the shape the parameters are reshaped to for per-tensor and per-axis
	// granularities. nil if they can be used as they are.
	targetDims []int
}

// adjustAxis converts a possibly negative axis in [-rank, rank) to [0, rank).
func adjustAxis(opName string, axis, rank int) (int, error) {
	if axis < -rank || axis >= rank {
		return 0, opErrorf(ShapeMismatchError, opName, "axis %d is out of range for input of rank %d", axis, rank)
	}
	if axis < 0 {
		axis += rank
	}
	return axis, nil
}

// planQuantizationParameters validates the shape of the quantization parameters param against the
// input x, given the axis and blockSize attributes, and returns how to reshape them.
//
// The granularity is:
//
//   - per-block if blockSize > 0: param has the rank of x and the same dimensions, except on axis,
//     where x's dimension must be divisible by blockSize and param's must be the number of blocks.
//   - per-tensor if param has exactly one element.
//   - per-axis if param is 1D with the size of x's axis dimension.
func planQuantizationParameters(opName string, x, param shapes.Shape, axis, blockSize int) (plan quantizationPlan, err error) {
	plan = quantizationPlan{axis: axis, blockSize: blockSize, xDims: x.Dimensions}
	noGranularity := func() error {
		return opErrorf(ShapeMismatchError, opName,
			"quantization parameters shape %s don't match any granularity for input shape %s (axis=%d, block_size=%d)",
			ir.FormatDims(param.Dimensions), ir.FormatDims(x.Dimensions), axis, blockSize)
	}

	switch {
	case blockSize < 0:
		err = opErrorf(ShapeMismatchError, opName, "block_size must be non-negative, got %d", blockSize)
		return

	case blockSize > 0:
		plan.granularity = perBlock
		if plan.axis, err = adjustAxis(opName, axis, x.Rank()); err != nil {
			return
		}
		axisDim := x.Dimensions[plan.axis]
		if axisDim%blockSize != 0 {
			err = opErrorf(ShapeMismatchError, opName,
				"block_size %d does not evenly divide dimension %d of input shape %s on axis %d",
				blockSize, axisDim, ir.FormatDims(x.Dimensions), plan.axis)
			return
		}
		if param.Rank() != x.Rank() {
			err = noGranularity()
			return
		}
		for ii, dim := range param.Dimensions {
			want := x.Dimensions[ii]
			if ii == plan.axis {
				want = axisDim / blockSize
			}
			if dim != want {
				err = opErrorf(ShapeMismatchError, opName,
					"for block granularity y_scale shape %s must match input shape %s except on axis %d, where it must be %d (input dimension %d / block_size %d)",
					ir.FormatDims(param.Dimensions), ir.FormatDims(x.Dimensions), plan.axis, axisDim/blockSize, axisDim, blockSize)
				return
			}
		}
		return

	case param.Size() == 1:
		plan.granularity = perTensor
		if !ir.IsBroadcastable(param.Dimensions, x.Dimensions) {
			plan.targetDims = []int{}
		}
		return

	case param.Rank() == 1:
		plan.granularity = perAxis
		if plan.axis, err = adjustAxis(opName, axis, x.Rank()); err != nil {
			return
		}
		if x.Dimensions[plan.axis] != param.Dimensions[0] {
			err = opErrorf(ShapeMismatchError, opName,
				"for per axis granularity the length of y_scale (actual: %d) must be equal to size of x on axis %d (actual: %d)",
				param.Dimensions[0], plan.axis, x.Dimensions[plan.axis])
			return
		}
		targetDims := make([]int, x.Rank())
		for ii := range targetDims {
			targetDims[ii] = 1
		}
		targetDims[plan.axis] = param.Dimensions[0]
		if !slices.Equal(targetDims, param.Dimensions) {
			plan.targetDims = targetDims
		}
		return

	default:
		err = noGranularity()
		return
	}
}

// apply emits the instructions that reshape param according to the plan. Parameters that already
// broadcast against the input are returned unchanged.
func (plan quantizationPlan) apply(info *NodeInfo, param *ir.Instruction) (*ir.Instruction, error) {
	switch plan.granularity {
	case perTensor, perAxis:
		if plan.targetDims == nil {
			return param, nil
		}
		return info.AddInstruction(ir.MakeOp(ir.OpReshape, ir.AttrDims, plan.targetDims), param)

	default:
		if plan.blockSize == 1 {
			return param, nil
		}
		// Given x dimensions (D0, ..., Di, ..., Dn) and axis=i, param has dimensions
		// (D0, ..., Di/blockSize, ..., Dn): each of its values is repeated blockSize times along axis i.
		ins, err := info.AddInstruction(ir.MakeOp(ir.OpUnsqueeze, ir.AttrAxes, []int{plan.axis + 1}), param)
		if err != nil {
			return nil, err
		}
		broadcastDims := slices.Clone(ins.Shape().Dimensions)
		broadcastDims[plan.axis+1] = plan.blockSize
		ins, err = info.AddInstruction(ir.MakeOp(ir.OpMultiBroadcast, ir.AttrOutLens, broadcastDims), ins)
		if err != nil {
			return nil, err
		}
		return info.AddInstruction(ir.MakeOp(ir.OpReshape, ir.AttrDims, slices.Clone(plan.xDims)), ins)
	}
}

// transformQuantizeDequantizeLinearInputs reshapes the quantization parameters args[1:] (scale and
// optional zero point) of a QuantizeLinear/DequantizeLinear node so they broadcast elementwise against
// the input args[0].
//
// All parameters must have the same dimensions. The input instruction is never modified, and
// parameters that need no reshaping are returned as is. No instruction is emitted if it fails.
func transformQuantizeDequantizeLinearInputs(info *NodeInfo, opName string, blockSize, axis int, args []*ir.Instruction) ([]*ir.Instruction, error) {
	x, scale := args[0].Shape(), args[1].Shape()
	for _, param := range args[2:] {
		if !slices.Equal(param.Shape().Dimensions, scale.Dimensions) {
			return nil, opErrorf(ShapeMismatchError, opName, "quantization parameters must have the same shape, got %s and %s",
				ir.FormatDims(scale.Dimensions), ir.FormatDims(param.Shape().Dimensions))
		}
	}
	plan, err := planQuantizationParameters(opName, x, scale, axis, blockSize)
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("%s %q: %s quantization (axis=%d, block_size=%d) of input %s",
		opName, info.Name, plan.granularity, plan.axis, blockSize, ir.FormatShape(x))

	result := slices.Clone(args)
	for ii := 1; ii < len(result); ii++ {
		result[ii], err = plan.apply(info, result[ii])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}
