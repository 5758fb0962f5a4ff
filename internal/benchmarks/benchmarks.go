// Package benchmarks implements support functionality for the benchmark tests of the ONNX
// lowering: conversion throughput and execution of the lowered quantization graphs in GoMLX.
package benchmarks

import (
	"fmt"
	"math"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/onnx-lower/internal/generate"
	"github.com/gomlx/onnx-lower/onnx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// Granularity of the quantization parameters of a benchmark model.
type Granularity int

const (
	PerTensor Granularity = iota
	PerAxis
	PerBlock
)

func (g Granularity) String() string {
	switch g {
	case PerTensor:
		return "per-tensor"
	case PerAxis:
		return "per-axis"
	default:
		return "per-block"
	}
}

// BlockSize used by PerBlock models.
const BlockSize = 4

// QDQModel returns a model with a QuantizeLinear followed by a DequantizeLinear of its only input "x",
// quantized to uint8 along the last axis with the given granularity.
//
// Scales are generated from seed in [0.08, 0.18), so inputs in [-10, 10) don't saturate. Zero
// points are fixed to 128.
func QDQModel(xShape shapes.Shape, granularity Granularity, seed uint64) (*onnx.Model, error) {
	rank := xShape.Rank()
	if rank == 0 {
		return nil, errors.Errorf("benchmark models need an input of rank >= 1, got %s", xShape)
	}
	var paramDims []int
	attrs := onnx.Attributes{"axis": onnx.IntAttr(-1)}
	switch granularity {
	case PerTensor:
		paramDims = []int{1}
	case PerAxis:
		paramDims = []int{xShape.Dimensions[rank-1]}
	case PerBlock:
		if xShape.Dimensions[rank-1]%BlockSize != 0 {
			return nil, errors.Errorf("last dimension of %s must be divisible by %d", xShape, BlockSize)
		}
		paramDims = append([]int(nil), xShape.Dimensions...)
		paramDims[rank-1] /= BlockSize
		attrs["block_size"] = onnx.IntAttr(BlockSize)
	}

	scaleShape := shapes.Make(xShape.DType, paramDims...)
	scaleValues := generate.Values(scaleShape, seed)
	for ii, v := range scaleValues {
		scaleValues[ii] = math.Abs(v)/100 + 0.08
	}
	scale, err := generate.FromValues(scaleShape, scaleValues)
	if err != nil {
		return nil, err
	}
	zpShape := shapes.Make(dtypes.Uint8, paramDims...)
	zpValues := make([]float64, zpShape.Size())
	for ii := range zpValues {
		zpValues[ii] = 128
	}
	zeroPoint, err := generate.FromValues(zpShape, zpValues)
	if err != nil {
		return nil, err
	}

	return &onnx.Model{
		Name:         fmt.Sprintf("qdq-%s", granularity),
		Opset:        onnx.DefaultOpset,
		Inputs:       []onnx.ValueInfo{{Name: "x", Shape: xShape}},
		Initializers: []onnx.Initializer{{Name: "scale", Value: scale}, {Name: "zero_point", Value: zeroPoint}},
		Nodes: []*onnx.Node{
			{Name: "q", OpType: "QuantizeLinear", Inputs: []string{"x", "scale", "zero_point"}, Outputs: []string{"q"}, Attributes: attrs},
			{Name: "dq", OpType: "DequantizeLinear", Inputs: []string{"q", "scale", "zero_point"}, Outputs: []string{"y"}, Attributes: attrs},
		},
		Outputs: []string{"y"},
	}, nil
}

// requireSameTensorsFloat32 compares two tensors and fails the test if they are not within a delta margin.
func requireSameTensorsFloat32(t testing.TB, want, got *tensors.Tensor, delta float64) {
	// Make sure shapes are the same.
	require.True(t, got.Shape().Equal(want.Shape()))
	flatIdx := 0
	gotFlat := tensors.MustCopyFlatData[float32](got)
	wantFlat := tensors.MustCopyFlatData[float32](want)
	var mismatches int
	for indices := range got.Shape().Iter() {
		gotValue := gotFlat[flatIdx]
		wantValue := wantFlat[flatIdx]
		if math.Abs(float64(gotValue)-float64(wantValue)) > delta {
			if mismatches < 3 {
				t.Logf("\tIndex %v (flatIdx=%d) has a mismatch: got %f, want %f", indices, flatIdx, gotValue, wantValue)
			} else if mismatches == 4 {
				t.Logf("\t...")
			}
			mismatches++
		}
		flatIdx++
	}
	require.Zerof(t, mismatches, "found %d mismatches in tensors", mismatches)
}
