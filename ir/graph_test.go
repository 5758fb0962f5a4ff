package ir

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestGraphDump(t *testing.T) {
	g := NewGraph("dump")
	x := must.M1(g.AddParameter("x", shapes.Make(dtypes.Float32, 2, 4)))
	scale := must.M1(g.AddLiteral("scale", tensors.FromFlatDataAndDimensions([]float32{0.5, 0.25, 1, 2}, 4)))
	scale2D := must.M1(g.AddInstruction(MakeOp(OpReshape, AttrDims, []int{1, 4}), scale))
	q := must.M1(g.AddInstruction(MakeOp(OpQuantizeLinear, AttrOutType, dtypes.Int8), x, scale2D))
	require.NoError(t, g.SetOutputs(q))

	want := "@0 = @param:x -> float32[2, 4]\n" +
		"@1 = @literal:scale -> float32[4]\n" +
		"@2 = reshape[dims={1, 4}](@1) -> float32[1, 4]\n" +
		"@3 = quantizelinear[out_type=int8](@0, @2) -> int8[2, 4]\n" +
		"@return(@3)\n"
	require.Equal(t, want, g.String())
	require.Equal(t, 4, g.Len())
	require.Same(t, x, g.Parameter("x"))
	require.Equal(t, []*Instruction{x, scale2D}, q.Inputs())
}

func TestAddParameter(t *testing.T) {
	g := NewGraph("params")
	_, err := g.AddParameter("x", shapes.Make(dtypes.Float32, 2))
	require.NoError(t, err)
	_, err = g.AddParameter("x", shapes.Make(dtypes.Float32, 2))
	require.ErrorContains(t, err, "already defined")
	_, err = g.AddParameter("", shapes.Make(dtypes.Float32, 2))
	require.Error(t, err)
	_, err = g.AddParameter("y", shapes.Make(dtypes.Float32, 0, 2))
	require.ErrorContains(t, err, "must be positive")
	require.Equal(t, 1, g.Len())
}

func TestShapeInference(t *testing.T) {
	g := NewGraph("inference")
	x := must.M1(g.AddParameter("x", shapes.Make(dtypes.Float32, 2, 8)))
	s := must.M1(g.AddParameter("s", shapes.Make(dtypes.Float32, 2, 2)))
	zp := must.M1(g.AddParameter("zp", shapes.Make(dtypes.Int8, 2, 2)))

	t.Run("convert", func(t *testing.T) {
		ins, err := g.AddInstruction(MakeOp(OpConvert, AttrTargetType, dtypes.Float16), x)
		require.NoError(t, err)
		require.True(t, ins.Shape().Equal(shapes.Make(dtypes.Float16, 2, 8)))
		_, err = g.AddInstruction(MakeOp(OpConvert), x)
		require.ErrorContains(t, err, AttrTargetType)
	})

	t.Run("reshape", func(t *testing.T) {
		ins, err := g.AddInstruction(MakeOp(OpReshape, AttrDims, []int{4, 4}), x)
		require.NoError(t, err)
		require.Equal(t, []int{4, 4}, ins.Shape().Dimensions)
		_, err = g.AddInstruction(MakeOp(OpReshape, AttrDims, []int{3, 4}), x)
		require.ErrorContains(t, err, "element counts differ")
	})

	t.Run("unsqueeze", func(t *testing.T) {
		ins, err := g.AddInstruction(MakeOp(OpUnsqueeze, AttrAxes, []int{2}), s)
		require.NoError(t, err)
		require.Equal(t, []int{2, 2, 1}, ins.Shape().Dimensions)
		ins, err = g.AddInstruction(MakeOp(OpUnsqueeze, AttrAxes, []int{0, 2}), s)
		require.NoError(t, err)
		require.Equal(t, []int{1, 2, 1, 2}, ins.Shape().Dimensions)
		_, err = g.AddInstruction(MakeOp(OpUnsqueeze, AttrAxes, []int{5}), s)
		require.Error(t, err)
	})

	t.Run("multibroadcast", func(t *testing.T) {
		unsqueezed := must.M1(g.AddInstruction(MakeOp(OpUnsqueeze, AttrAxes, []int{2}), s))
		ins, err := g.AddInstruction(MakeOp(OpMultiBroadcast, AttrOutLens, []int{2, 2, 4}), unsqueezed)
		require.NoError(t, err)
		require.Equal(t, []int{2, 2, 4}, ins.Shape().Dimensions)
		_, err = g.AddInstruction(MakeOp(OpMultiBroadcast, AttrOutLens, []int{2, 3, 4}), unsqueezed)
		require.ErrorContains(t, err, "cannot broadcast")
	})

	t.Run("quantizelinear", func(t *testing.T) {
		before := g.Len()
		_, err := g.AddInstruction(MakeOp(OpQuantizeLinear), x, s)
		require.ErrorContains(t, err, "not broadcastable")
		require.Equal(t, before, g.Len(), "failed inference must not add instructions")

		scalar := must.M1(g.AddLiteral("one", tensors.FromScalar(float32(1))))
		ins, err := g.AddInstruction(MakeOp(OpQuantizeLinear), x, scalar)
		require.NoError(t, err)
		require.True(t, ins.Shape().Equal(shapes.Make(dtypes.Uint8, 2, 8)))

		zpScalar := must.M1(g.AddLiteral("zp0", tensors.FromScalar(int8(0))))
		ins, err = g.AddInstruction(MakeOp(OpQuantizeLinear), x, scalar, zpScalar)
		require.NoError(t, err)
		require.Equal(t, dtypes.Int8, ins.Shape().DType)

		ins, err = g.AddInstruction(MakeOp(OpQuantizeLinear, AttrOutType, dtypes.Int16), x, scalar)
		require.NoError(t, err)
		require.Equal(t, dtypes.Int16, ins.Shape().DType)

		halfX := must.M1(g.AddInstruction(MakeOp(OpConvert, AttrTargetType, dtypes.Float16), x))
		_, err = g.AddInstruction(MakeOp(OpQuantizeLinear), halfX, scalar)
		require.ErrorContains(t, err, "same element type")
	})

	t.Run("dequantizelinear", func(t *testing.T) {
		q := must.M1(g.AddParameter("q", shapes.Make(dtypes.Int8, 2, 2)))
		ins, err := g.AddInstruction(MakeOp(OpDequantizeLinear), q, s, zp)
		require.NoError(t, err)
		require.True(t, ins.Shape().Equal(shapes.Make(dtypes.Float32, 2, 2)))
		_, err = g.AddInstruction(MakeOp(OpDequantizeLinear), x, s)
		require.Error(t, err)
	})

	t.Run("foreign input", func(t *testing.T) {
		other := NewGraph("other")
		y := must.M1(other.AddParameter("y", shapes.Make(dtypes.Float32, 2)))
		_, err := g.AddInstruction(MakeOp(OpConvert, AttrTargetType, dtypes.Int32), y)
		require.ErrorContains(t, err, "different graph")
	})
}

func TestIsBroadcastable(t *testing.T) {
	require.True(t, IsBroadcastable(nil, []int{2, 3}))
	require.True(t, IsBroadcastable([]int{1}, []int{2, 3}))
	require.True(t, IsBroadcastable([]int{3}, []int{2, 3}))
	require.True(t, IsBroadcastable([]int{2, 1}, []int{2, 3}))
	require.False(t, IsBroadcastable([]int{2}, []int{2, 3}))
	require.False(t, IsBroadcastable([]int{1, 2, 3}, []int{2, 3}))
}

func TestCommonDType(t *testing.T) {
	require.Equal(t, dtypes.Float32, CommonDType(dtypes.Float32, dtypes.Int8))
	require.Equal(t, dtypes.Float32, CommonDType(dtypes.Int8, dtypes.Float32))
	require.Equal(t, dtypes.Float64, CommonDType(dtypes.Float16, dtypes.Float64))
	require.Equal(t, dtypes.Int32, CommonDType(dtypes.Uint8, dtypes.Int32))
	require.Equal(t, dtypes.Float16, CommonDType(dtypes.Float16, dtypes.BFloat16))
	require.Equal(t, dtypes.InvalidDType, CommonDType())
}

func TestOpEqual(t *testing.T) {
	a := MakeOp(OpReshape, AttrDims, []int{1, 4})
	require.True(t, a.Equal(MakeOp(OpReshape, AttrDims, []int{1, 4})))
	require.False(t, a.Equal(MakeOp(OpReshape, AttrDims, []int{4, 1})))
	require.False(t, a.Equal(MakeOp(OpUnsqueeze, AttrDims, []int{1, 4})))
	require.True(t, MakeOp(OpQuantizeLinear).Equal(MakeOp(OpQuantizeLinear)))
	require.False(t, MakeOp(OpQuantizeLinear).Equal(MakeOp(OpQuantizeLinear, AttrOutType, dtypes.Int8)))
}

func TestTypeNames(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Int8, dtypes.Uint8, dtypes.BFloat16} {
		parsed, err := ParseTypeName(TypeName(dtype))
		require.NoError(t, err)
		require.Equal(t, dtype, parsed)
	}
	_, err := ParseTypeName("float128")
	require.Error(t, err)
}
