package ir

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestToGoMLX(t *testing.T) {
	graphtest.RunTestGraphFn(t, "QuantizeLinear-per-tensor", func(g *graph.Graph) (inputs, outputs []*graph.Node) {
		program := NewGraph("per-tensor")
		x := must.M1(program.AddParameter("x", shapes.Make(dtypes.Float32, 2, 2)))
		scale := must.M1(program.AddLiteral("scale", tensors.FromScalar(float32(0.5))))
		zp := must.M1(program.AddLiteral("zp", tensors.FromScalar(uint8(10))))
		q := must.M1(program.AddInstruction(MakeOp(OpQuantizeLinear), x, scale, zp))

		inputs = []*graph.Node{graph.Const(g, [][]float32{{1, 2}, {3, 4}})}
		outputs = must.M1(ToGoMLX(g, map[string]*graph.Node{"x": inputs[0]}, q))
		return
	}, []any{
		[][]uint8{{12, 14}, {16, 18}},
	}, -1)

	graphtest.RunTestGraphFn(t, "QuantizeLinear-blocked", func(g *graph.Graph) (inputs, outputs []*graph.Node) {
		program := NewGraph("blocked")
		x := must.M1(program.AddParameter("x", shapes.Make(dtypes.Float32, 8)))
		scale := must.M1(program.AddLiteral("scale", tensors.FromFlatDataAndDimensions([]float32{1, 4}, 2)))
		expanded := must.M1(program.AddInstruction(MakeOp(OpUnsqueeze, AttrAxes, []int{1}), scale))
		expanded = must.M1(program.AddInstruction(MakeOp(OpMultiBroadcast, AttrOutLens, []int{2, 4}), expanded))
		expanded = must.M1(program.AddInstruction(MakeOp(OpReshape, AttrDims, []int{8}), expanded))
		q := must.M1(program.AddInstruction(MakeOp(OpQuantizeLinear, AttrOutType, dtypes.Int8), x, expanded))

		inputs = []*graph.Node{graph.Const(g, []float32{1, 2, 3, 4, 8, 12, 16, 20})}
		outputs = must.M1(ToGoMLX(g, map[string]*graph.Node{"x": inputs[0]}, expanded, q))
		return
	}, []any{
		[]float32{1, 1, 1, 1, 4, 4, 4, 4},
		[]int8{1, 2, 3, 4, 2, 3, 4, 5},
	}, -1)

	graphtest.RunTestGraphFn(t, "QuantizeLinear-saturate", func(g *graph.Graph) (inputs, outputs []*graph.Node) {
		program := NewGraph("saturate")
		x := must.M1(program.AddParameter("x", shapes.Make(dtypes.Float32, 3)))
		scale := must.M1(program.AddLiteral("scale", tensors.FromFlatDataAndDimensions([]float32{1}, 1)))
		q := must.M1(program.AddInstruction(MakeOp(OpQuantizeLinear, AttrOutType, dtypes.Int8), x, scale))

		inputs = []*graph.Node{graph.Const(g, []float32{-1000, 7, 1000})}
		outputs = must.M1(ToGoMLX(g, map[string]*graph.Node{"x": inputs[0]}, q))
		return
	}, []any{
		[]int8{-128, 7, 127},
	}, -1)

	graphtest.RunTestGraphFn(t, "DequantizeLinear", func(g *graph.Graph) (inputs, outputs []*graph.Node) {
		program := NewGraph("dequantize")
		x := must.M1(program.AddParameter("x", shapes.Make(dtypes.Int8, 4)))
		scale := must.M1(program.AddLiteral("scale", tensors.FromScalar(float32(0.5))))
		zp := must.M1(program.AddLiteral("zp", tensors.FromScalar(int8(2))))
		dq := must.M1(program.AddInstruction(MakeOp(OpDequantizeLinear), x, scale, zp))

		inputs = []*graph.Node{graph.Const(g, []int8{-2, 0, 2, 4})}
		outputs = must.M1(ToGoMLX(g, map[string]*graph.Node{"x": inputs[0]}, dq))
		return
	}, []any{
		[]float32{-2, -1, 0, 1},
	}, -1)
}

func TestToGoMLXErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph("errors")
	x := must.M1(g.AddParameter("x", shapes.Make(dtypes.Float32, 2)))
	converted := must.M1(g.AddInstruction(MakeOp(OpConvert, AttrTargetType, dtypes.Int32), x))

	gg := graph.NewGraph(backend, "missing")
	_, err := ToGoMLX(gg, nil, converted)
	require.ErrorContains(t, err, `no value given for parameter "x"`)

	gg = graph.NewGraph(backend, "wrong-shape")
	wrong := graph.Const(gg, []float32{1, 2, 3})
	_, err = ToGoMLX(gg, map[string]*graph.Node{"x": wrong}, converted)
	require.ErrorContains(t, err, `parameter "x" given with shape`)
}
