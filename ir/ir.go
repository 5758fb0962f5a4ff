// Package ir is the intermediate representation produced by the ONNX front-end.
//
// A Graph is an append-only list of instructions. Each Instruction holds an Op (code plus static
// attributes), the ordered list of its input instructions and its output shape, which is inferred
// once when the instruction is added and never changes afterwards. Since inputs must already be in
// the graph when an instruction is added, the instructions always form a DAG in creation order.
//
// Shapes and element types are the GoMLX ones: shapes.Shape and dtypes.DType.
package ir

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
)

// OpCode identifies an IR operation.
type OpCode string

const (
	OpParameter        OpCode = "@param"
	OpLiteral          OpCode = "@literal"
	OpConvert          OpCode = "convert"
	OpReshape          OpCode = "reshape"
	OpUnsqueeze        OpCode = "unsqueeze"
	OpMultiBroadcast   OpCode = "multibroadcast"
	OpQuantizeLinear   OpCode = "quantizelinear"
	OpDequantizeLinear OpCode = "dequantizelinear"
)

// Attribute names used by the ops in this package.
const (
	AttrTargetType = "target_type"
	AttrOutType    = "out_type"
	AttrDims       = "dims"
	AttrAxes       = "axes"
	AttrOutLens    = "out_lens"
)

// Attrs holds the static attributes of an Op.
// Values are either int, []int or dtypes.DType.
type Attrs map[string]any

// Op is an operation code with its static attributes.
type Op struct {
	Code  OpCode
	Attrs Attrs
}

// MakeOp creates an Op. The attributes are given as key/value pairs, e.g.:
//
//	MakeOp(OpReshape, AttrDims, []int{1, 4})
func MakeOp(code OpCode, keyValues ...any) Op {
	if len(keyValues)%2 != 0 {
		panic(fmt.Sprintf("ir.MakeOp(%s): odd number of key/value arguments", code))
	}
	op := Op{Code: code}
	if len(keyValues) > 0 {
		op.Attrs = make(Attrs, len(keyValues)/2)
		for ii := 0; ii < len(keyValues); ii += 2 {
			op.Attrs[keyValues[ii].(string)] = keyValues[ii+1]
		}
	}
	return op
}

// Has returns whether the op has the attribute set.
func (op Op) Has(name string) bool {
	_, found := op.Attrs[name]
	return found
}

// Ints returns the attribute as a list of ints, or nil if not set.
func (op Op) Ints(name string) []int {
	v, _ := op.Attrs[name].([]int)
	return v
}

// DType returns the attribute as a dtype, and whether it was set.
func (op Op) DType(name string) (dtypes.DType, bool) {
	v, found := op.Attrs[name].(dtypes.DType)
	return v, found
}

// String renders the op code and its attributes sorted by name, e.g. "reshape[dims={1, 4}]".
func (op Op) String() string {
	if len(op.Attrs) == 0 {
		return string(op.Code)
	}
	keys := make([]string, 0, len(op.Attrs))
	for key := range op.Attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for ii, key := range keys {
		parts[ii] = key + "=" + formatAttr(op.Attrs[key])
	}
	return fmt.Sprintf("%s[%s]", op.Code, strings.Join(parts, ", "))
}

// Equal compares two ops, including their attributes.
func (op Op) Equal(other Op) bool {
	if op.Code != other.Code || len(op.Attrs) != len(other.Attrs) {
		return false
	}
	for key, value := range op.Attrs {
		otherValue, found := other.Attrs[key]
		if !found {
			return false
		}
		if ints, ok := value.([]int); ok {
			otherInts, ok := otherValue.([]int)
			if !ok || !slices.Equal(ints, otherInts) {
				return false
			}
			continue
		}
		if value != otherValue {
			return false
		}
	}
	return true
}

func formatAttr(value any) string {
	switch v := value.(type) {
	case []int:
		return "{" + formatInts(v) + "}"
	case dtypes.DType:
		return TypeName(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatInts(values []int) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ", ")
}
