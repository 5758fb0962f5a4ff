// Package generate synthesizes reproducible tensor values, used for model initializers given
// without explicit values and for test fixtures.
//
// The values are fully determined by the shape and the seed: the same inputs always produce the
// same sequence, on every platform.
package generate

import (
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// xorshf96 is Marsaglia's xorshift generator with a period of 2^96-1.
type xorshf96 struct {
	x, y, z uint64
}

func newXorshf96(seed uint64) *xorshf96 {
	return &xorshf96{x: 123456789 ^ seed, y: 362436069, z: 521288629}
}

func (r *xorshf96) next() uint64 {
	r.x ^= r.x << 16
	r.x ^= r.x >> 5
	r.x ^= r.x << 1
	t := r.x
	r.x = r.y
	r.y = r.z
	r.z = t ^ r.x ^ r.y
	return r.z
}

// Raw returns the first n values of the generator seeded with seed.
func Raw(n int, seed uint64) []uint64 {
	r := newXorshf96(seed)
	values := make([]uint64, n)
	for ii := range values {
		values[ii] = r.next()
	}
	return values
}

// Values returns shape.Size() values in [-10, 10), with 2 decimal digits.
func Values(shape shapes.Shape, seed uint64) []float64 {
	raw := Raw(shape.Size(), seed)
	values := make([]float64, len(raw))
	for ii, v := range raw {
		values[ii] = float64(int64(v%2000)-1000) / 100
	}
	return values
}

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// Tensor returns a tensor with the given shape and generated values converted to its dtype.
//
// Float values are those of Values. Signed integers are in [-16, 16), unsigned in [0, 32): small
// enough for any integer dtype, and usable as quantization zero points.
func Tensor(shape shapes.Shape, seed uint64) (*tensors.Tensor, error) {
	var values []float64
	switch shape.DType {
	case dtypes.Float32, dtypes.Float64:
		values = Values(shape, seed)
	case dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64:
		values = mapRaw(shape, seed, func(v uint64) float64 { return float64(int64(v%32) - 16) })
	case dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		values = mapRaw(shape, seed, func(v uint64) float64 { return float64(v % 32) })
	case dtypes.Bool:
		values = mapRaw(shape, seed, func(v uint64) float64 { return float64(v & 1) })
	default:
		return nil, errors.Errorf("generate: dtype %s not supported", shape.DType)
	}
	return FromValues(shape, values)
}

func mapRaw(shape shapes.Shape, seed uint64, fn func(v uint64) float64) []float64 {
	raw := Raw(shape.Size(), seed)
	values := make([]float64, len(raw))
	for ii, v := range raw {
		values[ii] = fn(v)
	}
	return values
}

// FromValues creates a tensor of the given shape with values converted to its dtype.
// For Bool tensors, non-zero values are true.
func FromValues(shape shapes.Shape, values []float64) (*tensors.Tensor, error) {
	if len(values) != shape.Size() {
		return nil, errors.Errorf("generate: %d values given for shape %s, which has %d elements",
			len(values), shape, shape.Size())
	}
	dims := shape.Dimensions
	switch shape.DType {
	case dtypes.Float32:
		return tensors.FromFlatDataAndDimensions(convert[float32](values), dims...), nil
	case dtypes.Float64:
		return tensors.FromFlatDataAndDimensions(convert[float64](values), dims...), nil
	case dtypes.Int8:
		return tensors.FromFlatDataAndDimensions(convert[int8](values), dims...), nil
	case dtypes.Int16:
		return tensors.FromFlatDataAndDimensions(convert[int16](values), dims...), nil
	case dtypes.Int32:
		return tensors.FromFlatDataAndDimensions(convert[int32](values), dims...), nil
	case dtypes.Int64:
		return tensors.FromFlatDataAndDimensions(convert[int64](values), dims...), nil
	case dtypes.Uint8:
		return tensors.FromFlatDataAndDimensions(convert[uint8](values), dims...), nil
	case dtypes.Uint16:
		return tensors.FromFlatDataAndDimensions(convert[uint16](values), dims...), nil
	case dtypes.Uint32:
		return tensors.FromFlatDataAndDimensions(convert[uint32](values), dims...), nil
	case dtypes.Uint64:
		return tensors.FromFlatDataAndDimensions(convert[uint64](values), dims...), nil
	case dtypes.Bool:
		flat := make([]bool, len(values))
		for ii, v := range values {
			flat[ii] = v != 0
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...), nil
	default:
		return nil, errors.Errorf("generate: dtype %s not supported", shape.DType)
	}
}

func convert[T number](values []float64) []T {
	result := make([]T, len(values))
	for ii, v := range values {
		result[ii] = T(v)
	}
	return result
}
