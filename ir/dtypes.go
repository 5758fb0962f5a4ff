package ir

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

var typeNames = map[dtypes.DType]string{
	dtypes.Bool:       "bool",
	dtypes.Int8:       "int8",
	dtypes.Int16:      "int16",
	dtypes.Int32:      "int32",
	dtypes.Int64:      "int64",
	dtypes.Uint8:      "uint8",
	dtypes.Uint16:     "uint16",
	dtypes.Uint32:     "uint32",
	dtypes.Uint64:     "uint64",
	dtypes.Float16:    "float16",
	dtypes.BFloat16:   "bfloat16",
	dtypes.Float32:    "float32",
	dtypes.Float64:    "float64",
	dtypes.Complex64:  "complex64",
	dtypes.Complex128: "complex128",
}

// TypeName returns the short lower-case name used in IR dumps and error messages.
func TypeName(dtype dtypes.DType) string {
	if name, found := typeNames[dtype]; found {
		return name
	}
	return dtype.String()
}

// ParseTypeName is the inverse of TypeName.
func ParseTypeName(name string) (dtypes.DType, error) {
	for dtype, typeName := range typeNames {
		if typeName == name {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown element type %q", name)
}

// dtypePriority returns a priority value for dtype promotion.
// Higher values are preferred in mixed-type operations.
func dtypePriority(dt dtypes.DType) int {
	switch dt {
	case dtypes.Float64:
		return 100
	case dtypes.Float32:
		return 90
	case dtypes.Float16, dtypes.BFloat16:
		return 80
	case dtypes.Int64:
		return 70
	case dtypes.Int32:
		return 60
	case dtypes.Int16:
		return 50
	case dtypes.Int8:
		return 40
	case dtypes.Uint64:
		return 35
	case dtypes.Uint32:
		return 30
	case dtypes.Uint16:
		return 25
	case dtypes.Uint8:
		return 20
	case dtypes.Bool:
		return 10
	default:
		return 0
	}
}

// CommonDType returns the element type all the given types are promoted to in a mixed-type
// operation: the highest priority one, floating point types first.
// Ties (Float16 and BFloat16) are resolved in favor of the first one given.
func CommonDType(dtypeList ...dtypes.DType) dtypes.DType {
	if len(dtypeList) == 0 {
		return dtypes.InvalidDType
	}
	common := dtypeList[0]
	for _, dt := range dtypeList[1:] {
		if dtypePriority(dt) > dtypePriority(common) {
			common = dt
		}
	}
	return common
}
