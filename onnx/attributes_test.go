package onnx

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestAttributesDType(t *testing.T) {
	attrs := Attributes{
		"to":       IntAttr(int64(DataTypeInt8)),
		"wide":     IntAttr(1<<32 + int64(DataTypeFloat)),
		"negative": IntAttr(-1<<40 + 1),
		"unknown":  IntAttr(99),
		"float":    FloatAttr(1),
	}

	dtype, found, err := attrs.DType("Cast", "to")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, dtypes.Int8, dtype)

	_, found, err = attrs.DType("Cast", "missing")
	require.NoError(t, err)
	require.False(t, found)

	// Codes that don't fit an ONNX data type are not truncated.
	for _, name := range []string{"wide", "negative", "unknown", "float"} {
		_, found, err = attrs.DType("Cast", name)
		require.True(t, found, name)
		require.Equalf(t, TypeMismatchError, KindOf(err), "attribute %q", name)
	}
	_, _, err = attrs.DType("Cast", "wide")
	require.ErrorContains(t, err, "out of range")
}
