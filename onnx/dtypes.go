package onnx

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// DataType is the ONNX TensorProto element type code, as used by the "output_dtype" and "to"
// attributes.
type DataType int32

const (
	DataTypeUndefined  DataType = 0
	DataTypeFloat      DataType = 1
	DataTypeUint8      DataType = 2
	DataTypeInt8       DataType = 3
	DataTypeUint16     DataType = 4
	DataTypeInt16      DataType = 5
	DataTypeInt32      DataType = 6
	DataTypeInt64      DataType = 7
	DataTypeString     DataType = 8
	DataTypeBool       DataType = 9
	DataTypeFloat16    DataType = 10
	DataTypeDouble     DataType = 11
	DataTypeUint32     DataType = 12
	DataTypeUint64     DataType = 13
	DataTypeComplex64  DataType = 14
	DataTypeComplex128 DataType = 15
	DataTypeBFloat16   DataType = 16
)

func (dt DataType) String() string {
	switch dt {
	case DataTypeFloat:
		return "FLOAT"
	case DataTypeUint8:
		return "UINT8"
	case DataTypeInt8:
		return "INT8"
	case DataTypeUint16:
		return "UINT16"
	case DataTypeInt16:
		return "INT16"
	case DataTypeInt32:
		return "INT32"
	case DataTypeInt64:
		return "INT64"
	case DataTypeString:
		return "STRING"
	case DataTypeBool:
		return "BOOL"
	case DataTypeFloat16:
		return "FLOAT16"
	case DataTypeDouble:
		return "DOUBLE"
	case DataTypeUint32:
		return "UINT32"
	case DataTypeUint64:
		return "UINT64"
	case DataTypeComplex64:
		return "COMPLEX64"
	case DataTypeComplex128:
		return "COMPLEX128"
	case DataTypeBFloat16:
		return "BFLOAT16"
	default:
		return fmt.Sprintf("DataType(%d)", int32(dt))
	}
}

// DTypeFor returns the GoMLX dtype of an ONNX element type code.
func DTypeFor(code DataType) (dtypes.DType, error) {
	return dtypeForONNX(code)
}

// dtypeForONNX converts an ONNX data type to a GoMLX data type.
func dtypeForONNX(onnxDType DataType) (dtypes.DType, error) {
	switch onnxDType {
	case DataTypeFloat:
		return dtypes.Float32, nil
	case DataTypeDouble:
		return dtypes.Float64, nil
	case DataTypeFloat16:
		return dtypes.Float16, nil
	case DataTypeBFloat16:
		return dtypes.BFloat16, nil
	case DataTypeInt32:
		return dtypes.Int32, nil
	case DataTypeInt64:
		return dtypes.Int64, nil
	case DataTypeUint8:
		return dtypes.Uint8, nil
	case DataTypeInt8:
		return dtypes.Int8, nil
	case DataTypeInt16:
		return dtypes.Int16, nil
	case DataTypeUint16:
		return dtypes.Uint16, nil
	case DataTypeUint32:
		return dtypes.Uint32, nil
	case DataTypeUint64:
		return dtypes.Uint64, nil
	case DataTypeBool:
		return dtypes.Bool, nil
	case DataTypeComplex64:
		return dtypes.Complex64, nil
	case DataTypeComplex128:
		return dtypes.Complex128, nil
	default:
		return dtypes.InvalidDType, errors.Errorf("unsupported/unknown ONNX data type %v", onnxDType)
	}
}

// DataTypeFor returns the ONNX element type code of a GoMLX dtype.
func DataTypeFor(dtype dtypes.DType) (DataType, error) {
	for code := DataTypeFloat; code <= DataTypeBFloat16; code++ {
		if candidate, err := dtypeForONNX(code); err == nil && candidate == dtype {
			return code, nil
		}
	}
	return DataTypeUndefined, errors.Errorf("dtype %s has no ONNX equivalent", dtype)
}
