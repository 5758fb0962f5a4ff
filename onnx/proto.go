package onnx

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/onnx-lower/internal/generate"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"k8s.io/klog/v2"
)

// Field numbers of the ONNX protobuf messages (onnx.proto) read by ParseModelProto.
const (
	modelOpsetImportField = 8
	modelGraphField       = 7

	opsetDomainField  = 1
	opsetVersionField = 2

	graphNodeField        = 1
	graphNameField        = 2
	graphInitializerField = 5
	graphInputField       = 11
	graphOutputField      = 12
	graphSparseInitField  = 15

	nodeInputField     = 1
	nodeOutputField    = 2
	nodeNameField      = 3
	nodeOpTypeField    = 4
	nodeAttributeField = 5
	nodeDomainField    = 7

	attributeNameField = 1
	attributeFField    = 2
	attributeIField    = 3
	attributeSField    = 4
	attributeIntsField = 8
	attributeTypeField = 20

	valueInfoNameField = 1
	valueInfoTypeField = 2
	typeTensorField    = 1
	typeElemTypeField  = 1
	typeShapeField     = 2
	shapeDimField      = 1
	dimValueField      = 1
	dimParamField      = 2

	tensorDimsField         = 1
	tensorDataTypeField     = 2
	tensorSegmentField      = 3
	tensorFloatDataField    = 4
	tensorInt32DataField    = 5
	tensorStringDataField   = 6
	tensorInt64DataField    = 7
	tensorNameField         = 8
	tensorRawDataField      = 9
	tensorDoubleDataField   = 10
	tensorUint64DataField   = 11
	tensorExternalDataField = 13
)

// ONNX AttributeProto.AttributeType values.
const (
	protoAttributeFloat  = 1
	protoAttributeInt    = 2
	protoAttributeString = 3
	protoAttributeInts   = 7
)

// ReadFile reads an ONNX model file (a serialized ModelProto).
func ReadFile(path string) (*Model, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ONNX model file %q", path)
	}
	model, err := ParseModelProto(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "ONNX model file %q", path)
	}
	return model, nil
}

// ParseModelProto decodes a serialized ONNX ModelProto into a Model.
//
// Only the parts of the graph needed for conversion are decoded: the opset of the default domain,
// the graph inputs (which must have static shapes), its initializers, nodes and outputs.
// Inputs that are also initializers, as older IR versions list them, are taken as initializers.
func ParseModelProto(contents []byte) (*Model, error) {
	model := &Model{}
	var graphBytes []byte
	err := forEachField(contents, func(f protoField) error {
		switch f.num {
		case modelOpsetImportField:
			domain, version, err := parseOpsetImport(f.bytes)
			if err != nil {
				return errors.WithMessage(err, "opset_import")
			}
			if domain == "" || domain == "ai.onnx" {
				model.Opset = version
			}
		case modelGraphField:
			graphBytes = f.bytes
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse ONNX ModelProto")
	}
	if graphBytes == nil {
		return nil, errors.New("ONNX ModelProto has no graph")
	}
	if err := parseGraph(graphBytes, model); err != nil {
		return nil, errors.WithMessage(err, "failed to parse ONNX GraphProto")
	}
	klog.V(1).Infof("parsed ONNX model %q: opset %d, %d inputs, %d initializers, %d nodes",
		model.Name, model.Opset, len(model.Inputs), len(model.Initializers), len(model.Nodes))
	return model, nil
}

func parseOpsetImport(contents []byte) (domain string, version int, err error) {
	err = forEachField(contents, func(f protoField) error {
		switch f.num {
		case opsetDomainField:
			domain = string(f.bytes)
		case opsetVersionField:
			version = int(int64(f.value))
		}
		return nil
	})
	return
}

func parseGraph(contents []byte, model *Model) error {
	var inputs []ValueInfo
	err := forEachField(contents, func(f protoField) error {
		switch f.num {
		case graphNameField:
			model.Name = string(f.bytes)
		case graphNodeField:
			node, err := parseNode(f.bytes)
			if err != nil {
				return errors.WithMessagef(err, "node #%d", len(model.Nodes))
			}
			model.Nodes = append(model.Nodes, node)
		case graphInitializerField:
			initializer, err := parseInitializer(f.bytes)
			if err != nil {
				return errors.WithMessagef(err, "initializer #%d", len(model.Initializers))
			}
			model.Initializers = append(model.Initializers, initializer)
		case graphSparseInitField:
			return errors.New("sparse initializers are not supported")
		case graphInputField:
			input, err := parseValueInfo(f.bytes)
			if err != nil {
				return errors.WithMessagef(err, "input #%d", len(inputs))
			}
			inputs = append(inputs, input)
		case graphOutputField:
			name, err := parseValueInfoName(f.bytes)
			if err != nil {
				return errors.WithMessagef(err, "output #%d", len(model.Outputs))
			}
			model.Outputs = append(model.Outputs, name)
		}
		return nil
	})
	if err != nil {
		return err
	}

	isInitializer := make(map[string]bool, len(model.Initializers))
	for _, initializer := range model.Initializers {
		isInitializer[initializer.Name] = true
	}
	for _, input := range inputs {
		if isInitializer[input.Name] {
			continue
		}
		if input.Shape.DType == dtypes.InvalidDType {
			return errors.Errorf("input %q has no tensor type", input.Name)
		}
		model.Inputs = append(model.Inputs, input)
	}
	return nil
}

func parseNode(contents []byte) (*Node, error) {
	node := &Node{}
	err := forEachField(contents, func(f protoField) error {
		switch f.num {
		case nodeInputField:
			node.Inputs = append(node.Inputs, string(f.bytes))
		case nodeOutputField:
			node.Outputs = append(node.Outputs, string(f.bytes))
		case nodeNameField:
			node.Name = string(f.bytes)
		case nodeOpTypeField:
			node.OpType = string(f.bytes)
		case nodeDomainField:
			node.Domain = string(f.bytes)
		case nodeAttributeField:
			name, attr, err := parseAttribute(f.bytes)
			if err != nil {
				return errors.WithMessagef(err, "attribute %q", name)
			}
			if node.Attributes == nil {
				node.Attributes = make(Attributes)
			}
			node.Attributes[name] = attr
		}
		return nil
	})
	return node, err
}

func parseAttribute(contents []byte) (name string, attr *Attribute, err error) {
	var (
		attrType int64
		value    Attribute
	)
	err = forEachField(contents, func(f protoField) error {
		switch f.num {
		case attributeNameField:
			name = string(f.bytes)
		case attributeTypeField:
			attrType = int64(f.value)
		case attributeFField:
			value.F = math.Float32frombits(uint32(f.value))
		case attributeIField:
			value.I = int64(f.value)
		case attributeSField:
			value.S = string(f.bytes)
		case attributeIntsField:
			ints, err := f.varints()
			if err != nil {
				return err
			}
			for _, v := range ints {
				value.Ints = append(value.Ints, int64(v))
			}
		}
		return nil
	})
	if err != nil {
		return
	}
	switch attrType {
	case protoAttributeInt:
		value.Type = AttributeInt
	case protoAttributeFloat:
		value.Type = AttributeFloat
	case protoAttributeString:
		value.Type = AttributeString
	case protoAttributeInts:
		value.Type = AttributeInts
	case 0:
		err = errors.New("attribute has no type")
		return
	default:
		klog.V(2).Infof("attribute %q of ONNX type %d kept as %s", name, attrType, AttributeOther)
		value = Attribute{Type: AttributeOther}
	}
	return name, &value, nil
}

func parseValueInfoName(contents []byte) (name string, err error) {
	err = forEachField(contents, func(f protoField) error {
		if f.num == valueInfoNameField {
			name = string(f.bytes)
		}
		return nil
	})
	return
}

// parseValueInfo decodes a ValueInfoProto of a tensor with a static shape.
func parseValueInfo(contents []byte) (info ValueInfo, err error) {
	var typeBytes []byte
	err = forEachField(contents, func(f protoField) error {
		switch f.num {
		case valueInfoNameField:
			info.Name = string(f.bytes)
		case valueInfoTypeField:
			typeBytes = f.bytes
		}
		return nil
	})
	if err != nil || typeBytes == nil {
		return
	}
	var tensorTypeBytes []byte
	err = forEachField(typeBytes, func(f protoField) error {
		if f.num == typeTensorField {
			tensorTypeBytes = f.bytes
		}
		return nil
	})
	if err != nil || tensorTypeBytes == nil {
		return
	}

	var (
		elemType DataType
		hasShape bool
	)
	err = forEachField(tensorTypeBytes, func(f protoField) error {
		switch f.num {
		case typeElemTypeField:
			elemType = DataType(f.value)
		case typeShapeField:
			hasShape = true
			return forEachField(f.bytes, func(dimField protoField) error {
				if dimField.num != shapeDimField {
					return nil
				}
				dim, err := parseDimension(dimField.bytes)
				if err != nil {
					return errors.WithMessagef(err, "input %q axis %d", info.Name, len(info.Shape.Dimensions))
				}
				info.Shape.Dimensions = append(info.Shape.Dimensions, dim)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return
	}
	if !hasShape {
		err = errors.Errorf("input %q has no shape, only static shapes are supported", info.Name)
		return
	}
	info.Shape.DType, err = dtypeForONNX(elemType)
	if err != nil {
		err = errors.WithMessagef(err, "input %q", info.Name)
	}
	return
}

func parseDimension(contents []byte) (dim int, err error) {
	var (
		param    string
		hasValue bool
	)
	err = forEachField(contents, func(f protoField) error {
		switch f.num {
		case dimValueField:
			dim, hasValue = int(int64(f.value)), true
		case dimParamField:
			param = string(f.bytes)
		}
		return nil
	})
	switch {
	case err != nil:
	case !hasValue && param != "":
		err = errors.Errorf("dynamic dimension %q is not supported", param)
	case !hasValue:
		err = errors.New("dimension has no value")
	case dim <= 0:
		err = errors.Errorf("dimension must be positive, got %d", dim)
	}
	return
}

// tensorProto holds the decoded fields of an ONNX TensorProto.
type tensorProto struct {
	name       string
	dims       []int64
	dataType   DataType
	rawData    []byte
	floatData  []float32
	doubleData []float64
	int32Data  []int64
	int64Data  []int64
	uint64Data []uint64

	hasStringData, hasExternalData, hasSegment bool
}

func parseInitializer(contents []byte) (Initializer, error) {
	var proto tensorProto
	err := forEachField(contents, func(f protoField) error {
		switch f.num {
		case tensorNameField:
			proto.name = string(f.bytes)
		case tensorDataTypeField:
			proto.dataType = DataType(f.value)
		case tensorDimsField:
			dims, err := f.varints()
			if err != nil {
				return err
			}
			for _, dim := range dims {
				proto.dims = append(proto.dims, int64(dim))
			}
		case tensorRawDataField:
			proto.rawData = f.bytes
		case tensorFloatDataField:
			values, err := f.fixed32s()
			if err != nil {
				return err
			}
			for _, v := range values {
				proto.floatData = append(proto.floatData, math.Float32frombits(v))
			}
		case tensorDoubleDataField:
			values, err := f.fixed64s()
			if err != nil {
				return err
			}
			for _, v := range values {
				proto.doubleData = append(proto.doubleData, math.Float64frombits(v))
			}
		case tensorInt32DataField, tensorInt64DataField:
			values, err := f.varints()
			if err != nil {
				return err
			}
			for _, v := range values {
				if f.num == tensorInt32DataField {
					proto.int32Data = append(proto.int32Data, int64(int32(v)))
				} else {
					proto.int64Data = append(proto.int64Data, int64(v))
				}
			}
		case tensorUint64DataField:
			values, err := f.varints()
			if err != nil {
				return err
			}
			proto.uint64Data = append(proto.uint64Data, values...)
		case tensorStringDataField:
			proto.hasStringData = true
		case tensorExternalDataField:
			proto.hasExternalData = true
		case tensorSegmentField:
			proto.hasSegment = true
		}
		return nil
	})
	if err != nil {
		return Initializer{}, err
	}
	value, err := proto.toTensor()
	if err != nil {
		return Initializer{}, errors.WithMessagef(err, "tensor %q", proto.name)
	}
	return Initializer{Name: proto.name, Value: value}, nil
}

// toTensor converts the decoded TensorProto to a tensor, checking that the amount of data matches
// its shape.
func (proto *tensorProto) toTensor() (*tensors.Tensor, error) {
	if proto.name == "" {
		return nil, errors.New("tensor has no name")
	}
	switch {
	case proto.hasSegment:
		return nil, errors.New("segmented tensors are not supported")
	case proto.hasStringData:
		return nil, errors.New("string tensors are not supported")
	case proto.hasExternalData:
		return nil, errors.New("tensors stored as external data are not supported")
	}
	dtype, err := dtypeForONNX(proto.dataType)
	if err != nil {
		return nil, err
	}
	dims, err := checkedDimensions(proto.dims, dtype.Size())
	if err != nil {
		return nil, err
	}
	shape := shapes.Make(dtype, dims...)

	// Check the amount of data before anything is allocated.
	numValues := proto.numTypedValues()
	if proto.rawData != nil {
		if numBytes := int(shape.Memory()); len(proto.rawData) != numBytes {
			return nil, errors.Errorf("shape %s uses %d bytes, but %d bytes of raw data were given",
				shape, numBytes, len(proto.rawData))
		}
		return tensorFromBytes(shape, proto.rawData)
	}
	if numValues != shape.Size() {
		return nil, errors.Errorf("shape %s has %d elements, but %d values were given", shape, shape.Size(), numValues)
	}
	switch {
	case proto.floatData != nil:
		return tensorFromValues(shape, proto.floatData)
	case proto.doubleData != nil:
		return tensorFromValues(shape, proto.doubleData)
	case proto.int32Data != nil && (dtype == dtypes.Float16 || dtype == dtypes.BFloat16):
		// 16 bits floats are stored as their bit patterns.
		data := make([]byte, 2*len(proto.int32Data))
		for ii, bits := range proto.int32Data {
			binary.LittleEndian.PutUint16(data[2*ii:], uint16(bits))
		}
		return tensorFromBytes(shape, data)
	case proto.int32Data != nil:
		return tensorFromValues(shape, proto.int32Data)
	case proto.int64Data != nil && dtype == dtypes.Int64:
		return tensors.FromFlatDataAndDimensions(proto.int64Data, dims...), nil
	case proto.int64Data != nil:
		return tensorFromValues(shape, proto.int64Data)
	case proto.uint64Data != nil && dtype == dtypes.Uint64:
		return tensors.FromFlatDataAndDimensions(proto.uint64Data, dims...), nil
	default:
		return tensorFromValues(shape, proto.uint64Data)
	}
}

// numTypedValues returns the number of values in the first non-empty typed data field, in the order
// toTensor reads them.
func (proto *tensorProto) numTypedValues() int {
	switch {
	case proto.floatData != nil:
		return len(proto.floatData)
	case proto.doubleData != nil:
		return len(proto.doubleData)
	case proto.int32Data != nil:
		return len(proto.int32Data)
	case proto.int64Data != nil:
		return len(proto.int64Data)
	default:
		return len(proto.uint64Data)
	}
}

// maxTensorBytes bounds the memory of a tensor read from a model file.
const maxTensorBytes int64 = 16 << 30

// checkedDimensions validates the dimensions of a TensorProto: each must be positive, and the tensor
// must fit in maxTensorBytes with elements of itemSize bytes.
func checkedDimensions(protoDims []int64, itemSize int) ([]int, error) {
	dims := make([]int, len(protoDims))
	maxElements := maxTensorBytes / int64(max(itemSize, 1))
	numElements := int64(1)
	for axis, dim := range protoDims {
		if dim <= 0 {
			return nil, errors.Errorf("dimension %d must be positive, got %d", axis, dim)
		}
		if dim > maxElements/numElements {
			return nil, errors.Errorf("dimensions %v exceed the maximum tensor size of %d bytes", protoDims, maxTensorBytes)
		}
		numElements *= dim
		dims[axis] = int(dim)
	}
	return dims, nil
}

// tensorFromBytes creates a tensor of the given shape from its little-endian, row-major encoding.
func tensorFromBytes(shape shapes.Shape, data []byte) (t *tensors.Tensor, err error) {
	t = tensors.FromShape(shape)
	t.MutableBytes(func(tensorData []byte) {
		if len(tensorData) != len(data) {
			err = errors.Errorf("shape %s uses %d bytes, but %d bytes of raw data were given",
				shape, len(tensorData), len(data))
			return
		}
		copy(tensorData, data)
	})
	if err != nil {
		t.FinalizeAll()
		return nil, err
	}
	return t, nil
}

// tensorFromValues converts ONNX typed data to a tensor of shape's dtype. The ONNX typed fields
// are wider than the dtypes stored in them, so the values are converted exactly.
func tensorFromValues[T float32 | float64 | int64 | uint64](shape shapes.Shape, values []T) (*tensors.Tensor, error) {
	converted := make([]float64, len(values))
	for ii, v := range values {
		converted[ii] = float64(v)
	}
	return generate.FromValues(shape, converted)
}

// protoField is one decoded protobuf field: scalars are in value, length-delimited contents
// (strings, sub-messages, packed lists) in bytes.
type protoField struct {
	num   protowire.Number
	typ   protowire.Type
	value uint64
	bytes []byte
}

// forEachField calls fn for each field of the protobuf message encoded in contents.
// Groups are skipped.
func forEachField(contents []byte, fn func(f protoField) error) error {
	for len(contents) > 0 {
		num, typ, n := protowire.ConsumeTag(contents)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "invalid protobuf tag")
		}
		contents = contents[n:]
		f := protoField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.value, n = protowire.ConsumeVarint(contents)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(contents)
			f.value = uint64(v)
		case protowire.Fixed64Type:
			f.value, n = protowire.ConsumeFixed64(contents)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(contents)
			if f.bytes == nil && n >= 0 {
				f.bytes = []byte{}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, contents)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "invalid protobuf field %d", num)
		}
		contents = contents[n:]
		if typ == protowire.StartGroupType {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// varints returns the values of a repeated varint field entry, either packed or not.
func (f protoField) varints() ([]uint64, error) {
	switch f.typ {
	case protowire.VarintType:
		return []uint64{f.value}, nil
	case protowire.BytesType:
		var values []uint64
		for b := f.bytes; len(b) > 0; {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "invalid packed field %d", f.num)
			}
			values = append(values, v)
			b = b[n:]
		}
		return values, nil
	default:
		return nil, errors.Errorf("field %d has wire type %d, expected varints", f.num, f.typ)
	}
}

// fixed32s returns the values of a repeated fixed32 field entry, either packed or not.
func (f protoField) fixed32s() ([]uint32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return []uint32{uint32(f.value)}, nil
	case protowire.BytesType:
		if len(f.bytes)%4 != 0 {
			return nil, errors.Errorf("packed field %d has %d bytes, not a multiple of 4", f.num, len(f.bytes))
		}
		values := make([]uint32, len(f.bytes)/4)
		for ii := range values {
			values[ii] = binary.LittleEndian.Uint32(f.bytes[4*ii:])
		}
		return values, nil
	default:
		return nil, errors.Errorf("field %d has wire type %d, expected fixed32", f.num, f.typ)
	}
}

// fixed64s returns the values of a repeated fixed64 field entry, either packed or not.
func (f protoField) fixed64s() ([]uint64, error) {
	switch f.typ {
	case protowire.Fixed64Type:
		return []uint64{f.value}, nil
	case protowire.BytesType:
		if len(f.bytes)%8 != 0 {
			return nil, errors.Errorf("packed field %d has %d bytes, not a multiple of 8", f.num, len(f.bytes))
		}
		values := make([]uint64, len(f.bytes)/8)
		for ii := range values {
			values[ii] = binary.LittleEndian.Uint64(f.bytes[8*ii:])
		}
		return values, nil
	default:
		return nil, errors.Errorf("field %d has wire type %d, expected fixed64", f.num, f.typ)
	}
}
