package onnx

import (
	"fmt"
	"math"
	"sort"

	"github.com/gomlx/gopjrt/dtypes"
)

// AttributeType is the tag of an Attribute value.
type AttributeType int

const (
	AttributeInt AttributeType = iota + 1
	AttributeFloat
	AttributeInts
	AttributeString

	// AttributeOther tags values of ONNX attribute types no operator here reads (tensors, graphs, lists
	// of floats or strings). They are kept so lookups report a type mismatch instead of absence.
	AttributeOther
)

func (t AttributeType) String() string {
	switch t {
	case AttributeInt:
		return "INT"
	case AttributeFloat:
		return "FLOAT"
	case AttributeInts:
		return "INTS"
	case AttributeString:
		return "STRING"
	case AttributeOther:
		return "OTHER"
	default:
		return fmt.Sprintf("AttributeType(%d)", int(t))
	}
}

// Attribute is one decoded node attribute. Only the field matching Type is meaningful.
type Attribute struct {
	Type AttributeType
	I    int64
	F    float32
	Ints []int64
	S    string
}

// IntAttr creates an integer attribute.
func IntAttr(v int64) *Attribute { return &Attribute{Type: AttributeInt, I: v} }

// FloatAttr creates a float attribute.
func FloatAttr(v float32) *Attribute { return &Attribute{Type: AttributeFloat, F: v} }

// IntsAttr creates an integer list attribute.
func IntsAttr(v ...int64) *Attribute { return &Attribute{Type: AttributeInts, Ints: v} }

// StringAttr creates a string attribute.
func StringAttr(v string) *Attribute { return &Attribute{Type: AttributeString, S: v} }

// String renders the attribute value.
func (a *Attribute) String() string {
	switch a.Type {
	case AttributeInt:
		return fmt.Sprintf("%d", a.I)
	case AttributeFloat:
		return fmt.Sprintf("%g", a.F)
	case AttributeInts:
		return fmt.Sprintf("%v", a.Ints)
	case AttributeString:
		return fmt.Sprintf("%q", a.S)
	case AttributeOther:
		return "<unsupported>"
	default:
		return "<invalid>"
	}
}

// Attributes is the read-only, by-name view over a node's attributes.
//
// Lookups report absence explicitly: defaults are resolved by the caller, see the *Or methods.
type Attributes map[string]*Attribute

// Lookup returns the attribute with the given name, if present.
func (attrs Attributes) Lookup(name string) (*Attribute, bool) {
	attr, found := attrs[name]
	return attr, found && attr != nil
}

// Names returns the sorted attribute names.
func (attrs Attributes) Names() []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (attrs Attributes) typed(op, name string, attrType AttributeType) (*Attribute, bool, error) {
	attr, found := attrs.Lookup(name)
	if !found {
		return nil, false, nil
	}
	if attr.Type != attrType {
		return nil, true, opErrorf(TypeMismatchError, op, "attribute %q is of type %s, expected %s", name, attr.Type, attrType)
	}
	return attr, true, nil
}

// Int returns the integer attribute name, and whether it is present.
// It returns a TypeMismatchError if the attribute is present with another type.
func (attrs Attributes) Int(op, name string) (value int, found bool, err error) {
	attr, found, err := attrs.typed(op, name, AttributeInt)
	if !found || err != nil {
		return 0, found, err
	}
	return int(attr.I), true, nil
}

// IntOr returns the integer attribute name if present, or defaultValue.
func (attrs Attributes) IntOr(op, name string, defaultValue int) (int, error) {
	value, found, err := attrs.Int(op, name)
	if err != nil || !found {
		return defaultValue, err
	}
	return value, nil
}

// Float returns the float attribute name, and whether it is present.
func (attrs Attributes) Float(op, name string) (value float32, found bool, err error) {
	attr, found, err := attrs.typed(op, name, AttributeFloat)
	if !found || err != nil {
		return 0, found, err
	}
	return attr.F, true, nil
}

// Ints returns the integer list attribute name, and whether it is present.
func (attrs Attributes) Ints(op, name string) (values []int, found bool, err error) {
	attr, found, err := attrs.typed(op, name, AttributeInts)
	if !found || err != nil {
		return nil, found, err
	}
	values = make([]int, len(attr.Ints))
	for ii, v := range attr.Ints {
		values[ii] = int(v)
	}
	return values, true, nil
}

// Str returns the string attribute name, and whether it is present.
func (attrs Attributes) Str(op, name string) (value string, found bool, err error) {
	attr, found, err := attrs.typed(op, name, AttributeString)
	if !found || err != nil {
		return "", found, err
	}
	return attr.S, true, nil
}

// DType returns the integer attribute name interpreted as an ONNX element type code, and whether it
// is present. Unknown codes are reported as a TypeMismatchError.
func (attrs Attributes) DType(op, name string) (dtype dtypes.DType, found bool, err error) {
	attr, found, err := attrs.typed(op, name, AttributeInt)
	if !found || err != nil {
		return dtypes.InvalidDType, found, err
	}
	if attr.I < math.MinInt32 || attr.I > math.MaxInt32 {
		return dtypes.InvalidDType, true, opErrorf(TypeMismatchError, op, "attribute %q: ONNX data type %d out of range", name, attr.I)
	}
	dtype, err = dtypeForONNX(DataType(attr.I))
	if err != nil {
		return dtypes.InvalidDType, true, opErrorf(TypeMismatchError, op, "attribute %q: %v", name, err)
	}
	return dtype, true, nil
}
