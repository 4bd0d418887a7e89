package torchscript

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ConstantKind tags the payload of a Constant.
type ConstantKind int

const (
	ConstNone ConstantKind = iota
	ConstInt
	ConstFloat
	ConstBool
	ConstString
	ConstList
)

// Constant is a compile-time value folded out of the graph.
type Constant struct {
	Kind  ConstantKind
	Int   int64
	Float float64
	Bool  bool
	Str   string
	List  []Constant
}

// None is the placeholder value of NoneType constants.
var None = Constant{Kind: ConstNone}

func IntConstant(v int64) Constant     { return Constant{Kind: ConstInt, Int: v} }
func FloatConstant(v float64) Constant { return Constant{Kind: ConstFloat, Float: v} }
func BoolConstant(v bool) Constant     { return Constant{Kind: ConstBool, Bool: v} }
func StringConstant(v string) Constant { return Constant{Kind: ConstString, Str: v} }
func ListConstant(v ...Constant) Constant {
	return Constant{Kind: ConstList, List: v}
}

// IntsConstant is a list of integer constants.
func IntsConstant(v ...int64) Constant {
	list := make([]Constant, len(v))
	for i, x := range v {
		list[i] = IntConstant(x)
	}
	return ListConstant(list...)
}

// IsNone reports whether c is the None placeholder.
func (c Constant) IsNone() bool { return c.Kind == ConstNone }

// AsInt returns an integer or boolean constant as int64.
func (c Constant) AsInt() (int64, error) {
	switch c.Kind {
	case ConstInt:
		return c.Int, nil
	case ConstBool:
		if c.Bool {
			return 1, nil
		}
		return 0, nil
	}
	return 0, errors.Errorf("constant %s is not an integer", c)
}

// AsFloat returns a numeric constant as float64.
func (c Constant) AsFloat() (float64, error) {
	switch c.Kind {
	case ConstFloat:
		return c.Float, nil
	case ConstInt:
		return float64(c.Int), nil
	}
	return 0, errors.Errorf("constant %s is not a number", c)
}

// AsBool returns a boolean (or 0/1 integer) constant.
func (c Constant) AsBool() (bool, error) {
	switch c.Kind {
	case ConstBool:
		return c.Bool, nil
	case ConstInt:
		return c.Int != 0, nil
	}
	return false, errors.Errorf("constant %s is not a boolean", c)
}

// AsInts returns a list of integers. A scalar integer is expanded to n copies,
// which is how TorchScript passes a uniform stride or dilation.
func (c Constant) AsInts(n int) ([]int64, error) {
	if c.Kind == ConstInt {
		out := make([]int64, n)
		for i := range out {
			out[i] = c.Int
		}
		return out, nil
	}
	if c.Kind != ConstList {
		return nil, errors.Errorf("constant %s is not an integer list", c)
	}
	out := make([]int64, len(c.List))
	for i, item := range c.List {
		v, err := item.AsInt()
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
		out[i] = v
	}
	return out, nil
}

// Equal reports deep equality.
func (c Constant) Equal(o Constant) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case ConstNone:
		return true
	case ConstInt:
		return c.Int == o.Int
	case ConstFloat:
		return c.Float == o.Float
	case ConstBool:
		return c.Bool == o.Bool
	case ConstString:
		return c.Str == o.Str
	case ConstList:
		if len(c.List) != len(o.List) {
			return false
		}
		for i := range c.List {
			if !c.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstNone:
		return "None"
	case ConstInt:
		return fmt.Sprint(c.Int)
	case ConstFloat:
		return fmt.Sprint(c.Float)
	case ConstBool:
		return fmt.Sprint(c.Bool)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstList:
		parts := make([]string, len(c.List))
		for i, item := range c.List {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("Constant(%d)", int(c.Kind))
}

// Folded is the result of decoding a prim::Constant node: either a Constant or
// a Tensor that has to become a weight.
type Folded struct {
	Name     string
	Constant Constant
	Tensor   *Tensor
}

// IsTensor reports whether the folded value is a tensor.
func (f Folded) IsTensor() bool { return f.Tensor != nil }

// DecodeConstant turns a prim::Constant node into a typed value, switching on
// the declared type of its output. A node without attributes folds to None.
func DecodeConstant(node *Node) (Folded, error) {
	out := node.Output()
	folded := Folded{Name: out.Name, Constant: None}
	if out.Type == "NoneType" || len(node.Attributes) == 0 {
		return folded, nil
	}
	if len(node.Attributes) != 1 {
		return Folded{}, errors.Errorf("constant %q has %d attributes, expected one", out.Name, len(node.Attributes))
	}
	attr := node.Attributes[0]
	missing := func(accessor string) error {
		return errors.Errorf("constant %q of type %s has no %q attribute value", out.Name, out.Type, accessor)
	}

	switch out.Type {
	case "IntType", "LongType":
		if attr.I == nil {
			return Folded{}, missing("i")
		}
		folded.Constant = IntConstant(*attr.I)
	case "BoolType":
		if attr.I == nil {
			return Folded{}, missing("i")
		}
		folded.Constant = BoolConstant(*attr.I != 0)
	case "FloatType":
		if attr.F == nil {
			return Folded{}, missing("f")
		}
		folded.Constant = FloatConstant(*attr.F)
	case "StringType", "DeviceObjType":
		if attr.S == nil {
			return Folded{}, missing("s")
		}
		folded.Constant = StringConstant(*attr.S)
	case "TensorType", "CompleteTensorType":
		if attr.T == nil {
			return Folded{}, missing("t")
		}
		if err := attr.T.Validate(); err != nil {
			return Folded{}, errors.Wrapf(err, "constant %q", out.Name)
		}
		t := attr.T
		if !t.OnHost() {
			t = t.HostCopy()
		}
		folded.Tensor = t
	default:
		return Folded{}, errors.Errorf("unsupported constant type %q for %q", out.Type, out.Name)
	}
	return folded, nil
}
