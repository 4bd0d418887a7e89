package importer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ElemType is the element type of a Top dialect tensor.
type ElemType string

const (
	F64    ElemType = "F64"
	F32    ElemType = "F32"
	F16    ElemType = "F16"
	BF16   ElemType = "BF16"
	INT8   ElemType = "INT8"
	INT16  ElemType = "INT16"
	INT32  ElemType = "INT32"
	INT64  ElemType = "INT64"
	UINT8  ElemType = "UINT8"
	UINT16 ElemType = "UINT16"
	UINT32 ElemType = "UINT32"
	UINT64 ElemType = "UINT64"
	BOOL   ElemType = "BOOL"
)

var dtypeElemTypes = map[string]ElemType{
	"float64":  F64,
	"float32":  F32,
	"float16":  F16,
	"bfloat16": BF16,
	"int8":     INT8,
	"int16":    INT16,
	"int32":    INT32,
	"int64":    INT64,
	"uint8":    UINT8,
	"uint16":   UINT16,
	"uint32":   UINT32,
	"uint64":   UINT64,
	"bool":     BOOL,
}

var mlirElemTypes = map[ElemType]string{
	F64:    "f64",
	F32:    "f32",
	F16:    "f16",
	BF16:   "bf16",
	INT8:   "i8",
	INT16:  "i16",
	INT32:  "i32",
	INT64:  "i64",
	UINT8:  "ui8",
	UINT16: "ui16",
	UINT32: "ui32",
	UINT64: "ui64",
	BOOL:   "i1",
}

// ElemTypeForDType maps a tensor dtype name (float32, int64, ...) to an
// element type. The second result is false for dtypes the IR cannot express.
func ElemTypeForDType(dtype string) (ElemType, bool) {
	e, ok := dtypeElemTypes[dtype]
	return e, ok
}

// MLIR returns the builtin MLIR spelling of the element type.
func (e ElemType) MLIR() string {
	if s, ok := mlirElemTypes[e]; ok {
		return s
	}
	return "f32"
}

// TensorType renders a ranked tensor type, e.g. tensor<1x3x8x8xf32>.
func TensorType(shape []int64, elem ElemType) string {
	var b strings.Builder
	b.WriteString("tensor<")
	for _, d := range shape {
		b.WriteString(strconv.FormatInt(d, 10))
		b.WriteByte('x')
	}
	b.WriteString(elem.MLIR())
	b.WriteByte('>')
	return b.String()
}

const noneType = "none"

// Value is an SSA value handle handed out by the Importer. The zero Value is
// not valid.
type Value struct {
	name  string
	typ   string
	shape []int64
}

// Valid reports whether v was produced by an Importer.
func (v Value) Valid() bool { return v.name != "" }

// IsNone reports whether v is the shared no-operand sentinel.
func (v Value) IsNone() bool { return v.typ == noneType }

// Shape returns the static shape of a tensor value.
func (v Value) Shape() []int64 { return v.shape }

// Type returns the printed MLIR type.
func (v Value) Type() string { return v.typ }

func (v Value) String() string { return v.name }

// Attributes is the named attribute bag of an operation. Supported value types
// are int64, int, []int64, bool, float64 and string. The special key "name"
// becomes the operation location instead of an attribute.
type Attributes map[string]any

// Operation is one op of the module.
type Operation struct {
	Type     string
	Result   Value
	Operands []Value
	Attrs    Attributes
	Loc      string
}

// Module is the assembled IR program.
type Module struct {
	Name       string
	State      string
	WeightFile string
	Args       []Value
	Results    []string
	None       *Operation
	Inputs     []*Operation
	Weights    []*Operation
	Ops        []*Operation
	Return     *Operation

	// body keeps creation order across weight and lowered ops, which is a
	// valid definition order because weights are created right before use.
	body []*Operation
}

func formatAttr(v any) (string, error) {
	switch x := v.(type) {
	case int64:
		return fmt.Sprintf("%d : i64", x), nil
	case int:
		return fmt.Sprintf("%d : i64", x), nil
	case []int64:
		parts := make([]string, len(x))
		for i, d := range x {
			parts[i] = strconv.FormatInt(d, 10)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return fmt.Sprintf("%e : f64", x), nil
	case string:
		return strconv.Quote(x), nil
	}
	return "", fmt.Errorf("unsupported attribute type %T", v)
}

func formatAttrs(attrs Attributes) (string, error) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if k == "name" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "", nil
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		s, err := formatAttr(attrs[k])
		if err != nil {
			return "", fmt.Errorf("attribute %q: %w", k, err)
		}
		parts[i] = k + " = " + s
	}
	return " {" + strings.Join(parts, ", ") + "}", nil
}
