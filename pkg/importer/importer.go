// Package importer builds a Top dialect MLIR module. It allocates SSA values,
// records input, weight, lowered and return ops, and prints the module text.
package importer

import (
	"fmt"
	"slices"
	"strings"
)

// Top dialect op names.
const (
	OpNone   = "top.None"
	OpInput  = "top.Input"
	OpWeight = "top.Weight"
	OpConv   = "top.Conv"
	OpAdd    = "top.Add"
	OpPRelu  = "top.PRelu"
	OpRelu   = "top.Relu"
)

// StateTopF32 is the module.state of a freshly imported float module.
const StateTopF32 = "TOP_F32"

// Importer builds one module. It is not safe for concurrent use.
type Importer struct {
	module       *Module
	inputShapes  [][]int64
	outputShapes [][]int64
	outputTypes  []ElemType
	next         int
	inputUsed    []bool
}

// WeightFileName is the archive name derived from the model name.
func WeightFileName(modelName string) string {
	return modelName + "_top_weight.zmf"
}

// New creates an importer for a function with the given signature.
func New(modelName string, inputShapes, outputShapes [][]int64, inputTypes, outputTypes []ElemType) (*Importer, error) {
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if len(inputTypes) != len(inputShapes) {
		return nil, fmt.Errorf("got %d input types for %d inputs", len(inputTypes), len(inputShapes))
	}
	if len(outputTypes) != len(outputShapes) {
		return nil, fmt.Errorf("got %d output types for %d outputs", len(outputTypes), len(outputShapes))
	}

	im := &Importer{
		module: &Module{
			Name:       modelName,
			State:      StateTopF32,
			WeightFile: WeightFileName(modelName),
		},
		inputShapes:  inputShapes,
		outputShapes: outputShapes,
		outputTypes:  outputTypes,
		inputUsed:    make([]bool, len(inputShapes)),
	}
	for i, shape := range inputShapes {
		im.module.Args = append(im.module.Args, Value{
			name:  fmt.Sprintf("%%arg%d", i),
			typ:   TensorType(shape, inputTypes[i]),
			shape: slices.Clone(shape),
		})
	}
	for i, shape := range outputShapes {
		im.module.Results = append(im.module.Results, TensorType(shape, outputTypes[i]))
	}
	im.module.None = &Operation{Type: OpNone, Result: im.newValue(noneType, nil)}
	return im, nil
}

// WeightFile returns the archive name recorded in the module attributes.
func (im *Importer) WeightFile() string { return im.module.WeightFile }

// None returns the canonical no-operand sentinel.
func (im *Importer) None() Value { return im.module.None.Result }

// Module returns the module under construction.
func (im *Importer) Module() *Module { return im.module }

func (im *Importer) newValue(typ string, shape []int64) Value {
	v := Value{name: fmt.Sprintf("%%%d", im.next), typ: typ, shape: slices.Clone(shape)}
	im.next++
	return v
}

// CreateInputOp emits the top.Input op for function argument index.
func (im *Importer) CreateInputOp(name string, index int) (Value, error) {
	if index < 0 || index >= len(im.inputShapes) {
		return Value{}, fmt.Errorf("input index %d out of range [0, %d)", index, len(im.inputShapes))
	}
	if im.inputUsed[index] {
		return Value{}, fmt.Errorf("input %d already emitted", index)
	}
	im.inputUsed[index] = true
	arg := im.module.Args[index]
	op := &Operation{
		Type:     OpInput,
		Result:   im.newValue(arg.typ, arg.shape),
		Operands: []Value{arg},
		Loc:      name,
	}
	im.module.Inputs = append(im.module.Inputs, op)
	return op.Result, nil
}

// CreateWeightOp emits a top.Weight reference to an archived tensor.
func (im *Importer) CreateWeightOp(name string, shape []int64, elem ElemType) (Value, error) {
	if name == "" {
		return Value{}, fmt.Errorf("weight name is required")
	}
	op := &Operation{
		Type:   OpWeight,
		Result: im.newValue(TensorType(shape, elem), shape),
		Loc:    name,
	}
	im.module.Weights = append(im.module.Weights, op)
	im.module.body = append(im.module.body, op)
	return op.Result, nil
}

// CreateOp emits a lowered op with a float result of outShape.
func (im *Importer) CreateOp(opType string, operands []Value, outShape []int64, attrs Attributes) (Value, error) {
	for i, v := range operands {
		if !v.Valid() {
			return Value{}, fmt.Errorf("%s operand %d is not a value of this module", opType, i)
		}
	}
	if _, err := formatAttrs(attrs); err != nil {
		return Value{}, fmt.Errorf("%s: %w", opType, err)
	}
	op := &Operation{
		Type:     opType,
		Result:   im.newValue(TensorType(outShape, F32), outShape),
		Operands: slices.Clone(operands),
		Attrs:    attrs,
	}
	if name, ok := attrs["name"].(string); ok {
		op.Loc = name
	}
	im.module.Ops = append(im.module.Ops, op)
	im.module.body = append(im.module.body, op)
	return op.Result, nil
}

// CreateConvOp emits top.Conv with operands (input, filter, bias).
func (im *Importer) CreateConvOp(operands []Value, outShape []int64, attrs Attributes) (Value, error) {
	if len(operands) != 3 {
		return Value{}, fmt.Errorf("%s takes 3 operands, got %d", OpConv, len(operands))
	}
	return im.CreateOp(OpConv, operands, outShape, attrs)
}

// CreateAddOp emits top.Add.
func (im *Importer) CreateAddOp(operands []Value, outShape []int64, attrs Attributes) (Value, error) {
	if len(operands) < 2 {
		return Value{}, fmt.Errorf("%s takes at least 2 operands, got %d", OpAdd, len(operands))
	}
	return im.CreateOp(OpAdd, operands, outShape, attrs)
}

// CreatePReluOp emits top.PRelu with operands (input, slope).
func (im *Importer) CreatePReluOp(operands []Value, outShape []int64, attrs Attributes) (Value, error) {
	if len(operands) != 2 {
		return Value{}, fmt.Errorf("%s takes 2 operands, got %d", OpPRelu, len(operands))
	}
	return im.CreateOp(OpPRelu, operands, outShape, attrs)
}

// CreateReluOp emits top.Relu.
func (im *Importer) CreateReluOp(operands []Value, outShape []int64, attrs Attributes) (Value, error) {
	if len(operands) != 1 {
		return Value{}, fmt.Errorf("%s takes 1 operand, got %d", OpRelu, len(operands))
	}
	return im.CreateOp(OpRelu, operands, outShape, attrs)
}

// CreateReturnOp terminates the function. Operands must match the declared
// outputs in count and shape.
func (im *Importer) CreateReturnOp(operands []Value) error {
	if im.module.Return != nil {
		return fmt.Errorf("return op already emitted")
	}
	if len(operands) != len(im.outputShapes) {
		return fmt.Errorf("return takes %d operands, got %d", len(im.outputShapes), len(operands))
	}
	for i, v := range operands {
		if !v.Valid() || v.IsNone() {
			return fmt.Errorf("return operand %d is not a tensor value", i)
		}
		if !slices.Equal(v.shape, im.outputShapes[i]) {
			return fmt.Errorf("return operand %d has shape %v, output is declared %v", i, v.shape, im.outputShapes[i])
		}
	}
	im.module.Return = &Operation{Type: "return", Operands: slices.Clone(operands)}
	return nil
}

// PrintModule renders the module text. The return op must have been created.
func (im *Importer) PrintModule() (string, error) {
	m := im.module
	if m.Return == nil {
		return "", fmt.Errorf("module %s has no return op", m.Name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "module attributes {module.name = %q, module.state = %q, module.weight_file = %q} {\n", m.Name, m.State, m.WeightFile)

	args := make([]string, len(m.Args))
	for i, a := range m.Args {
		args[i] = a.name + ": " + a.typ
	}
	results := strings.Join(m.Results, ", ")
	if len(m.Results) != 1 {
		results = "(" + results + ")"
	}
	fmt.Fprintf(&b, "  func.func @main(%s) -> %s {\n", strings.Join(args, ", "), results)

	ops := []*Operation{m.None}
	ops = append(ops, m.Inputs...)
	ops = append(ops, m.body...)
	for _, op := range ops {
		line, err := printOp(op)
		if err != nil {
			return "", err
		}
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteByte('\n')
	}

	names := make([]string, len(m.Return.Operands))
	types := make([]string, len(m.Return.Operands))
	for i, v := range m.Return.Operands {
		names[i] = v.name
		types[i] = v.typ
	}
	fmt.Fprintf(&b, "    return %s : %s\n", strings.Join(names, ", "), strings.Join(types, ", "))
	b.WriteString("  }\n}\n")
	return b.String(), nil
}

func printOp(op *Operation) (string, error) {
	attrs, err := formatAttrs(op.Attrs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op.Type, err)
	}
	names := make([]string, len(op.Operands))
	types := make([]string, len(op.Operands))
	for i, v := range op.Operands {
		names[i] = v.name
		types[i] = v.typ
	}
	line := fmt.Sprintf("%s = %q(%s)%s : (%s) -> %s", op.Result.name, op.Type, strings.Join(names, ", "), attrs, strings.Join(types, ", "), op.Result.typ)
	if op.Loc != "" {
		line += fmt.Sprintf(" loc(%q)", op.Loc)
	}
	return line, nil
}
