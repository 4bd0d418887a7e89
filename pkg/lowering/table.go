// Package lowering maps computational TorchScript operators onto Top dialect
// ops. Each supported operator has one routine in its own file; the table
// below is the only place that knows about all of them.
package lowering

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/importer"
	"github.com/zerfoo/ztorch/pkg/registry"
	"github.com/zerfoo/ztorch/pkg/weights"
	"go.uber.org/zap"
)

// Lowering emits the IR for one operator kind.
type Lowering interface {
	Lower(ctx *Context, node *torchscript.Node) error
}

// LowerFunc adapts a plain function to Lowering.
type LowerFunc func(ctx *Context, node *torchscript.Node) error

// Lower calls f.
func (f LowerFunc) Lower(ctx *Context, node *torchscript.Node) error {
	return f(ctx, node)
}

var table = map[string]Lowering{
	"aten::_convolution":      LowerFunc(BuildConvolution),
	"aten::_convolution_mode": LowerFunc(BuildConvolutionMode),
	"aten::add":               LowerFunc(BuildAdd),
	"aten::prelu":             LowerFunc(BuildPRelu),
	"aten::relu":              LowerFunc(BuildReLU),
}

// Lookup returns the routine for op. In-place variants (aten::add_) resolve
// to their functional form; only one trailing underscore is a variant marker.
func Lookup(op string) (Lowering, bool) {
	if l, ok := table[op]; ok {
		return l, true
	}
	base, ok := strings.CutSuffix(op, "_")
	if !ok || strings.HasSuffix(base, "_") {
		return nil, false
	}
	l, ok := table[base]
	return l, ok
}

// Supported reports whether Lookup succeeds for op.
func Supported(op string) bool {
	_, ok := Lookup(op)
	return ok
}

// Ops returns the sorted operator tags of the table.
func Ops() []string {
	ops := make([]string, 0, len(table))
	for op := range table {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Builder is the part of the IR builder the lowering routines use.
type Builder interface {
	None() importer.Value
	CreateWeightOp(name string, shape []int64, elem importer.ElemType) (importer.Value, error)
	CreateConvOp(operands []importer.Value, outShape []int64, attrs importer.Attributes) (importer.Value, error)
	CreateAddOp(operands []importer.Value, outShape []int64, attrs importer.Attributes) (importer.Value, error)
	CreatePReluOp(operands []importer.Value, outShape []int64, attrs importer.Attributes) (importer.Value, error)
	CreateReluOp(operands []importer.Value, outShape []int64, attrs importer.Attributes) (importer.Value, error)
}

// Context is the translation state shared by all lowering routines.
type Context struct {
	Reg     *registry.Registry
	Builder Builder
	Weights *weights.Set
	Logger  *zap.SugaredLogger
}

func (c *Context) logger() *zap.SugaredLogger {
	if c.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return c.Logger
}

// Operand returns the IR value for id. A folded weight that has no IR value
// yet gets its top.Weight op here, so it is emitted once and right before its
// first use.
func (c *Context) Operand(id string) (importer.Value, error) {
	if c.Reg.HasOperand(id) {
		return c.Reg.Operand(id)
	}
	t, ok := c.Weights.Get(id)
	if !ok {
		return importer.Value{}, errors.Wrapf(registry.ErrMissingOperand, "%q", id)
	}
	elem, ok := importer.ElemTypeForDType(t.DType)
	if !ok {
		return importer.Value{}, errors.Errorf("weight %q has unsupported dtype %s", id, t.DType)
	}
	v, err := c.Builder.CreateWeightOp(id, t.Shape, elem)
	if err != nil {
		return importer.Value{}, errors.Wrapf(err, "failed to create weight op for %q", id)
	}
	if err := c.Reg.SetOperand(id, v); err != nil {
		return importer.Value{}, err
	}
	c.logger().Debugw("materialized weight", "name", id, "shape", t.Shape)
	return v, nil
}

// constant fetches the folded constant feeding input i of node.
func (c *Context) constant(node *torchscript.Node, i int) (torchscript.Constant, error) {
	id := node.Input(i)
	if id == "" {
		return torchscript.Constant{}, errors.Errorf("%s %q has no input %d", node.Op, node.Name(), i)
	}
	return c.Reg.Constant(id)
}

// emit registers the result of a lowered node, recording its shape first so
// a disagreement with the executed shape surfaces as a conflict.
func (c *Context) emit(node *torchscript.Node, v importer.Value, err error) error {
	if err != nil {
		return errors.Wrapf(err, "failed to lower %s %q", node.Op, node.Name())
	}
	if err := c.Reg.SetShape(node.Name(), v.Shape()); err != nil {
		return err
	}
	if err := c.Reg.SetOperand(node.Name(), v); err != nil {
		return err
	}
	c.logger().Debugw("lowered node", "op", node.Op, "name", node.Name(), "value", v.String(), "shape", v.Shape())
	return nil
}
