package lowering

import (
	"github.com/pkg/errors"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/importer"
	"github.com/zerfoo/ztorch/pkg/registry"
	"github.com/zerfoo/ztorch/pkg/shapes"
)

// BuildAdd lowers aten::add(self, other, alpha). Only alpha == 1 maps onto
// top.Add.
func BuildAdd(ctx *Context, node *torchscript.Node) error {
	alphaConst, err := ctx.constant(node, 2)
	if err != nil {
		return err
	}
	alpha, err := alphaConst.AsFloat()
	if err != nil {
		return errors.Wrapf(err, "add %q alpha", node.Name())
	}
	if alpha != 1 {
		return errors.Wrapf(registry.ErrUnsupportedParameter, "add %q with alpha %v", node.Name(), alpha)
	}

	lhs, err := ctx.Operand(node.Input(0))
	if err != nil {
		return err
	}
	rhs, err := ctx.Operand(node.Input(1))
	if err != nil {
		return err
	}
	outShape, err := shapes.Broadcast(lhs.Shape(), rhs.Shape())
	if err != nil {
		return errors.Wrapf(err, "add %q", node.Name())
	}
	v, err := ctx.Builder.CreateAddOp([]importer.Value{lhs, rhs}, outShape, importer.Attributes{
		"name":    node.Name(),
		"do_relu": false,
	})
	return ctx.emit(node, v, err)
}
