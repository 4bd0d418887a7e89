package lowering

import (
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/importer"
)

// BuildReLU lowers aten::relu and aten::relu_.
func BuildReLU(ctx *Context, node *torchscript.Node) error {
	input, err := ctx.Operand(node.Input(0))
	if err != nil {
		return err
	}
	v, err := ctx.Builder.CreateReluOp([]importer.Value{input}, input.Shape(), importer.Attributes{"name": node.Name()})
	return ctx.emit(node, v, err)
}
