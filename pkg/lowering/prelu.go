package lowering

import (
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/importer"
)

// BuildPRelu lowers aten::prelu(self, weight).
func BuildPRelu(ctx *Context, node *torchscript.Node) error {
	input, err := ctx.Operand(node.Input(0))
	if err != nil {
		return err
	}
	slope, err := ctx.Operand(node.Input(1))
	if err != nil {
		return err
	}
	v, err := ctx.Builder.CreatePReluOp([]importer.Value{input, slope}, input.Shape(), importer.Attributes{"name": node.Name()})
	return ctx.emit(node, v, err)
}
