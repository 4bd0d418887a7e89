package lowering

import (
	"github.com/pkg/errors"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/importer"
	"github.com/zerfoo/ztorch/pkg/registry"
	"github.com/zerfoo/ztorch/pkg/shapes"
)

// Input positions of aten::_convolution and aten::_convolution_mode.
const (
	convInput = iota
	convWeight
	convBias
	convStride
	convPadding
	convDilation
	convTransposed // groups for _convolution_mode
	convOutputPadding
	convGroups
)

// BuildConvolution lowers aten::_convolution with numeric padding.
func BuildConvolution(ctx *Context, node *torchscript.Node) error {
	transposed, err := ctx.constant(node, convTransposed)
	if err != nil {
		return err
	}
	isTransposed, err := transposed.AsBool()
	if err != nil {
		return errors.Wrapf(err, "%q transposed", node.Name())
	}
	if isTransposed {
		return errors.Wrapf(registry.ErrUnsupportedParameter, "transposed convolution %q", node.Name())
	}
	return lowerConv(ctx, node, convGroups, false)
}

// BuildConvolutionMode lowers aten::_convolution_mode, whose padding is the
// string "same" or "valid".
func BuildConvolutionMode(ctx *Context, node *torchscript.Node) error {
	return lowerConv(ctx, node, convTransposed, true)
}

func lowerConv(ctx *Context, node *torchscript.Node, groupsAt int, symbolic bool) error {
	input, err := ctx.Operand(node.Input(convInput))
	if err != nil {
		return err
	}
	filter, err := ctx.Operand(node.Input(convWeight))
	if err != nil {
		return err
	}
	bias, err := convBiasOperand(ctx, node)
	if err != nil {
		return err
	}

	inShape, wShape := input.Shape(), filter.Shape()
	if len(inShape) < 3 || len(wShape) != len(inShape) {
		return errors.Errorf("convolution %q: input %v and weight %v ranks do not match", node.Name(), inShape, wShape)
	}
	spatial := len(inShape) - 2
	kernel := append([]int64(nil), wShape[2:]...)

	stride, err := intsAt(ctx, node, convStride, spatial)
	if err != nil {
		return err
	}
	dilation, err := intsAt(ctx, node, convDilation, spatial)
	if err != nil {
		return err
	}
	groupsConst, err := ctx.constant(node, groupsAt)
	if err != nil {
		return err
	}
	groups, err := groupsConst.AsInt()
	if err != nil {
		return errors.Wrapf(err, "%q groups", node.Name())
	}

	padding, err := ctx.constant(node, convPadding)
	if err != nil {
		return err
	}
	var pads []int64
	if symbolic {
		if padding.Kind != torchscript.ConstString {
			return errors.Errorf("convolution %q: padding mode must be a string, got %s", node.Name(), padding)
		}
		pads, err = shapes.ComputePad(stride, dilation, inShape[2:], kernel, padding.Str)
		if err != nil {
			return errors.Wrapf(registry.ErrUnsupportedParameter, "convolution %q: %v", node.Name(), err)
		}
	} else {
		pads, err = explicitPads(padding, spatial)
		if err != nil {
			return errors.Wrapf(err, "convolution %q", node.Name())
		}
	}

	outShape, err := shapes.ConvOutput(inShape, wShape, stride, dilation, pads)
	if err != nil {
		return errors.Wrapf(err, "convolution %q", node.Name())
	}
	attrs := importer.Attributes{
		"name":         node.Name(),
		"kernel_shape": kernel,
		"strides":      stride,
		"dilations":    dilation,
		"pads":         pads,
		"group":        groups,
		"do_relu":      false,
	}
	v, err := ctx.Builder.CreateConvOp([]importer.Value{input, filter, bias}, outShape, attrs)
	return ctx.emit(node, v, err)
}

func convBiasOperand(ctx *Context, node *torchscript.Node) (importer.Value, error) {
	id := node.Input(convBias)
	if ctx.Reg.HasConstant(id) {
		c, _ := ctx.Reg.Constant(id)
		if !c.IsNone() {
			return importer.Value{}, errors.Errorf("convolution %q: bias must be a tensor or None, got %s", node.Name(), c)
		}
		return ctx.Builder.None(), nil
	}
	return ctx.Operand(id)
}

func intsAt(ctx *Context, node *torchscript.Node, i, n int) ([]int64, error) {
	c, err := ctx.constant(node, i)
	if err != nil {
		return nil, err
	}
	v, err := c.AsInts(n)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %q input %d", node.Op, node.Name(), i)
	}
	if len(v) == 1 && n > 1 {
		v, _ = torchscript.IntConstant(v[0]).AsInts(n)
	}
	if len(v) != n {
		return nil, errors.Errorf("%s %q input %d: expected %d values, got %v", node.Op, node.Name(), i, n, v)
	}
	return v, nil
}

func explicitPads(c torchscript.Constant, spatial int) ([]int64, error) {
	p, err := c.AsInts(1)
	if err != nil {
		return nil, err
	}
	pads, err := shapes.ExpandPads(p, spatial)
	if err != nil {
		return nil, errors.Wrap(registry.ErrUnsupportedParameter, err.Error())
	}
	return pads, nil
}
