package interp

import (
	"context"

	"github.com/pkg/errors"
	"github.com/zerfoo/zerfoo/tensor"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/registry"
	"github.com/zerfoo/ztorch/pkg/shapes"
)

func dims(t *tensor.TensorNumeric[float32]) []int64 { return shapes.FromInts(t.Shape()) }

func ints(e *env, node *torchscript.Node, i, n int) ([]int64, error) {
	c, err := e.constant(node, i)
	if err != nil {
		return nil, err
	}
	v, err := c.AsInts(n)
	if err != nil {
		return nil, err
	}
	if len(v) == 1 && n > 1 {
		v, _ = torchscript.IntConstant(v[0]).AsInts(n)
	}
	if len(v) != n {
		return nil, errors.Errorf("input %d: expected %d values, got %v", i, n, v)
	}
	return v, nil
}

func convolution(_ context.Context, e *env, node *torchscript.Node) (*tensor.TensorNumeric[float32], error) {
	transposed, err := e.constant(node, 6)
	if err != nil {
		return nil, err
	}
	if b, err := transposed.AsBool(); err != nil || b {
		return nil, errors.Wrap(registry.ErrUnsupportedParameter, "transposed convolution")
	}
	return conv(e, node, 8, false)
}

func convolutionMode(_ context.Context, e *env, node *torchscript.Node) (*tensor.TensorNumeric[float32], error) {
	return conv(e, node, 6, true)
}

// conv computes a grouped, strided, dilated 2-D convolution over NCHW input.
func conv(e *env, node *torchscript.Node, groupsAt int, symbolic bool) (*tensor.TensorNumeric[float32], error) {
	x, err := e.tensor(node.Input(0))
	if err != nil {
		return nil, err
	}
	w, err := e.tensor(node.Input(1))
	if err != nil {
		return nil, err
	}
	xs, ws := dims(x), dims(w)
	if len(xs) != 4 || len(ws) != 4 {
		return nil, errors.Errorf("only 2-D convolution is executable, got input %v weight %v", xs, ws)
	}

	var bias []float32
	if id := node.Input(2); id != "" {
		if _, isConst := e.constants[id]; !isConst {
			b, err := e.tensor(id)
			if err != nil {
				return nil, err
			}
			bias = b.Data()
		}
	}

	stride, err := ints(e, node, 3, 2)
	if err != nil {
		return nil, err
	}
	dilation, err := ints(e, node, 5, 2)
	if err != nil {
		return nil, err
	}
	g, err := e.constant(node, groupsAt)
	if err != nil {
		return nil, err
	}
	groups, err := g.AsInt()
	if err != nil {
		return nil, err
	}
	padding, err := e.constant(node, 4)
	if err != nil {
		return nil, err
	}
	var pads []int64
	if symbolic {
		pads, err = shapes.ComputePad(stride, dilation, xs[2:], ws[2:], padding.Str)
	} else {
		var p []int64
		if p, err = padding.AsInts(1); err == nil {
			pads, err = shapes.ExpandPads(p, 2)
		}
	}
	if err != nil {
		return nil, err
	}

	out, err := shapes.ConvOutput(xs, ws, stride, dilation, pads)
	if err != nil {
		return nil, err
	}
	if groups <= 0 || xs[1]%groups != 0 || ws[0]%groups != 0 || ws[1] != xs[1]/groups {
		return nil, errors.Errorf("%d groups do not fit input %v and weight %v", groups, xs, ws)
	}
	if bias != nil && int64(len(bias)) != ws[0] {
		return nil, errors.Errorf("bias has %d values for %d output channels", len(bias), ws[0])
	}

	xd, wd := x.Data(), w.Data()
	n, cin, h, wi := xs[0], xs[1], xs[2], xs[3]
	cout, cpg, kh, kw := ws[0], ws[1], ws[2], ws[3]
	oh, ow := out[2], out[3]
	outPerGroup := cout / groups
	res := make([]float32, shapes.NumElements(out))

	for b := range n {
		for oc := range cout {
			grp := oc / outPerGroup
			for y := range oh {
				for xo := range ow {
					var acc float32
					if bias != nil {
						acc = bias[oc]
					}
					for ic := range cpg {
						c := grp*cpg + ic
						for ky := range kh {
							iy := y*stride[0] - pads[0] + ky*dilation[0]
							if iy < 0 || iy >= h {
								continue
							}
							for kx := range kw {
								ix := xo*stride[1] - pads[1] + kx*dilation[1]
								if ix < 0 || ix >= wi {
									continue
								}
								acc += xd[((b*cin+c)*h+iy)*wi+ix] * wd[((oc*cpg+ic)*kh+ky)*kw+kx]
							}
						}
					}
					res[((b*cout+oc)*oh+y)*ow+xo] = acc
				}
			}
		}
	}
	return tensor.New[float32](shapes.ToInts(out), res)
}

// add computes self + alpha*other with numpy broadcasting.
func add(ctx context.Context, e *env, node *torchscript.Node) (*tensor.TensorNumeric[float32], error) {
	a, err := e.tensor(node.Input(0))
	if err != nil {
		return nil, err
	}
	b, err := e.tensor(node.Input(1))
	if err != nil {
		return nil, err
	}
	if node.Input(2) != "" {
		c, err := e.constant(node, 2)
		if err != nil {
			return nil, err
		}
		alpha, err := c.AsFloat()
		if err != nil {
			return nil, err
		}
		if alpha != 1 {
			if b, err = e.engine.MulScalar(ctx, b, float32(alpha)); err != nil {
				return nil, errors.WithStack(err)
			}
		}
	}
	out, err := e.engine.Add(ctx, a, b)
	return out, errors.WithStack(err)
}

// prelu applies a per-channel (dim 1) or shared negative slope as
// max(x, 0) + slope*min(x, 0).
func prelu(ctx context.Context, e *env, node *torchscript.Node) (*tensor.TensorNumeric[float32], error) {
	x, err := e.tensor(node.Input(0))
	if err != nil {
		return nil, err
	}
	w, err := e.tensor(node.Input(1))
	if err != nil {
		return nil, err
	}
	xs := x.Shape()
	channels := 1
	if len(xs) > 1 {
		channels = xs[1]
	}
	n := len(w.Data())
	if n != 1 && n != channels {
		return nil, errors.Errorf("prelu slope has %d values for %d channels", n, channels)
	}
	slopeShape := []int{}
	if len(xs) > 1 {
		slopeShape = append(slopeShape, n)
		for range xs[2:] {
			slopeShape = append(slopeShape, 1)
		}
	}
	slope, err := e.engine.Reshape(ctx, w, slopeShape)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	pos, err := e.engine.UnaryOp(ctx, x, func(v float32) float32 { return max(v, 0) })
	if err != nil {
		return nil, errors.WithStack(err)
	}
	neg, err := e.engine.UnaryOp(ctx, x, func(v float32) float32 { return min(v, 0) })
	if err != nil {
		return nil, errors.WithStack(err)
	}
	scaled, err := e.engine.Mul(ctx, neg, slope)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	out, err := e.engine.Add(ctx, pos, scaled)
	return out, errors.WithStack(err)
}

func relu(ctx context.Context, e *env, node *torchscript.Node) (*tensor.TensorNumeric[float32], error) {
	x, err := e.tensor(node.Input(0))
	if err != nil {
		return nil, err
	}
	out, err := e.engine.UnaryOp(ctx, x, func(v float32) float32 { return max(v, 0) })
	return out, errors.WithStack(err)
}
