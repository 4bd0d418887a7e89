// Package interp is a reference executor for the operators ztorch can lower.
// It runs a graph once on host float32 tensors with a zerfoo CPU engine so the
// converter learns the concrete shape and dtype of every value. Tensor
// constants of other dtypes pass through with their shape and are only
// decoded when a kernel reads them.
package interp

import (
	"context"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
	"github.com/zerfoo/zerfoo/compute"
	"github.com/zerfoo/zerfoo/numeric"
	"github.com/zerfoo/zerfoo/tensor"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/registry"
	"github.com/zerfoo/ztorch/pkg/shapes"
	"go.uber.org/zap"
)

// Interpreter executes TorchScript graphs node by node.
type Interpreter struct {
	engine compute.Engine[float32]
	logger *zap.SugaredLogger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger used for per-node tracing.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(in *Interpreter) {
		in.logger = l
	}
}

// New creates an interpreter.
func New(opts ...Option) *Interpreter {
	in := &Interpreter{
		engine: compute.NewCPUEngine[float32](numeric.Float32Ops{}),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

type kernel func(ctx context.Context, env *env, node *torchscript.Node) (*tensor.TensorNumeric[float32], error)

var kernels = map[string]kernel{
	"aten::_convolution":      convolution,
	"aten::_convolution_mode": convolutionMode,
	"aten::add":               add,
	"aten::prelu":             prelu,
	"aten::relu":              relu,
}

// kernelFor resolves op, treating a single trailing underscore as the
// in-place variant of the functional kernel.
func kernelFor(op string) (kernel, bool) {
	if k, ok := kernels[op]; ok {
		return k, true
	}
	base, ok := strings.CutSuffix(op, "_")
	if !ok || strings.HasSuffix(base, "_") {
		return nil, false
	}
	k, ok := kernels[base]
	return k, ok
}

// env is the value state of one execution. raw holds tensor constants that no
// kernel has read yet.
type env struct {
	engine    compute.Engine[float32]
	constants map[string]torchscript.Constant
	tensors   map[string]*tensor.TensorNumeric[float32]
	raw       map[string]*torchscript.Tensor
}

func (e *env) tensor(id string) (*tensor.TensorNumeric[float32], error) {
	if t, ok := e.tensors[id]; ok {
		return t, nil
	}
	r, ok := e.raw[id]
	if !ok {
		return nil, errors.Errorf("value %q is not a tensor", id)
	}
	t, err := fromTorch(r)
	if err != nil {
		return nil, errors.Wrapf(err, "value %q", id)
	}
	delete(e.raw, id)
	e.tensors[id] = t
	return t, nil
}

func (e *env) constant(node *torchscript.Node, i int) (torchscript.Constant, error) {
	id := node.Input(i)
	c, ok := e.constants[id]
	if !ok {
		return torchscript.Constant{}, errors.Wrapf(registry.ErrMissingConstant, "%s %q input %d (%q)", node.Op, node.Name(), i, id)
	}
	return c, nil
}

// Execute runs g on inputs, which are matched to the declared graph inputs in
// order. It returns every tensor value computed or loaded along the way,
// keyed by name.
func (in *Interpreter) Execute(ctx context.Context, g *torchscript.Graph, inputs []*torchscript.Tensor) (map[string]*torchscript.Tensor, error) {
	names := g.InputNames()
	if len(names) != len(inputs) {
		return nil, errors.Errorf("graph %s takes %d inputs, got %d", g.Name, len(names), len(inputs))
	}
	e := &env{
		engine:    in.engine,
		constants: make(map[string]torchscript.Constant),
		tensors:   make(map[string]*tensor.TensorNumeric[float32]),
		raw:       make(map[string]*torchscript.Tensor),
	}
	for i, name := range names {
		t, err := fromTorch(inputs[i])
		if err != nil {
			return nil, errors.Wrapf(err, "input %q", name)
		}
		e.tensors[name] = t
	}

	for _, node := range g.Nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := in.step(ctx, e, node); err != nil {
			return nil, err
		}
	}

	out := make(map[string]*torchscript.Tensor, len(e.tensors)+len(e.raw))
	for name, t := range e.tensors {
		out[name] = toTorch(t)
	}
	for name, t := range e.raw {
		out[name] = t
	}
	for _, o := range g.OutputNames() {
		if _, ok := out[o]; !ok {
			return nil, errors.Errorf("graph output %q was not produced", o)
		}
	}
	return out, nil
}

func (in *Interpreter) step(ctx context.Context, e *env, node *torchscript.Node) error {
	switch node.Kind() {
	case torchscript.KindConstant:
		folded, err := torchscript.DecodeConstant(node)
		if err != nil {
			return err
		}
		if !folded.IsTensor() {
			e.constants[folded.Name] = folded.Constant
			return nil
		}
		e.raw[folded.Name] = folded.Tensor
		return nil
	case torchscript.KindListConstruct:
		items := make([]torchscript.Constant, len(node.Inputs))
		for i := range node.Inputs {
			c, err := e.constant(node, i)
			if err != nil {
				return err
			}
			items[i] = c
		}
		e.constants[node.Name()] = torchscript.ListConstant(items...)
		return nil
	case torchscript.KindComputational:
		k, ok := kernelFor(node.Op)
		if !ok {
			return errors.Wrapf(registry.ErrUnsupportedOperator, "%s", node.Op)
		}
		t, err := k(ctx, e, node)
		if err != nil {
			return errors.Wrapf(err, "%s %q", node.Op, node.Name())
		}
		e.tensors[node.Name()] = t
		in.logger.Debugw("executed node", "op", node.Op, "name", node.Name(), "shape", t.Shape())
		return nil
	}
	return errors.Wrapf(registry.ErrUnsupportedControlFlow, "%s defining %q", node.Op, node.Name())
}

// RandomInputs builds float32 placeholder inputs in [-1, 1) from seed.
func RandomInputs(shapes [][]int64, seed int64) []*torchscript.Tensor {
	rng := rand.New(rand.NewSource(seed))
	out := make([]*torchscript.Tensor, len(shapes))
	for i, shape := range shapes {
		n := int64(1)
		for _, d := range shape {
			n *= d
		}
		values := make([]float32, n)
		for j := range values {
			values[j] = rng.Float32()*2 - 1
		}
		out[i] = torchscript.NewFloat32Tensor(shape, values)
	}
	return out
}

func fromTorch(t *torchscript.Tensor) (*tensor.TensorNumeric[float32], error) {
	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	return tensor.New[float32](shapes.ToInts(t.Shape), values)
}

func toTorch(t *tensor.TensorNumeric[float32]) *torchscript.Tensor {
	return torchscript.NewFloat32Tensor(shapes.FromInts(t.Shape()), t.Data())
}
