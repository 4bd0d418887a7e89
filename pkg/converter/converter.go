// Package converter drives one TorchScript to Top dialect translation: shape
// inference, input emission, node-by-node lowering and module assembly.
package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/zerfoo/zmf"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/classifier"
	"github.com/zerfoo/ztorch/pkg/folder"
	"github.com/zerfoo/ztorch/pkg/importer"
	"github.com/zerfoo/ztorch/pkg/interp"
	"github.com/zerfoo/ztorch/pkg/lowering"
	"github.com/zerfoo/ztorch/pkg/registry"
	"github.com/zerfoo/ztorch/pkg/weights"
	"go.uber.org/zap"
)

// State is the progress of a translation.
type State int

const (
	StateInit State = iota
	StateShapesInferred
	StateImporterReady
	StateInputsEmitted
	StateLowering
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateShapesInferred:
		return "ShapesInferred"
	case StateImporterReady:
		return "ImporterReady"
	case StateInputsEmitted:
		return "InputsEmitted"
	case StateLowering:
		return "Lowering"
	case StateFinalized:
		return "Finalized"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Executor runs a graph once and returns every tensor value it produced,
// keyed by name.
type Executor interface {
	Execute(ctx context.Context, g *torchscript.Graph, inputs []*torchscript.Tensor) (map[string]*torchscript.Tensor, error)
}

// Option configures a Converter.
type Option func(*Converter)

// WithModelName sets the module name; it also names the weight archive.
func WithModelName(name string) Option {
	return func(c *Converter) {
		c.modelName = name
	}
}

// WithExecutor replaces the built-in reference interpreter.
func WithExecutor(e Executor) Option {
	return func(c *Converter) {
		c.exec = e
	}
}

// WithSeed sets the seed of the placeholder inputs used for shape inference.
func WithSeed(seed int64) Option {
	return func(c *Converter) {
		c.seed = seed
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Converter) {
		c.logger = l
	}
}

// Converter translates a single graph. It is not reusable.
type Converter struct {
	graph       *torchscript.Graph
	inputShapes [][]int64
	modelName   string
	exec        Executor
	seed        int64
	logger      *zap.SugaredLogger

	state        State
	reg          *registry.Registry
	weights      *weights.Set
	im           *importer.Importer
	outputShapes [][]int64
	outputTypes  []importer.ElemType
}

// New prepares the translation of g with one declared shape per graph input.
func New(g *torchscript.Graph, inputShapes [][]int64, opts ...Option) (*Converter, error) {
	if g == nil {
		return nil, errors.New("graph is nil")
	}
	if err := g.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid graph %s", g.Name)
	}
	if n := len(g.InputNames()); n != len(inputShapes) {
		return nil, errors.Errorf("graph %s has %d inputs, got %d input shapes", g.Name, n, len(inputShapes))
	}
	c := &Converter{
		graph:       g,
		inputShapes: inputShapes,
		modelName:   g.Name,
		logger:      zap.NewNop().Sugar(),
		reg:         registry.New(),
		weights:     weights.NewSet(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.modelName == "" {
		c.modelName = "model"
	}
	if c.exec == nil {
		c.exec = interp.New(interp.WithLogger(c.logger))
	}
	return c, nil
}

// State returns the current state.
func (c *Converter) State() State { return c.state }

func (c *Converter) advance(next State) {
	c.logger.Infow("state transition", "model", c.modelName, "from", c.state.String(), "to", next.String())
	c.state = next
}

// Result is a fully assembled translation.
type Result struct {
	ModelName string
	Text      string
	Module    *importer.Module
	Archive   *zmf.Model
}

// Convert runs the whole translation. Nothing is written to disk; see
// Result.WriteFiles.
func (c *Converter) Convert(ctx context.Context) (*Result, error) {
	if c.state != StateInit {
		return nil, errors.Errorf("converter for %s already ran (state %s)", c.modelName, c.state)
	}
	if err := classifier.Check(c.graph, lowering.Supported); err != nil {
		return nil, err
	}
	if err := c.inferShapes(ctx); err != nil {
		return nil, err
	}
	if err := c.initImporter(); err != nil {
		return nil, err
	}
	if err := c.emitInputs(); err != nil {
		return nil, err
	}
	if err := c.lower(ctx); err != nil {
		return nil, err
	}
	return c.finalize()
}

func (c *Converter) inferShapes(ctx context.Context) error {
	inputs := interp.RandomInputs(c.inputShapes, c.seed)
	values, err := c.exec.Execute(ctx, c.graph, inputs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, registry.ErrUnsupportedControlFlow) {
			return err
		}
		return errors.Wrap(registry.ErrShapeInference, err.Error())
	}

	for _, name := range c.graph.OutputNames() {
		t, ok := values[name]
		if !ok {
			return errors.Wrapf(registry.ErrShapeInference, "output %q was not produced", name)
		}
		elem, ok := importer.ElemTypeForDType(t.DType)
		if !ok {
			return errors.Wrapf(registry.ErrShapeInference, "output %q has unsupported dtype %s", name, t.DType)
		}
		c.outputShapes = append(c.outputShapes, append([]int64(nil), t.Shape...))
		c.outputTypes = append(c.outputTypes, elem)
	}
	for name, t := range values {
		if err := c.reg.SetShape(name, t.Shape); err != nil {
			return errors.Wrap(registry.ErrShapeInference, err.Error())
		}
	}
	c.advance(StateShapesInferred)
	return nil
}

func (c *Converter) initImporter() error {
	inputTypes := make([]importer.ElemType, len(c.inputShapes))
	for i := range inputTypes {
		inputTypes[i] = importer.F32
	}
	im, err := importer.New(c.modelName, c.inputShapes, c.outputShapes, inputTypes, c.outputTypes)
	if err != nil {
		return errors.Wrap(err, "failed to create importer")
	}
	c.im = im
	c.advance(StateImporterReady)
	return nil
}

func (c *Converter) emitInputs() error {
	for i, name := range c.graph.InputNames() {
		v, err := c.im.CreateInputOp(name, i)
		if err != nil {
			return errors.Wrapf(err, "failed to emit input %q", name)
		}
		if err := c.reg.SetShape(name, c.inputShapes[i]); err != nil {
			return err
		}
		if err := c.reg.SetOperand(name, v); err != nil {
			return err
		}
	}
	c.advance(StateInputsEmitted)
	return nil
}

func (c *Converter) lower(ctx context.Context) error {
	c.advance(StateLowering)
	f := folder.New(c.reg, c.weights)
	lctx := &lowering.Context{
		Reg:     c.reg,
		Builder: c.im,
		Weights: c.weights,
		Logger:  c.logger,
	}
	for _, node := range c.graph.Nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		folded, err := f.Fold(node)
		if err != nil {
			return err
		}
		if folded {
			continue
		}
		l, ok := lowering.Lookup(node.Op)
		if !ok {
			return errors.WithStack(&registry.UnsupportedOperatorError{Ops: []string{node.Op}})
		}
		if err := l.Lower(lctx, node); err != nil {
			return err
		}
	}
	return nil
}

func (c *Converter) finalize() (*Result, error) {
	outputs := make([]importer.Value, 0, len(c.graph.Outputs))
	for _, name := range c.graph.OutputNames() {
		v, err := c.reg.Operand(name)
		if err != nil {
			return nil, errors.Wrap(err, "graph output is produced by no lowered node")
		}
		outputs = append(outputs, v)
	}
	if err := c.im.CreateReturnOp(outputs); err != nil {
		return nil, errors.Wrap(err, "failed to create return op")
	}
	text, err := c.im.PrintModule()
	if err != nil {
		return nil, errors.Wrap(err, "failed to print module")
	}
	archive, err := c.weights.Archive()
	if err != nil {
		return nil, err
	}
	c.advance(StateFinalized)
	m := c.im.Module()
	c.logger.Infow("translation finished",
		"model", c.modelName,
		"inputs", len(m.Inputs),
		"weights", len(m.Weights),
		"ops", len(m.Ops))
	return &Result{
		ModelName: c.modelName,
		Text:      text,
		Module:    m,
		Archive:   archive,
	}, nil
}

// WeightPath returns where WriteFiles puts the archive for a module written
// to mlirPath.
func (r *Result) WeightPath(mlirPath string) string {
	return filepath.Join(filepath.Dir(mlirPath), importer.WeightFileName(r.ModelName))
}

// WriteFiles writes the module text to mlirPath and the weight archive next
// to it. If the module cannot be written the archive is removed again.
func (r *Result) WriteFiles(mlirPath string) error {
	weightPath := r.WeightPath(mlirPath)
	if err := weights.Write(weightPath, r.Archive); err != nil {
		return err
	}
	if err := weights.WriteFileAtomic(mlirPath, []byte(r.Text)); err != nil {
		if rerr := os.Remove(weightPath); rerr != nil {
			return errors.Wrapf(err, "also failed to remove %s: %v", weightPath, rerr)
		}
		return err
	}
	return nil
}
