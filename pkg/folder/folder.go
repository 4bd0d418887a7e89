// Package folder evaluates structural graph nodes at compile time. Scalars
// and lists land in the registry, tensors become weights; nothing reaches the
// IR builder from here.
package folder

import (
	"github.com/pkg/errors"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/registry"
	"github.com/zerfoo/ztorch/pkg/weights"
)

// Folder folds prim:: nodes into the registry and weight set.
type Folder struct {
	reg     *registry.Registry
	weights *weights.Set
}

// New creates a folder writing into reg and ws.
func New(reg *registry.Registry, ws *weights.Set) *Folder {
	return &Folder{reg: reg, weights: ws}
}

// Fold consumes node if it is structural. It returns false for computational
// nodes, which the caller must lower instead.
func (f *Folder) Fold(node *torchscript.Node) (bool, error) {
	switch node.Kind() {
	case torchscript.KindComputational:
		return false, nil
	case torchscript.KindConstant:
		return true, f.foldConstant(node)
	case torchscript.KindListConstruct:
		return true, f.foldList(node)
	default:
		return true, errors.Wrapf(registry.ErrUnsupportedControlFlow, "%s defining %q", node.Op, node.Name())
	}
}

func (f *Folder) foldConstant(node *torchscript.Node) error {
	folded, err := torchscript.DecodeConstant(node)
	if err != nil {
		return err
	}
	if !folded.IsTensor() {
		return f.reg.SetConstant(folded.Name, folded.Constant)
	}
	if err := f.weights.Add(folded.Name, folded.Tensor); err != nil {
		return err
	}
	return f.reg.SetShape(folded.Name, folded.Tensor.Shape)
}

func (f *Folder) foldList(node *torchscript.Node) error {
	items := make([]torchscript.Constant, len(node.Inputs))
	for i, in := range node.Inputs {
		c, err := f.reg.Constant(in)
		if err != nil {
			return errors.Wrapf(err, "list %q element %d", node.Name(), i)
		}
		items[i] = c
	}
	return f.reg.SetConstant(node.Name(), torchscript.ListConstant(items...))
}
