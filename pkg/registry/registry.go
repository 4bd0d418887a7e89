// Package registry tracks the per-translation state keyed by graph value
// name: folded constants, static shapes and emitted IR values.
package registry

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/importer"
)

// Registry holds all graph-level information needed during conversion. It is
// populated monotonically and never shrinks.
type Registry struct {
	constants map[string]torchscript.Constant
	shapes    map[string][]int64
	operands  map[string]importer.Value
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		constants: make(map[string]torchscript.Constant),
		shapes:    make(map[string][]int64),
		operands:  make(map[string]importer.Value),
	}
}

// SetShape records the shape of id. Recording the same shape again is a
// no-op; a different one is a conflict.
func (r *Registry) SetShape(id string, dims []int64) error {
	for _, d := range dims {
		if d < 0 {
			return errors.Errorf("shape %v of %q has a negative dimension", dims, id)
		}
	}
	if prev, ok := r.shapes[id]; ok {
		if !slices.Equal(prev, dims) {
			return errors.Wrapf(ErrShapeConflict, "%q is %v, got %v", id, prev, dims)
		}
		return nil
	}
	r.shapes[id] = slices.Clone(dims)
	return nil
}

// Shape returns the recorded shape of id.
func (r *Registry) Shape(id string) ([]int64, error) {
	dims, ok := r.shapes[id]
	if !ok {
		return nil, errors.Wrapf(ErrMissingShape, "%q", id)
	}
	return slices.Clone(dims), nil
}

// HasShape reports whether a shape is recorded for id.
func (r *Registry) HasShape(id string) bool {
	_, ok := r.shapes[id]
	return ok
}

// SetOperand records the IR value produced for id.
func (r *Registry) SetOperand(id string, v importer.Value) error {
	if !v.Valid() {
		return errors.Errorf("invalid IR value for %q", id)
	}
	if _, ok := r.operands[id]; ok {
		return errors.Wrapf(ErrOperandConflict, "%q", id)
	}
	r.operands[id] = v
	return nil
}

// Operand returns the IR value produced for id.
func (r *Registry) Operand(id string) (importer.Value, error) {
	v, ok := r.operands[id]
	if !ok {
		return importer.Value{}, errors.Wrapf(ErrMissingOperand, "%q", id)
	}
	return v, nil
}

// HasOperand reports whether an IR value exists for id.
func (r *Registry) HasOperand(id string) bool {
	_, ok := r.operands[id]
	return ok
}

// SetConstant records a folded constant. Folding the same value twice is
// idempotent.
func (r *Registry) SetConstant(id string, c torchscript.Constant) error {
	if prev, ok := r.constants[id]; ok {
		if !prev.Equal(c) {
			return errors.Wrapf(ErrConstantConflict, "%q is %s, got %s", id, prev, c)
		}
		return nil
	}
	r.constants[id] = c
	return nil
}

// Constant returns the folded constant for id.
func (r *Registry) Constant(id string) (torchscript.Constant, error) {
	c, ok := r.constants[id]
	if !ok {
		return torchscript.Constant{}, errors.Wrapf(ErrMissingConstant, "%q", id)
	}
	return c, nil
}

// HasConstant reports whether id was folded to a constant.
func (r *Registry) HasConstant(id string) bool {
	_, ok := r.constants[id]
	return ok
}
