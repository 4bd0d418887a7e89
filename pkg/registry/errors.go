package registry

import (
	"strings"

	"github.com/pkg/errors"
)

// Translation failures. Every one of them aborts the run.
var (
	ErrUnsupportedOperator    = errors.New("unsupported operator")
	ErrUnsupportedControlFlow = errors.New("unsupported control flow")
	ErrMissingConstant        = errors.New("missing constant")
	ErrMissingShape           = errors.New("missing shape")
	ErrMissingOperand         = errors.New("missing operand")
	ErrUnsupportedParameter   = errors.New("unsupported parameter")
	ErrShapeInference         = errors.New("shape inference failed")
)

// Contract violations: a second, different registration under the same name.
var (
	ErrShapeConflict    = errors.New("conflicting shape")
	ErrOperandConflict  = errors.New("operand already registered")
	ErrConstantConflict = errors.New("conflicting constant")
)

// UnsupportedOperatorError lists every operator tag no table knows about.
type UnsupportedOperatorError struct {
	Ops []string
}

func (e *UnsupportedOperatorError) Error() string {
	return "the following operators are not implemented: " + strings.Join(e.Ops, ", ")
}

// Unwrap makes errors.Is(err, ErrUnsupportedOperator) hold.
func (e *UnsupportedOperatorError) Unwrap() error { return ErrUnsupportedOperator }
