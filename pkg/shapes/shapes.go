// Package shapes holds the shape arithmetic shared by lowering and the
// reference executor: symbolic convolution padding, convolution output sizes
// and broadcasting.
package shapes

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/zerfoo/zerfoo/tensor"
)

// Padding modes accepted by aten::_convolution_mode.
const (
	PadSame  = "same"
	PadValid = "valid"
)

// ComputePad turns a symbolic padding mode into explicit per-side padding for
// each spatial dimension. The result is ordered [before..., after...], e.g.
// [top, left, bottom, right] for 2-D.
func ComputePad(stride, dilation, input, kernel []int64, mode string) ([]int64, error) {
	n := len(input)
	if len(stride) != n || len(dilation) != n || len(kernel) != n {
		return nil, errors.Errorf("rank mismatch: stride %v, dilation %v, input %v, kernel %v", stride, dilation, input, kernel)
	}
	before := make([]int64, n)
	after := make([]int64, n)
	for i := range n {
		if stride[i] <= 0 {
			return nil, errors.Errorf("stride must be positive, got %v", stride)
		}
		effective := (kernel[i]-1)*dilation[i] + 1
		var out int64
		switch mode {
		case PadSame:
			out = (input[i] + stride[i] - 1) / stride[i]
		case PadValid:
			out = (input[i] + stride[i] - effective) / stride[i]
		default:
			return nil, errors.Errorf("unknown padding mode %q", mode)
		}
		needed := max(0, (out-1)*stride[i]+effective-input[i])
		before[i] = needed / 2
		after[i] = needed - before[i]
	}
	return append(before, after...), nil
}

// ExpandPads turns numeric convolution padding into [before..., after...]. A
// single value pads every side; a per-dimension list is used for both sides.
func ExpandPads(p []int64, spatial int) ([]int64, error) {
	switch len(p) {
	case 1:
		out := make([]int64, 2*spatial)
		for i := range out {
			out[i] = p[0]
		}
		return out, nil
	case spatial:
		return append(slices.Clone(p), p...), nil
	case 2 * spatial:
		return slices.Clone(p), nil
	}
	return nil, errors.Errorf("padding %v does not fit %d spatial dims", p, spatial)
}

// ConvOutput returns the output shape of a convolution over an N,C,spatial...
// input with an O,I/groups,kernel... filter. pads is ordered [before..., after...].
func ConvOutput(input, filter, stride, dilation, pads []int64) ([]int64, error) {
	if len(input) < 3 || len(filter) != len(input) {
		return nil, errors.Errorf("convolution needs matching ranks >= 3, got input %v filter %v", input, filter)
	}
	spatial := len(input) - 2
	if len(stride) != spatial || len(dilation) != spatial || len(pads) != 2*spatial {
		return nil, errors.Errorf("convolution parameters do not match %d spatial dims: stride %v dilation %v pads %v", spatial, stride, dilation, pads)
	}
	out := []int64{input[0], filter[0]}
	for i := range spatial {
		effective := (filter[i+2]-1)*dilation[i] + 1
		padded := input[i+2] + pads[i] + pads[i+spatial]
		if padded < effective {
			return nil, errors.Errorf("kernel %v with dilation %v does not fit padded input %v", filter[2:], dilation, input[2:])
		}
		out = append(out, (padded-effective)/stride[i]+1)
	}
	return out, nil
}

// Broadcast returns the numpy-style broadcast of two shapes.
func Broadcast(a, b []int64) ([]int64, error) {
	out, _, _, err := tensor.BroadcastShapes(ToInts(a), ToInts(b))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return FromInts(out), nil
}

// ToInts converts dims to a zerfoo tensor shape.
func ToInts(dims []int64) []int {
	out := make([]int, len(dims))
	for i, d := range dims {
		out[i] = int(d)
	}
	return out
}

// FromInts converts a zerfoo tensor shape to int64 dims.
func FromInts(dims []int) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return out
}

// NumElements returns the product of dims.
func NumElements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

// Equal reports whether two shapes are identical.
func Equal(a, b []int64) bool {
	return slices.Equal(a, b)
}
