package torchscript

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"

	"github.com/pkg/errors"
)

// Tensor is a tensor blob captured from a prim::Constant node. Data holds the raw
// little-endian, row-major element bytes.
type Tensor struct {
	DType  string  `json:"dtype"`
	Shape  []int64 `json:"shape"`
	Device string  `json:"device,omitempty"`
	Data   []byte  `json:"data"`
}

var dtypeSizes = map[string]int{
	"float64":  8,
	"float32":  4,
	"float16":  2,
	"bfloat16": 2,
	"int64":    8,
	"int32":    4,
	"int16":    2,
	"int8":     1,
	"uint8":    1,
	"bool":     1,
}

// ElementSize returns the byte size of one element of dtype.
func ElementSize(dtype string) (int, bool) {
	size, ok := dtypeSizes[dtype]
	return size, ok
}

// NumElements returns the product of the dimensions.
func (t *Tensor) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// OnHost reports whether the tensor lives in host memory.
func (t *Tensor) OnHost() bool {
	return t.Device == "" || t.Device == "cpu"
}

// HostCopy returns a copy of the tensor placed in host memory. Accelerator
// tensors arrive in the dump already materialized, so copying the buffer is
// all that moving them requires.
func (t *Tensor) HostCopy() *Tensor {
	return &Tensor{
		DType:  t.DType,
		Shape:  slices.Clone(t.Shape),
		Device: "cpu",
		Data:   bytes.Clone(t.Data),
	}
}

// Validate checks that the payload size matches dtype and shape.
func (t *Tensor) Validate() error {
	size, ok := ElementSize(t.DType)
	if !ok {
		return errors.Errorf("unsupported tensor dtype %q", t.DType)
	}
	for _, d := range t.Shape {
		if d < 0 {
			return errors.Errorf("negative dimension in tensor shape %v", t.Shape)
		}
	}
	if want := t.NumElements() * int64(size); int64(len(t.Data)) != want {
		return errors.Errorf("tensor data has %d bytes, shape %v of %s needs %d", len(t.Data), t.Shape, t.DType, want)
	}
	return nil
}

// Equal reports whether two tensors have identical dtype, shape and payload.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.DType == o.DType && slices.Equal(t.Shape, o.Shape) && bytes.Equal(t.Data, o.Data)
}

// Float32s decodes the payload of a float32 tensor.
func (t *Tensor) Float32s() ([]float32, error) {
	if t.DType != "float32" {
		return nil, errors.Errorf("tensor is %s, not float32", t.DType)
	}
	if len(t.Data)%4 != 0 {
		return nil, errors.Errorf("raw data length %d is not a multiple of 4 for float32", len(t.Data))
	}
	out := make([]float32, len(t.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4 : (i+1)*4]))
	}
	return out, nil
}

// NewFloat32Tensor builds a host float32 tensor from values.
func NewFloat32Tensor(shape []int64, values []float32) *Tensor {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return &Tensor{
		DType:  "float32",
		Shape:  slices.Clone(shape),
		Device: "cpu",
		Data:   data,
	}
}
