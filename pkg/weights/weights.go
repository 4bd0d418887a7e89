// Package weights accumulates the tensors captured during translation and
// writes them as a key to tensor archive in the ZMF protobuf format.
package weights

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/zerfoo/zmf"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/registry"
	"google.golang.org/protobuf/proto"
)

// Producer metadata written into every archive.
const (
	ProducerName    = "ztorch"
	ProducerVersion = "0.1.0"
)

// Set is an insertion-ordered name to tensor mapping owned by one translation.
type Set struct {
	names   []string
	tensors map[string]*torchscript.Tensor
}

// NewSet creates an empty weight set.
func NewSet() *Set {
	return &Set{tensors: make(map[string]*torchscript.Tensor)}
}

var zmfDTypes = map[string]zmf.Tensor_DataType{
	"float32":  zmf.Tensor_FLOAT32,
	"float16":  zmf.Tensor_FLOAT16,
	"bfloat16": zmf.Tensor_BFLOAT16,
	"float64":  zmf.Tensor_FLOAT64,
	"int32":    zmf.Tensor_INT32,
	"int64":    zmf.Tensor_INT64,
}

// Archivable reports whether tensors of dtype can be stored in an archive.
func Archivable(dtype string) bool {
	_, ok := zmfDTypes[dtype]
	return ok
}

// Add records a weight. Adding an identical tensor twice is a no-op. Tensors
// whose dtype the archive cannot hold are rejected with
// registry.ErrUnsupportedParameter.
func (s *Set) Add(name string, t *torchscript.Tensor) error {
	if name == "" {
		return errors.New("weight name is required")
	}
	if t == nil {
		return errors.Errorf("weight %q has no tensor", name)
	}
	if !Archivable(t.DType) {
		return errors.Wrapf(registry.ErrUnsupportedParameter, "weight %q has dtype %s, which the archive cannot store", name, t.DType)
	}
	if prev, ok := s.tensors[name]; ok {
		if !prev.Equal(t) {
			return errors.Errorf("weight %q registered twice with different contents", name)
		}
		return nil
	}
	s.names = append(s.names, name)
	s.tensors[name] = t
	return nil
}

// Get returns the weight registered under name.
func (s *Set) Get(name string) (*torchscript.Tensor, bool) {
	t, ok := s.tensors[name]
	return t, ok
}

// Names returns the weight names in insertion order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Len returns the number of weights.
func (s *Set) Len() int { return len(s.names) }

// Archive snapshots the set into a ZMF model whose parameters are the weights.
func (s *Set) Archive() (*zmf.Model, error) {
	m := &zmf.Model{
		Graph: &zmf.Graph{
			Parameters: make(map[string]*zmf.Tensor, len(s.names)),
		},
		Metadata: &zmf.Metadata{
			ProducerName:    ProducerName,
			ProducerVersion: ProducerVersion,
		},
	}
	for _, name := range s.names {
		zt, err := toZMF(s.tensors[name])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to archive weight %q", name)
		}
		m.Graph.Parameters[name] = zt
	}
	return m, nil
}

func toZMF(t *torchscript.Tensor) (*zmf.Tensor, error) {
	dtype, ok := zmfDTypes[t.DType]
	if !ok {
		return nil, errors.Errorf("unsupported tensor data type: %s", t.DType)
	}
	return &zmf.Tensor{
		Dtype: dtype,
		Shape: append([]int64(nil), t.Shape...),
		Data:  append([]byte(nil), t.Data...),
	}, nil
}

// Write serializes the archive to path. The file is written to a temporary
// name in the same directory and renamed, so a failed write leaves nothing.
func Write(path string, m *zmf.Model) error {
	data, err := proto.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to marshal weight archive")
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path via a temporary file and rename.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file in %s", dir)
	}
	defer func() {
		if err != nil {
			if rerr := os.Remove(tmp.Name()); rerr != nil && !os.IsNotExist(rerr) {
				fmt.Fprintf(os.Stderr, "Error removing temporary file %s: %v\n", tmp.Name(), rerr)
			}
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp.Name())
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to set permissions on %s", tmp.Name())
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to move %s into place", path)
	}
	return nil
}

// Load reads and deserializes a weight archive.
func Load(path string) (*zmf.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read weight archive")
	}
	m := &zmf.Model{}
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal weight archive %s", path)
	}
	return m, nil
}

// Inspect prints a human-readable summary of an archive, parameters sorted by name.
func Inspect(w io.Writer, m *zmf.Model) {
	fmt.Fprintf(w, "Producer: %s %s\n", m.GetMetadata().GetProducerName(), m.GetMetadata().GetProducerVersion())
	params := m.GetGraph().GetParameters()
	fmt.Fprintf(w, "Archive has %d weights.\n", len(params))

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := params[name]
		fmt.Fprintf(w, "- Weight: %s, Dtype: %s, Shape: %v, Bytes: %d\n", name, p.GetDtype(), p.GetShape(), len(p.GetData()))
	}
}
