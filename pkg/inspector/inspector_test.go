package inspector

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/weights"
)

const graphYAML = `name: net
inputs:
- name: x
outputs:
- name: y
nodes:
- kind: aten::relu
  inputs: [x]
  outputs:
  - name: r
- kind: prim::Constant
  outputs:
  - name: alpha
    type: IntType
  attributes:
  - name: value
    i: 1
- kind: aten::mul
  inputs: [r, r]
  outputs:
  - name: y
`

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w

	fnErr := fn()

	if cerr := w.Close(); cerr != nil {
		t.Errorf("Error closing writer: %v", cerr)
	}
	os.Stdout = oldStdout
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Failed to read stdout: %v", err)
	}
	return string(out), fnErr
}

func TestInspectGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.yaml")
	if err := os.WriteFile(path, []byte(graphYAML), 0o644); err != nil {
		t.Fatalf("Failed to write graph: %v", err)
	}

	output, err := captureStdout(t, func() error { return InspectGraph(path) })
	if err != nil {
		t.Errorf("InspectGraph returned an error: %v", err)
	}
	for _, want := range []string{
		"Inspecting TorchScript graph from:",
		"Graph net has 1 inputs and 1 outputs.",
		"Graph has 3 nodes.",
		"- aten::relu (lowered)",
		"- prim::Constant (structural)",
		"- aten::mul (unsupported)",
		"1 operators are not implemented.",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Output missing %q: %s", want, output)
		}
	}
}

func TestInspectWeights(t *testing.T) {
	s := weights.NewSet()
	if err := s.Add("conv.weight", torchscript.NewFloat32Tensor([]int64{1, 1, 1, 1}, []float32{2})); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	archive, err := s.Archive()
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "net_top_weight.zmf")
	if err := weights.Write(path, archive); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	output, err := captureStdout(t, func() error { return InspectWeights(path) })
	if err != nil {
		t.Errorf("InspectWeights returned an error: %v", err)
	}
	for _, want := range []string{
		"Inspecting weight archive from:",
		"Producer: ztorch",
		"Archive has 1 weights.",
		"- Weight: conv.weight, Dtype: FLOAT32, Shape: [1 1 1 1], Bytes: 4",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Output missing %q: %s", want, output)
		}
	}
}

func TestInspectMissingFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	if _, err := captureStdout(t, func() error { return InspectGraph(missing) }); err == nil {
		t.Error("expected an error for a missing graph")
	}
	if _, err := captureStdout(t, func() error { return InspectWeights(missing) }); err == nil {
		t.Error("expected an error for a missing archive")
	}
}
