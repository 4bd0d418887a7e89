package torchscript

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }
func stringPtr(v string) *string    { return &v }

func TestParse(t *testing.T) {
	weight := NewFloat32Tensor([]int64{2}, []float32{1, 2})
	doc := `
name: tiny
module: true
inputs:
  - name: self.1
  - name: x.1
    type: TensorType
outputs:
  - name: "5"
nodes:
  - kind: prim::Constant
    outputs: [{name: "2", type: IntType}]
    attributes: [{name: value, i: 1}]
  - kind: prim::Constant
    outputs: [{name: "3", type: TensorType}]
    attributes:
      - name: value
        t: {dtype: float32, shape: [2], data: "` + base64.StdEncoding.EncodeToString(weight.Data) + `"}
  - kind: prim::If
    inputs: ["2"]
    outputs: [{name: "4", type: TensorType}]
    blocks:
      - nodes:
          - kind: aten::sigmoid
            inputs: ["x.1"]
            outputs: [{name: "6", type: TensorType}]
  - kind: aten::prelu
    inputs: ["x.1", "3"]
    outputs: [{name: "5", type: TensorType}]
`
	g, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if diff := cmp.Diff([]string{"x.1"}, g.InputNames()); diff != "" {
		t.Errorf("InputNames mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"5"}, g.OutputNames()); diff != "" {
		t.Errorf("OutputNames mismatch (-want +got):\n%s", diff)
	}
	if len(g.Nodes) != 4 {
		t.Fatalf("expected 4 top-level nodes, got %d", len(g.Nodes))
	}
	if got := g.Nodes[2].Kind(); got != KindIf {
		t.Errorf("expected prim::If to be KindIf, got %v", got)
	}
	if got := g.Nodes[3].Kind(); got != KindComputational {
		t.Errorf("expected aten::prelu to be computational, got %v", got)
	}
	if !g.Nodes[1].Attributes[0].T.Equal(weight) {
		t.Errorf("tensor attribute did not round trip through base64")
	}

	var visited []string
	g.Walk(func(n *Node) { visited = append(visited, n.Op) })
	want := []string{"prim::Constant", "prim::Constant", "prim::If", "aten::sigmoid", "aten::prelu"}
	if diff := cmp.Diff(want, visited); diff != "" {
		t.Errorf("Walk order mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsMalformedGraphs(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "duplicate value",
			doc:     `{"inputs":[{"name":"x"}],"outputs":[{"name":"x"}],"nodes":[{"kind":"aten::relu","inputs":["x"],"outputs":[{"name":"x"}]}]}`,
			wantErr: "defined more than once",
		},
		{
			name:    "missing kind",
			doc:     `{"inputs":[{"name":"x"}],"outputs":[{"name":"y"}],"nodes":[{"inputs":["x"],"outputs":[{"name":"y"}]}]}`,
			wantErr: "no operator kind",
		},
		{
			name:    "no outputs",
			doc:     `{"inputs":[{"name":"x"}],"outputs":[],"nodes":[]}`,
			wantErr: "declares no outputs",
		},
		{
			name:    "unknown field",
			doc:     `{"inputs":[],"outputs":[{"name":"y"}],"nodes":[],"bogus":1}`,
			wantErr: "unmarshal",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	doc := `{"name":"g","inputs":[{"name":"x"}],"outputs":[{"name":"y"}],"nodes":[{"kind":"aten::relu","inputs":["x"],"outputs":[{"name":"y","type":"TensorType"}]}]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("Failed to write graph: %v", err)
	}
	g, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if g.Name != "g" || len(g.Nodes) != 1 {
		t.Errorf("unexpected graph: %+v", g)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestDecodeConstant(t *testing.T) {
	cuda := NewFloat32Tensor([]int64{1}, []float32{3})
	cuda.Device = "cuda:0"

	tests := []struct {
		name       string
		node       *Node
		want       Constant
		wantTensor bool
		wantErr    bool
	}{
		{
			name: "none type",
			node: &Node{Op: "prim::Constant", Outputs: []Value{{Name: "a", Type: "NoneType"}}},
			want: None,
		},
		{
			name: "no attribute",
			node: &Node{Op: "prim::Constant", Outputs: []Value{{Name: "a", Type: "IntType"}}},
			want: None,
		},
		{
			name: "int",
			node: &Node{Op: "prim::Constant", Outputs: []Value{{Name: "a", Type: "IntType"}}, Attributes: []Attribute{{Name: "value", I: int64Ptr(7)}}},
			want: IntConstant(7),
		},
		{
			name: "bool",
			node: &Node{Op: "prim::Constant", Outputs: []Value{{Name: "a", Type: "BoolType"}}, Attributes: []Attribute{{Name: "value", I: int64Ptr(1)}}},
			want: BoolConstant(true),
		},
		{
			name: "float",
			node: &Node{Op: "prim::Constant", Outputs: []Value{{Name: "a", Type: "FloatType"}}, Attributes: []Attribute{{Name: "value", F: float64Ptr(0.5)}}},
			want: FloatConstant(0.5),
		},
		{
			name: "string",
			node: &Node{Op: "prim::Constant", Outputs: []Value{{Name: "a", Type: "StringType"}}, Attributes: []Attribute{{Name: "value", S: stringPtr("same")}}},
			want: StringConstant("same"),
		},
		{
			name: "device",
			node: &Node{Op: "prim::Constant", Outputs: []Value{{Name: "a", Type: "DeviceObjType"}}, Attributes: []Attribute{{Name: "value", S: stringPtr("cpu")}}},
			want: StringConstant("cpu"),
		},
		{
			name:       "accelerator tensor",
			node:       &Node{Op: "prim::Constant", Outputs: []Value{{Name: "a", Type: "TensorType"}}, Attributes: []Attribute{{Name: "value", T: cuda}}},
			want:       None,
			wantTensor: true,
		},
		{
			name:    "wrong accessor",
			node:    &Node{Op: "prim::Constant", Outputs: []Value{{Name: "a", Type: "FloatType"}}, Attributes: []Attribute{{Name: "value", I: int64Ptr(1)}}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			node:    &Node{Op: "prim::Constant", Outputs: []Value{{Name: "a", Type: "ComplexType"}}, Attributes: []Attribute{{Name: "value", I: int64Ptr(1)}}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeConstant(tt.node)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeConstant failed: %v", err)
			}
			if got.IsTensor() != tt.wantTensor {
				t.Fatalf("IsTensor = %v, want %v", got.IsTensor(), tt.wantTensor)
			}
			if tt.wantTensor {
				if !got.Tensor.OnHost() {
					t.Errorf("tensor was not moved to host: device %q", got.Tensor.Device)
				}
				if !got.Tensor.Equal(cuda) {
					t.Errorf("host copy changed the payload")
				}
				return
			}
			if !got.Constant.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.Constant, tt.want)
			}
		})
	}
}

func TestConstantAsInts(t *testing.T) {
	got, err := IntConstant(2).AsInts(2)
	if err != nil {
		t.Fatalf("AsInts failed: %v", err)
	}
	if diff := cmp.Diff([]int64{2, 2}, got); diff != "" {
		t.Errorf("scalar expansion mismatch (-want +got):\n%s", diff)
	}
	got, err = IntsConstant(1, 3).AsInts(2)
	if err != nil {
		t.Fatalf("AsInts failed: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, got); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if _, err := StringConstant("same").AsInts(2); err == nil {
		t.Error("expected an error for a string constant")
	}
}

func TestTensorValidate(t *testing.T) {
	good := NewFloat32Tensor([]int64{2, 2}, []float32{1, 2, 3, 4})
	if err := good.Validate(); err != nil {
		t.Errorf("valid tensor rejected: %v", err)
	}
	short := &Tensor{DType: "float32", Shape: []int64{3}, Data: make([]byte, 8)}
	if err := short.Validate(); err == nil {
		t.Error("expected a size mismatch error")
	}
	values, err := good.Float32s()
	if err != nil {
		t.Fatalf("Float32s failed: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4}, values); diff != "" {
		t.Errorf("Float32s mismatch (-want +got):\n%s", diff)
	}
}
