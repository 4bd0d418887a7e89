package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/config"
	"github.com/zerfoo/ztorch/pkg/weights"
	"sigs.k8s.io/yaml"
)

func TestParseShapes(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    [][]int64
		wantErr bool
	}{
		{"single", "[[1,3,224,224]]", [][]int64{{1, 3, 224, 224}}, false},
		{"two inputs", "[[1, 3, 8, 8], [1, 10]]", [][]int64{{1, 3, 8, 8}, {1, 10}}, false},
		{"empty", "", nil, true},
		{"no inputs", "[]", nil, true},
		{"zero dim", "[[1,0]]", nil, true},
		{"not a list", "1x3x8x8", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseShapes(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseShapes(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("shape mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		file, flag, want string
		wantErr          bool
	}{
		{"net.json", "", "graph", false},
		{"net.YAML", "", "graph", false},
		{"net_top_weight.zmf", "", "weights", false},
		{"net.bin", "weights", "weights", false},
		{"net.bin", "", "", true},
		{"net.json", "onnx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.file+"/"+tt.flag, func(t *testing.T) {
			got, err := detectType(tt.file, tt.flag)
			if (err != nil) != tt.wantErr {
				t.Fatalf("detectType error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("detectType(%q, %q) = %q, want %q", tt.file, tt.flag, got, tt.want)
			}
		})
	}
}

func writeGraph(t *testing.T, dir string) string {
	t.Helper()
	one := int64(1)
	same := "same"
	g := &torchscript.Graph{
		Name:    "stem",
		Inputs:  []torchscript.Value{{Name: "x", Type: "TensorType"}},
		Outputs: []torchscript.Value{{Name: "y"}},
		Nodes: []*torchscript.Node{
			{
				Op:         "prim::Constant",
				Outputs:    []torchscript.Value{{Name: "w", Type: "TensorType"}},
				Attributes: []torchscript.Attribute{{Name: "value", T: torchscript.NewFloat32Tensor([]int64{2, 1, 3, 3}, make([]float32, 18))}},
			},
			{Op: "prim::Constant", Outputs: []torchscript.Value{{Name: "none", Type: "NoneType"}}},
			{Op: "prim::Constant", Outputs: []torchscript.Value{{Name: "one", Type: "IntType"}}, Attributes: []torchscript.Attribute{{Name: "value", I: &one}}},
			{Op: "prim::Constant", Outputs: []torchscript.Value{{Name: "pad", Type: "StringType"}}, Attributes: []torchscript.Attribute{{Name: "value", S: &same}}},
			{Op: "aten::_convolution_mode", Inputs: []string{"x", "w", "none", "one", "pad", "one", "one"}, Outputs: []torchscript.Value{{Name: "c"}}},
			{Op: "aten::relu_", Inputs: []string{"c"}, Outputs: []torchscript.Value{{Name: "y"}}},
		},
	}
	data, err := yaml.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	path := filepath.Join(dir, "stem.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	graphPath := writeGraph(t, dir)
	cfg := &config.Config{LogFile: filepath.Join(dir, "ztorch.log"), LogLevel: "debug", OutputDir: dir}

	root := newRootCmd(cfg)
	root.SetArgs([]string{"convert", graphPath, "--input-shapes", "[[1,1,5,5]]"})
	if err := root.Execute(); err != nil {
		t.Fatalf("convert failed: %v", err)
	}

	text, err := os.ReadFile(filepath.Join(dir, "stem_origin.mlir"))
	if err != nil {
		t.Fatalf("module not written: %v", err)
	}
	for _, want := range []string{`"top.Conv"`, `"top.Relu"`, `module.weight_file = "stem_top_weight.zmf"`} {
		if !strings.Contains(string(text), want) {
			t.Errorf("module missing %q:\n%s", want, text)
		}
	}
	archive, err := weights.Load(filepath.Join(dir, "stem_top_weight.zmf"))
	if err != nil {
		t.Fatalf("archive not written: %v", err)
	}
	if _, ok := archive.GetGraph().GetParameters()["w"]; !ok {
		t.Error("archive is missing the filter")
	}
	logData, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		t.Fatalf("log not written: %v", err)
	}
	if !strings.Contains(string(logData), "state transition") {
		t.Errorf("log missing state transitions:\n%s", logData)
	}
}

func TestConvertCommandRequiresShapes(t *testing.T) {
	dir := t.TempDir()
	graphPath := writeGraph(t, dir)
	root := newRootCmd(&config.Config{LogFile: filepath.Join(dir, "ztorch.log"), LogLevel: "info"})
	root.SetArgs([]string{"convert", graphPath})
	if err := root.Execute(); err == nil {
		t.Error("expected an error without --input-shapes")
	}
	if _, err := os.Stat(filepath.Join(dir, "stem_top_weight.zmf")); !os.IsNotExist(err) {
		t.Error("no archive should be written when the command fails")
	}
}

func TestBindLogFlags(t *testing.T) {
	cfg := &config.Config{LogFile: "ztorch-converter.log", LogLevel: "info"}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	bindLogFlags(fs, cfg)
	if err := fs.Parse([]string{"--log-level", "debug", "--log-file", "/tmp/x.log"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFile != "/tmp/x.log" {
		t.Errorf("flags did not override config: %+v", cfg)
	}
}
