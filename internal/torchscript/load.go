// Package torchscript models a traced TorchScript graph as dumped by the
// tracing front-end: nodes with operator tags, typed constant attributes,
// tensor blobs and nested control-flow blocks.
package torchscript

import (
	"os"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Load reads a graph dump (JSON or YAML) from path.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read graph file")
	}
	g, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse graph file %s", path)
	}
	return g, nil
}

// Parse decodes a graph dump and checks its structural invariants.
func Parse(data []byte) (*Graph, error) {
	g := &Graph{}
	if err := yaml.UnmarshalStrict(data, g); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal graph")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks that every node carries an operator tag and that no value
// name is defined twice.
func (g *Graph) Validate() error {
	defined := make(map[string]bool)
	define := func(name string) error {
		if name == "" {
			return errors.New("graph value with empty name")
		}
		if defined[name] {
			return errors.Errorf("value %q is defined more than once", name)
		}
		defined[name] = true
		return nil
	}
	for _, in := range g.Inputs {
		if err := define(in.Name); err != nil {
			return err
		}
	}
	var err error
	g.Walk(func(n *Node) {
		if err != nil {
			return
		}
		if n.Op == "" {
			err = errors.Errorf("node defining %v has no operator kind", n.Outputs)
			return
		}
		for _, out := range n.Outputs {
			if err = define(out.Name); err != nil {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if len(g.Outputs) == 0 {
		return errors.New("graph declares no outputs")
	}
	return nil
}
