package torchscript

import "fmt"

// Kind is the structural classification of a graph node. Everything that is not one of
// the prim:: constructs below is KindComputational and goes through the lowering table.
type Kind int

const (
	KindComputational Kind = iota
	KindConstant
	KindListConstruct
	KindListUnpack
	KindTupleConstruct
	KindTupleUnpack
	KindGetAttr
	KindIf
	KindLoop
	KindRaiseException
)

var structuralKinds = map[string]Kind{
	"prim::Constant":       KindConstant,
	"prim::ListConstruct":  KindListConstruct,
	"prim::ListUnpack":     KindListUnpack,
	"prim::TupleConstruct": KindTupleConstruct,
	"prim::TupleUnpack":    KindTupleUnpack,
	"prim::GetAttr":        KindGetAttr,
	"prim::If":             KindIf,
	"prim::Loop":           KindLoop,
	"prim::RaiseException": KindRaiseException,
}

// KindOf returns the structural kind for an operator tag.
func KindOf(op string) Kind {
	if k, ok := structuralKinds[op]; ok {
		return k
	}
	return KindComputational
}

// IsStructural reports whether op is one of the fixed prim:: tags.
func IsStructural(op string) bool {
	_, ok := structuralKinds[op]
	return ok
}

// StructuralOps returns the fixed structural operator tags.
func StructuralOps() []string {
	ops := make([]string, 0, len(structuralKinds))
	for op := range structuralKinds {
		ops = append(ops, op)
	}
	return ops
}

func (k Kind) String() string {
	switch k {
	case KindComputational:
		return "Computational"
	case KindConstant:
		return "Constant"
	case KindListConstruct:
		return "ListConstruct"
	case KindListUnpack:
		return "ListUnpack"
	case KindTupleConstruct:
		return "TupleConstruct"
	case KindTupleUnpack:
		return "TupleUnpack"
	case KindGetAttr:
		return "GetAttr"
	case KindIf:
		return "If"
	case KindLoop:
		return "Loop"
	case KindRaiseException:
		return "RaiseException"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is a named graph value together with its TorchScript type tag
// (IntType, TensorType, NoneType, ...).
type Value struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Attribute is a compile-time attribute of a node. Exactly one of the typed
// fields is set, mirroring the i/f/s/t accessors of a TorchScript node.
type Attribute struct {
	Name string   `json:"name"`
	I    *int64   `json:"i,omitempty"`
	F    *float64 `json:"f,omitempty"`
	S    *string  `json:"s,omitempty"`
	T    *Tensor  `json:"t,omitempty"`
}

// Block is a nested sub-graph owned by prim::If or prim::Loop.
type Block struct {
	Nodes []*Node `json:"nodes"`
}

// Node is a single operation of the traced graph.
type Node struct {
	Op         string      `json:"kind"`
	Inputs     []string    `json:"inputs,omitempty"`
	Outputs    []Value     `json:"outputs,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
	Blocks     []*Block    `json:"blocks,omitempty"`
}

// Kind returns the structural kind of the node.
func (n *Node) Kind() Kind {
	return KindOf(n.Op)
}

// Name is the debug name of the first output, which TorchScript uses to
// identify the node.
func (n *Node) Name() string {
	if len(n.Outputs) == 0 {
		return ""
	}
	return n.Outputs[0].Name
}

// Output returns the first output value.
func (n *Node) Output() Value {
	if len(n.Outputs) == 0 {
		return Value{}
	}
	return n.Outputs[0]
}

// Input returns the i-th input name, or "" when the node has fewer inputs.
func (n *Node) Input(i int) string {
	if i < 0 || i >= len(n.Inputs) {
		return ""
	}
	return n.Inputs[i]
}

// Graph is a traced TorchScript graph.
type Graph struct {
	Name    string  `json:"name"`
	Module  bool    `json:"module,omitempty"`
	Inputs  []Value `json:"inputs"`
	Outputs []Value `json:"outputs"`
	Nodes   []*Node `json:"nodes"`
}

// InputNames returns the declared graph inputs, skipping the leading self
// argument of a ScriptModule.
func (g *Graph) InputNames() []string {
	inputs := g.Inputs
	if g.Module && len(inputs) > 0 {
		inputs = inputs[1:]
	}
	names := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = in.Name
	}
	return names
}

// OutputNames returns the declared graph outputs in order.
func (g *Graph) OutputNames() []string {
	names := make([]string, len(g.Outputs))
	for i, out := range g.Outputs {
		names[i] = out.Name
	}
	return names
}

// Walk calls fn for every node of the graph, descending into nested blocks.
func (g *Graph) Walk(fn func(*Node)) {
	walkNodes(g.Nodes, fn)
}

func walkNodes(nodes []*Node, fn func(*Node)) {
	for _, n := range nodes {
		fn(n)
		for _, b := range n.Blocks {
			walkNodes(b.Nodes, fn)
		}
	}
}
