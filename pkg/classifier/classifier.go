// Package classifier sorts graph nodes into structural and computational
// kinds and checks operator coverage before any IR is emitted.
package classifier

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/registry"
)

// OperatorKinds returns the sorted set of operator tags used by the graph,
// including nodes nested in prim::If and prim::Loop blocks.
func OperatorKinds(g *torchscript.Graph) []string {
	seen := make(map[string]struct{})
	g.Walk(func(n *torchscript.Node) {
		seen[n.Op] = struct{}{}
	})
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Partition splits top-level nodes by kind, preserving their order.
func Partition(nodes []*torchscript.Node) (structural, computational []*torchscript.Node) {
	for _, n := range nodes {
		if n.Kind() == torchscript.KindComputational {
			computational = append(computational, n)
		} else {
			structural = append(structural, n)
		}
	}
	return structural, computational
}

// Known reports whether op is a structural tag, lowerable, or the in-place
// form (one trailing underscore) of a lowerable tag.
func Known(op string, lowerable func(string) bool) bool {
	if torchscript.IsStructural(op) || lowerable(op) {
		return true
	}
	base, ok := strings.CutSuffix(op, "_")
	if !ok || base == "" || strings.HasSuffix(base, "_") || strings.HasSuffix(base, "::") {
		return false
	}
	return lowerable(base)
}

// Check verifies that every operator in the graph is known. All unknown tags
// are reported together.
func Check(g *torchscript.Graph, lowerable func(string) bool) error {
	var missing []string
	for _, op := range OperatorKinds(g) {
		if !Known(op, lowerable) {
			missing = append(missing, op)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.WithStack(&registry.UnsupportedOperatorError{Ops: missing})
}
