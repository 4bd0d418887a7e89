package inspector

import (
	"fmt"
	"os"

	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/classifier"
	"github.com/zerfoo/ztorch/pkg/lowering"
	"github.com/zerfoo/ztorch/pkg/weights"
)

// InspectGraph loads a TorchScript graph dump and prints its summary,
// including which operators can be lowered.
func InspectGraph(inputFile string) error {
	fmt.Printf("Inspecting TorchScript graph from: %s\n", inputFile)

	g, err := torchscript.Load(inputFile)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}

	fmt.Printf("Graph %s has %d inputs and %d outputs.\n", g.Name, len(g.InputNames()), len(g.Outputs))
	fmt.Printf("Graph has %d nodes.\n", len(g.Nodes))

	fmt.Println("\nOperators:")
	unsupported := 0
	for _, op := range classifier.OperatorKinds(g) {
		status := "lowered"
		switch {
		case torchscript.IsStructural(op):
			status = "structural"
		case !lowering.Supported(op):
			status = "unsupported"
			unsupported++
		}
		fmt.Printf("- %s (%s)\n", op, status)
	}
	if unsupported > 0 {
		fmt.Printf("\n%d operators are not implemented.\n", unsupported)
	}
	return nil
}

// InspectWeights prints a summary of a weight archive.
func InspectWeights(inputFile string) error {
	fmt.Printf("Inspecting weight archive from: %s\n", inputFile)

	m, err := weights.Load(inputFile)
	if err != nil {
		return fmt.Errorf("failed to load weight archive: %w", err)
	}

	weights.Inspect(os.Stdout, m)
	return nil
}
