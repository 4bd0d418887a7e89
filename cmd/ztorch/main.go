package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zerfoo/ztorch/internal/torchscript"
	"github.com/zerfoo/ztorch/pkg/config"
	"github.com/zerfoo/ztorch/pkg/converter"
	"github.com/zerfoo/ztorch/pkg/inspector"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	a := &app{cfg: cfg}
	root := &cobra.Command{
		Use:   "ztorch",
		Short: "ztorch translates traced TorchScript graphs into Top dialect MLIR",
		Long: `ztorch reads a traced TorchScript graph dump, infers every value's shape
by running the graph once on placeholder inputs, and writes a Top dialect
MLIR module plus a ZMF weight archive next to it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := a.cfg.NewLogger()
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	bindLogFlags(root.PersistentFlags(), cfg)

	root.AddCommand(a.newConvertCmd(), a.newInspectCmd())
	return root
}

func (a *app) newConvertCmd() *cobra.Command {
	var (
		inputShapes string
		modelName   string
		outputFile  string
	)
	cmd := &cobra.Command{
		Use:   "convert <graph-file>",
		Short: "Translate a graph dump into a module and weight archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputFile := args[0]
			shapes, err := parseShapes(inputShapes)
			if err != nil {
				return err
			}

			g, err := torchscript.Load(inputFile)
			if err != nil {
				return err
			}
			if modelName == "" {
				modelName = defaultModelName(g, inputFile)
			}
			if outputFile == "" {
				outputFile = filepath.Join(a.cfg.OutputDir, modelName+"_origin.mlir")
			}

			logger := a.logger.Sugar().With("model", modelName)
			fmt.Printf("Converting TorchScript graph from: %s\n", inputFile)
			conv, err := converter.New(g, shapes,
				converter.WithModelName(modelName),
				converter.WithSeed(a.cfg.Seed),
				converter.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			res, err := conv.Convert(cmd.Context())
			if err != nil {
				logger.Errorw("conversion failed", "error", err)
				return err
			}
			if err := res.WriteFiles(outputFile); err != nil {
				logger.Errorw("writing outputs failed", "error", err)
				return err
			}
			logger.Infow("wrote outputs", "module", outputFile, "weights", res.WeightPath(outputFile))

			fmt.Printf("Successfully converted and saved module to: %s\n", outputFile)
			fmt.Printf("Weights saved to: %s\n", res.WeightPath(outputFile))
			return nil
		},
	}
	cmd.Flags().StringVar(&inputShapes, "input-shapes", "", "Input shapes, e.g. '[[1,3,224,224]]'")
	_ = cmd.MarkFlagRequired("input-shapes")
	cmd.Flags().StringVarP(&modelName, "model-name", "n", "", "Model name (defaults to the graph name)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Path for the module text (defaults to <model>_origin.mlir)")
	cmd.Flags().Int64Var(&a.cfg.Seed, "seed", a.cfg.Seed, "Seed of the placeholder inputs used for shape inference")
	return cmd
}

func (a *app) newInspectCmd() *cobra.Command {
	var fileType string
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Summarize a graph dump or a weight archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputFile := args[0]
			kind, err := detectType(inputFile, fileType)
			if err != nil {
				return err
			}
			a.logger.Sugar().Infow("inspecting", "file", inputFile, "type", kind)
			if kind == "graph" {
				return inspector.InspectGraph(inputFile)
			}
			return inspector.InspectWeights(inputFile)
		},
	}
	cmd.Flags().StringVar(&fileType, "type", "", "Type of file to inspect: 'graph' or 'weights'")
	return cmd
}

// bindLogFlags lets the command line override the logging configuration.
func bindLogFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Path of the structured log file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
}

// parseShapes decodes a list of shapes such as [[1,3,224,224],[1,10]].
func parseShapes(s string) ([][]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("--input-shapes is required")
	}
	var shapes [][]int64
	if err := yaml.Unmarshal([]byte(s), &shapes); err != nil {
		return nil, errors.Wrapf(err, "invalid --input-shapes %q", s)
	}
	if len(shapes) == 0 {
		return nil, errors.Errorf("--input-shapes %q declares no inputs", s)
	}
	for i, shape := range shapes {
		for _, d := range shape {
			if d <= 0 {
				return nil, errors.Errorf("input %d has non-positive dimension in %v", i, shape)
			}
		}
	}
	return shapes, nil
}

func defaultModelName(g *torchscript.Graph, inputFile string) string {
	if g.Name != "" {
		return g.Name
	}
	base := filepath.Base(inputFile)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func detectType(inputFile, fileType string) (string, error) {
	detected := strings.ToLower(fileType)
	if detected == "" {
		switch ext := strings.ToLower(filepath.Ext(inputFile)); ext {
		case ".json", ".yaml", ".yml":
			detected = "graph"
		case ".zmf":
			detected = "weights"
		default:
			return "", errors.Errorf("could not infer file type from extension '%s', please specify --type", ext)
		}
	}
	if detected != "graph" && detected != "weights" {
		return "", errors.Errorf("unsupported file type '%s', must be 'graph' or 'weights'", detected)
	}
	return detected, nil
}
