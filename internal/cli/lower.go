package cli

import (
	"path/filepath"
	"strings"

	"github.com/gomlx/onnx-lower/ir"
	"github.com/gomlx/onnx-lower/onnx"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// LowerOptions holds the flags of the lower command.
type LowerOptions struct {
	*RootOptions
	Opset int
}

// NewLowerCommand creates the lower command.
func NewLowerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LowerOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "lower <model.onnx|graph.yaml>",
		Short: "Lower an ONNX graph and print the IR",
		Long: `Lower reads an ONNX model file, or an ONNX graph described in YAML, validates and
lowers each node needed by the graph outputs, and prints the resulting IR instructions.

Files with the .onnx extension are read as serialized ONNX models, any other as YAML.

The opset version is taken from the file, unless overridden with --opset.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			g, err := runLower(opts, args[0])
			if err != nil {
				klog.V(1).Infof("lower %q failed: %+v", args[0], err)
				return formatter.Error(err)
			}
			return formatter.Success(g.String(), graphJSON(g))
		},
	}
	cmd.Flags().IntVar(&opts.Opset, "opset", 0, "opset version of the default ONNX domain, overrides the model's")
	return cmd
}

func runLower(opts *LowerOptions, path string) (*ir.Graph, error) {
	var (
		model *onnx.Model
		err   error
	)
	if strings.EqualFold(filepath.Ext(path), ".onnx") {
		model, err = onnx.ReadFile(path)
	} else {
		model, err = LoadModel(path)
	}
	if err != nil {
		return nil, err
	}
	converter := &onnx.Converter{Opset: opts.Opset}
	return converter.Convert(model)
}

// InstructionJSON is the JSON rendering of one IR instruction.
type InstructionJSON struct {
	ID     int    `json:"id"`
	Op     string `json:"op"`
	Name   string `json:"name,omitempty"`
	Inputs []int  `json:"inputs,omitempty"`
	Shape  string `json:"shape"`
}

// GraphJSON is the JSON rendering of an IR graph.
type GraphJSON struct {
	Name         string            `json:"name"`
	Instructions []InstructionJSON `json:"instructions"`
	Outputs      []int             `json:"outputs"`
}

func graphJSON(g *ir.Graph) *GraphJSON {
	result := &GraphJSON{Name: g.Name()}
	for _, ins := range g.Instructions() {
		insJSON := InstructionJSON{
			ID:    ins.ID(),
			Op:    ins.Op().String(),
			Name:  ins.Name(),
			Shape: ir.FormatShape(ins.Shape()),
		}
		for _, input := range ins.Inputs() {
			insJSON.Inputs = append(insJSON.Inputs, input.ID())
		}
		result.Instructions = append(result.Instructions, insJSON)
	}
	for _, output := range g.Outputs() {
		result.Outputs = append(result.Outputs, output.ID())
	}
	return result
}
