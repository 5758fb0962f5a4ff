package cli

import (
	"strings"

	"github.com/gomlx/onnx-lower/onnx"
	"github.com/spf13/cobra"
)

// NewOpsCommand creates the ops command, listing the supported ONNX operators.
func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the supported ONNX operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			names := onnx.DefaultRegistry().Names()
			return formatter.Success(strings.Join(names, "\n")+"\n", names)
		},
	}
}
