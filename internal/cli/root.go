// Package cli implements the onnx-lower command line.
package cli

import (
	"flag"
	"slices"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbosity int
	Format    string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the onnx-lower CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "onnx-lower",
		Short: "Lower ONNX graphs to the IR",
		Long: `onnx-lower validates ONNX graphs, read from .onnx model files or described in YAML,
and lowers their nodes to IR instructions, printing the resulting instruction graph.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return errors.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return setVerbosity(opts.Verbosity)
		},
	}

	cmd.PersistentFlags().CountVarP(&opts.Verbosity, "verbose", "v", "log verbosity, repeat to increase (-vv)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewLowerCommand(opts))
	cmd.AddCommand(NewOpsCommand(opts))
	return cmd
}

// klogFlags holds klog's flags, registered once for all root commands.
var klogFlags = sync.OnceValue(func() *flag.FlagSet {
	flags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(flags)
	return flags
})

// setVerbosity sets the klog verbosity level, logging to stderr.
func setVerbosity(level int) error {
	if err := klogFlags().Set("v", strconv.Itoa(level)); err != nil {
		return errors.Wrap(err, "failed to set log verbosity")
	}
	return nil
}
