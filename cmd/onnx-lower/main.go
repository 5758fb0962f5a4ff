// onnx-lower lowers ONNX graphs, read from .onnx model files or described in YAML, to IR instructions.
package main

import (
	"os"

	"github.com/gomlx/onnx-lower/internal/cli"
	"k8s.io/klog/v2"
)

func main() {
	defer klog.Flush()
	if err := cli.NewRootCommand().Execute(); err != nil {
		klog.Errorf("%v", err)
		os.Exit(1)
	}
}
