package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args, and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "onnx-lower", cmd.Use)
	for _, cmdName := range []string{"lower", "ops"} {
		subCmd, _, err := cmd.Find([]string{cmdName})
		require.NoError(t, err, "Command %s should exist", cmdName)
		assert.Equal(t, cmdName, subCmd.Name())
	}

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	// Both model formats accepted by lower are documented.
	assert.Contains(t, cmd.Long, ".onnx")
	assert.Contains(t, cmd.Long, "YAML")
}

func TestParallelCommands(t *testing.T) {
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for ii := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd := NewRootCommand()
			cmd.SetOut(io.Discard)
			cmd.SetArgs([]string{"-" + strings.Repeat("v", ii%3+1), "ops"})
			errs[ii] = cmd.Execute()
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestLowerGolden(t *testing.T) {
	g := newGoldie(t)
	for _, name := range []string{"qdq", "blocked", "legacy"} {
		t.Run(name, func(t *testing.T) {
			out, err := execute(t, "lower", "testdata/models/"+name+".yaml")
			require.NoError(t, err)
			g.Assert(t, name, []byte(out))
		})
	}

	// The serialized ONNX version of qdq.yaml lowers the same.
	out, err := execute(t, "lower", "testdata/models/qdq.onnx")
	require.NoError(t, err)
	g.Assert(t, "qdq_onnx", []byte(out))

	out, err = execute(t, "--format", "json", "lower", "testdata/models/legacy.yaml")
	require.NoError(t, err)
	g.Assert(t, "legacy_json", []byte(out))
}

func TestLowerErrors(t *testing.T) {
	// legacy.yaml only lowers with opset < 19: x and y_scale types differ.
	_, err := execute(t, "lower", "--opset", "19", "testdata/models/legacy.yaml")
	require.ErrorContains(t, err, "x and y_scale must be of same type")

	out, err := execute(t, "--format", "json", "lower", "--opset", "19", "testdata/models/legacy.yaml")
	require.Error(t, err)
	var response Response
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "error", response.Status)
	assert.Contains(t, response.Error, `node "q" (QuantizeLinear)`)

	_, err = execute(t, "lower", "testdata/models/typo.yaml")
	require.ErrorContains(t, err, "opsett")

	_, err = execute(t, "lower", "testdata/models/missing.yaml")
	require.ErrorContains(t, err, "failed to read model file")

	_, err = execute(t, "lower", "testdata/models/missing.onnx")
	require.ErrorContains(t, err, "failed to read ONNX model file")

	_, err = execute(t, "--format", "xml", "ops")
	require.ErrorContains(t, err, "invalid format")
}

func TestOps(t *testing.T) {
	out, err := execute(t, "ops")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "ops", []byte(out))

	out, err = execute(t, "-vv", "--format", "json", "ops")
	require.NoError(t, err)
	var response struct {
		Status string   `json:"status"`
		Data   []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Contains(t, response.Data, "QuantizeLinear")
}

func TestParseModel(t *testing.T) {
	model, err := ParseModel([]byte(`
name: m
inputs: [{name: x, dtype: int8, dims: [4]}]
initializers: [{name: s, dtype: float32, dims: [], values: [0.5]}]
nodes:
  - op: Cast
    inputs: [x]
    outputs: [y]
    attributes: {to: {dtype: float32}, other: {ints: [1, 2]}, f: {float: 0.5}, s: {string: hi}}
outputs: [y]
`))
	require.NoError(t, err)
	require.Len(t, model.Nodes, 1)
	attrs := model.Nodes[0].Attributes
	require.Equal(t, int64(1), attrs["to"].I)
	require.Equal(t, []int64{1, 2}, attrs["other"].Ints)
	require.Equal(t, float32(0.5), attrs["f"].F)
	require.Equal(t, "hi", attrs["s"].S)
	require.Equal(t, float32(0.5), model.Initializers[0].Value.Value())

	for _, bad := range []string{
		`inputs: [{name: x, dtype: float99, dims: [4]}]`,
		`inputs: [{name: x, dtype: float32, dims: [0]}]`,
		`initializers: [{name: s, dtype: float32, dims: [2], values: [1]}]`,
		`initializers: [{name: s, dtype: float32, dims: [1]}]`,
		`initializers: [{name: s, dtype: float32, dims: [1], values: [1], generate: true}]`,
		`nodes: [{op: Cast, attributes: {to: {int: 1, float: 1}}}]`,
		`nodes: [{name: n, inputs: [x]}]`,
	} {
		_, err := ParseModel([]byte(bad))
		require.Errorf(t, err, "model %q", bad)
	}
}
