package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"seqflow/bench"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	require.Equal(t, "MLPMnistSingleLayer\nRNNModelMLN\n", out)
}

func TestDescribeCommand(t *testing.T) {
	out, err := execute(t, "describe", "RNNModelMLN")
	require.NoError(t, err)
	require.Contains(t, out, "GravesBidirectionalLSTM")
	require.Contains(t, out, "Bidirectional(SimpleRnn,CONCAT)")
	require.Contains(t, out, "Total parameters:")

	out, err = execute(t, "describe", "RNNModelMLN", "--json")
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded["layers"], 6)

	_, err = execute(t, "describe", "NoSuchModel")
	require.Error(t, err)

	_, err = execute(t, "describe")
	require.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	cfg := bench.DefaultConfig()
	cfg.Model = "MLPMnistSingleLayer"
	cfg.BatchSize = 64
	cfg.Iterations = 9

	path := filepath.Join(t.TempDir(), "bench.yaml")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, bench.WriteConfig(cfg, f))
	require.NoError(t, f.Close())

	// Flags win over the file.
	out, err := execute(t, "run", "--config", path,
		"--model", "RNNModelMLN", "--batch-size", "2", "--seq-length", "2", "--iterations", "1", "--warmup", "0")
	require.NoError(t, err)
	require.Contains(t, out, "Model:          RNNModelMLN")
	require.Contains(t, out, "Batch:          2 x 2 steps")
	require.Contains(t, out, "(1 iterations")
}

func TestRunCommandErrors(t *testing.T) {
	_, err := execute(t, "run", "--model", "NoSuchModel")
	require.Error(t, err)

	_, err = execute(t, "run", "--batch-size", "0")
	require.Error(t, err)

	_, err = execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
