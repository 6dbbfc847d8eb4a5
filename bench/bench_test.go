package bench

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/stretchr/testify/require"

	"seqflow/models"
	seqflow "seqflow/src"
)

var testYaml = `
model: MLPMnistSingleLayer
batch_size: 4
seq_length: 7
iterations: 3
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigYaml(t *testing.T) {
	cfg, err := LoadConfig(rawbytes.Provider([]byte(testYaml)))
	require.NoError(t, err)
	require.Equal(t, "MLPMnistSingleLayer", cfg.Model)
	require.Equal(t, 4, cfg.BatchSize)
	require.Equal(t, 7, cfg.SeqLength)
	require.Equal(t, 3, cfg.Iterations)
	// Unset keys keep their defaults.
	require.Equal(t, DefaultConfig().Warmup, cfg.Warmup)
	require.Equal(t, DefaultConfig().Seed, cfg.Seed)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SEQBENCH_BATCH_SIZE", "16")
	t.Setenv("SEQBENCH_PRINT_EVERY", "5")

	cfg, err := LoadConfig(rawbytes.Provider([]byte(testYaml)))
	require.NoError(t, err)
	require.Equal(t, 16, cfg.BatchSize)
	require.Equal(t, 5, cfg.PrintEvery)
	require.Equal(t, 3, cfg.Iterations)
}

func TestLoadConfigInvalid(t *testing.T) {
	_, err := LoadConfig(rawbytes.Provider([]byte("batch_size: 0\n")))
	require.Error(t, err)
	require.Contains(t, err.Error(), "batch_size")

	_, err = LoadConfig(rawbytes.Provider([]byte("model: [unclosed\n")))
	require.Error(t, err)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model = "MLPMnistSingleLayer"
	cfg.Iterations = 42
	cfg.PrintEvery = 7

	path := filepath.Join(t.TempDir(), "bench.yaml")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteConfig(cfg, f))
	require.NoError(t, f.Close())

	loaded, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no model", func(c *Config) { c.Model = "" }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero sequence", func(c *Config) { c.SeqLength = 0 }},
		{"zero iterations", func(c *Config) { c.Iterations = 0 }},
		{"negative warmup", func(c *Config) { c.Warmup = -1 }},
		{"negative print", func(c *Config) { c.PrintEvery = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSynthesize(t *testing.T) {
	conf, err := models.RNNModelMLN{}.Conf()
	require.NoError(t, err)

	x, y := Synthesize(conf, 3, 5, 1)
	require.Len(t, x, 3)
	require.Len(t, y, 3)
	for i := range x {
		require.Len(t, x[i], 5*64)
		require.Len(t, y[i], 5*10)
		ones := 0.0
		for _, v := range y[i] {
			ones += v
		}
		require.Equal(t, 5.0, ones)
	}

	x2, y2 := Synthesize(conf, 3, 5, 1)
	require.Equal(t, x, x2)
	require.Equal(t, y, y2)

	mlp, err := models.MLPMnistSingleLayer{}.Conf()
	require.NoError(t, err)
	x, y = Synthesize(mlp, 2, 5, 1)
	require.Len(t, x[0], 784)
	require.Len(t, y[0], 10)
}

// tinyModel keeps runner tests fast.
type tinyModel struct{}

func (tinyModel) Name() string    { return "tiny" }
func (tinyModel) InputSize() int  { return 3 }
func (tinyModel) NumClasses() int { return 2 }

func (tinyModel) Conf() (*seqflow.MultiLayerConfiguration, error) {
	return seqflow.NewConfig().
		Seed(1).
		Updater(seqflow.NewAdam(0.01)).
		WeightInit(seqflow.WeightInitXavier).
		List().
		Layer(seqflow.LSTM(4).WithActivation(seqflow.ActivationTanh).Build()).
		Layer(seqflow.RnnOutput(2, seqflow.LossMCXENT).WithActivation(seqflow.ActivationSoftmax).Build()).
		SetInputType(seqflow.InputTypeRecurrent(3)).
		Build()
}

func (m tinyModel) Model() (*seqflow.MultiLayerNetwork, error) {
	conf, err := m.Conf()
	if err != nil {
		return nil, err
	}
	return seqflow.NewMultiLayerNetwork(conf), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRunnerRun(t *testing.T) {
	cfg := Config{Model: "tiny", BatchSize: 4, SeqLength: 5, Iterations: 3, Warmup: 2, Seed: 9, PrintEvery: 1}
	rep, err := NewRunner(cfg, testLogger()).Run(context.Background(), tinyModel{})
	require.NoError(t, err)

	require.Equal(t, "tiny", rep.Model)
	require.Equal(t, 3*16+4*16+16+4*2+2, rep.Params)
	require.Greater(t, rep.Fit, time.Duration(0))
	require.Greater(t, rep.FirstScore, 0.0)
	require.Greater(t, rep.FinalScore, 0.0)
	require.Greater(t, rep.TotalAlloc, uint64(0))
	require.Greater(t, rep.SamplesPerSecond(), 0.0)
	require.Greater(t, rep.MeanIteration, time.Duration(0))
	require.LessOrEqual(t, rep.MeanIteration*time.Duration(rep.Iterations), rep.Fit)

	out := rep.Format()
	require.Contains(t, out, "Model:          tiny")
	require.Contains(t, out, "samples/sec")
}

func TestRunnerRNNModelMLN(t *testing.T) {
	cfg := Config{Model: "RNNModelMLN", BatchSize: 2, SeqLength: 3, Iterations: 1, Seed: 3}
	rep, err := NewRunner(cfg, testLogger()).Run(context.Background(), models.RNNModelMLN{})
	require.NoError(t, err)

	net, err := models.RNNModelMLN{}.Model()
	require.NoError(t, err)
	require.Equal(t, net.NumParams(), rep.Params)
}

func TestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{Model: "tiny", BatchSize: 2, SeqLength: 2, Iterations: 5, Seed: 1}
	_, err := NewRunner(cfg, testLogger()).Run(ctx, tinyModel{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunnerInvalidConfig(t *testing.T) {
	_, err := NewRunner(Config{}, nil).Run(context.Background(), tinyModel{})
	require.Error(t, err)
}

func TestReportFormat(t *testing.T) {
	rep := &Report{
		Model:      "m",
		Params:     1234567,
		BatchSize:  10,
		Iterations: 4,
		Fit:        2 * time.Second,
		TotalAlloc: 3 * 1000 * 1000,
	}
	require.Equal(t, 500*time.Millisecond, rep.FitPerIteration())
	require.InDelta(t, 20.0, rep.SamplesPerSecond(), 1e-9)

	out := rep.Format()
	require.Contains(t, out, "1,234,567")
	require.Contains(t, out, "3.0 MB")
	require.Contains(t, (&Report{}).Format(), "0 samples/sec")
}
