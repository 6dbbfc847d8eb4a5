// Package bench times model construction, training and inference for the
// registered benchmark models.
package bench

import (
	"io"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// EnvPrefix selects environment overrides, e.g. SEQBENCH_BATCH_SIZE=8.
const EnvPrefix = "SEQBENCH_"

type Config struct {
	Model      string `koanf:"model"`
	BatchSize  int    `koanf:"batch_size"`
	SeqLength  int    `koanf:"seq_length"`
	Iterations int    `koanf:"iterations"`
	Warmup     int    `koanf:"warmup"`
	Seed       int64  `koanf:"seed"`
	// PrintEvery logs the score every n iterations; 0 disables it.
	PrintEvery int `koanf:"print_every"`
}

func DefaultConfig() Config {
	return Config{
		Model:      "RNNModelMLN",
		BatchSize:  32,
		SeqLength:  20,
		Iterations: 10,
		Warmup:     2,
		Seed:       12345,
	}
}

func (c Config) Validate() error {
	if c.Model == "" {
		return errors.New("model is required")
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0, got %d", c.BatchSize)
	}
	if c.SeqLength <= 0 {
		return errors.Errorf("seq_length must be > 0, got %d", c.SeqLength)
	}
	if c.Iterations <= 0 {
		return errors.Errorf("iterations must be > 0, got %d", c.Iterations)
	}
	if c.Warmup < 0 {
		return errors.Errorf("warmup must be >= 0, got %d", c.Warmup)
	}
	if c.PrintEvery < 0 {
		return errors.Errorf("print_every must be >= 0, got %d", c.PrintEvery)
	}
	return nil
}

// LoadConfig layers defaults, the YAML read from provider (may be nil) and
// SEQBENCH_ environment variables, in that order.
func LoadConfig(provider koanf.Provider) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "loading defaults")
	}
	if provider != nil {
		if err := k.Load(provider, yaml.Parser()); err != nil {
			return Config{}, errors.Wrap(err, "loading config")
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil)
	if err != nil {
		return Config{}, errors.Wrap(err, "loading env")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshalling config")
	}
	return cfg, cfg.Validate()
}

// LoadConfigFile reads path, or only defaults and env when path is empty.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return LoadConfig(nil)
	}
	return LoadConfig(file.Provider(path))
}

// WriteConfig renders cfg as YAML.
func WriteConfig(cfg Config, w io.Writer) error {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return errors.Wrap(err, "loading config")
	}
	out, err := k.Marshal(yaml.Parser())
	if err != nil {
		return errors.Wrap(err, "marshalling config")
	}
	_, err = w.Write(out)
	return err
}
