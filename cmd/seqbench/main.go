package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"seqflow/bench"
	"seqflow/models"
	seqflow "seqflow/src"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("seqbench failed", "subsystem", "cmd", "error", err)
		os.Exit(1)
	}
}

// NewRootCommand returns the seqbench command tree.
func NewRootCommand() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:           "seqbench",
		Short:         "Build, describe and benchmark the seqflow benchmark models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
			seqflow.SetLogger(logger)
			seqflow.SetDebug(debug)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging and finite checks")

	root.AddCommand(ListCommand(), DescribeCommand(), RunCommand())
	return root
}

func ListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the registered benchmark models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range models.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func DescribeCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "describe [model]",
		Short: "Print a model's layer summary or its JSON configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := models.Get(args[0])
			if err != nil {
				return err
			}
			net, err := m.Model()
			if err != nil {
				return errors.Wrapf(err, "building %s", m.Name())
			}
			if asJSON {
				data, err := net.Conf().ToJSON()
				if err != nil {
					return errors.Wrap(err, "encoding configuration")
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), net.Summary())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the configuration as JSON")
	return cmd
}

func RunCommand() *cobra.Command {
	var configPath string
	var overrides bench.Config
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Time initialisation, training and inference of a model on synthetic data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bench.LoadConfigFile(configPath)
			if err != nil {
				return errors.Wrap(err, "loading benchmark config")
			}
			applyOverrides(cmd.Flags(), &cfg, overrides)
			if err := cfg.Validate(); err != nil {
				return err
			}

			m, err := models.Get(cfg.Model)
			if err != nil {
				return err
			}
			rep, err := bench.NewRunner(cfg, slog.Default()).Run(cmd.Context(), m)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), rep.Format())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML benchmark config")
	addConfigFlags(cmd.Flags(), &overrides)
	return cmd
}

func addConfigFlags(fs *pflag.FlagSet, cfg *bench.Config) {
	def := bench.DefaultConfig()
	fs.StringVarP(&cfg.Model, "model", "m", def.Model, "model name ("+strings.Join(models.Names(), ", ")+")")
	fs.IntVar(&cfg.BatchSize, "batch-size", def.BatchSize, "examples per minibatch")
	fs.IntVar(&cfg.SeqLength, "seq-length", def.SeqLength, "time steps per example")
	fs.IntVar(&cfg.Iterations, "iterations", def.Iterations, "timed fit iterations")
	fs.IntVar(&cfg.Warmup, "warmup", def.Warmup, "untimed fit iterations")
	fs.Int64Var(&cfg.Seed, "seed", def.Seed, "synthetic data seed")
	fs.IntVar(&cfg.PrintEvery, "print-every", def.PrintEvery, "log the score every n iterations")
}

// applyOverrides copies the flags given on the command line over cfg.
func applyOverrides(fs *pflag.FlagSet, cfg *bench.Config, flags bench.Config) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "model":
			cfg.Model = flags.Model
		case "batch-size":
			cfg.BatchSize = flags.BatchSize
		case "seq-length":
			cfg.SeqLength = flags.SeqLength
		case "iterations":
			cfg.Iterations = flags.Iterations
		case "warmup":
			cfg.Warmup = flags.Warmup
		case "seed":
			cfg.Seed = flags.Seed
		case "print-every":
			cfg.PrintEvery = flags.PrintEvery
		}
	})
}
