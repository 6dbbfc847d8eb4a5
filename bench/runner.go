package bench

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/pkg/errors"

	"seqflow/models"
	seqflow "seqflow/src"
)

type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner returns a runner for cfg. A nil logger uses slog.Default.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger.With("subsystem", "bench")}
}

// Run builds, initialises, trains and queries m on synthetic data. The
// context is checked between iterations.
func (r *Runner) Run(ctx context.Context, m models.BenchmarkModel) (*Report, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	rep := &Report{
		Model:      m.Name(),
		BatchSize:  r.cfg.BatchSize,
		SeqLength:  r.cfg.SeqLength,
		Iterations: r.cfg.Iterations,
		Warmup:     r.cfg.Warmup,
	}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	start := time.Now()
	net, err := m.Model()
	if err != nil {
		return nil, errors.Wrapf(err, "building %s", m.Name())
	}
	rep.Build = time.Since(start)

	start = time.Now()
	if err := net.Init(); err != nil {
		return nil, errors.Wrapf(err, "initialising %s", m.Name())
	}
	rep.Init = time.Since(start)
	rep.Params = net.NumParams()
	r.logger.Info("model initialised", "model", m.Name(), "params", rep.Params, "init", rep.Init)

	if r.cfg.PrintEvery > 0 {
		score := seqflow.NewScoreIterationListener(r.cfg.PrintEvery)
		score.Logger = r.logger
		net.SetListeners(score)
	}

	features, labels := Synthesize(net.Conf(), r.cfg.BatchSize, r.cfg.SeqLength, r.cfg.Seed)

	start = time.Now()
	for i := 0; i < r.cfg.Warmup; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "warmup")
		}
		if _, err := net.Fit(features, labels); err != nil {
			return nil, errors.Wrapf(err, "warmup iteration %d", i)
		}
	}
	rep.WarmupTime = time.Since(start)

	// Only the timed iterations feed the performance listener.
	perf := seqflow.NewPerformanceListener(r.cfg.Iterations + 1)
	perf.Logger = r.logger
	net.AddListeners(perf)

	start = time.Now()
	perf.OnEpochStart(net)
	for i := 0; i < r.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "fit")
		}
		score, err := net.Fit(features, labels)
		if err != nil {
			return nil, errors.Wrapf(err, "fit iteration %d", i)
		}
		if i == 0 {
			rep.FirstScore = score
		}
		rep.FinalScore = score
	}
	rep.Fit = time.Since(start)
	rep.MeanIteration = perf.MeanIterationTime()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "inference")
	}
	start = time.Now()
	if _, err := net.Output(features); err != nil {
		return nil, errors.Wrap(err, "inference")
	}
	rep.Inference = time.Since(start)

	runtime.ReadMemStats(&after)
	rep.TotalAlloc = after.TotalAlloc - before.TotalAlloc
	rep.HeapInUse = after.HeapInuse
	rep.NumGC = after.NumGC - before.NumGC

	r.logger.Info("benchmark finished", "model", m.Name(), "fit", rep.Fit, "final_score", rep.FinalScore)
	return rep, nil
}
