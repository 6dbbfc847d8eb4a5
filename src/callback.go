package seqflow

import (
	"log/slog"
	"sync"
	"time"
)

// TrainingListener is notified by Fit and FitEpochs. Iteration counts start at 1.
type TrainingListener interface {
	IterationDone(net *MultiLayerNetwork, iteration, epoch int)
	OnEpochStart(net *MultiLayerNetwork)
	OnEpochEnd(net *MultiLayerNetwork)
}

// ScoreIterationListener logs the score every PrintIterations iterations
type ScoreIterationListener struct {
	PrintIterations int
	Logger          *slog.Logger
}

func NewScoreIterationListener(printIterations int) *ScoreIterationListener {
	if printIterations <= 0 {
		printIterations = 1
	}
	return &ScoreIterationListener{PrintIterations: printIterations}
}

func (s *ScoreIterationListener) IterationDone(net *MultiLayerNetwork, iteration, epoch int) {
	if iteration%s.PrintIterations != 0 {
		return
	}
	listenerLogger(s.Logger).Info("score", "iteration", iteration, "epoch", epoch, "score", net.Score())
}

func (s *ScoreIterationListener) OnEpochStart(net *MultiLayerNetwork) {}
func (s *ScoreIterationListener) OnEpochEnd(net *MultiLayerNetwork)   {}

// PerformanceListener measures wall time between iterations and logs the
// throughput every Frequency iterations.
type PerformanceListener struct {
	Frequency int
	Logger    *slog.Logger

	mu         sync.Mutex
	last       time.Time
	iterations int
	total      time.Duration
}

func NewPerformanceListener(frequency int) *PerformanceListener {
	if frequency <= 0 {
		frequency = 1
	}
	return &PerformanceListener{Frequency: frequency}
}

func (p *PerformanceListener) IterationDone(net *MultiLayerNetwork, iteration, epoch int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.last.IsZero() {
		p.last = now
		return
	}
	elapsed := now.Sub(p.last)
	p.last = now
	p.iterations++
	p.total += elapsed

	if iteration%p.Frequency == 0 {
		listenerLogger(p.Logger).Info("performance",
			"iteration", iteration,
			"iteration_time", elapsed,
			"iterations_per_sec", 1/elapsed.Seconds(),
			"score", net.Score(),
		)
	}
}

// OnEpochStart resets the clock so time spent between epochs is not counted.
func (p *PerformanceListener) OnEpochStart(net *MultiLayerNetwork) {
	p.mu.Lock()
	p.last = time.Now()
	p.mu.Unlock()
}

func (p *PerformanceListener) OnEpochEnd(net *MultiLayerNetwork) {}

// MeanIterationTime returns the average measured time between iterations.
func (p *PerformanceListener) MeanIterationTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.iterations == 0 {
		return 0
	}
	return p.total / time.Duration(p.iterations)
}

// ScorePoint is one recorded score
type ScorePoint struct {
	Iteration int
	Epoch     int
	Score     float64
}

// CollectScoresListener records the score every Frequency iterations
type CollectScoresListener struct {
	Frequency int

	mu     sync.Mutex
	scores []ScorePoint
}

func NewCollectScoresListener(frequency int) *CollectScoresListener {
	if frequency <= 0 {
		frequency = 1
	}
	return &CollectScoresListener{Frequency: frequency}
}

func (c *CollectScoresListener) IterationDone(net *MultiLayerNetwork, iteration, epoch int) {
	if iteration%c.Frequency != 0 {
		return
	}
	c.mu.Lock()
	c.scores = append(c.scores, ScorePoint{Iteration: iteration, Epoch: epoch, Score: net.Score()})
	c.mu.Unlock()
}

func (c *CollectScoresListener) OnEpochStart(net *MultiLayerNetwork) {}
func (c *CollectScoresListener) OnEpochEnd(net *MultiLayerNetwork)   {}

// Scores returns a copy of the recorded points
func (c *CollectScoresListener) Scores() []ScorePoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ScorePoint(nil), c.scores...)
}

func listenerLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return logger
}
