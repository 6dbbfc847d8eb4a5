package bench

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Report holds the timings and memory figures of one benchmark run.
type Report struct {
	Model      string
	Params     int
	BatchSize  int
	SeqLength  int
	Iterations int
	Warmup     int

	Build      time.Duration
	Init       time.Duration
	WarmupTime time.Duration
	Fit        time.Duration
	Inference  time.Duration
	// MeanIteration is measured between listener callbacks.
	MeanIteration time.Duration

	FirstScore float64
	FinalScore float64

	TotalAlloc uint64
	HeapInUse  uint64
	NumGC      uint32
}

// FitPerIteration is the wall time of the fit loop divided by its iterations.
func (r *Report) FitPerIteration() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Fit / time.Duration(r.Iterations)
}

// SamplesPerSecond is the training throughput in examples per second.
func (r *Report) SamplesPerSecond() float64 {
	if r.Fit <= 0 {
		return 0
	}
	return float64(r.BatchSize*r.Iterations) / r.Fit.Seconds()
}

func (r *Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model:          %s\n", r.Model)
	fmt.Fprintf(&b, "Parameters:     %s\n", humanize.Comma(int64(r.Params)))
	fmt.Fprintf(&b, "Batch:          %d x %d steps\n", r.BatchSize, r.SeqLength)
	fmt.Fprintf(&b, "Build:          %s\n", r.Build)
	fmt.Fprintf(&b, "Init:           %s\n", r.Init)
	fmt.Fprintf(&b, "Warmup:         %s (%d iterations)\n", r.WarmupTime, r.Warmup)
	fmt.Fprintf(&b, "Fit:            %s (%d iterations, %s/iteration)\n", r.Fit, r.Iterations, r.FitPerIteration())
	fmt.Fprintf(&b, "Throughput:     %s samples/sec\n", humanize.CommafWithDigits(r.SamplesPerSecond(), 1))
	fmt.Fprintf(&b, "Inference:      %s\n", r.Inference)
	fmt.Fprintf(&b, "Score:          %.6f -> %.6f\n", r.FirstScore, r.FinalScore)
	fmt.Fprintf(&b, "Allocated:      %s (%d GC cycles)\n", humanize.Bytes(r.TotalAlloc), r.NumGC)
	fmt.Fprintf(&b, "Heap in use:    %s\n", humanize.Bytes(r.HeapInUse))
	return b.String()
}
