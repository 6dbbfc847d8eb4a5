package seqflow

import "math"

// Regularizer adds a penalty on weight parameters. Biases are never regularized.
type Regularizer interface {
	score(weights *tensor) float64
	gradient(weights *tensor, grad *tensor)
	name() string
}

// L1Regularizer - Lasso regularization
type L1Regularizer struct {
	Lambda float64
}

func L1(lambda float64) Regularizer {
	return &L1Regularizer{Lambda: lambda}
}

func (l *L1Regularizer) score(weights *tensor) float64 {
	sum := 0.0
	for _, v := range weights.data {
		sum += math.Abs(v)
	}
	return l.Lambda * sum
}

func (l *L1Regularizer) gradient(weights *tensor, grad *tensor) {
	for i, v := range weights.data {
		if v > 0 {
			grad.data[i] += l.Lambda
		} else if v < 0 {
			grad.data[i] -= l.Lambda
		}
	}
}

func (l *L1Regularizer) name() string { return "l1" }

// L2Regularizer - Ridge regularization, 0.5 * lambda * sum(w^2)
type L2Regularizer struct {
	Lambda float64
}

func L2(lambda float64) Regularizer {
	return &L2Regularizer{Lambda: lambda}
}

func (l *L2Regularizer) score(weights *tensor) float64 {
	sum := 0.0
	for _, v := range weights.data {
		sum += v * v
	}
	return 0.5 * l.Lambda * sum
}

func (l *L2Regularizer) gradient(weights *tensor, grad *tensor) {
	for i, v := range weights.data {
		grad.data[i] += l.Lambda * v
	}
}

func (l *L2Regularizer) name() string { return "l2" }

// regularizersFor turns resolved layer coefficients into the list applied
// during training. Zero coefficients are skipped.
func regularizersFor(l1, l2 float64) []Regularizer {
	var regs []Regularizer
	if l1 > 0 {
		regs = append(regs, L1(l1))
	}
	if l2 > 0 {
		regs = append(regs, L2(l2))
	}
	return regs
}
