package seqflow

import "math"

// LossFunction names the objective attached to an output layer.
type LossFunction string

const (
	// LossMCXENT is multi-class cross entropy; pair it with softmax.
	LossMCXENT                LossFunction = "MCXENT"
	LossNegativeLogLikelihood LossFunction = "NEGATIVELOGLIKELIHOOD"
	LossMSE                   LossFunction = "MSE"
	// LossXENT is binary cross entropy; pair it with sigmoid.
	LossXENT LossFunction = "XENT"
	LossL1   LossFunction = "L1"
)

const lossEps = 1e-10

// lossFn scores predictions row by row. Both methods sum over rows; the
// caller divides by the number of examples.
type lossFn interface {
	score(pred, labels *tensor) float64
	gradient(pred, labels, grad *tensor)
}

func (l LossFunction) fn() (lossFn, error) {
	switch l {
	case LossMCXENT, LossNegativeLogLikelihood:
		return mcxentLoss{}, nil
	case LossMSE:
		return mseLoss{}, nil
	case LossXENT:
		return xentLoss{}, nil
	case LossL1:
		return l1Loss{}, nil
	}
	return nil, errorf("unknown loss function %q", string(l))
}

// fusedWithSoftmax reports whether the output gradient is taken as p - t.
func (l LossFunction) fusedWithSoftmax(act Activation) bool {
	return act == ActivationSoftmax && (l == LossMCXENT || l == LossNegativeLogLikelihood)
}

type mcxentLoss struct{}

func (mcxentLoss) score(pred, labels *tensor) float64 {
	sum := 0.0
	for i, t := range labels.data {
		if t != 0 {
			sum -= t * math.Log(math.Max(pred.data[i], lossEps))
		}
	}
	return sum
}

func (mcxentLoss) gradient(pred, labels, grad *tensor) {
	for i, t := range labels.data {
		grad.data[i] = -t / math.Max(pred.data[i], lossEps)
	}
}

// mseLoss averages squared error over the output columns of each row.
type mseLoss struct{}

func (mseLoss) score(pred, labels *tensor) float64 {
	sum := 0.0
	for i := range pred.data {
		d := pred.data[i] - labels.data[i]
		sum += d * d
	}
	return sum / float64(pred.cols())
}

func (mseLoss) gradient(pred, labels, grad *tensor) {
	scale := 2.0 / float64(pred.cols())
	for i := range pred.data {
		grad.data[i] = scale * (pred.data[i] - labels.data[i])
	}
}

type xentLoss struct{}

func (xentLoss) score(pred, labels *tensor) float64 {
	sum := 0.0
	for i, t := range labels.data {
		p := math.Min(math.Max(pred.data[i], lossEps), 1-lossEps)
		sum -= t*math.Log(p) + (1-t)*math.Log(1-p)
	}
	return sum
}

func (xentLoss) gradient(pred, labels, grad *tensor) {
	for i, t := range labels.data {
		p := math.Min(math.Max(pred.data[i], lossEps), 1-lossEps)
		grad.data[i] = (p - t) / (p * (1 - p))
	}
}

type l1Loss struct{}

func (l1Loss) score(pred, labels *tensor) float64 {
	sum := 0.0
	for i := range pred.data {
		sum += math.Abs(pred.data[i] - labels.data[i])
	}
	return sum
}

func (l1Loss) gradient(pred, labels, grad *tensor) {
	for i := range pred.data {
		switch d := pred.data[i] - labels.data[i]; {
		case d > 0:
			grad.data[i] = 1
		case d < 0:
			grad.data[i] = -1
		default:
			grad.data[i] = 0
		}
	}
}
