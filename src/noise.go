package seqflow

import (
	"math"
	"math/rand"
)

// DistributionType names a sampling distribution.
type DistributionType string

const (
	DistributionNormal  DistributionType = "normal"
	DistributionUniform DistributionType = "uniform"
)

// Distribution is used by WeightInitDistribution and by WeightNoise.
type Distribution struct {
	Type  DistributionType `json:"type"`
	Mean  float64          `json:"mean,omitempty"`
	Std   float64          `json:"std,omitempty"`
	Lower float64          `json:"lower,omitempty"`
	Upper float64          `json:"upper,omitempty"`
}

func NormalDistribution(mean, std float64) *Distribution {
	return &Distribution{Type: DistributionNormal, Mean: mean, Std: std}
}

func UniformDistribution(lower, upper float64) *Distribution {
	return &Distribution{Type: DistributionUniform, Lower: lower, Upper: upper}
}

func (d *Distribution) validate() error {
	switch d.Type {
	case DistributionNormal:
		if d.Std < 0 || math.IsNaN(d.Std) {
			return errorf("normal distribution std must be >= 0, got %v", d.Std)
		}
	case DistributionUniform:
		if d.Upper < d.Lower {
			return errorf("uniform distribution upper %v < lower %v", d.Upper, d.Lower)
		}
	default:
		return errorf("unknown distribution %q", string(d.Type))
	}
	return nil
}

func (d *Distribution) sample(rng *rand.Rand) float64 {
	if d.Type == DistributionUniform {
		return d.Lower + rng.Float64()*(d.Upper-d.Lower)
	}
	return d.Mean + d.Std*rng.NormFloat64()
}

// WeightNoise perturbs weights for the duration of a training iteration.
// Additive noise computes w + n, multiplicative noise computes w * n.
// Gradients computed against the noisy weights are applied to the clean ones.
type WeightNoise struct {
	Distribution *Distribution `json:"distribution"`
	Additive     bool          `json:"additive"`
	ApplyToBias  bool          `json:"applyToBias"`
}

func NewWeightNoise(dist *Distribution, additive bool) *WeightNoise {
	return &WeightNoise{Distribution: dist, Additive: additive}
}

func (w *WeightNoise) validate() error {
	if w.Distribution == nil {
		return errorf("weight noise requires a distribution")
	}
	return w.Distribution.validate()
}

// perturb applies noise to every eligible parameter in place and
// returns a function that restores the clean values.
func (w *WeightNoise) perturb(params []*param, rng *rand.Rand) (restore func()) {
	var saved [][]float64
	var touched []*param
	for _, p := range params {
		if p.bias && !w.ApplyToBias {
			continue
		}
		saved = append(saved, append([]float64(nil), p.value.data...))
		touched = append(touched, p)
		for i, v := range p.value.data {
			n := w.Distribution.sample(rng)
			if w.Additive {
				p.value.data[i] = v + n
			} else {
				p.value.data[i] = v * n
			}
		}
	}
	return func() {
		for i, p := range touched {
			copy(p.value.data, saved[i])
		}
	}
}
