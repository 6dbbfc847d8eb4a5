package seqflow

import (
	"math"
	"math/rand"
)

// WeightInit selects how weight parameters are drawn at Init time.
type WeightInit string

const (
	WeightInitXavier        WeightInit = "XAVIER"
	WeightInitXavierUniform WeightInit = "XAVIER_UNIFORM"
	WeightInitRelu          WeightInit = "RELU"
	WeightInitReluUniform   WeightInit = "RELU_UNIFORM"
	WeightInitLecunNormal   WeightInit = "LECUN_NORMAL"
	WeightInitZero          WeightInit = "ZERO"
	WeightInitOnes          WeightInit = "ONES"
	// WeightInitDistribution samples every weight from the configured Distribution.
	WeightInitDistribution WeightInit = "DISTRIBUTION"
)

func (w WeightInit) validate(dist *Distribution) error {
	switch w {
	case WeightInitXavier, WeightInitXavierUniform, WeightInitRelu, WeightInitReluUniform,
		WeightInitLecunNormal, WeightInitZero, WeightInitOnes:
		return nil
	case WeightInitDistribution:
		if dist == nil {
			return errorf("weight init DISTRIBUTION requires a distribution")
		}
		return dist.validate()
	case "":
		return errorf("weight init is required - set it globally or per layer")
	}
	return errorf("unknown weight init %q", string(w))
}

func (w WeightInit) initialize(t *tensor, fanIn, fanOut int, dist *Distribution, rng *rand.Rand) {
	switch w {
	case WeightInitXavier:
		t.fillRandNorm(0, math.Sqrt(2.0/float64(fanIn+fanOut)), rng)
	case WeightInitXavierUniform:
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		t.fillRandUniform(-limit, limit, rng)
	case WeightInitRelu:
		t.fillRandNorm(0, math.Sqrt(2.0/float64(fanIn)), rng)
	case WeightInitReluUniform:
		limit := math.Sqrt(6.0 / float64(fanIn))
		t.fillRandUniform(-limit, limit, rng)
	case WeightInitLecunNormal:
		t.fillRandNorm(0, math.Sqrt(1.0/float64(fanIn)), rng)
	case WeightInitZero:
		t.fill(0)
	case WeightInitOnes:
		t.fill(1)
	case WeightInitDistribution:
		for i := range t.data {
			t.data[i] = dist.sample(rng)
		}
	}
}
