package bench

import (
	"math/rand"

	seqflow "seqflow/src"
)

// Synthesize returns batch random examples shaped for conf's input type.
// Recurrent examples get a random class for every time step.
func Synthesize(conf *seqflow.MultiLayerConfiguration, batch, seqLength int, seed int64) ([][]float64, [][]float64) {
	rng := rand.New(rand.NewSource(seed))
	in := conf.InputType
	numClasses := conf.OutputType().Size

	steps := 1
	if in.Kind == seqflow.InputKindRecurrent {
		steps = seqLength
	}

	features := make([][]float64, batch)
	labels := make([][]float64, batch)
	for i := range features {
		features[i] = make([]float64, steps*in.Size)
		for j := range features[i] {
			features[i][j] = rng.NormFloat64()
		}

		classes := make([]int, steps)
		for t := range classes {
			classes[t] = rng.Intn(numClasses)
		}
		for _, row := range seqflow.OneHot(classes, numClasses) {
			labels[i] = append(labels[i], row...)
		}
	}
	return features, labels
}
