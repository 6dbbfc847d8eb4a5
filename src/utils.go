package seqflow

import (
	"math"
	"math/rand"
)

// shuffleData shuffles input and label rows in-place
func shuffleData(inputs, labels *tensor, rng *rand.Rand) {
	n := inputs.shape[0]
	inputCols := inputs.size() / n
	labelCols := labels.size() / n

	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		for k := 0; k < inputCols; k++ {
			inputs.data[i*inputCols+k], inputs.data[j*inputCols+k] =
				inputs.data[j*inputCols+k], inputs.data[i*inputCols+k]
		}
		for k := 0; k < labelCols; k++ {
			labels.data[i*labelCols+k], labels.data[j*labelCols+k] =
				labels.data[j*labelCols+k], labels.data[i*labelCols+k]
		}
	}
}

// getBatch extracts a batch from data; the last batch may be short
func getBatch(data *tensor, start, batchSize int) *tensor {
	totalSamples := data.shape[0]
	end := minInt(start+batchSize, totalSamples)

	batch := newTensor(append([]int{end - start}, data.shape[1:]...)...)
	elementsPerSample := data.size() / totalSamples
	copy(batch.data, data.data[start*elementsPerSample:end*elementsPerSample])
	return batch
}

// splitData splits data into train and validation sets; the validation rows
// are taken from the end.
func splitData(inputs, labels *tensor, valSplit float64) (*tensor, *tensor, *tensor, *tensor) {
	n := inputs.shape[0]
	valSize := int(float64(n) * valSplit)
	trainSize := n - valSize
	return getBatch(inputs, 0, trainSize), getBatch(labels, 0, trainSize),
		getBatch(inputs, trainSize, valSize), getBatch(labels, trainSize, valSize)
}

// rowsToTensor packs equally sized rows into a tensor. For recurrent input the
// row width must be a multiple of size; the sequence length is inferred.
func rowsToTensor(rows [][]float64, in InputType) (*tensor, error) {
	if len(rows) == 0 {
		return nil, errorf("no rows provided")
	}
	width := len(rows[0])
	if width == 0 {
		return nil, errorf("row 0 is empty")
	}
	for i, r := range rows {
		if len(r) != width {
			return nil, errorf("row %d has %d values, row 0 has %d", i, len(r), width)
		}
	}

	var t *tensor
	switch in.Kind {
	case InputKindRecurrent:
		if width%in.Size != 0 {
			return nil, errorf("row width %d is not a multiple of %d features", width, in.Size)
		}
		t = newTensor(len(rows), width/in.Size, in.Size)
	default:
		if width != in.Size {
			return nil, errorf("row width %d does not match %d features", width, in.Size)
		}
		t = newTensor(len(rows), in.Size)
	}
	for i, r := range rows {
		copy(t.data[i*width:(i+1)*width], r)
	}
	return t, nil
}

// tensorToRows flattens each example back to a row.
func tensorToRows(t *tensor) [][]float64 {
	n := t.shape[0]
	width := t.size() / n
	out := make([][]float64, n)
	for i := range out {
		out[i] = append([]float64(nil), t.data[i*width:(i+1)*width]...)
	}
	return out
}

// OneHot encodes integer class labels.
func OneHot(labels []int, numClasses int) [][]float64 {
	out := make([][]float64, len(labels))
	for i, label := range labels {
		out[i] = make([]float64, numClasses)
		if label >= 0 && label < numClasses {
			out[i][label] = 1.0
		}
	}
	return out
}

// argmax returns the index of the largest value
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// clip limits every element of t to [lo, hi]
func clip(t *tensor, lo, hi float64) {
	for i, v := range t.data {
		t.data[i] = math.Max(lo, math.Min(hi, v))
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
