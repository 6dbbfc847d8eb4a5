package seqflow

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// tensor is the internal row-major buffer. Recurrent activations use the
// layout [batch, seqLen, features]; feed-forward activations use [batch, features].
type tensor struct {
	data  []float64
	shape []int
}

func newTensor(shape ...int) *tensor {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return &tensor{
		data:  make([]float64, size),
		shape: append([]int(nil), shape...),
	}
}

func (t *tensor) size() int {
	return len(t.data)
}

func (t *tensor) fill(value float64) {
	for i := range t.data {
		t.data[i] = value
	}
}

func (t *tensor) fillRandNorm(mean, std float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.NormFloat64()*std + mean
	}
}

func (t *tensor) fillRandUniform(low, high float64, rng *rand.Rand) {
	for i := range t.data {
		t.data[i] = rng.Float64()*(high-low) + low
	}
}

func (t *tensor) zero() {
	t.fill(0)
}

func (t *tensor) clone() *tensor {
	nt := newTensor(t.shape...)
	copy(nt.data, t.data)
	return nt
}

// rows views the tensor as a matrix whose last dimension is the column count.
func (t *tensor) rows() int {
	return len(t.data) / t.shape[len(t.shape)-1]
}

func (t *tensor) cols() int {
	return t.shape[len(t.shape)-1]
}

// dense wraps the backing slice; writes through the matrix land in t.data.
func (t *tensor) dense() *mat.Dense {
	return mat.NewDense(t.rows(), t.cols(), t.data)
}

// matmul computes out = a @ b.
func matmul(a, b, out *tensor) {
	out.dense().Mul(a.dense(), b.dense())
}

// matmulAcc computes out += a @ b.
func matmulAcc(a, b, out *tensor) {
	tmp := newTensor(out.shape...)
	tmp.dense().Mul(a.dense(), b.dense())
	floats.Add(out.data, tmp.data)
}

// matmulTransAAcc computes out += a^T @ b.
func matmulTransAAcc(a, b, out *tensor) {
	tmp := newTensor(out.shape...)
	tmp.dense().Mul(a.dense().T(), b.dense())
	floats.Add(out.data, tmp.data)
}

// matmulTransB computes out = a @ b^T.
func matmulTransB(a, b, out *tensor) {
	out.dense().Mul(a.dense(), b.dense().T())
}

// addRowVec adds vec to every row of a.
func addRowVec(a, vec *tensor) {
	n := len(vec.data)
	for r := 0; r < len(a.data)/n; r++ {
		floats.Add(a.data[r*n:(r+1)*n], vec.data)
	}
}

// sumRowsAcc accumulates the column sums of a into out.
func sumRowsAcc(a, out *tensor) {
	n := len(out.data)
	for r := 0; r < len(a.data)/n; r++ {
		floats.Add(out.data, a.data[r*n:(r+1)*n])
	}
}

func mulScalar(a *tensor, s float64) {
	floats.Scale(s, a.data)
}

func elemMul(a, b, out *tensor) {
	floats.MulTo(out.data, a.data, b.data)
}

func l2Norm(a *tensor) float64 {
	return floats.Norm(a.data, 2)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// timeStep copies x[:, t, :] out of a [batch, seqLen, features] tensor.
func timeStep(x *tensor, t int) *tensor {
	batch, seqLen, features := x.shape[0], x.shape[1], x.shape[2]
	out := newTensor(batch, features)
	for b := 0; b < batch; b++ {
		src := (b*seqLen + t) * features
		copy(out.data[b*features:(b+1)*features], x.data[src:src+features])
	}
	return out
}

// setTimeStep writes v ([batch, features]) into x[:, t, :].
func setTimeStep(x *tensor, t int, v *tensor) {
	batch, seqLen, features := x.shape[0], x.shape[1], x.shape[2]
	for b := 0; b < batch; b++ {
		dst := (b*seqLen + t) * features
		copy(x.data[dst:dst+features], v.data[b*features:(b+1)*features])
	}
}

// addTimeStep accumulates v ([batch, features]) into x[:, t, :].
func addTimeStep(x *tensor, t int, v *tensor) {
	batch, seqLen, features := x.shape[0], x.shape[1], x.shape[2]
	for b := 0; b < batch; b++ {
		dst := (b*seqLen + t) * features
		floats.Add(x.data[dst:dst+features], v.data[b*features:(b+1)*features])
	}
}

// reverseTime returns a copy of a [batch, seqLen, features] tensor with the
// time axis reversed.
func reverseTime(x *tensor) *tensor {
	out := newTensor(x.shape...)
	seqLen := x.shape[1]
	for t := 0; t < seqLen; t++ {
		setTimeStep(out, seqLen-1-t, timeStep(x, t))
	}
	return out
}
