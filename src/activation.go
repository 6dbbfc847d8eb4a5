package seqflow

import "math"

// Activation names an element-wise (or row-wise, for softmax) transfer function.
type Activation string

const (
	ActivationIdentity  Activation = "identity"
	ActivationSigmoid   Activation = "sigmoid"
	ActivationTanh      Activation = "tanh"
	ActivationSoftsign  Activation = "softsign"
	ActivationReLU      Activation = "relu"
	ActivationLeakyReLU Activation = "leakyrelu"
	ActivationSoftmax   Activation = "softmax"
)

// activationFn is the runtime form of an Activation. backward receives the
// pre-activation x and writes dL/dx into gradIn.
type activationFn interface {
	forward(x *tensor, out *tensor)
	backward(x *tensor, gradOut *tensor, gradIn *tensor)
}

func (a Activation) fn() (activationFn, error) {
	switch a {
	case ActivationIdentity:
		return identityFn{}, nil
	case ActivationSigmoid:
		return sigmoidFn{}, nil
	case ActivationTanh:
		return tanhFn{}, nil
	case ActivationSoftsign:
		return softsignFn{}, nil
	case ActivationReLU:
		return reluFn{}, nil
	case ActivationLeakyReLU:
		return leakyReLUFn{slope: 0.01}, nil
	case ActivationSoftmax:
		return softmaxFn{}, nil
	}
	return nil, errorf("unknown activation %q", string(a))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1.0 / (1.0 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1.0 + e)
}

type identityFn struct{}

func (identityFn) forward(x *tensor, out *tensor) {
	copy(out.data, x.data)
}

func (identityFn) backward(x *tensor, gradOut *tensor, gradIn *tensor) {
	copy(gradIn.data, gradOut.data)
}

type sigmoidFn struct{}

func (sigmoidFn) forward(x *tensor, out *tensor) {
	for i, v := range x.data {
		out.data[i] = sigmoid(v)
	}
}

func (sigmoidFn) backward(x *tensor, gradOut *tensor, gradIn *tensor) {
	for i, v := range x.data {
		s := sigmoid(v)
		gradIn.data[i] = gradOut.data[i] * s * (1 - s)
	}
}

type tanhFn struct{}

func (tanhFn) forward(x *tensor, out *tensor) {
	for i, v := range x.data {
		out.data[i] = math.Tanh(v)
	}
}

func (tanhFn) backward(x *tensor, gradOut *tensor, gradIn *tensor) {
	for i, v := range x.data {
		th := math.Tanh(v)
		gradIn.data[i] = gradOut.data[i] * (1 - th*th)
	}
}

// softsignFn computes x / (1 + |x|).
type softsignFn struct{}

func (softsignFn) forward(x *tensor, out *tensor) {
	for i, v := range x.data {
		out.data[i] = v / (1 + math.Abs(v))
	}
}

func (softsignFn) backward(x *tensor, gradOut *tensor, gradIn *tensor) {
	for i, v := range x.data {
		d := 1 + math.Abs(v)
		gradIn.data[i] = gradOut.data[i] / (d * d)
	}
}

type reluFn struct{}

func (reluFn) forward(x *tensor, out *tensor) {
	for i, v := range x.data {
		if v > 0 {
			out.data[i] = v
		} else {
			out.data[i] = 0
		}
	}
}

func (reluFn) backward(x *tensor, gradOut *tensor, gradIn *tensor) {
	for i, v := range x.data {
		if v > 0 {
			gradIn.data[i] = gradOut.data[i]
		} else {
			gradIn.data[i] = 0
		}
	}
}

type leakyReLUFn struct {
	slope float64
}

func (l leakyReLUFn) forward(x *tensor, out *tensor) {
	for i, v := range x.data {
		if v > 0 {
			out.data[i] = v
		} else {
			out.data[i] = v * l.slope
		}
	}
}

func (l leakyReLUFn) backward(x *tensor, gradOut *tensor, gradIn *tensor) {
	for i, v := range x.data {
		if v > 0 {
			gradIn.data[i] = gradOut.data[i]
		} else {
			gradIn.data[i] = gradOut.data[i] * l.slope
		}
	}
}

// softmaxFn normalises over the last dimension.
type softmaxFn struct{}

func (softmaxFn) forward(x *tensor, out *tensor) {
	cols := x.cols()
	for r := 0; r < x.rows(); r++ {
		row := x.data[r*cols : (r+1)*cols]
		dst := out.data[r*cols : (r+1)*cols]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		sum := 0.0
		for c, v := range row {
			dst[c] = math.Exp(v - maxV)
			sum += dst[c]
		}
		for c := range dst {
			dst[c] /= sum
		}
	}
}

// backward is the full Jacobian-vector product. Output layers pairing softmax
// with cross entropy bypass it and use the fused (p - t) gradient.
func (s softmaxFn) backward(x *tensor, gradOut *tensor, gradIn *tensor) {
	p := newTensor(x.shape...)
	s.forward(x, p)
	cols := x.cols()
	for r := 0; r < x.rows(); r++ {
		dot := 0.0
		for c := 0; c < cols; c++ {
			dot += gradOut.data[r*cols+c] * p.data[r*cols+c]
		}
		for c := 0; c < cols; c++ {
			idx := r*cols + c
			gradIn.data[idx] = p.data[idx] * (gradOut.data[idx] - dot)
		}
	}
}
