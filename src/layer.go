package seqflow

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// layer is the runtime form of a LayerConf. Gradients are accumulated into
// params()[i].grad by backward; the network zeroes them before each pass.
type layer interface {
	forward(input *tensor, training bool) (*tensor, error)
	backward(gradOutput *tensor) (*tensor, error)
	params() []*param
	name() string
}

// outputLayer terminates the network and owns the loss.
type outputLayer interface {
	layer
	// score returns the loss summed over the minibatch divided by the number
	// of examples.
	score(labels *tensor) (float64, error)
	// backwardLabels starts backpropagation from the labels of the last forward pass.
	backwardLabels(labels *tensor) (*tensor, error)
}

// param is one named parameter array of a layer.
type param struct {
	key   string
	value *tensor
	grad  *tensor
	bias  bool
}

func newParam(key string, bias bool, shape ...int) *param {
	return &param{key: key, value: newTensor(shape...), grad: newTensor(shape...), bias: bias}
}

func prefixParams(prefix string, ps []*param) []*param {
	for _, p := range ps {
		p.key = prefix + p.key
	}
	return ps
}

// denseLayer - fully connected layer. Inputs with more than two dimensions
// are treated as rows over the last dimension, which makes the same code
// serve time-distributed output.
type denseLayer struct {
	kind LayerKind
	act  activationFn
	W    *param // [nIn, nOut]
	b    *param // [nOut]

	input  *tensor
	preAct *tensor
	output *tensor
}

func newDenseLayer(kind LayerKind, base *BaseLayer, rng *rand.Rand) (*denseLayer, error) {
	act, err := base.Activation.fn()
	if err != nil {
		return nil, err
	}
	d := &denseLayer{
		kind: kind,
		act:  act,
		W:    newParam("W", false, base.NIn, base.NOut),
		b:    newParam("b", true, base.NOut),
	}
	base.WeightInit.initialize(d.W.value, base.NIn, base.NOut, base.Dist, rng)
	return d, nil
}

func (d *denseLayer) outShape(input *tensor) []int {
	shape := append([]int(nil), input.shape...)
	shape[len(shape)-1] = d.W.value.shape[1]
	return shape
}

func (d *denseLayer) forward(input *tensor, training bool) (*tensor, error) {
	if input.cols() != d.W.value.shape[0] {
		return nil, errorf("%s expects %d input features, got %d", d.name(), d.W.value.shape[0], input.cols())
	}
	d.input = input
	d.preAct = newTensor(d.outShape(input)...)
	d.output = newTensor(d.preAct.shape...)

	// Y = act(X @ W + b)
	matmul(input, d.W.value, d.preAct)
	addRowVec(d.preAct, d.b.value)
	d.act.forward(d.preAct, d.output)

	return d.output, nil
}

func (d *denseLayer) backward(gradOutput *tensor) (*tensor, error) {
	if d.input == nil {
		return nil, errorf("%s: backward called before forward", d.name())
	}
	dPre := newTensor(d.preAct.shape...)
	d.act.backward(d.preAct, gradOutput, dPre)
	return d.backwardPre(dPre), nil
}

// backwardPre accumulates parameter gradients from the pre-activation
// gradient and returns the input gradient.
func (d *denseLayer) backwardPre(dPre *tensor) *tensor {
	matmulTransAAcc(d.input, dPre, d.W.grad)
	sumRowsAcc(dPre, d.b.grad)

	gradInput := newTensor(d.input.shape...)
	matmulTransB(dPre, d.W.value, gradInput)
	return gradInput
}

func (d *denseLayer) params() []*param { return []*param{d.W, d.b} }

func (d *denseLayer) name() string {
	if d.kind == LayerRnnOutput {
		return "rnn_output"
	}
	if d.kind == LayerOutput {
		return "output"
	}
	return "dense"
}

// lossLayer - dense layer with a loss function; used for both OutputLayer
// and RnnOutputLayer.
type lossLayer struct {
	*denseLayer
	lossName LossFunction
	loss     lossFn
	fused    bool
}

func newLossLayer(kind LayerKind, base *BaseLayer, loss LossFunction, rng *rand.Rand) (*lossLayer, error) {
	d, err := newDenseLayer(kind, base, rng)
	if err != nil {
		return nil, err
	}
	fn, err := loss.fn()
	if err != nil {
		return nil, err
	}
	return &lossLayer{
		denseLayer: d,
		lossName:   loss,
		loss:       fn,
		fused:      loss.fusedWithSoftmax(base.Activation),
	}, nil
}

func (o *lossLayer) checkLabels(labels *tensor) error {
	if o.output == nil {
		return errorf("%s: no forward pass to score", o.name())
	}
	if !sameShape(o.output.shape, labels.shape) {
		return errorf("%s: labels shape %v does not match output %v", o.name(), labels.shape, o.output.shape)
	}
	return nil
}

func (o *lossLayer) score(labels *tensor) (float64, error) {
	if err := o.checkLabels(labels); err != nil {
		return 0, err
	}
	return o.loss.score(o.output, labels) / float64(o.output.shape[0]), nil
}

func (o *lossLayer) backwardLabels(labels *tensor) (*tensor, error) {
	if err := o.checkLabels(labels); err != nil {
		return nil, err
	}
	dPre := newTensor(o.preAct.shape...)
	if o.fused {
		floats.SubTo(dPre.data, o.output.data, labels.data)
	} else {
		grad := newTensor(o.output.shape...)
		o.loss.gradient(o.output, labels, grad)
		o.act.backward(o.preAct, grad, dPre)
	}
	mulScalar(dPre, 1/float64(o.output.shape[0]))
	return o.backwardPre(dPre), nil
}

func (c *DenseConf) instantiate(rng *rand.Rand) (layer, error) {
	return newDenseLayer(LayerDense, &c.BaseLayer, rng)
}

func (c *OutputConf) instantiate(rng *rand.Rand) (layer, error) {
	return newLossLayer(LayerOutput, &c.BaseLayer, c.Loss, rng)
}

func (c *RnnOutputConf) instantiate(rng *rand.Rand) (layer, error) {
	return newLossLayer(LayerRnnOutput, &c.BaseLayer, c.Loss, rng)
}

// dropoutMask draws an inverted-dropout mask: kept units are scaled by
// 1/(1-rate) so inference needs no rescaling.
func dropoutMask(shape []int, rate float64, rng *rand.Rand) *tensor {
	mask := newTensor(shape...)
	scale := 1.0 / (1.0 - rate)
	for i := range mask.data {
		if rng.Float64() >= rate {
			mask.data[i] = scale
		}
	}
	return mask
}
