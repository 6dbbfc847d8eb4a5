package seqflow

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// All recurrent layers take [batch, seqLen, nIn] and return the full
// sequence [batch, seqLen, nOut]. The initial hidden and cell states are zero.

func checkSequence(l layer, input *tensor, nIn int) error {
	if len(input.shape) != 3 {
		return errorf("%s requires input shape [batch, seqLen, features], got %v", l.name(), input.shape)
	}
	if input.shape[2] != nIn {
		return errorf("%s expects %d input features, got %d", l.name(), nIn, input.shape[2])
	}
	return nil
}

// simpleRnn - h_t = act(x_t W + h_{t-1} RW + b)
type simpleRnn struct {
	act  activationFn
	nIn  int
	nOut int

	W  *param // [nIn, nOut]
	RW *param // [nOut, nOut]
	b  *param // [nOut]

	input        *tensor
	hiddenStates []*tensor
	preActs      []*tensor
}

func newSimpleRnn(base *BaseLayer, rng *rand.Rand) (*simpleRnn, error) {
	act, err := base.Activation.fn()
	if err != nil {
		return nil, err
	}
	r := &simpleRnn{
		act:  act,
		nIn:  base.NIn,
		nOut: base.NOut,
		W:    newParam("W", false, base.NIn, base.NOut),
		RW:   newParam("RW", false, base.NOut, base.NOut),
		b:    newParam("b", true, base.NOut),
	}
	base.WeightInit.initialize(r.W.value, base.NIn, base.NOut, base.Dist, rng)
	base.WeightInit.initialize(r.RW.value, base.NOut, base.NOut, base.Dist, rng)
	return r, nil
}

func (c *SimpleRnnConf) instantiate(rng *rand.Rand) (layer, error) {
	return newSimpleRnn(&c.BaseLayer, rng)
}

func (r *simpleRnn) forward(input *tensor, training bool) (*tensor, error) {
	if err := checkSequence(r, input, r.nIn); err != nil {
		return nil, err
	}
	batchSize, seqLen := input.shape[0], input.shape[1]

	r.input = input
	r.hiddenStates = make([]*tensor, seqLen+1)
	r.preActs = make([]*tensor, seqLen)
	r.hiddenStates[0] = newTensor(batchSize, r.nOut)

	output := newTensor(batchSize, seqLen, r.nOut)
	for t := 0; t < seqLen; t++ {
		preAct := newTensor(batchSize, r.nOut)
		matmul(timeStep(input, t), r.W.value, preAct)
		matmulAcc(r.hiddenStates[t], r.RW.value, preAct)
		addRowVec(preAct, r.b.value)

		h := newTensor(batchSize, r.nOut)
		r.act.forward(preAct, h)

		r.preActs[t] = preAct
		r.hiddenStates[t+1] = h
		setTimeStep(output, t, h)
	}
	return output, nil
}

func (r *simpleRnn) backward(gradOutput *tensor) (*tensor, error) {
	if r.input == nil {
		return nil, errorf("%s: backward called before forward", r.name())
	}
	batchSize, seqLen := r.input.shape[0], r.input.shape[1]

	gradInput := newTensor(r.input.shape...)
	dhNext := newTensor(batchSize, r.nOut)

	for t := seqLen - 1; t >= 0; t-- {
		dh := timeStep(gradOutput, t)
		floats.Add(dh.data, dhNext.data)

		dPre := newTensor(batchSize, r.nOut)
		r.act.backward(r.preActs[t], dh, dPre)

		matmulTransAAcc(timeStep(r.input, t), dPre, r.W.grad)
		matmulTransAAcc(r.hiddenStates[t], dPre, r.RW.grad)
		sumRowsAcc(dPre, r.b.grad)

		dx := newTensor(batchSize, r.nIn)
		matmulTransB(dPre, r.W.value, dx)
		setTimeStep(gradInput, t, dx)

		matmulTransB(dPre, r.RW.value, dhNext)
	}
	return gradInput, nil
}

func (r *simpleRnn) params() []*param { return []*param{r.W, r.RW, r.b} }
func (r *simpleRnn) name() string     { return "simple_rnn" }

// lstm - gates are packed in the order input, forget, output, block input
// (i, f, o, g) along the columns of W, RW and b. With peepholes enabled the
// cell state also feeds the gates:
//
//	i = sigmoid(x Wi + h RWi + bi + pI*c_prev)
//	f = sigmoid(x Wf + h RWf + bf + pF*c_prev)
//	g = act(x Wg + h RWg + bg)
//	c = f*c_prev + i*g
//	o = sigmoid(x Wo + h RWo + bo + pO*c)
//	h = o*act(c)
type lstm struct {
	act      activationFn
	nIn      int
	n        int
	peephole bool

	W  *param // [nIn, 4n]
	RW *param // [n, 4n]
	b  *param // [4n]
	pI *param // [n], peephole only
	pF *param
	pO *param

	input                 *tensor
	hs, cs                []*tensor // len seqLen+1, index 0 is the zero state
	ig, fg, og, zg, g, ac []*tensor
}

func newLSTM(conf *LSTMConf, peephole bool, rng *rand.Rand) (*lstm, error) {
	base := &conf.BaseLayer
	act, err := base.Activation.fn()
	if err != nil {
		return nil, err
	}
	n := base.NOut
	l := &lstm{
		act:      act,
		nIn:      base.NIn,
		n:        n,
		peephole: peephole,
		W:        newParam("W", false, base.NIn, 4*n),
		RW:       newParam("RW", false, n, 4*n),
		b:        newParam("b", true, 4*n),
	}
	base.WeightInit.initialize(l.W.value, base.NIn, 4*n, base.Dist, rng)
	base.WeightInit.initialize(l.RW.value, n, 4*n, base.Dist, rng)
	for j := 0; j < n; j++ {
		l.b.value.data[n+j] = conf.ForgetGateBiasInit
	}
	if peephole {
		l.pI = newParam("pI", false, n)
		l.pF = newParam("pF", false, n)
		l.pO = newParam("pO", false, n)
		for _, p := range []*param{l.pI, l.pF, l.pO} {
			base.WeightInit.initialize(p.value, n, 1, base.Dist, rng)
		}
	}
	return l, nil
}

func (c *LSTMConf) instantiate(rng *rand.Rand) (layer, error) {
	return newLSTM(c, false, rng)
}

func (c *GravesLSTMConf) instantiate(rng *rand.Rand) (layer, error) {
	return newLSTM(&c.LSTMConf, true, rng)
}

func (l *lstm) forward(input *tensor, training bool) (*tensor, error) {
	if err := checkSequence(l, input, l.nIn); err != nil {
		return nil, err
	}
	batchSize, seqLen, n := input.shape[0], input.shape[1], l.n

	l.input = input
	l.hs = make([]*tensor, seqLen+1)
	l.cs = make([]*tensor, seqLen+1)
	l.hs[0] = newTensor(batchSize, n)
	l.cs[0] = newTensor(batchSize, n)
	for _, cache := range []*[]*tensor{&l.ig, &l.fg, &l.og, &l.zg, &l.g, &l.ac} {
		*cache = make([]*tensor, seqLen)
	}

	output := newTensor(batchSize, seqLen, n)
	for t := 0; t < seqLen; t++ {
		z := newTensor(batchSize, 4*n)
		matmul(timeStep(input, t), l.W.value, z)
		matmulAcc(l.hs[t], l.RW.value, z)
		addRowVec(z, l.b.value)

		cPrev := l.cs[t]
		i, f, o := newTensor(batchSize, n), newTensor(batchSize, n), newTensor(batchSize, n)
		zg, g := newTensor(batchSize, n), newTensor(batchSize, n)
		c, ac, h := newTensor(batchSize, n), newTensor(batchSize, n), newTensor(batchSize, n)

		for b := 0; b < batchSize; b++ {
			row := z.data[b*4*n : (b+1)*4*n]
			for j := 0; j < n; j++ {
				k := b*n + j
				zi, zf := row[j], row[n+j]
				if l.peephole {
					zi += l.pI.value.data[j] * cPrev.data[k]
					zf += l.pF.value.data[j] * cPrev.data[k]
				}
				i.data[k] = sigmoid(zi)
				f.data[k] = sigmoid(zf)
				zg.data[k] = row[3*n+j]
			}
		}
		l.act.forward(zg, g)

		for b := 0; b < batchSize; b++ {
			row := z.data[b*4*n : (b+1)*4*n]
			for j := 0; j < n; j++ {
				k := b*n + j
				c.data[k] = f.data[k]*cPrev.data[k] + i.data[k]*g.data[k]
				zo := row[2*n+j]
				if l.peephole {
					zo += l.pO.value.data[j] * c.data[k]
				}
				o.data[k] = sigmoid(zo)
			}
		}
		l.act.forward(c, ac)
		elemMul(o, ac, h)

		l.ig[t], l.fg[t], l.og[t], l.zg[t], l.g[t], l.ac[t] = i, f, o, zg, g, ac
		l.cs[t+1], l.hs[t+1] = c, h
		setTimeStep(output, t, h)
	}
	return output, nil
}

func (l *lstm) backward(gradOutput *tensor) (*tensor, error) {
	if l.input == nil {
		return nil, errorf("%s: backward called before forward", l.name())
	}
	batchSize, seqLen, n := l.input.shape[0], l.input.shape[1], l.n

	gradInput := newTensor(l.input.shape...)
	dhNext := newTensor(batchSize, n)
	dcNext := newTensor(batchSize, n)

	for t := seqLen - 1; t >= 0; t-- {
		i, f, o, g, ac := l.ig[t], l.fg[t], l.og[t], l.g[t], l.ac[t]
		c, cPrev := l.cs[t+1], l.cs[t]

		dh := timeStep(gradOutput, t)
		floats.Add(dh.data, dhNext.data)

		// dc = dcNext + act'(c) * dh * o
		dac := newTensor(batchSize, n)
		elemMul(dh, o, dac)
		dc := newTensor(batchSize, n)
		l.act.backward(c, dac, dc)
		floats.Add(dc.data, dcNext.data)

		dz := newTensor(batchSize, 4*n)
		dgAct := newTensor(batchSize, n)
		doPre := newTensor(batchSize, n)
		for k := range doPre.data {
			doPre.data[k] = dh.data[k] * ac.data[k] * o.data[k] * (1 - o.data[k])
		}
		if l.peephole {
			for b := 0; b < batchSize; b++ {
				for j := 0; j < n; j++ {
					k := b*n + j
					dc.data[k] += doPre.data[k] * l.pO.value.data[j]
					l.pO.grad.data[j] += doPre.data[k] * c.data[k]
				}
			}
		}

		for b := 0; b < batchSize; b++ {
			row := dz.data[b*4*n : (b+1)*4*n]
			for j := 0; j < n; j++ {
				k := b*n + j
				dfPre := dc.data[k] * cPrev.data[k] * f.data[k] * (1 - f.data[k])
				diPre := dc.data[k] * g.data[k] * i.data[k] * (1 - i.data[k])
				row[j] = diPre
				row[n+j] = dfPre
				row[2*n+j] = doPre.data[k]
				dgAct.data[k] = dc.data[k] * i.data[k]

				dcNext.data[k] = dc.data[k] * f.data[k]
				if l.peephole {
					dcNext.data[k] += dfPre*l.pF.value.data[j] + diPre*l.pI.value.data[j]
					l.pF.grad.data[j] += dfPre * cPrev.data[k]
					l.pI.grad.data[j] += diPre * cPrev.data[k]
				}
			}
		}

		dzg := newTensor(batchSize, n)
		l.act.backward(l.zg[t], dgAct, dzg)
		for b := 0; b < batchSize; b++ {
			copy(dz.data[b*4*n+3*n:(b+1)*4*n], dzg.data[b*n:(b+1)*n])
		}

		matmulTransAAcc(timeStep(l.input, t), dz, l.W.grad)
		matmulTransAAcc(l.hs[t], dz, l.RW.grad)
		sumRowsAcc(dz, l.b.grad)

		dx := newTensor(batchSize, l.nIn)
		matmulTransB(dz, l.W.value, dx)
		setTimeStep(gradInput, t, dx)

		matmulTransB(dz, l.RW.value, dhNext)
	}
	return gradInput, nil
}

func (l *lstm) params() []*param {
	ps := []*param{l.W, l.RW, l.b}
	if l.peephole {
		ps = append(ps, l.pI, l.pF, l.pO)
	}
	return ps
}

func (l *lstm) name() string {
	if l.peephole {
		return "graves_lstm"
	}
	return "lstm"
}

// gravesBidirectionalLSTM sums a forward and a time-reversed peephole LSTM.
type gravesBidirectionalLSTM struct {
	fwd *lstm
	bwd *lstm
}

func (c *GravesBidirectionalLSTMConf) instantiate(rng *rand.Rand) (layer, error) {
	fwd, err := newLSTM(&c.LSTMConf, true, rng)
	if err != nil {
		return nil, err
	}
	bwd, err := newLSTM(&c.LSTMConf, true, rng)
	if err != nil {
		return nil, err
	}
	prefixParams("F", fwd.params())
	prefixParams("B", bwd.params())
	return &gravesBidirectionalLSTM{fwd: fwd, bwd: bwd}, nil
}

func (g *gravesBidirectionalLSTM) forward(input *tensor, training bool) (*tensor, error) {
	outF, err := g.fwd.forward(input, training)
	if err != nil {
		return nil, err
	}
	outB, err := g.bwd.forward(reverseTime(input), training)
	if err != nil {
		return nil, err
	}
	floats.Add(outF.data, reverseTime(outB).data)
	return outF, nil
}

func (g *gravesBidirectionalLSTM) backward(gradOutput *tensor) (*tensor, error) {
	dxF, err := g.fwd.backward(gradOutput)
	if err != nil {
		return nil, err
	}
	dxB, err := g.bwd.backward(reverseTime(gradOutput))
	if err != nil {
		return nil, err
	}
	floats.Add(dxF.data, reverseTime(dxB).data)
	return dxF, nil
}

func (g *gravesBidirectionalLSTM) params() []*param {
	return append(g.fwd.params(), g.bwd.params()...)
}

func (g *gravesBidirectionalLSTM) name() string { return "graves_bidirectional_lstm" }

// bidirectional runs two independent copies of a recurrent layer, the second
// over reversed time, and merges them according to mode.
type bidirectional struct {
	mode BidirectionalMode
	fwd  layer
	bwd  layer

	outF *tensor
	outB *tensor // already re-reversed to forward time
}

func (c *BidirectionalConf) instantiate(rng *rand.Rand) (layer, error) {
	fwd, err := c.Layer.instantiate(rng)
	if err != nil {
		return nil, err
	}
	bwd, err := c.Layer.instantiate(rng)
	if err != nil {
		return nil, err
	}
	prefixParams("fwd_", fwd.params())
	prefixParams("bwd_", bwd.params())
	return &bidirectional{mode: c.Mode, fwd: fwd, bwd: bwd}, nil
}

func (bi *bidirectional) forward(input *tensor, training bool) (*tensor, error) {
	outF, err := bi.fwd.forward(input, training)
	if err != nil {
		return nil, err
	}
	outB, err := bi.bwd.forward(reverseTime(input), training)
	if err != nil {
		return nil, err
	}
	bi.outF, bi.outB = outF, reverseTime(outB)

	batchSize, seqLen, n := outF.shape[0], outF.shape[1], outF.shape[2]
	switch bi.mode {
	case BidirectionalConcat:
		out := newTensor(batchSize, seqLen, 2*n)
		for r := 0; r < batchSize*seqLen; r++ {
			copy(out.data[r*2*n:r*2*n+n], bi.outF.data[r*n:(r+1)*n])
			copy(out.data[r*2*n+n:(r+1)*2*n], bi.outB.data[r*n:(r+1)*n])
		}
		return out, nil
	case BidirectionalAdd:
		out := newTensor(batchSize, seqLen, n)
		floats.AddTo(out.data, bi.outF.data, bi.outB.data)
		return out, nil
	case BidirectionalMul:
		out := newTensor(batchSize, seqLen, n)
		floats.MulTo(out.data, bi.outF.data, bi.outB.data)
		return out, nil
	case BidirectionalAverage:
		out := newTensor(batchSize, seqLen, n)
		floats.AddTo(out.data, bi.outF.data, bi.outB.data)
		mulScalar(out, 0.5)
		return out, nil
	}
	return nil, errorf("unknown bidirectional mode %q", string(bi.mode))
}

func (bi *bidirectional) backward(gradOutput *tensor) (*tensor, error) {
	if bi.outF == nil {
		return nil, errorf("%s: backward called before forward", bi.name())
	}
	shape := bi.outF.shape
	n := shape[2]
	gF, gB := newTensor(shape...), newTensor(shape...)

	switch bi.mode {
	case BidirectionalConcat:
		for r := 0; r < shape[0]*shape[1]; r++ {
			copy(gF.data[r*n:(r+1)*n], gradOutput.data[r*2*n:r*2*n+n])
			copy(gB.data[r*n:(r+1)*n], gradOutput.data[r*2*n+n:(r+1)*2*n])
		}
	case BidirectionalAdd:
		copy(gF.data, gradOutput.data)
		copy(gB.data, gradOutput.data)
	case BidirectionalMul:
		floats.MulTo(gF.data, gradOutput.data, bi.outB.data)
		floats.MulTo(gB.data, gradOutput.data, bi.outF.data)
	case BidirectionalAverage:
		floats.ScaleTo(gF.data, 0.5, gradOutput.data)
		floats.ScaleTo(gB.data, 0.5, gradOutput.data)
	}

	dxF, err := bi.fwd.backward(gF)
	if err != nil {
		return nil, err
	}
	dxB, err := bi.bwd.backward(reverseTime(gB))
	if err != nil {
		return nil, err
	}
	floats.Add(dxF.data, reverseTime(dxB).data)
	return dxF, nil
}

func (bi *bidirectional) params() []*param {
	return append(bi.fwd.params(), bi.bwd.params()...)
}

func (bi *bidirectional) name() string { return "bidirectional(" + bi.fwd.name() + ")" }
