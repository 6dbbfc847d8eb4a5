package seqflow

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	gradEps       = 1e-6
	gradTolerance = 1e-5
)

// randomSequences returns batch rows of seqLen*features values and one-hot
// labels for every time step.
func randomSequences(seed int64, batch, seqLen, features, classes int) ([][]float64, [][]float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float64, batch)
	y := make([][]float64, batch)
	for i := range x {
		x[i] = make([]float64, seqLen*features)
		for j := range x[i] {
			x[i][j] = rng.NormFloat64()
		}
		y[i] = make([]float64, seqLen*classes)
		for t := 0; t < seqLen; t++ {
			y[i][t*classes+rng.Intn(classes)] = 1
		}
	}
	return x, y
}

// checkGradients compares every analytic parameter gradient against a
// central finite difference of the score.
func checkGradients(t *testing.T, conf *MultiLayerConfiguration, features, labels [][]float64) {
	t.Helper()

	net := NewMultiLayerNetwork(conf)
	require.NoError(t, net.Init())
	x, y, err := net.dataset(features, labels)
	require.NoError(t, err)

	scoreOf := func() float64 {
		s, err := net.scoreTensors(x, y)
		require.NoError(t, err)
		return s
	}

	net.zeroGrads()
	_, err = net.feedForward(x, false)
	require.NoError(t, err)
	require.NoError(t, net.backprop(y))
	net.regularizationGradients()

	checked := 0
	for li, l := range net.layers {
		for _, p := range l.params() {
			for i := range p.value.data {
				orig := p.value.data[i]
				p.value.data[i] = orig + gradEps
				plus := scoreOf()
				p.value.data[i] = orig - gradEps
				minus := scoreOf()
				p.value.data[i] = orig

				numeric := (plus - minus) / (2 * gradEps)
				analytic := p.grad.data[i]
				tol := gradTolerance * math.Max(1, math.Abs(numeric)+math.Abs(analytic))
				require.InDeltaf(t, numeric, analytic, tol, "layer %d (%s) param %s[%d]", li, l.name(), p.key, i)
				checked++
			}
		}
	}
	require.Equal(t, net.NumParams(), checked)
}

func gradientConf(t *testing.T, layers ...LayerConf) *MultiLayerConfiguration {
	t.Helper()
	list := NewConfig().
		Seed(3).
		Updater(NewSgd(0.1)).
		WeightInit(WeightInitXavier).
		Activation(ActivationTanh).
		List()
	for _, l := range layers {
		list.Layer(l)
	}
	conf, err := list.
		Layer(RnnOutput(3, LossMCXENT).WithActivation(ActivationSoftmax).Build()).
		SetInputType(InputTypeRecurrent(3)).
		Build()
	require.NoError(t, err)
	return conf
}

func TestGradientsRecurrentLayers(t *testing.T) {
	tests := []struct {
		name  string
		layer LayerConf
	}{
		{"simple rnn", SimpleRnn(4).WithActivation(ActivationSigmoid).Build()},
		{"lstm", LSTM(4).Build()},
		{"graves lstm", GravesLSTM(4).WithActivation(ActivationSoftsign).Build()},
		{"graves bidirectional lstm", GravesBidirectionalLSTM(4).Build()},
		{"bidirectional concat", Bidirectional(SimpleRnn(4).Build()).Build()},
		{"bidirectional add", Bidirectional(LSTM(3).Build()).WithMode(BidirectionalAdd).Build()},
		{"bidirectional mul", Bidirectional(SimpleRnn(4).Build()).WithMode(BidirectionalMul).Build()},
		{"bidirectional average", Bidirectional(GravesLSTM(3).Build()).WithMode(BidirectionalAverage).Build()},
	}

	x, y := randomSequences(11, 2, 4, 3, 3)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkGradients(t, gradientConf(t, tt.layer), x, y)
		})
	}
}

func TestGradientsStackedWithRegularization(t *testing.T) {
	list := NewConfig().
		Seed(5).
		Updater(NewAdam(0.01)).
		WeightInit(WeightInitXavier).
		L2(0.01).
		List().
		Layer(SimpleRnn(4).WithActivation(ActivationSigmoid).Build()).
		Layer(LSTM(4).WithActivation(ActivationTanh).Build()).
		Layer(GravesLSTM(4).WithActivation(ActivationSoftsign).Build()).
		Layer(GravesBidirectionalLSTM(4).WithActivation(ActivationTanh).Build()).
		Layer(Bidirectional(SimpleRnn(4).WithActivation(ActivationTanh).Build()).Build()).
		Layer(RnnOutput(3, LossMCXENT).WithActivation(ActivationSoftmax).Build())
	conf, err := list.SetInputType(InputTypeRecurrent(3)).Build()
	require.NoError(t, err)

	x, y := randomSequences(17, 2, 3, 3, 3)
	checkGradients(t, conf, x, y)
}

func TestGradientsFeedForward(t *testing.T) {
	tests := []struct {
		name   string
		output LayerConf
	}{
		{"softmax mcxent", Output(3, LossMCXENT).WithActivation(ActivationSoftmax).Build()},
		{"sigmoid xent", Output(3, LossXENT).WithActivation(ActivationSigmoid).Build()},
		{"identity mse", Output(3, LossMSE).WithActivation(ActivationIdentity).Build()},
		{"softmax mse", Output(3, LossMSE).WithActivation(ActivationSoftmax).Build()},
	}

	rng := rand.New(rand.NewSource(23))
	x := make([][]float64, 4)
	y := make([][]float64, 4)
	for i := range x {
		x[i] = []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		y[i] = make([]float64, 3)
		y[i][rng.Intn(3)] = 1
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := NewConfig().
				Seed(1).
				Updater(NewSgd(0.1)).
				WeightInit(WeightInitXavier).
				L2(0.05).
				List().
				Layer(Dense(5).WithActivation(ActivationTanh).Build()).
				Layer(tt.output).
				SetInputType(InputTypeFeedForward(4)).
				Build()
			require.NoError(t, err)
			checkGradients(t, conf, x, y)
		})
	}
}
