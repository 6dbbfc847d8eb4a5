package models

import (
	"testing"

	"github.com/stretchr/testify/require"

	seqflow "seqflow/src"
)

func TestRNNModelMLNLayers(t *testing.T) {
	conf, err := RNNModelMLN{}.Conf()
	require.NoError(t, err)

	want := []struct {
		kind seqflow.LayerKind
		nOut int
		act  seqflow.Activation
	}{
		{seqflow.LayerSimpleRnn, 64, seqflow.ActivationSigmoid},
		{seqflow.LayerLSTM, 64, seqflow.ActivationTanh},
		{seqflow.LayerGravesLSTM, 64, seqflow.ActivationSoftsign},
		{seqflow.LayerGravesBidirectionalLSTM, 64, seqflow.ActivationTanh},
		{seqflow.LayerBidirectional, 64, seqflow.ActivationReLU},
		{seqflow.LayerRnnOutput, 10, seqflow.ActivationSoftmax},
	}
	require.Len(t, conf.Layers, len(want))
	for i, w := range want {
		l := conf.Layers[i]
		require.Equal(t, w.kind, l.Kind(), "layer %d", i)
		require.Equal(t, w.nOut, l.Base().NOut, "layer %d", i)
		require.Equal(t, w.act, l.Base().Activation, "layer %d", i)
	}

	bi, ok := conf.Layers[4].(*seqflow.BidirectionalConf)
	require.True(t, ok)
	require.Equal(t, seqflow.LayerSimpleRnn, bi.Layer.Kind())
	require.Equal(t, seqflow.BidirectionalConcat, bi.Mode)
	require.Equal(t, 128, bi.OutputSize())

	out, ok := conf.Layers[5].(*seqflow.RnnOutputConf)
	require.True(t, ok)
	require.Equal(t, seqflow.LossMCXENT, out.Loss)
	require.Equal(t, 128, out.NIn)
}

func TestRNNModelMLNGlobals(t *testing.T) {
	conf, err := RNNModelMLN{}.Conf()
	require.NoError(t, err)

	adam, ok := conf.Global.Updater.(*seqflow.Adam)
	require.True(t, ok)
	require.Equal(t, 0.01, adam.LR)

	require.Equal(t, 0.001, conf.Global.L1)
	require.Equal(t, 0.001, conf.Global.L2)
	require.Equal(t, 0.5, conf.Global.DropOut)
	require.Equal(t, seqflow.WeightInitXavier, conf.Global.WeightInit)
	require.Equal(t, seqflow.ConvolutionModeSame, conf.Global.ConvolutionMode)
	require.Equal(t, seqflow.InputTypeRecurrent(64), conf.InputType)

	require.NotNil(t, conf.Global.WeightNoise)
	require.True(t, conf.Global.WeightNoise.Additive)
	require.Equal(t, seqflow.NormalDistribution(0, 0.01), conf.Global.WeightNoise.Distribution)

	for i, l := range conf.Layers {
		b := l.Base()
		require.Equal(t, 0.001, b.L1Coeff(), "layer %d", i)
		require.Equal(t, 0.001, b.L2Coeff(), "layer %d", i)
		require.Equal(t, 0.5, b.DropOutRate(), "layer %d", i)
		require.Equal(t, seqflow.WeightInitXavier, b.WeightInit, "layer %d", i)
	}
}

func TestRNNModelMLNModel(t *testing.T) {
	net, err := RNNModelMLN{}.Model()
	require.NoError(t, err)
	require.NotNil(t, net)
	require.False(t, net.Initialized())
	require.Equal(t, 6, net.NumLayers())
}

func TestRNNModelMLNDeterministic(t *testing.T) {
	a, err := RNNModelMLN{}.Conf()
	require.NoError(t, err)
	b, err := RNNModelMLN{}.Conf()
	require.NoError(t, err)

	ja, err := a.ToJSON()
	require.NoError(t, err)
	jb, err := b.ToJSON()
	require.NoError(t, err)
	require.JSONEq(t, string(ja), string(jb))

	netA, err := RNNModelMLN{}.Model()
	require.NoError(t, err)
	netB, err := RNNModelMLN{}.Model()
	require.NoError(t, err)
	require.Equal(t, netA.NumParams(), netB.NumParams())
}

func TestMLPMnistSingleLayer(t *testing.T) {
	m := MLPMnistSingleLayer{}
	conf, err := m.Conf()
	require.NoError(t, err)
	require.Len(t, conf.Layers, 2)
	require.Equal(t, 784, conf.Layers[0].Base().NIn)
	require.Equal(t, 1000, conf.Layers[0].Base().NOut)
	require.Equal(t, 10, conf.Layers[1].Base().NOut)
	require.Equal(t, int64(42), conf.Seed)

	nesterovs, ok := conf.Global.Updater.(*seqflow.Nesterovs)
	require.True(t, ok)
	require.Equal(t, 6e-4, nesterovs.LR)
	require.Equal(t, 0.9, nesterovs.Momentum)

	net, err := m.Model()
	require.NoError(t, err)
	require.Equal(t, 784*1000+1000+1000*10+10, net.NumParams())
}

func TestRegistry(t *testing.T) {
	require.Equal(t, []string{"MLPMnistSingleLayer", "RNNModelMLN"}, Names())

	m, err := Get("RNNModelMLN")
	require.NoError(t, err)
	require.Equal(t, 64, m.InputSize())
	require.Equal(t, 10, m.NumClasses())

	_, err = Get("ResNet50")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown model")
}
