package models

import seqflow "seqflow/src"

const (
	rnnWidth      = 64
	rnnInputSize  = 64
	rnnNumClasses = 10
)

// RNNModelMLN stacks every recurrent layer kind the engine supports behind a
// per-time-step softmax classifier.
type RNNModelMLN struct{}

func (RNNModelMLN) Name() string    { return "RNNModelMLN" }
func (RNNModelMLN) InputSize() int  { return rnnInputSize }
func (RNNModelMLN) NumClasses() int { return rnnNumClasses }

func (RNNModelMLN) Conf() (*seqflow.MultiLayerConfiguration, error) {
	return seqflow.NewConfig().
		Seed(0).
		Updater(seqflow.NewAdam(0.01)).
		WeightInit(seqflow.WeightInitXavier).
		L2(0.001).
		L1(0.001).
		DropOut(0.5).
		WeightNoise(seqflow.NewWeightNoise(seqflow.NormalDistribution(0, 0.01), true)).
		ConvolutionMode(seqflow.ConvolutionModeSame).
		List().
		Layer(seqflow.SimpleRnn(rnnWidth).WithActivation(seqflow.ActivationSigmoid).Build()).
		Layer(seqflow.LSTM(rnnWidth).WithActivation(seqflow.ActivationTanh).Build()).
		Layer(seqflow.GravesLSTM(rnnWidth).WithActivation(seqflow.ActivationSoftsign).Build()).
		Layer(seqflow.GravesBidirectionalLSTM(rnnWidth).WithActivation(seqflow.ActivationTanh).Build()).
		Layer(seqflow.Bidirectional(
			seqflow.SimpleRnn(rnnWidth).WithActivation(seqflow.ActivationReLU).Build(),
		).Build()).
		Layer(seqflow.RnnOutput(rnnNumClasses, seqflow.LossMCXENT).
			WithActivation(seqflow.ActivationSoftmax).
			Build()).
		SetInputType(seqflow.InputTypeRecurrent(rnnInputSize)).
		Build()
}

func (m RNNModelMLN) Model() (*seqflow.MultiLayerNetwork, error) {
	return newModel(m.Conf())
}
