package models

import seqflow "seqflow/src"

// MLPMnistSingleLayer is a single hidden layer classifier over flattened
// 28x28 images.
type MLPMnistSingleLayer struct{}

func (MLPMnistSingleLayer) Name() string    { return "MLPMnistSingleLayer" }
func (MLPMnistSingleLayer) InputSize() int  { return 28 * 28 }
func (MLPMnistSingleLayer) NumClasses() int { return 10 }

func (m MLPMnistSingleLayer) Conf() (*seqflow.MultiLayerConfiguration, error) {
	return seqflow.NewConfig().
		Seed(42).
		Updater(seqflow.NewNesterovs(6e-4, 0.9)).
		WeightInit(seqflow.WeightInitXavierUniform).
		L2(1e-4).
		List().
		Layer(seqflow.Dense(1000).WithActivation(seqflow.ActivationReLU).Build()).
		Layer(seqflow.Output(m.NumClasses(), seqflow.LossMCXENT).
			WithActivation(seqflow.ActivationSoftmax).
			Build()).
		SetInputType(seqflow.InputTypeFeedForward(m.InputSize())).
		Build()
}

func (m MLPMnistSingleLayer) Model() (*seqflow.MultiLayerNetwork, error) {
	return newModel(m.Conf())
}
