package seqflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func recurrentList() *ListBuilder {
	return NewConfig().
		Seed(7).
		Updater(NewAdam(0.01)).
		WeightInit(WeightInitXavier).
		Activation(ActivationTanh).
		L2(1e-3).
		List()
}

func TestBuildInfersNInAndInherits(t *testing.T) {
	conf, err := recurrentList().
		Layer(SimpleRnn(8).WithActivation(ActivationSigmoid).Build()).
		Layer(LSTM(6).WithL2(0).WithDropOut(0.25).Build()).
		Layer(RnnOutput(3, LossMCXENT).WithActivation(ActivationSoftmax).Build()).
		SetInputType(InputTypeRecurrent(5)).
		Build()
	require.NoError(t, err)
	require.Len(t, conf.Layers, 3)

	rnn := conf.Layers[0].Base()
	require.Equal(t, 5, rnn.NIn)
	require.Equal(t, ActivationSigmoid, rnn.Activation)
	require.Equal(t, WeightInitXavier, rnn.WeightInit)
	require.InDelta(t, 1e-3, rnn.L2Coeff(), 1e-12)
	require.Zero(t, rnn.DropOutRate())

	lstm := conf.Layers[1].Base()
	require.Equal(t, 8, lstm.NIn)
	require.Equal(t, ActivationTanh, lstm.Activation)
	require.Zero(t, lstm.L2Coeff())
	require.InDelta(t, 0.25, lstm.DropOutRate(), 1e-12)
	require.InDelta(t, 1.0, conf.Layers[1].(*LSTMConf).ForgetGateBiasInit, 1e-12)

	require.Equal(t, 6, conf.Layers[2].Base().NIn)
	require.Equal(t, InputTypeRecurrent(3), conf.OutputType())
	require.Equal(t, ConvolutionModeTruncate, conf.Global.ConvolutionMode)
}

func TestBuildInfersInputTypeFromFirstLayer(t *testing.T) {
	conf, err := NewConfig().
		Updater(NewSgd(0.1)).
		WeightInit(WeightInitXavierUniform).
		Activation(ActivationReLU).
		List().
		Layer(Dense(4).WithNIn(6).Build()).
		Layer(Output(2, LossMSE).WithActivation(ActivationIdentity).Build()).
		Build()
	require.NoError(t, err)
	require.Equal(t, InputTypeFeedForward(6), conf.InputType)
	require.Equal(t, 4, conf.Layers[1].Base().NIn)
}

func TestBidirectionalOutputSize(t *testing.T) {
	tests := []struct {
		name  string
		layer LayerConf
		want  int
	}{
		{"concat", Bidirectional(SimpleRnn(4).Build()).Build(), 8},
		{"add", Bidirectional(SimpleRnn(4).Build()).WithMode(BidirectionalAdd).Build(), 4},
		{"mul", Bidirectional(LSTM(4).Build()).WithMode(BidirectionalMul).Build(), 4},
		{"average", Bidirectional(GravesLSTM(4).Build()).WithMode(BidirectionalAverage).Build(), 4},
		{"graves bidirectional", GravesBidirectionalLSTM(4).Build(), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := recurrentList().
				Layer(tt.layer).
				Layer(RnnOutput(2, LossMCXENT).WithActivation(ActivationSoftmax).Build()).
				SetInputType(InputTypeRecurrent(3)).
				Build()
			require.NoError(t, err)
			require.Equal(t, tt.want, conf.Layers[0].OutputSize())
			require.Equal(t, tt.want, conf.Layers[1].Base().NIn)
			require.Equal(t, 4, conf.Layers[0].Base().NOut)
		})
	}
}

func TestBuildErrors(t *testing.T) {
	output := func() LayerConf {
		return RnnOutput(2, LossMCXENT).WithActivation(ActivationSoftmax).Build()
	}
	tests := []struct {
		name  string
		build func() (*MultiLayerConfiguration, error)
	}{
		{"no layers", func() (*MultiLayerConfiguration, error) {
			return recurrentList().SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"nil layer", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(nil).Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"empty bidirectional without input type", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(Bidirectional(nil).Build()).Layer(output()).Build()
		}},
		{"zero nOut", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(LSTM(0).Build()).Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"dropout of one", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(LSTM(4).WithDropOut(1).Build()).Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"negative l1", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(LSTM(4).WithL1(-0.1).Build()).Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"zero learning rate", func() (*MultiLayerConfiguration, error) {
			return NewConfig().Updater(NewAdam(0)).WeightInit(WeightInitXavier).Activation(ActivationTanh).
				List().Layer(LSTM(4).Build()).Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"missing updater", func() (*MultiLayerConfiguration, error) {
			return NewConfig().WeightInit(WeightInitXavier).Activation(ActivationTanh).
				List().Layer(LSTM(4).Build()).Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"missing weight init", func() (*MultiLayerConfiguration, error) {
			return NewConfig().Updater(NewSgd(0.1)).Activation(ActivationTanh).
				List().Layer(LSTM(4).Build()).Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"last layer not output", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(LSTM(4).Build()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"output layer not last", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(output()).Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"dense on recurrent input", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(Dense(4).Build()).Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"recurrent on feed-forward input", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(LSTM(4).Build()).Layer(output()).SetInputType(InputTypeFeedForward(3)).Build()
		}},
		{"mcxent without softmax", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(LSTM(4).Build()).
				Layer(RnnOutput(2, LossMCXENT).WithActivation(ActivationSigmoid).Build()).
				SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"bidirectional output layer", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(Bidirectional(output()).Build()).Layer(output()).
				SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"missing input type", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(LSTM(4).Build()).Layer(output()).Build()
		}},
		{"bad distribution", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(LSTM(4).WithDistribution(NormalDistribution(0, -1)).Build()).
				Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
		{"weight noise without distribution", func() (*MultiLayerConfiguration, error) {
			return recurrentList().Layer(LSTM(4).WithWeightNoise(&WeightNoise{Additive: true}).Build()).
				Layer(output()).SetInputType(InputTypeRecurrent(3)).Build()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := tt.build()
			require.Error(t, err)
			require.Nil(t, conf)
			require.Contains(t, err.Error(), "seqflow:")
		})
	}
}

func TestBuildLeavesLayerConfsUntouched(t *testing.T) {
	hidden := LSTM(6).Build()
	wrapped := Bidirectional(SimpleRnn(4).Build()).Build()
	output := RnnOutput(3, LossMCXENT).WithActivation(ActivationSoftmax).Build()

	first, err := recurrentList().
		Layer(hidden).Layer(wrapped).Layer(output).
		SetInputType(InputTypeRecurrent(5)).
		Build()
	require.NoError(t, err)
	require.Equal(t, 5, first.Layers[0].Base().NIn)
	require.InDelta(t, 1e-3, first.Layers[0].Base().L2Coeff(), 1e-12)

	require.Zero(t, hidden.NIn)
	require.Nil(t, hidden.L2)
	require.Empty(t, hidden.Activation)
	require.Zero(t, wrapped.Base().NIn)
	require.Zero(t, output.NIn)

	second, err := NewConfig().
		Updater(NewSgd(0.1)).
		WeightInit(WeightInitXavier).
		Activation(ActivationSigmoid).
		L2(0.5).
		List().
		Layer(hidden).Layer(wrapped).Layer(output).
		SetInputType(InputTypeRecurrent(7)).
		Build()
	require.NoError(t, err)
	require.Equal(t, 7, second.Layers[0].Base().NIn)
	require.InDelta(t, 0.5, second.Layers[0].Base().L2Coeff(), 1e-12)
	require.Equal(t, ActivationSigmoid, second.Layers[1].Base().Activation)

	// The first configuration is not affected by the second build.
	require.Equal(t, 5, first.Layers[0].Base().NIn)
	require.Equal(t, ActivationTanh, first.Layers[1].Base().Activation)
}

func TestBuildRejectsMismatchedNIn(t *testing.T) {
	_, err := recurrentList().
		Layer(LSTM(4).WithName("encoder").Build()).
		Layer(SimpleRnn(4).WithNIn(3).Build()).
		Layer(RnnOutput(2, LossMCXENT).WithActivation(ActivationSoftmax).Build()).
		SetInputType(InputTypeRecurrent(3)).
		Build()
	require.Error(t, err)

	var layerErr *LayerError
	require.True(t, errors.As(err, &layerErr))
	require.Equal(t, 1, layerErr.LayerIndex)
	require.Equal(t, LayerSimpleRnn, layerErr.Kind)
	require.Equal(t, PhaseBuild, layerErr.Phase)
	require.Equal(t, "shape mismatch", layerErr.ErrorType)
}

func TestConfigJSONRoundTrip(t *testing.T) {
	conf, err := NewConfig().
		Seed(99).
		Updater(&Adam{LR: 0.01, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8, Schedule: StepSchedule(0.5, 10)}).
		WeightInit(WeightInitXavier).
		L1(1e-3).
		L2(1e-3).
		DropOut(0.5).
		WeightNoise(NewWeightNoise(NormalDistribution(0, 0.01), true)).
		ConvolutionMode(ConvolutionModeSame).
		List().
		Layer(SimpleRnn(4).WithActivation(ActivationSigmoid).Build()).
		Layer(GravesLSTM(4).WithActivation(ActivationSoftsign).Build()).
		Layer(Bidirectional(SimpleRnn(4).WithActivation(ActivationReLU).Build()).WithMode(BidirectionalAdd).Build()).
		Layer(RnnOutput(3, LossMCXENT).WithActivation(ActivationSoftmax).Build()).
		SetInputType(InputTypeRecurrent(5)).
		Build()
	require.NoError(t, err)

	data, err := conf.ToJSON()
	require.NoError(t, err)

	restored, err := ConfigurationFromJSON(data)
	require.NoError(t, err)
	require.Equal(t, conf.Seed, restored.Seed)
	require.Equal(t, conf.InputType, restored.InputType)
	require.Equal(t, ConvolutionModeSame, restored.Global.ConvolutionMode)
	require.Equal(t, conf.Global.Updater, restored.Global.Updater)
	require.Equal(t, conf.Global.WeightNoise, restored.Global.WeightNoise)
	require.Len(t, restored.Layers, len(conf.Layers))
	for i := range conf.Layers {
		require.Equal(t, conf.Layers[i].Kind(), restored.Layers[i].Kind())
		require.Equal(t, conf.Layers[i].OutputSize(), restored.Layers[i].OutputSize())
		require.Equal(t, conf.Layers[i].Base(), restored.Layers[i].Base())
	}
	require.Equal(t, BidirectionalAdd, restored.Layers[2].(*BidirectionalConf).Mode)

	again, err := restored.ToJSON()
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(again))
}

func TestConfigurationFromJSONRejectsUnknownLayer(t *testing.T) {
	_, err := ConfigurationFromJSON([]byte(`{"seed":1,"updater":{"type":"SGD","config":{"learningRate":0.1}},
		"global":{"weightInit":"XAVIER"},"layers":[{"type":"Conv2D","config":{}}],
		"inputType":{"kind":"recurrent","size":3}}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown layer type")
}

func TestValidateTrainConfig(t *testing.T) {
	require.NoError(t, ValidateTrainConfig(TrainConfig{Epochs: 1, BatchSize: 1}))
	require.Error(t, ValidateTrainConfig(TrainConfig{Epochs: 0, BatchSize: 1}))
	require.Error(t, ValidateTrainConfig(TrainConfig{Epochs: 1, BatchSize: 0}))
	require.Error(t, ValidateTrainConfig(TrainConfig{Epochs: 1, BatchSize: 1, ValidationSplit: 1}))
}
