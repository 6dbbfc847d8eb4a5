package seqflow

import (
	"encoding/json"
	"math"
	"math/rand"
)

// LayerKind identifies a layer configuration type.
type LayerKind string

const (
	LayerSimpleRnn               LayerKind = "SimpleRnn"
	LayerLSTM                    LayerKind = "LSTM"
	LayerGravesLSTM              LayerKind = "GravesLSTM"
	LayerGravesBidirectionalLSTM LayerKind = "GravesBidirectionalLSTM"
	LayerBidirectional           LayerKind = "Bidirectional"
	LayerRnnOutput               LayerKind = "RnnOutputLayer"
	LayerDense                   LayerKind = "DenseLayer"
	LayerOutput                  LayerKind = "OutputLayer"
)

// LayerConf is the declarative description of one layer. Fields left unset
// are filled from the GlobalConfig when the configuration is built.
type LayerConf interface {
	Kind() LayerKind
	Base() *BaseLayer
	// OutputSize is the number of activations emitted per example (per time
	// step for recurrent layers).
	OutputSize() int
	// Recurrent reports whether the layer consumes [batch, seqLen, nIn] input.
	Recurrent() bool
	validate() error
	instantiate(rng *rand.Rand) (layer, error)
	// clone returns a copy that Build can resolve without touching the
	// caller's value.
	clone() LayerConf
}

// BaseLayer holds the settings shared by every layer kind. Pointer fields
// distinguish "inherit the global value" (nil) from an explicit zero.
type BaseLayer struct {
	Name        string        `json:"name,omitempty"`
	NIn         int           `json:"nIn,omitempty"`
	NOut        int           `json:"nOut"`
	Activation  Activation    `json:"activation,omitempty"`
	WeightInit  WeightInit    `json:"weightInit,omitempty"`
	Dist        *Distribution `json:"dist,omitempty"`
	L1          *float64      `json:"l1,omitempty"`
	L2          *float64      `json:"l2,omitempty"`
	DropOut     *float64      `json:"dropOut,omitempty"`
	WeightNoise *WeightNoise  `json:"weightNoise,omitempty"`
}

func (b *BaseLayer) Base() *BaseLayer { return b }

// L1Coeff returns the resolved L1 coefficient.
func (b *BaseLayer) L1Coeff() float64 { return deref(b.L1) }

// L2Coeff returns the resolved L2 coefficient.
func (b *BaseLayer) L2Coeff() float64 { return deref(b.L2) }

// DropOutRate returns the resolved probability of dropping an input activation.
func (b *BaseLayer) DropOutRate() float64 { return deref(b.DropOut) }

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func (b *BaseLayer) inherit(g *GlobalConfig) {
	if b.Activation == "" {
		b.Activation = g.Activation
	}
	if b.WeightInit == "" {
		b.WeightInit = g.WeightInit
	}
	if b.Dist == nil {
		b.Dist = g.Dist
	}
	if b.L1 == nil {
		v := g.L1
		b.L1 = &v
	}
	if b.L2 == nil {
		v := g.L2
		b.L2 = &v
	}
	if b.DropOut == nil {
		v := g.DropOut
		b.DropOut = &v
	}
	if b.WeightNoise == nil {
		b.WeightNoise = g.WeightNoise
	}
}

func (b *BaseLayer) validate() error {
	if b.NOut <= 0 {
		return errorf("nOut must be > 0, got %d", b.NOut)
	}
	if b.NIn <= 0 {
		return errorf("nIn must be > 0, got %d", b.NIn)
	}
	if b.Activation == "" {
		return errorf("activation is required - set it globally or per layer")
	}
	if _, err := b.Activation.fn(); err != nil {
		return err
	}
	if err := b.WeightInit.validate(b.Dist); err != nil {
		return err
	}
	if v := b.L1Coeff(); v < 0 || math.IsNaN(v) {
		return errorf("l1 must be >= 0, got %v", v)
	}
	if v := b.L2Coeff(); v < 0 || math.IsNaN(v) {
		return errorf("l2 must be >= 0, got %v", v)
	}
	if d := b.DropOutRate(); d < 0 || d >= 1 {
		return errorf("dropout rate must be in [0, 1), got %v", d)
	}
	if b.WeightNoise != nil {
		return b.WeightNoise.validate()
	}
	return nil
}

// SimpleRnnConf - fully connected recurrent layer, h_t = act(x_t W + h_{t-1} U + b)
type SimpleRnnConf struct {
	BaseLayer
}

func (c *SimpleRnnConf) Kind() LayerKind { return LayerSimpleRnn }
func (c *SimpleRnnConf) OutputSize() int { return c.NOut }
func (c *SimpleRnnConf) Recurrent() bool { return true }
func (c *SimpleRnnConf) validate() error { return c.BaseLayer.validate() }

func (c *SimpleRnnConf) clone() LayerConf {
	cp := *c
	return &cp
}

// LSTMConf - long short-term memory without peephole connections
type LSTMConf struct {
	BaseLayer
	ForgetGateBiasInit float64 `json:"forgetGateBiasInit"`
}

func (c *LSTMConf) Kind() LayerKind { return LayerLSTM }
func (c *LSTMConf) OutputSize() int { return c.NOut }
func (c *LSTMConf) Recurrent() bool { return true }
func (c *LSTMConf) validate() error { return c.BaseLayer.validate() }

func (c *LSTMConf) clone() LayerConf {
	cp := *c
	return &cp
}

// GravesLSTMConf - LSTM with peephole connections from the cell state to the gates
type GravesLSTMConf struct {
	LSTMConf
}

func (c *GravesLSTMConf) Kind() LayerKind { return LayerGravesLSTM }

func (c *GravesLSTMConf) clone() LayerConf {
	cp := *c
	return &cp
}

// GravesBidirectionalLSTMConf runs two peephole LSTMs over opposite time
// directions and sums their activations, so the output width stays nOut.
type GravesBidirectionalLSTMConf struct {
	LSTMConf
}

func (c *GravesBidirectionalLSTMConf) Kind() LayerKind { return LayerGravesBidirectionalLSTM }

func (c *GravesBidirectionalLSTMConf) clone() LayerConf {
	cp := *c
	return &cp
}

// BidirectionalMode controls how the two directions are combined.
type BidirectionalMode string

const (
	BidirectionalConcat  BidirectionalMode = "CONCAT"
	BidirectionalAdd     BidirectionalMode = "ADD"
	BidirectionalMul     BidirectionalMode = "MUL"
	BidirectionalAverage BidirectionalMode = "AVERAGE"
)

// BidirectionalConf wraps a recurrent layer configuration; the forward and
// backward copies have independent parameters.
type BidirectionalConf struct {
	Mode  BidirectionalMode
	Layer LayerConf
}

func (c *BidirectionalConf) Kind() LayerKind { return LayerBidirectional }
func (c *BidirectionalConf) Recurrent() bool { return true }

func (c *BidirectionalConf) clone() LayerConf {
	cp := *c
	if c.Layer != nil {
		cp.Layer = c.Layer.clone()
	}
	return &cp
}

// Base returns the wrapped layer's settings, nil when nothing is wrapped.
func (c *BidirectionalConf) Base() *BaseLayer {
	if c.Layer == nil {
		return nil
	}
	return c.Layer.Base()
}

func (c *BidirectionalConf) OutputSize() int {
	if c.Mode == BidirectionalConcat {
		return 2 * c.Layer.OutputSize()
	}
	return c.Layer.OutputSize()
}

func (c *BidirectionalConf) validate() error {
	if c.Layer == nil {
		return errorf("bidirectional wrapper requires a layer")
	}
	switch c.Layer.Kind() {
	case LayerSimpleRnn, LayerLSTM, LayerGravesLSTM:
	default:
		return errorf("bidirectional wrapper cannot wrap %s", c.Layer.Kind())
	}
	switch c.Mode {
	case BidirectionalConcat, BidirectionalAdd, BidirectionalMul, BidirectionalAverage:
	default:
		return errorf("unknown bidirectional mode %q", string(c.Mode))
	}
	return c.Layer.validate()
}

func (c *BidirectionalConf) MarshalJSON() ([]byte, error) {
	inner, err := marshalLayer(c.Layer)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Mode  BidirectionalMode `json:"mode"`
		Layer json.RawMessage   `json:"layer"`
	}{c.Mode, inner})
}

func (c *BidirectionalConf) UnmarshalJSON(data []byte) error {
	var aux struct {
		Mode  BidirectionalMode `json:"mode"`
		Layer json.RawMessage   `json:"layer"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	inner, err := unmarshalLayer(aux.Layer)
	if err != nil {
		return err
	}
	c.Mode, c.Layer = aux.Mode, inner
	return nil
}

// RnnOutputConf - time-distributed dense output layer with a loss function
type RnnOutputConf struct {
	BaseLayer
	Loss LossFunction `json:"loss"`
}

func (c *RnnOutputConf) Kind() LayerKind { return LayerRnnOutput }
func (c *RnnOutputConf) OutputSize() int { return c.NOut }
func (c *RnnOutputConf) Recurrent() bool { return true }
func (c *RnnOutputConf) validate() error { return validateOutput(&c.BaseLayer, c.Loss) }

func (c *RnnOutputConf) clone() LayerConf {
	cp := *c
	return &cp
}

// DenseConf - fully connected feed-forward layer
type DenseConf struct {
	BaseLayer
}

func (c *DenseConf) Kind() LayerKind { return LayerDense }
func (c *DenseConf) OutputSize() int { return c.NOut }
func (c *DenseConf) Recurrent() bool { return false }
func (c *DenseConf) validate() error { return c.BaseLayer.validate() }

func (c *DenseConf) clone() LayerConf {
	cp := *c
	return &cp
}

// OutputConf - feed-forward output layer with a loss function
type OutputConf struct {
	BaseLayer
	Loss LossFunction `json:"loss"`
}

func (c *OutputConf) Kind() LayerKind { return LayerOutput }
func (c *OutputConf) OutputSize() int { return c.NOut }
func (c *OutputConf) Recurrent() bool { return false }
func (c *OutputConf) validate() error { return validateOutput(&c.BaseLayer, c.Loss) }

func (c *OutputConf) clone() LayerConf {
	cp := *c
	return &cp
}

func validateOutput(b *BaseLayer, loss LossFunction) error {
	if err := b.validate(); err != nil {
		return err
	}
	if _, err := loss.fn(); err != nil {
		return err
	}
	if (loss == LossMCXENT || loss == LossNegativeLogLikelihood) && b.Activation != ActivationSoftmax {
		return errorf("loss %s requires softmax activation, got %s", loss, b.Activation)
	}
	return nil
}

// isOutputLayer reports whether c terminates the network with a loss.
func isOutputLayer(c LayerConf) bool {
	k := c.Kind()
	return k == LayerRnnOutput || k == LayerOutput
}

// =============================================================================
// Builders
// =============================================================================

// LayerBuilder is the fluent builder shared by every layer kind.
type LayerBuilder[T LayerConf] struct {
	conf T
}

func newBuilder[T LayerConf](conf T, nOut int) *LayerBuilder[T] {
	conf.Base().NOut = nOut
	return &LayerBuilder[T]{conf: conf}
}

func SimpleRnn(nOut int) *LayerBuilder[*SimpleRnnConf] {
	return newBuilder(&SimpleRnnConf{}, nOut)
}

// LSTM initialises the forget gate bias to 1.0.
func LSTM(nOut int) *LayerBuilder[*LSTMConf] {
	return newBuilder(&LSTMConf{ForgetGateBiasInit: 1.0}, nOut)
}

func GravesLSTM(nOut int) *LayerBuilder[*GravesLSTMConf] {
	return newBuilder(&GravesLSTMConf{LSTMConf{ForgetGateBiasInit: 1.0}}, nOut)
}

func GravesBidirectionalLSTM(nOut int) *LayerBuilder[*GravesBidirectionalLSTMConf] {
	return newBuilder(&GravesBidirectionalLSTMConf{LSTMConf{ForgetGateBiasInit: 1.0}}, nOut)
}

func RnnOutput(nOut int, loss LossFunction) *LayerBuilder[*RnnOutputConf] {
	return newBuilder(&RnnOutputConf{Loss: loss}, nOut)
}

func Dense(nOut int) *LayerBuilder[*DenseConf] {
	return newBuilder(&DenseConf{}, nOut)
}

func Output(nOut int, loss LossFunction) *LayerBuilder[*OutputConf] {
	return newBuilder(&OutputConf{Loss: loss}, nOut)
}

func (b *LayerBuilder[T]) WithName(name string) *LayerBuilder[T] {
	b.conf.Base().Name = name
	return b
}

// WithNIn pins the input width. It is normally inferred from the input type.
func (b *LayerBuilder[T]) WithNIn(nIn int) *LayerBuilder[T] {
	b.conf.Base().NIn = nIn
	return b
}

func (b *LayerBuilder[T]) WithActivation(act Activation) *LayerBuilder[T] {
	b.conf.Base().Activation = act
	return b
}

func (b *LayerBuilder[T]) WithWeightInit(init WeightInit) *LayerBuilder[T] {
	b.conf.Base().WeightInit = init
	return b
}

// WithDistribution selects WeightInitDistribution with the given distribution.
func (b *LayerBuilder[T]) WithDistribution(dist *Distribution) *LayerBuilder[T] {
	b.conf.Base().WeightInit = WeightInitDistribution
	b.conf.Base().Dist = dist
	return b
}

func (b *LayerBuilder[T]) WithL1(l1 float64) *LayerBuilder[T] {
	b.conf.Base().L1 = &l1
	return b
}

func (b *LayerBuilder[T]) WithL2(l2 float64) *LayerBuilder[T] {
	b.conf.Base().L2 = &l2
	return b
}

func (b *LayerBuilder[T]) WithDropOut(rate float64) *LayerBuilder[T] {
	b.conf.Base().DropOut = &rate
	return b
}

func (b *LayerBuilder[T]) WithWeightNoise(noise *WeightNoise) *LayerBuilder[T] {
	b.conf.Base().WeightNoise = noise
	return b
}

func (b *LayerBuilder[T]) Build() T {
	return b.conf
}

// BidirectionalBuilder for fluent API
type BidirectionalBuilder struct {
	conf *BidirectionalConf
}

// Bidirectional wraps layer; the default mode is CONCAT.
func Bidirectional(layer LayerConf) *BidirectionalBuilder {
	return &BidirectionalBuilder{conf: &BidirectionalConf{Mode: BidirectionalConcat, Layer: layer}}
}

func (b *BidirectionalBuilder) WithMode(mode BidirectionalMode) *BidirectionalBuilder {
	b.conf.Mode = mode
	return b
}

func (b *BidirectionalBuilder) Build() *BidirectionalConf {
	return b.conf
}

// =============================================================================
// JSON
// =============================================================================

type envelope struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

func marshalLayer(c LayerConf) (json.RawMessage, error) {
	cfg, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: string(c.Kind()), Config: cfg})
}

func unmarshalLayer(raw json.RawMessage) (LayerConf, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	var c LayerConf
	switch LayerKind(env.Type) {
	case LayerSimpleRnn:
		c = &SimpleRnnConf{}
	case LayerLSTM:
		c = &LSTMConf{}
	case LayerGravesLSTM:
		c = &GravesLSTMConf{}
	case LayerGravesBidirectionalLSTM:
		c = &GravesBidirectionalLSTMConf{}
	case LayerBidirectional:
		c = &BidirectionalConf{}
	case LayerRnnOutput:
		c = &RnnOutputConf{}
	case LayerDense:
		c = &DenseConf{}
	case LayerOutput:
		c = &OutputConf{}
	default:
		return nil, errorf("unknown layer type %q", env.Type)
	}
	if err := json.Unmarshal(env.Config, c); err != nil {
		return nil, err
	}
	return c, nil
}
