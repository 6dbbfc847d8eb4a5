package seqflow

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ConvolutionMode is the padding policy for convolutional layers. It is
// recorded and validated with the configuration.
type ConvolutionMode string

const (
	ConvolutionModeSame     ConvolutionMode = "Same"
	ConvolutionModeTruncate ConvolutionMode = "Truncate"
	ConvolutionModeStrict   ConvolutionMode = "Strict"
	ConvolutionModeCausal   ConvolutionMode = "Causal"
)

func (m ConvolutionMode) validate() error {
	switch m {
	case ConvolutionModeSame, ConvolutionModeTruncate, ConvolutionModeStrict, ConvolutionModeCausal:
		return nil
	}
	return errorf("unknown convolution mode %q", string(m))
}

// InputKind distinguishes sequence input from flat vectors.
type InputKind string

const (
	InputKindRecurrent   InputKind = "recurrent"
	InputKindFeedForward InputKind = "feedforward"
)

// InputType describes the activations flowing into a layer.
type InputType struct {
	Kind InputKind `json:"kind"`
	Size int       `json:"size"`
}

func InputTypeRecurrent(size int) InputType {
	return InputType{Kind: InputKindRecurrent, Size: size}
}

func InputTypeFeedForward(size int) InputType {
	return InputType{Kind: InputKindFeedForward, Size: size}
}

func (t InputType) String() string {
	return fmt.Sprintf("%s(%d)", t.Kind, t.Size)
}

// GradientClipConfig for gradient clipping. An empty Mode means "none".
type GradientClipConfig struct {
	Mode     string  `json:"mode,omitempty"` // "norm", "value", or "none"
	MaxNorm  float64 `json:"maxNorm,omitempty"`
	MaxValue float64 `json:"maxValue,omitempty"`
}

func (c GradientClipConfig) validate() error {
	switch c.Mode {
	case "", "none":
	case "norm":
		if c.MaxNorm <= 0 {
			return errorf("GradientClip.MaxNorm must be > 0, got %v", c.MaxNorm)
		}
	case "value":
		if c.MaxValue <= 0 {
			return errorf("GradientClip.MaxValue must be > 0, got %v", c.MaxValue)
		}
	default:
		return errorf("unknown GradientClip.Mode %q", c.Mode)
	}
	return nil
}

// GlobalConfig holds the defaults every layer inherits unless it overrides them.
type GlobalConfig struct {
	Updater         Updater            `json:"-"`
	Activation      Activation         `json:"activation,omitempty"`
	WeightInit      WeightInit         `json:"weightInit,omitempty"`
	Dist            *Distribution      `json:"dist,omitempty"`
	L1              float64            `json:"l1"`
	L2              float64            `json:"l2"`
	DropOut         float64            `json:"dropOut"`
	WeightNoise     *WeightNoise       `json:"weightNoise,omitempty"`
	ConvolutionMode ConvolutionMode    `json:"convolutionMode"`
	GradientClip    GradientClipConfig `json:"gradientClip"`
}

func (g *GlobalConfig) validate() error {
	if g.Updater == nil {
		return errorf("updater is required")
	}
	if err := g.Updater.validate(); err != nil {
		return err
	}
	if g.L1 < 0 || math.IsNaN(g.L1) {
		return errorf("l1 must be >= 0, got %v", g.L1)
	}
	if g.L2 < 0 || math.IsNaN(g.L2) {
		return errorf("l2 must be >= 0, got %v", g.L2)
	}
	if g.DropOut < 0 || g.DropOut >= 1 {
		return errorf("dropout rate must be in [0, 1), got %v", g.DropOut)
	}
	if g.WeightNoise != nil {
		if err := g.WeightNoise.validate(); err != nil {
			return err
		}
	}
	if err := g.ConvolutionMode.validate(); err != nil {
		return err
	}
	return g.GradientClip.validate()
}

// MultiLayerConfiguration is a fully resolved, validated network description.
type MultiLayerConfiguration struct {
	Seed      int64
	Global    GlobalConfig
	Layers    []LayerConf
	InputType InputType
}

// LayerInputType returns the input type seen by layer i.
func (c *MultiLayerConfiguration) LayerInputType(i int) InputType {
	if i == 0 {
		return c.InputType
	}
	prev := c.Layers[i-1]
	if prev.Recurrent() {
		return InputTypeRecurrent(prev.OutputSize())
	}
	return InputTypeFeedForward(prev.OutputSize())
}

// OutputType returns the activation type emitted by the last layer.
func (c *MultiLayerConfiguration) OutputType() InputType {
	return c.LayerInputType(len(c.Layers))
}

type configJSON struct {
	Seed      int64             `json:"seed"`
	Updater   json.RawMessage   `json:"updater"`
	Global    GlobalConfig      `json:"global"`
	Layers    []json.RawMessage `json:"layers"`
	InputType InputType         `json:"inputType"`
}

// ToJSON serializes the configuration; layers and the updater are written as
// {"type": ..., "config": ...} envelopes.
func (c *MultiLayerConfiguration) ToJSON() ([]byte, error) {
	upd, err := marshalUpdater(c.Global.Updater)
	if err != nil {
		return nil, err
	}
	aux := configJSON{Seed: c.Seed, Updater: upd, Global: c.Global, InputType: c.InputType}
	for _, l := range c.Layers {
		raw, err := marshalLayer(l)
		if err != nil {
			return nil, err
		}
		aux.Layers = append(aux.Layers, raw)
	}
	return json.MarshalIndent(aux, "", "  ")
}

// ConfigurationFromJSON parses and re-validates a configuration written by ToJSON.
func ConfigurationFromJSON(data []byte) (*MultiLayerConfiguration, error) {
	var aux configJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, errorf("decode configuration: %v", err)
	}
	upd, err := unmarshalUpdater(aux.Updater)
	if err != nil {
		return nil, err
	}
	b := NewConfig()
	b.conf.Seed = aux.Seed
	b.conf.Global = aux.Global
	b.conf.Global.Updater = upd
	list := b.List().SetInputType(aux.InputType)
	for _, raw := range aux.Layers {
		l, err := unmarshalLayer(raw)
		if err != nil {
			return nil, err
		}
		list.Layer(l)
	}
	return list.Build()
}

// =============================================================================
// Builders
// =============================================================================

// ConfigBuilder collects the global settings of a network.
type ConfigBuilder struct {
	conf *MultiLayerConfiguration
}

func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{conf: &MultiLayerConfiguration{}}
}

func (b *ConfigBuilder) Seed(seed int64) *ConfigBuilder {
	b.conf.Seed = seed
	return b
}

func (b *ConfigBuilder) Updater(u Updater) *ConfigBuilder {
	b.conf.Global.Updater = u
	return b
}

func (b *ConfigBuilder) Activation(act Activation) *ConfigBuilder {
	b.conf.Global.Activation = act
	return b
}

func (b *ConfigBuilder) WeightInit(init WeightInit) *ConfigBuilder {
	b.conf.Global.WeightInit = init
	return b
}

// Distribution selects WeightInitDistribution with the given distribution.
func (b *ConfigBuilder) Distribution(dist *Distribution) *ConfigBuilder {
	b.conf.Global.WeightInit = WeightInitDistribution
	b.conf.Global.Dist = dist
	return b
}

func (b *ConfigBuilder) L1(l1 float64) *ConfigBuilder {
	b.conf.Global.L1 = l1
	return b
}

func (b *ConfigBuilder) L2(l2 float64) *ConfigBuilder {
	b.conf.Global.L2 = l2
	return b
}

// DropOut sets the probability of dropping each layer input during training.
func (b *ConfigBuilder) DropOut(rate float64) *ConfigBuilder {
	b.conf.Global.DropOut = rate
	return b
}

func (b *ConfigBuilder) WeightNoise(noise *WeightNoise) *ConfigBuilder {
	b.conf.Global.WeightNoise = noise
	return b
}

func (b *ConfigBuilder) ConvolutionMode(mode ConvolutionMode) *ConfigBuilder {
	b.conf.Global.ConvolutionMode = mode
	return b
}

func (b *ConfigBuilder) GradientClip(clip GradientClipConfig) *ConfigBuilder {
	b.conf.Global.GradientClip = clip
	return b
}

// List starts the ordered layer list.
func (b *ConfigBuilder) List() *ListBuilder {
	return &ListBuilder{conf: b.conf}
}

// ListBuilder accumulates layers; the first error is reported by Build.
type ListBuilder struct {
	conf     *MultiLayerConfiguration
	hasInput bool
	err      error
}

func (b *ListBuilder) Layer(l LayerConf) *ListBuilder {
	if b.err != nil {
		return b
	}
	if l == nil {
		b.err = errorf("layer %d is nil", len(b.conf.Layers))
		return b
	}
	b.conf.Layers = append(b.conf.Layers, l)
	return b
}

func (b *ListBuilder) SetInputType(t InputType) *ListBuilder {
	b.conf.InputType = t
	b.hasInput = true
	return b
}

// Build resolves inheritance, infers nIn for every layer and validates the
// result. The layer configurations passed to Layer are copied, not modified.
func (b *ListBuilder) Build() (*MultiLayerConfiguration, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.conf.Layers) == 0 {
		return nil, errorf("configuration has no layers")
	}
	conf := *b.conf
	conf.Layers = make([]LayerConf, len(b.conf.Layers))
	for i, l := range b.conf.Layers {
		conf.Layers[i] = l.clone()
	}
	if conf.Global.ConvolutionMode == "" {
		conf.Global.ConvolutionMode = ConvolutionModeTruncate
	}
	if err := conf.Global.validate(); err != nil {
		return nil, err
	}

	in := conf.InputType
	if !b.hasInput && conf.InputType.Kind == "" {
		first := conf.Layers[0]
		base := first.Base()
		if base == nil {
			return nil, buildError(first, 0, "invalid configuration", "layer has no settings")
		}
		if base.NIn <= 0 {
			return nil, errorf("input type is required when the first layer has no nIn")
		}
		in = InputTypeFeedForward(base.NIn)
		if first.Recurrent() {
			in = InputTypeRecurrent(base.NIn)
		}
		conf.InputType = in
	}
	if in.Kind != InputKindRecurrent && in.Kind != InputKindFeedForward {
		return nil, errorf("unknown input kind %q", string(in.Kind))
	}
	if in.Size <= 0 {
		return nil, errorf("input size must be > 0, got %d", in.Size)
	}

	last := len(conf.Layers) - 1
	for i, l := range conf.Layers {
		if err := resolveLayer(l, i, in, &conf.Global); err != nil {
			return nil, err
		}
		if isOutputLayer(l) != (i == last) {
			cause := "an output layer must be last"
			if i == last {
				cause = "last layer must be an output layer"
			}
			return nil, buildError(l, i, "invalid layer order", cause)
		}
		in = conf.LayerInputType(i + 1)
	}

	debugf("configuration built", "layers", len(conf.Layers), "input", conf.InputType.String())
	return &conf, nil
}

func resolveLayer(l LayerConf, index int, in InputType, g *GlobalConfig) error {
	wantRecurrent := in.Kind == InputKindRecurrent
	if l.Recurrent() != wantRecurrent {
		return buildError(l, index, "input kind mismatch",
			fmt.Sprintf("layer cannot consume %s input", in.Kind))
	}

	// Bidirectional exposes the wrapped layer's base, so both directions
	// resolve against the same input width.
	base := l.Base()
	if base == nil {
		return buildError(l, index, "invalid configuration", "layer has no settings")
	}
	if base.NIn != 0 && base.NIn != in.Size {
		e := buildError(l, index, "shape mismatch",
			fmt.Sprintf("nIn %d does not match previous output %d", base.NIn, in.Size))
		e.ExpectedInfo = fmt.Sprintf("nIn=%d", in.Size)
		return e
	}
	base.NIn = in.Size
	base.inherit(g)
	if err := l.validate(); err != nil {
		return buildError(l, index, "invalid configuration", strings.TrimPrefix(err.Error(), "seqflow: "))
	}
	return nil
}

func buildError(l LayerConf, index int, errType, cause string) *LayerError {
	e := &LayerError{Kind: l.Kind(), LayerIndex: index, Phase: PhaseBuild, ErrorType: errType, Cause: cause}
	if l.Base() != nil {
		e.LayerName = l.Base().Name
	}
	return e
}

// TrainConfig holds all training configuration - ALL fields required
type TrainConfig struct {
	Epochs          int
	BatchSize       int
	Shuffle         bool
	ValidationSplit float64
}

// ValidateTrainConfig checks all required fields are set
func ValidateTrainConfig(cfg TrainConfig) error {
	if cfg.Epochs <= 0 {
		return errorf("Epochs must be > 0, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return errorf("BatchSize must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return errorf("ValidationSplit must be in [0, 1), got %f", cfg.ValidationSplit)
	}
	return nil
}
