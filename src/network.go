package seqflow

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// MultiLayerNetwork owns the parameters described by a MultiLayerConfiguration.
type MultiLayerNetwork struct {
	conf        *MultiLayerConfiguration
	layers      []layer
	regs        [][]Regularizer
	states      map[*param]updaterState
	masks       []*tensor
	listeners   []TrainingListener
	rng         *rand.Rand
	initialized bool

	iteration int
	epoch     int
	score     float64
}

// NewMultiLayerNetwork wraps conf. No parameters are allocated until Init.
func NewMultiLayerNetwork(conf *MultiLayerConfiguration) *MultiLayerNetwork {
	return &MultiLayerNetwork{conf: conf}
}

// Init allocates and initialises every parameter from the configuration seed.
// Two networks initialised from the same configuration hold identical parameters.
func (n *MultiLayerNetwork) Init() error {
	if n.conf == nil {
		return errorf("network has no configuration")
	}
	if len(n.conf.Layers) == 0 {
		return errorf("configuration has no layers")
	}

	n.rng = rand.New(rand.NewSource(n.conf.Seed))
	n.layers = make([]layer, len(n.conf.Layers))
	n.regs = make([][]Regularizer, len(n.conf.Layers))
	n.masks = make([]*tensor, len(n.conf.Layers))
	n.states = make(map[*param]updaterState)

	for i, lc := range n.conf.Layers {
		l, err := lc.instantiate(n.rng)
		if err != nil {
			return &LayerError{Kind: lc.Kind(), LayerIndex: i, LayerName: lc.Base().Name,
				Phase: PhaseInit, ErrorType: "instantiation failed", Cause: err.Error()}
		}
		n.layers[i] = l
		n.regs[i] = regularizersFor(lc.Base().L1Coeff(), lc.Base().L2Coeff())
		for _, p := range l.params() {
			n.states[p] = n.conf.Global.Updater.newState(p.value.size())
		}
	}
	if _, ok := n.layers[len(n.layers)-1].(outputLayer); !ok {
		return errorf("last layer %s has no loss function", n.layers[len(n.layers)-1].name())
	}

	n.iteration, n.epoch, n.score = 0, 0, 0
	n.initialized = true
	debugf("network initialized", "layers", len(n.layers), "params", n.NumParams())
	return nil
}

func (n *MultiLayerNetwork) Initialized() bool { return n.initialized }

func (n *MultiLayerNetwork) Conf() *MultiLayerConfiguration { return n.conf }

func (n *MultiLayerNetwork) NumLayers() int {
	if n.conf == nil {
		return 0
	}
	return len(n.conf.Layers)
}

// LayerConf returns the configuration of layer i.
func (n *MultiLayerNetwork) LayerConf(i int) LayerConf {
	return n.conf.Layers[i]
}

// NumParams is computed from the configuration, so it is available before Init.
func (n *MultiLayerNetwork) NumParams() int {
	total := 0
	for i := 0; i < n.NumLayers(); i++ {
		total += layerParamCount(n.conf.Layers[i])
	}
	return total
}

func layerParamCount(c LayerConf) int {
	b := c.Base()
	switch conf := c.(type) {
	case *SimpleRnnConf:
		return b.NIn*b.NOut + b.NOut*b.NOut + b.NOut
	case *LSTMConf:
		return lstmParamCount(b.NIn, b.NOut, false)
	case *GravesLSTMConf:
		return lstmParamCount(b.NIn, b.NOut, true)
	case *GravesBidirectionalLSTMConf:
		return 2 * lstmParamCount(b.NIn, b.NOut, true)
	case *BidirectionalConf:
		return 2 * layerParamCount(conf.Layer)
	}
	return b.NIn*b.NOut + b.NOut
}

func lstmParamCount(nIn, n int, peephole bool) int {
	count := nIn*4*n + n*4*n + 4*n
	if peephole {
		count += 3 * n
	}
	return count
}

// Iteration returns the number of minibatch updates applied so far.
func (n *MultiLayerNetwork) Iteration() int { return n.iteration }

func (n *MultiLayerNetwork) Epoch() int { return n.epoch }

// Score returns the score of the last minibatch passed to Fit.
func (n *MultiLayerNetwork) Score() float64 { return n.score }

// SetListeners replaces the training listeners.
func (n *MultiLayerNetwork) SetListeners(listeners ...TrainingListener) {
	n.listeners = listeners
}

func (n *MultiLayerNetwork) AddListeners(listeners ...TrainingListener) {
	n.listeners = append(n.listeners, listeners...)
}

func (n *MultiLayerNetwork) requireInit() error {
	if !n.initialized {
		return errorf("network not initialized - call Init() first")
	}
	return nil
}

// Output runs inference. Recurrent samples are flattened time-major; the
// returned rows use the same layout with nOut values per time step.
func (n *MultiLayerNetwork) Output(features [][]float64) ([][]float64, error) {
	if err := n.requireInit(); err != nil {
		return nil, err
	}
	x, err := rowsToTensor(features, n.conf.InputType)
	if err != nil {
		return nil, err
	}
	out, err := n.feedForward(x, false)
	if err != nil {
		return nil, err
	}
	return tensorToRows(out), nil
}

// Fit performs one training iteration on a single minibatch and returns its score.
func (n *MultiLayerNetwork) Fit(features, labels [][]float64) (float64, error) {
	if err := n.requireInit(); err != nil {
		return 0, err
	}
	x, y, err := n.dataset(features, labels)
	if err != nil {
		return 0, err
	}
	return n.fitBatch(x, y)
}

// FitResult holds per-epoch training history
type FitResult struct {
	EpochScores      []float64
	ValidationScores []float64
	FinalScore       float64
}

// FitEpochs trains for cfg.Epochs passes over the data in minibatches of cfg.BatchSize.
func (n *MultiLayerNetwork) FitEpochs(features, labels [][]float64, cfg TrainConfig) (*FitResult, error) {
	if err := n.requireInit(); err != nil {
		return nil, err
	}
	if err := ValidateTrainConfig(cfg); err != nil {
		return nil, err
	}
	x, y, err := n.dataset(features, labels)
	if err != nil {
		return nil, err
	}

	trainX, trainY := x, y
	var valX, valY *tensor
	if cfg.ValidationSplit > 0 {
		trainX, trainY, valX, valY = splitData(x, y, cfg.ValidationSplit)
		if trainX.shape[0] == 0 {
			return nil, errorf("validation split %v leaves no training data", cfg.ValidationSplit)
		}
		if valX.shape[0] == 0 {
			valX, valY = nil, nil
		}
	}

	result := &FitResult{}
	numBatches := (trainX.shape[0] + cfg.BatchSize - 1) / cfg.BatchSize

	for e := 0; e < cfg.Epochs; e++ {
		for _, l := range n.listeners {
			l.OnEpochStart(n)
		}
		if cfg.Shuffle {
			shuffleData(trainX, trainY, n.rng)
		}

		epochScore := 0.0
		for b := 0; b < numBatches; b++ {
			start := b * cfg.BatchSize
			s, err := n.fitBatch(getBatch(trainX, start, cfg.BatchSize), getBatch(trainY, start, cfg.BatchSize))
			if err != nil {
				return result, errors.Wrapf(err, "epoch %d batch %d", n.epoch, b)
			}
			epochScore += s
		}
		result.EpochScores = append(result.EpochScores, epochScore/float64(numBatches))

		if valX != nil {
			vs, err := n.scoreTensors(valX, valY)
			if err != nil {
				return result, err
			}
			result.ValidationScores = append(result.ValidationScores, vs)
		}

		for _, l := range n.listeners {
			l.OnEpochEnd(n)
		}
		n.epoch++
	}
	result.FinalScore = result.EpochScores[len(result.EpochScores)-1]
	return result, nil
}

// ScoreExamples returns the loss plus regularization penalty of the data
// without updating parameters. Dropout and weight noise are not applied.
func (n *MultiLayerNetwork) ScoreExamples(features, labels [][]float64) (float64, error) {
	if err := n.requireInit(); err != nil {
		return 0, err
	}
	x, y, err := n.dataset(features, labels)
	if err != nil {
		return 0, err
	}
	return n.scoreTensors(x, y)
}

func (n *MultiLayerNetwork) scoreTensors(x, y *tensor) (float64, error) {
	if _, err := n.feedForward(x, false); err != nil {
		return 0, err
	}
	s, err := n.outputLayer().score(y)
	if err != nil {
		return 0, err
	}
	return s + n.regularizationScore(), nil
}

func (n *MultiLayerNetwork) dataset(features, labels [][]float64) (*tensor, *tensor, error) {
	if len(features) != len(labels) {
		return nil, nil, errorf("features and labels must have same length, got %d and %d", len(features), len(labels))
	}
	x, err := rowsToTensor(features, n.conf.InputType)
	if err != nil {
		return nil, nil, errors.Wrap(err, "features")
	}
	out := n.conf.OutputType()
	if out.Kind == InputKindRecurrent {
		out.Size *= x.shape[1]
		y, err := rowsToTensor(labels, InputTypeFeedForward(out.Size))
		if err != nil {
			return nil, nil, errors.Wrap(err, "labels")
		}
		y.shape = []int{x.shape[0], x.shape[1], n.conf.OutputType().Size}
		return x, y, nil
	}
	y, err := rowsToTensor(labels, out)
	if err != nil {
		return nil, nil, errors.Wrap(err, "labels")
	}
	return x, y, nil
}

func (n *MultiLayerNetwork) outputLayer() outputLayer {
	return n.layers[len(n.layers)-1].(outputLayer)
}

func (n *MultiLayerNetwork) feedForward(x *tensor, training bool) (*tensor, error) {
	for i, l := range n.layers {
		n.masks[i] = nil
		if rate := n.conf.Layers[i].Base().DropOutRate(); training && rate > 0 {
			mask := dropoutMask(x.shape, rate, n.rng)
			dropped := newTensor(x.shape...)
			elemMul(x, mask, dropped)
			x = dropped
			n.masks[i] = mask
		}

		out, err := l.forward(x, training)
		if err != nil {
			return nil, n.layerError(i, PhaseForward, err)
		}
		if DebugMode {
			if err := checkFinite(out, n.conf.Layers[i].Kind(), n.conf.Layers[i].Base().Name, i, PhaseForward); err != nil {
				return nil, err
			}
		}
		x = out
	}
	return x, nil
}

func (n *MultiLayerNetwork) backprop(labels *tensor) error {
	last := len(n.layers) - 1
	grad, err := n.outputLayer().backwardLabels(labels)
	if err != nil {
		return n.layerError(last, PhaseBackward, err)
	}
	for i := last; i >= 0; i-- {
		if i < last {
			grad, err = n.layers[i].backward(grad)
			if err != nil {
				return n.layerError(i, PhaseBackward, err)
			}
		}
		if n.masks[i] != nil {
			elemMul(grad, n.masks[i], grad)
		}
		if DebugMode {
			if err := checkFinite(grad, n.conf.Layers[i].Kind(), n.conf.Layers[i].Base().Name, i, PhaseBackward); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *MultiLayerNetwork) fitBatch(x, y *tensor) (float64, error) {
	n.zeroGrads()

	restore := n.applyWeightNoise()
	_, err := n.feedForward(x, true)
	if err != nil {
		restore()
		return 0, err
	}
	score, err := n.outputLayer().score(y)
	if err == nil {
		err = n.backprop(y)
	}
	restore()
	if err != nil {
		return 0, err
	}

	score += n.regularizationScore()
	n.regularizationGradients()
	n.clipGradients()

	for _, l := range n.layers {
		for _, p := range l.params() {
			n.states[p].apply(p.value.data, p.grad.data, n.conf.Global.Updater.LearningRate(n.iteration))
		}
	}

	if math.IsNaN(score) || math.IsInf(score, 0) {
		logger.Warn("non-finite score", "iteration", n.iteration, "score", score)
	}
	n.score = score
	n.iteration++
	for _, l := range n.listeners {
		l.IterationDone(n, n.iteration, n.epoch)
	}
	return score, nil
}

func (n *MultiLayerNetwork) zeroGrads() {
	for _, l := range n.layers {
		for _, p := range l.params() {
			p.grad.zero()
		}
	}
}

// applyWeightNoise perturbs weights of every layer with a WeightNoise policy
// and returns a function restoring the clean values.
func (n *MultiLayerNetwork) applyWeightNoise() func() {
	var restores []func()
	for i, l := range n.layers {
		if noise := n.conf.Layers[i].Base().WeightNoise; noise != nil {
			restores = append(restores, noise.perturb(l.params(), n.rng))
		}
	}
	return func() {
		for _, r := range restores {
			r()
		}
	}
}

func (n *MultiLayerNetwork) regularizationScore() float64 {
	score := 0.0
	for i, l := range n.layers {
		for _, r := range n.regs[i] {
			for _, p := range l.params() {
				if !p.bias {
					score += r.score(p.value)
				}
			}
		}
	}
	return score
}

func (n *MultiLayerNetwork) regularizationGradients() {
	for i, l := range n.layers {
		for _, r := range n.regs[i] {
			for _, p := range l.params() {
				if !p.bias {
					r.gradient(p.value, p.grad)
				}
			}
		}
	}
}

func (n *MultiLayerNetwork) clipGradients() {
	clipCfg := n.conf.Global.GradientClip
	switch clipCfg.Mode {
	case "norm":
		totalNorm := 0.0
		for _, l := range n.layers {
			for _, p := range l.params() {
				norm := l2Norm(p.grad)
				totalNorm += norm * norm
			}
		}
		totalNorm = math.Sqrt(totalNorm)
		if totalNorm > clipCfg.MaxNorm {
			scale := clipCfg.MaxNorm / totalNorm
			for _, l := range n.layers {
				for _, p := range l.params() {
					mulScalar(p.grad, scale)
				}
			}
		}
	case "value":
		for _, l := range n.layers {
			for _, p := range l.params() {
				clip(p.grad, -clipCfg.MaxValue, clipCfg.MaxValue)
			}
		}
	}
}

func (n *MultiLayerNetwork) layerError(i int, phase Phase, err error) error {
	if le, ok := err.(*LayerError); ok {
		return le
	}
	lc := n.conf.Layers[i]
	return &LayerError{Kind: lc.Kind(), LayerIndex: i, LayerName: lc.Base().Name,
		Phase: phase, ErrorType: "execution failed", Cause: err.Error()}
}

// ParamState for serialization
type ParamState struct {
	Layer int       `json:"layer"`
	Key   string    `json:"key"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// ModelState for serialization
type ModelState struct {
	Version string       `json:"version"`
	Params  []ParamState `json:"params"`
}

// SaveParams writes every parameter array to path as JSON.
func (n *MultiLayerNetwork) SaveParams(path string) error {
	if err := n.requireInit(); err != nil {
		return err
	}
	state := ModelState{Version: Version}
	for i, l := range n.layers {
		for _, p := range l.params() {
			state.Params = append(state.Params, ParamState{
				Layer: i,
				Key:   p.key,
				Shape: p.value.shape,
				Data:  p.value.data,
			})
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "seqflow: save params")
	}
	defer file.Close()

	return json.NewEncoder(file).Encode(state)
}

// LoadParams restores parameters written by SaveParams into an initialised
// network with the same architecture.
func (n *MultiLayerNetwork) LoadParams(path string) error {
	if err := n.requireInit(); err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "seqflow: load params")
	}
	defer file.Close()

	var state ModelState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return errors.Wrap(err, "seqflow: decode params")
	}

	idx := 0
	for i, l := range n.layers {
		for _, p := range l.params() {
			if idx >= len(state.Params) {
				return errorf("param count mismatch: file has %d", len(state.Params))
			}
			s := state.Params[idx]
			if s.Layer != i || s.Key != p.key || !sameShape(s.Shape, p.value.shape) {
				return errorf("param %d: file has layer %d %q %v, network has layer %d %q %v",
					idx, s.Layer, s.Key, s.Shape, i, p.key, p.value.shape)
			}
			if len(s.Data) != p.value.size() {
				return errorf("param %d: file has %d values, shape %v needs %d",
					idx, len(s.Data), p.value.shape, p.value.size())
			}
			copy(p.value.data, s.Data)
			idx++
		}
	}
	if idx != len(state.Params) {
		return errorf("param count mismatch: file has %d, network has %d", len(state.Params), idx)
	}
	return nil
}

// Summary describes the network architecture
func (n *MultiLayerNetwork) Summary() string {
	var b strings.Builder
	b.WriteString("seqflow MultiLayerNetwork\n")
	b.WriteString("=========================================================\n")
	fmt.Fprintf(&b, "%-3s %-26s %-8s %-8s %s\n", "#", "Layer", "nIn", "nOut", "Params")
	for i := 0; i < n.NumLayers(); i++ {
		lc := n.conf.Layers[i]
		kind := string(lc.Kind())
		if bi, ok := lc.(*BidirectionalConf); ok {
			kind = fmt.Sprintf("%s(%s,%s)", lc.Kind(), bi.Layer.Kind(), bi.Mode)
		}
		fmt.Fprintf(&b, "%-3d %-26s %-8d %-8d %d\n", i, kind, lc.Base().NIn, lc.OutputSize(), layerParamCount(lc))
	}
	b.WriteString("=========================================================\n")
	fmt.Fprintf(&b, "Total parameters: %d\n", n.NumParams())
	return b.String()
}
