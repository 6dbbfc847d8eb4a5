package seqflow

import (
	"encoding/json"
	"math"
)

// UpdaterType names a gradient updater.
type UpdaterType string

const (
	UpdaterAdam      UpdaterType = "ADAM"
	UpdaterSgd       UpdaterType = "SGD"
	UpdaterNesterovs UpdaterType = "NESTEROVS"
	UpdaterRmsProp   UpdaterType = "RMSPROP"
	UpdaterAdaGrad   UpdaterType = "ADAGRAD"
)

// Updater turns gradients into parameter updates. The configuration value is
// shared by every layer; each parameter gets its own state from newState.
type Updater interface {
	Type() UpdaterType
	// LearningRate returns the rate in effect at the given iteration.
	LearningRate(iteration int) float64
	validate() error
	newState(size int) updaterState
}

type updaterState interface {
	apply(params, grads []float64, lr float64)
}

// Sgd - plain stochastic gradient descent
type Sgd struct {
	LR       float64   `json:"learningRate"`
	Schedule *Schedule `json:"schedule,omitempty"`
}

func NewSgd(lr float64) *Sgd {
	return &Sgd{LR: lr}
}

func (s *Sgd) Type() UpdaterType                  { return UpdaterSgd }
func (s *Sgd) LearningRate(iteration int) float64 { return scheduled(s.Schedule, s.LR, iteration) }
func (s *Sgd) validate() error                    { return validateRate(s.LR, s.Schedule) }
func (s *Sgd) newState(size int) updaterState     { return sgdState{} }

type sgdState struct{}

func (sgdState) apply(params, grads []float64, lr float64) {
	for j := range params {
		params[j] -= lr * grads[j]
	}
}

// Nesterovs - SGD with Nesterov momentum
type Nesterovs struct {
	LR       float64   `json:"learningRate"`
	Momentum float64   `json:"momentum"`
	Schedule *Schedule `json:"schedule,omitempty"`
}

func NewNesterovs(lr, momentum float64) *Nesterovs {
	return &Nesterovs{LR: lr, Momentum: momentum}
}

func (n *Nesterovs) Type() UpdaterType { return UpdaterNesterovs }
func (n *Nesterovs) LearningRate(iteration int) float64 {
	return scheduled(n.Schedule, n.LR, iteration)
}

func (n *Nesterovs) validate() error {
	if n.Momentum < 0 || n.Momentum >= 1 {
		return errorf("Nesterovs momentum must be in [0, 1), got %v", n.Momentum)
	}
	return validateRate(n.LR, n.Schedule)
}

func (n *Nesterovs) newState(size int) updaterState {
	return &nesterovsState{momentum: n.Momentum, v: make([]float64, size)}
}

type nesterovsState struct {
	momentum float64
	v        []float64
}

func (s *nesterovsState) apply(params, grads []float64, lr float64) {
	for j := range params {
		vPrev := s.v[j]
		s.v[j] = s.momentum*vPrev - lr*grads[j]
		params[j] += -s.momentum*vPrev + (1+s.momentum)*s.v[j]
	}
}

// Adam - Adaptive Moment Estimation
type Adam struct {
	LR       float64   `json:"learningRate"`
	Beta1    float64   `json:"beta1"`
	Beta2    float64   `json:"beta2"`
	Epsilon  float64   `json:"epsilon"`
	Schedule *Schedule `json:"schedule,omitempty"`
}

// NewAdam uses beta1 0.9, beta2 0.999 and epsilon 1e-8.
func NewAdam(lr float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

func (a *Adam) Type() UpdaterType                  { return UpdaterAdam }
func (a *Adam) LearningRate(iteration int) float64 { return scheduled(a.Schedule, a.LR, iteration) }

func (a *Adam) validate() error {
	if a.Beta1 < 0 || a.Beta1 >= 1 {
		return errorf("Adam beta1 must be in [0, 1), got %v", a.Beta1)
	}
	if a.Beta2 < 0 || a.Beta2 >= 1 {
		return errorf("Adam beta2 must be in [0, 1), got %v", a.Beta2)
	}
	if a.Epsilon <= 0 {
		return errorf("Adam epsilon must be > 0, got %v", a.Epsilon)
	}
	return validateRate(a.LR, a.Schedule)
}

func (a *Adam) newState(size int) updaterState {
	return &adamState{
		beta1:   a.Beta1,
		beta2:   a.Beta2,
		epsilon: a.Epsilon,
		m:       make([]float64, size),
		v:       make([]float64, size),
	}
}

type adamState struct {
	beta1, beta2, epsilon float64
	m, v                  []float64
	t                     int
}

func (s *adamState) apply(params, grads []float64, lr float64) {
	s.t++
	bc1 := 1 - math.Pow(s.beta1, float64(s.t))
	bc2 := 1 - math.Pow(s.beta2, float64(s.t))
	for j := range params {
		g := grads[j]
		s.m[j] = s.beta1*s.m[j] + (1-s.beta1)*g
		s.v[j] = s.beta2*s.v[j] + (1-s.beta2)*g*g
		mHat := s.m[j] / bc1
		vHat := s.v[j] / bc2
		params[j] -= lr * mHat / (math.Sqrt(vHat) + s.epsilon)
	}
}

// RmsProp
type RmsProp struct {
	LR       float64   `json:"learningRate"`
	Decay    float64   `json:"decay"`
	Epsilon  float64   `json:"epsilon"`
	Schedule *Schedule `json:"schedule,omitempty"`
}

// NewRmsProp uses decay 0.95 and epsilon 1e-8.
func NewRmsProp(lr float64) *RmsProp {
	return &RmsProp{LR: lr, Decay: 0.95, Epsilon: 1e-8}
}

func (r *RmsProp) Type() UpdaterType                  { return UpdaterRmsProp }
func (r *RmsProp) LearningRate(iteration int) float64 { return scheduled(r.Schedule, r.LR, iteration) }

func (r *RmsProp) validate() error {
	if r.Decay <= 0 || r.Decay >= 1 {
		return errorf("RmsProp decay must be in (0, 1), got %v", r.Decay)
	}
	if r.Epsilon <= 0 {
		return errorf("RmsProp epsilon must be > 0, got %v", r.Epsilon)
	}
	return validateRate(r.LR, r.Schedule)
}

func (r *RmsProp) newState(size int) updaterState {
	return &rmsPropState{decay: r.Decay, epsilon: r.Epsilon, cache: make([]float64, size)}
}

type rmsPropState struct {
	decay, epsilon float64
	cache          []float64
}

func (s *rmsPropState) apply(params, grads []float64, lr float64) {
	for j := range params {
		g := grads[j]
		s.cache[j] = s.decay*s.cache[j] + (1-s.decay)*g*g
		params[j] -= lr * g / (math.Sqrt(s.cache[j]) + s.epsilon)
	}
}

// AdaGrad
type AdaGrad struct {
	LR       float64   `json:"learningRate"`
	Epsilon  float64   `json:"epsilon"`
	Schedule *Schedule `json:"schedule,omitempty"`
}

// NewAdaGrad uses epsilon 1e-6.
func NewAdaGrad(lr float64) *AdaGrad {
	return &AdaGrad{LR: lr, Epsilon: 1e-6}
}

func (a *AdaGrad) Type() UpdaterType                  { return UpdaterAdaGrad }
func (a *AdaGrad) LearningRate(iteration int) float64 { return scheduled(a.Schedule, a.LR, iteration) }

func (a *AdaGrad) validate() error {
	if a.Epsilon <= 0 {
		return errorf("AdaGrad epsilon must be > 0, got %v", a.Epsilon)
	}
	return validateRate(a.LR, a.Schedule)
}

func (a *AdaGrad) newState(size int) updaterState {
	return &adaGradState{epsilon: a.Epsilon, hist: make([]float64, size)}
}

type adaGradState struct {
	epsilon float64
	hist    []float64
}

func (s *adaGradState) apply(params, grads []float64, lr float64) {
	for j := range params {
		g := grads[j]
		s.hist[j] += g * g
		params[j] -= lr * g / (math.Sqrt(s.hist[j]) + s.epsilon)
	}
}

func validateRate(lr float64, s *Schedule) error {
	if lr <= 0 || math.IsNaN(lr) || math.IsInf(lr, 0) {
		return errorf("learning rate must be > 0, got %v", lr)
	}
	if s != nil {
		return s.validate()
	}
	return nil
}

func marshalUpdater(u Updater) (json.RawMessage, error) {
	if u == nil {
		return nil, nil
	}
	cfg, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: string(u.Type()), Config: cfg})
}

func unmarshalUpdater(raw json.RawMessage) (Updater, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	var u Updater
	switch UpdaterType(env.Type) {
	case UpdaterAdam:
		u = &Adam{}
	case UpdaterSgd:
		u = &Sgd{}
	case UpdaterNesterovs:
		u = &Nesterovs{}
	case UpdaterRmsProp:
		u = &RmsProp{}
	case UpdaterAdaGrad:
		u = &AdaGrad{}
	default:
		return nil, errorf("unknown updater %q", env.Type)
	}
	if err := json.Unmarshal(env.Config, u); err != nil {
		return nil, err
	}
	return u, nil
}
