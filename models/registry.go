// Package models holds the fixed benchmark network definitions.
package models

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	seqflow "seqflow/src"
)

// BenchmarkModel is a hard-coded network definition used for benchmarking.
// Implementations are stateless: every call to Conf or Model builds a new
// value from the same constants.
type BenchmarkModel interface {
	Name() string
	Conf() (*seqflow.MultiLayerConfiguration, error)
	// Model returns a network that has not been initialised.
	Model() (*seqflow.MultiLayerNetwork, error)
	// InputSize is the number of features per time step (or per example
	// for feed-forward models).
	InputSize() int
	NumClasses() int
}

var (
	registryMu sync.RWMutex
	registry   = map[string]BenchmarkModel{}
)

func init() {
	Register(RNNModelMLN{})
	Register(MLPMnistSingleLayer{})
}

// Register adds a model under its name, replacing any previous entry.
func Register(m BenchmarkModel) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[m.Name()] = m
}

// Get looks a model up by name.
func Get(name string) (BenchmarkModel, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown model %q", name)
	}
	return m, nil
}

// Names returns the registered model names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newModel(conf *seqflow.MultiLayerConfiguration, err error) (*seqflow.MultiLayerNetwork, error) {
	if err != nil {
		return nil, err
	}
	return seqflow.NewMultiLayerNetwork(conf), nil
}
