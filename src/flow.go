// Package seqflow is a recurrent neural network library for Go.
//
// A network is described by a MultiLayerConfiguration: global defaults
// (updater, weight init, regularization, dropout, weight noise) plus an
// ordered list of layer configurations that inherit any default they do not
// override. The configuration is turned into a MultiLayerNetwork, which owns
// parameters and runs forward passes, backpropagation through time and
// updater steps.
//
// Basic usage:
//
//	conf, err := seqflow.NewConfig().
//		Seed(42).
//		Updater(seqflow.NewAdam(0.01)).
//		WeightInit(seqflow.WeightInitXavier).
//		L2(1e-4).
//		List().
//		Layer(seqflow.LSTM(32).WithActivation(seqflow.ActivationTanh).Build()).
//		Layer(seqflow.RnnOutput(3, seqflow.LossMCXENT).
//			WithActivation(seqflow.ActivationSoftmax).
//			Build()).
//		SetInputType(seqflow.InputTypeRecurrent(4)).
//		Build()
//
//	net := seqflow.NewMultiLayerNetwork(conf)
//	err = net.Init()
//	score, err := net.Fit(features, labels)
//
// Sequence samples are flattened time-major: element (t, f) of a sample sits
// at index t*features+f.
package seqflow

import (
	"log/slog"
	"os"
)

// Version of the seqflow library
const Version = "1.0.0"

// DebugMode enables per-layer finite checks and debug logging
var DebugMode = false

var logger = slog.New(slog.NewTextHandler(os.Stderr, nil)).With("subsystem", "seqflow")

// SetDebug enables or disables debug mode
func SetDebug(enabled bool) {
	DebugMode = enabled
}

// SetLogger replaces the package logger. The subsystem attribute is added.
func SetLogger(l *slog.Logger) {
	logger = l.With("subsystem", "seqflow")
}

func debugf(msg string, keyvals ...interface{}) {
	if DebugMode {
		logger.Debug(msg, keyvals...)
	}
}
