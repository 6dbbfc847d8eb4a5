package seqflow

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Phase identifies where in the lifecycle a LayerError was raised.
type Phase string

const (
	PhaseBuild    Phase = "build"
	PhaseInit     Phase = "init"
	PhaseForward  Phase = "forward"
	PhaseBackward Phase = "backward"
)

// TensorInfo captures tensor state for error reporting
type TensorInfo struct {
	Shape      []int
	Size       int
	NaNCount   int
	InfCount   int
	MinValue   float64
	MaxValue   float64
	BadIndices []int // first 10 corrupted indices
}

// Format returns a compact string representation
func (t *TensorInfo) Format() string {
	s := fmt.Sprintf("%v size=%d", t.Shape, t.Size)
	if t.NaNCount > 0 || t.InfCount > 0 {
		s += fmt.Sprintf(" (corrupt: %d NaN, %d Inf)", t.NaNCount, t.InfCount)
	} else {
		s += fmt.Sprintf(" range=[%.4f, %.4f]", t.MinValue, t.MaxValue)
	}
	return s
}

// LayerError is returned for failures attributable to a single layer.
type LayerError struct {
	Kind         LayerKind
	LayerIndex   int
	LayerName    string
	Phase        Phase
	ErrorType    string // "shape mismatch", "NaN detected", ...
	OutputInfo   *TensorInfo
	ExpectedInfo string
	Cause        string
}

// Error implements the error interface
func (e *LayerError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "seqflow: %s %s at layer %d", e.Kind, e.ErrorType, e.LayerIndex)
	if e.LayerName != "" {
		fmt.Fprintf(&b, " %q", e.LayerName)
	}
	fmt.Fprintf(&b, " (%s)", e.Phase)
	if e.OutputInfo != nil {
		fmt.Fprintf(&b, "; output %s", e.OutputInfo.Format())
	}
	if e.ExpectedInfo != "" {
		fmt.Fprintf(&b, "; expected %s", e.ExpectedInfo)
	}
	fmt.Fprintf(&b, ": %s", e.Cause)

	return b.String()
}

func scanTensor(t *tensor) *TensorInfo {
	info := &TensorInfo{
		Shape:    t.shape,
		Size:     len(t.data),
		MinValue: math.Inf(1),
		MaxValue: math.Inf(-1),
	}
	for i, v := range t.data {
		switch {
		case math.IsNaN(v):
			info.NaNCount++
		case math.IsInf(v, 0):
			info.InfCount++
		default:
			info.MinValue = math.Min(info.MinValue, v)
			info.MaxValue = math.Max(info.MaxValue, v)
			continue
		}
		if len(info.BadIndices) < 10 {
			info.BadIndices = append(info.BadIndices, i)
		}
	}
	if math.IsInf(info.MinValue, 1) {
		info.MinValue = 0
	}
	if math.IsInf(info.MaxValue, -1) {
		info.MaxValue = 0
	}
	return info
}

// checkFinite returns a LayerError when out contains NaN or Inf values.
func checkFinite(out *tensor, kind LayerKind, name string, index int, phase Phase) error {
	info := scanTensor(out)
	if info.NaNCount == 0 && info.InfCount == 0 {
		return nil
	}
	errType := "NaN detected"
	if info.NaNCount == 0 {
		errType = "Inf detected"
	}
	return &LayerError{
		Kind:       kind,
		LayerIndex: index,
		LayerName:  name,
		Phase:      phase,
		ErrorType:  errType,
		OutputInfo: info,
		Cause:      fmt.Sprintf("non-finite values at indices %v", info.BadIndices),
	}
}

// errorf creates a formatted error carrying a stack trace
func errorf(format string, args ...interface{}) error {
	return errors.Errorf("seqflow: "+format, args...)
}
