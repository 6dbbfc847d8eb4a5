package seqflow

import (
	"fmt"
	"strings"
)

// Evaluation accumulates classification statistics. For recurrent output
// every time step of every example counts as one prediction.
type Evaluation struct {
	NumClasses int
	Confusion  [][]int // [actual][predicted]
	Score      float64
	total      int
	correct    int
}

func NewEvaluation(numClasses int) *Evaluation {
	conf := make([][]int, numClasses)
	for i := range conf {
		conf[i] = make([]int, numClasses)
	}
	return &Evaluation{NumClasses: numClasses, Confusion: conf}
}

// update takes predictions and one-hot labels whose last dimension is the class.
func (e *Evaluation) update(pred, labels *tensor) {
	cols := pred.cols()
	for r := 0; r < pred.rows(); r++ {
		p := argmax(pred.data[r*cols : (r+1)*cols])
		a := argmax(labels.data[r*cols : (r+1)*cols])
		e.Confusion[a][p]++
		if p == a {
			e.correct++
		}
		e.total++
	}
}

// Total is the number of predictions evaluated
func (e *Evaluation) Total() int { return e.total }

func (e *Evaluation) Accuracy() float64 {
	if e.total == 0 {
		return 0
	}
	return float64(e.correct) / float64(e.total)
}

// Precision for one class; zero when the class was never predicted.
func (e *Evaluation) Precision(class int) float64 {
	tp, predicted := e.Confusion[class][class], 0
	for a := 0; a < e.NumClasses; a++ {
		predicted += e.Confusion[a][class]
	}
	if predicted == 0 {
		return 0
	}
	return float64(tp) / float64(predicted)
}

// Recall for one class; zero when the class never occurs.
func (e *Evaluation) Recall(class int) float64 {
	tp, actual := e.Confusion[class][class], 0
	for p := 0; p < e.NumClasses; p++ {
		actual += e.Confusion[class][p]
	}
	if actual == 0 {
		return 0
	}
	return float64(tp) / float64(actual)
}

func (e *Evaluation) F1(class int) float64 {
	p, r := e.Precision(class), e.Recall(class)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// MacroF1 averages F1 over all classes
func (e *Evaluation) MacroF1() float64 {
	if e.NumClasses == 0 {
		return 0
	}
	sum := 0.0
	for c := 0; c < e.NumClasses; c++ {
		sum += e.F1(c)
	}
	return sum / float64(e.NumClasses)
}

func (e *Evaluation) Stats() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Examples:  %d\n", e.total)
	fmt.Fprintf(&b, "Accuracy:  %.4f\n", e.Accuracy())
	fmt.Fprintf(&b, "Macro F1:  %.4f\n", e.MacroF1())
	fmt.Fprintf(&b, "Score:     %.6f\n", e.Score)
	return b.String()
}

// Evaluate runs inference on the data and returns classification statistics
// together with the score (loss plus regularization penalty).
func (n *MultiLayerNetwork) Evaluate(features, labels [][]float64) (*Evaluation, error) {
	if err := n.requireInit(); err != nil {
		return nil, err
	}
	x, y, err := n.dataset(features, labels)
	if err != nil {
		return nil, err
	}
	out, err := n.feedForward(x, false)
	if err != nil {
		return nil, err
	}
	loss, err := n.outputLayer().score(y)
	if err != nil {
		return nil, err
	}
	eval := NewEvaluation(y.cols())
	eval.update(out, y)
	eval.Score = loss + n.regularizationScore()
	return eval, nil
}
