package classifier

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/cassavanet/cassavanet/internal/labels"
)

// Prediction is the outcome of one classification.
type Prediction struct {
	Class         int           // argmax index
	Label         string        // disease name, empty when Known is false
	Known         bool          // whether the label table has an entry for Class
	Confidence    float32       // 100 * probability of Class, in [0, 100]
	Latency       time.Duration // engine invocation time only
	Probabilities []float32     // raw engine output
	Top           []Score       // highest scoring classes, best first
}

// Score is one ranked class.
type Score struct {
	Class      int
	Label      string
	Known      bool
	Confidence float32
}

// DisplayLabel returns the label, or a placeholder naming the class index
// when the table has no entry for it.
func (p Prediction) DisplayLabel() string {
	if p.Known {
		return p.Label
	}
	return fmt.Sprintf("unknown class %d", p.Class)
}

// PredictionText renders "Prediction: <label>".
func (p Prediction) PredictionText() string {
	return "Prediction: " + p.DisplayLabel()
}

// AccuracyText renders the confidence with two decimals, e.g. "Accuracy: 87.12%".
func (p Prediction) AccuracyText() string {
	return fmt.Sprintf("Accuracy: %.2f%%", p.Confidence)
}

// LatencyText renders the latency in whole milliseconds, e.g. "Latency: 12 ms".
func (p Prediction) LatencyText() string {
	return fmt.Sprintf("Latency: %d ms", p.Latency.Milliseconds())
}

// String returns the three result lines separated by newlines.
func (p Prediction) String() string {
	return p.PredictionText() + "\n" + p.AccuracyText() + "\n" + p.LatencyText()
}

// rank returns the k highest probabilities, ties ordered by class index.
func rank(probs []float32, table *labels.Table, k int) []Score {
	if k <= 0 {
		return nil
	}

	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(probs[b], probs[a])
	})

	k = min(k, len(idx))
	scores := make([]Score, k)
	for i, class := range idx[:k] {
		label, known := table.Lookup(class)
		scores[i] = Score{
			Class:      class,
			Label:      label,
			Known:      known,
			Confidence: clampConfidence(100 * probs[class]),
		}
	}
	return scores
}
