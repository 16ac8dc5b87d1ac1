package ml

import (
	"fmt"
	"strings"
)

type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

type Evaluation struct {
	Accuracy float64 `json:"accuracy"`
	// Confusion[actual][predicted]
	Confusion   [2][2]int       `json:"confusion"`
	Classes     [2]ClassMetrics `json:"classes"`
	MacroAvg    ClassMetrics    `json:"macro_avg"`
	WeightedAvg ClassMetrics    `json:"weighted_avg"`
}

// Evaluate compares predictions against the truth; names labels classes 0 and 1.
func Evaluate(actual, predicted []int, names [2]string) (*Evaluation, error) {
	if len(actual) != len(predicted) {
		return nil, errSizeMismatch
	}
	if len(actual) == 0 {
		return nil, errEmptyInput
	}

	ev := &Evaluation{}
	correct := 0
	for i, a := range actual {
		ev.Confusion[a][predicted[i]]++
		if a == predicted[i] {
			correct++
		}
	}
	ev.Accuracy = float64(correct) / float64(len(actual))

	total := float64(len(actual))
	ev.MacroAvg.Label = "macro avg"
	ev.WeightedAvg.Label = "weighted avg"
	for c := 0; c < 2; c++ {
		tp := ev.Confusion[c][c]
		predictedC := ev.Confusion[0][c] + ev.Confusion[1][c]
		support := ev.Confusion[c][0] + ev.Confusion[c][1]

		m := ClassMetrics{
			Label:     names[c],
			Precision: ratio(tp, predictedC),
			Recall:    ratio(tp, support),
			Support:   support,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		ev.Classes[c] = m

		w := float64(support) / total
		ev.MacroAvg.Precision += m.Precision / 2
		ev.MacroAvg.Recall += m.Recall / 2
		ev.MacroAvg.F1 += m.F1 / 2
		ev.WeightedAvg.Precision += m.Precision * w
		ev.WeightedAvg.Recall += m.Recall * w
		ev.WeightedAvg.F1 += m.F1 * w
	}
	ev.MacroAvg.Support = len(actual)
	ev.WeightedAvg.Support = len(actual)
	return ev, nil
}

// Report renders the evaluation as a per-class precision/recall table followed by the confusion matrix.
func (ev *Evaluation) Report() string {
	width := len("weighted avg")
	for _, c := range ev.Classes {
		if len(c.Label) > width {
			width = len(c.Label)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%*s %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	for _, c := range ev.Classes {
		fmt.Fprintf(&sb, "%*s %9.2f %9.2f %9.2f %9d\n", width, c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%*s %9s %9s %9.2f %9d\n", width, "accuracy", "", "", ev.Accuracy, ev.MacroAvg.Support)
	for _, m := range []ClassMetrics{ev.MacroAvg, ev.WeightedAvg} {
		fmt.Fprintf(&sb, "%*s %9.2f %9.2f %9.2f %9d\n", width, m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}

	sb.WriteString("\nconfusion matrix (rows = actual, columns = predicted)\n")
	fmt.Fprintf(&sb, "[[%d %d]\n [%d %d]]\n", ev.Confusion[0][0], ev.Confusion[0][1], ev.Confusion[1][0], ev.Confusion[1][1])
	return sb.String()
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
