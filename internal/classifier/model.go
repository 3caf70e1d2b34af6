package classifier

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// TrainOptions controls gradient descent.
type TrainOptions struct {
	Epochs       int
	LearningRate float64
	L2           float64
}

// Model is a multinomial logistic regression over TF-IDF rows.
type Model struct {
	Labels  []string    `json:"labels"`
	Weights [][]float64 `json:"weights"` // [label][feature]
	Bias    []float64   `json:"bias"`
}

// Train fits a softmax regression with full-batch gradient descent. Labels
// are sorted so the same data always yields the same model. Training stops
// early when ctx is cancelled.
func Train(ctx context.Context, rows []SparseVector, labels []string, features int, opts TrainOptions) (*Model, error) {
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	if len(rows) != len(labels) {
		return nil, fmt.Errorf("rows and labels length mismatch: %d != %d", len(rows), len(labels))
	}
	if opts.Epochs <= 0 || opts.LearningRate <= 0 {
		return nil, fmt.Errorf("invalid training options: epochs=%d learning_rate=%g", opts.Epochs, opts.LearningRate)
	}

	classes := uniqueSorted(labels)
	if len(classes) < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", len(classes))
	}
	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	k := len(classes)
	m := &Model{
		Labels:  classes,
		Weights: make([][]float64, k),
		Bias:    make([]float64, k),
	}
	gradW := make([][]float64, k)
	for c := 0; c < k; c++ {
		m.Weights[c] = make([]float64, features)
		gradW[c] = make([]float64, features)
	}
	gradB := make([]float64, k)
	probs := make([]float64, k)
	n := float64(len(rows))

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for c := 0; c < k; c++ {
			clear(gradW[c])
		}
		clear(gradB)

		for i, row := range rows {
			m.probabilities(row, probs)
			target := classIndex[labels[i]]
			for c := 0; c < k; c++ {
				g := probs[c]
				if c == target {
					g -= 1
				}
				gradB[c] += g
				for j, idx := range row.Indices {
					gradW[c][idx] += g * row.Values[j]
				}
			}
		}

		for c := 0; c < k; c++ {
			w := m.Weights[c]
			for j := range w {
				w[j] -= opts.LearningRate * (gradW[c][j]/n + opts.L2*w[j])
			}
			m.Bias[c] -= opts.LearningRate * gradB[c] / n
		}
	}

	return m, nil
}

// probabilities writes the softmax of the class scores for row into out.
func (m *Model) probabilities(row SparseVector, out []float64) {
	maxScore := math.Inf(-1)
	for c := range m.Labels {
		score := m.Bias[c]
		w := m.Weights[c]
		for j, idx := range row.Indices {
			if idx < len(w) {
				score += w[idx] * row.Values[j]
			}
		}
		out[c] = score
		if score > maxScore {
			maxScore = score
		}
	}

	var sum float64
	for c := range out {
		out[c] = math.Exp(out[c] - maxScore)
		sum += out[c]
	}
	for c := range out {
		out[c] /= sum
	}
}

// Probabilities returns the class distribution for row, aligned with Labels.
func (m *Model) Probabilities(row SparseVector) []float64 {
	out := make([]float64, len(m.Labels))
	m.probabilities(row, out)
	return out
}

// Predict returns the most probable label and its probability. Ties go to
// the label that sorts first.
func (m *Model) Predict(row SparseVector) (string, float64) {
	probs := m.Probabilities(row)
	best := 0
	for c := 1; c < len(probs); c++ {
		if probs[c] > probs[best] {
			best = c
		}
	}
	return m.Labels[best], probs[best]
}

func (m *Model) validate(features int) error {
	if len(m.Labels) < 2 {
		return fmt.Errorf("model has %d labels", len(m.Labels))
	}
	if len(m.Weights) != len(m.Labels) || len(m.Bias) != len(m.Labels) {
		return fmt.Errorf("model shape mismatch: %d labels, %d weight rows, %d biases",
			len(m.Labels), len(m.Weights), len(m.Bias))
	}
	for c, w := range m.Weights {
		if len(w) != features {
			return fmt.Errorf("weight row %d has %d features, vocabulary has %d", c, len(w), features)
		}
	}
	return nil
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
