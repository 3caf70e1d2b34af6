package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const artifactVersion = 1

var (
	// ErrNoData is returned when there is nothing to train on.
	ErrNoData = errors.New("no training data")
	// ErrEmptyVocabulary is returned when no document contains a usable token.
	ErrEmptyVocabulary = errors.New("training data has no usable tokens")
)

// Options configures Fit.
type Options struct {
	MaxFeatures int
	Train       TrainOptions
}

// Metrics summarizes a training run.
type Metrics struct {
	Documents int            `json:"documents"`
	Features  int            `json:"features"`
	Classes   map[string]int `json:"classes"`
	Accuracy  float64        `json:"train_accuracy"`
	Duration  time.Duration  `json:"duration"`
}

// Artifact is a trained vectorizer and model persisted together.
type Artifact struct {
	Version    int         `json:"version"`
	TrainedAt  time.Time   `json:"trained_at"`
	Vectorizer *Vectorizer `json:"vectorizer"`
	Model      *Model      `json:"model"`
	Metrics    Metrics     `json:"metrics"`
}

// Prediction is the classifier output for one document.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Fit trains a vectorizer and model on normalized documents.
func Fit(ctx context.Context, docs, labels []string, opts Options) (*Artifact, error) {
	start := time.Now()

	vectorizer, err := FitVectorizer(docs, opts.MaxFeatures)
	if err != nil {
		return nil, fmt.Errorf("failed to fit vectorizer: %w", err)
	}

	rows := vectorizer.TransformAll(docs)
	model, err := Train(ctx, rows, labels, vectorizer.Features(), opts.Train)
	if err != nil {
		return nil, fmt.Errorf("failed to train model: %w", err)
	}

	a := &Artifact{
		Version:    artifactVersion,
		TrainedAt:  time.Now().UTC(),
		Vectorizer: vectorizer,
		Model:      model,
	}

	classes := make(map[string]int)
	for _, l := range labels {
		classes[l]++
	}
	a.Metrics = Metrics{
		Documents: len(docs),
		Features:  vectorizer.Features(),
		Classes:   classes,
		Accuracy:  a.accuracy(rows, labels),
		Duration:  time.Since(start),
	}

	return a, nil
}

// Predict classifies one normalized document.
func (a *Artifact) Predict(doc string) Prediction {
	label, p := a.Model.Predict(a.Vectorizer.Transform(doc))
	return Prediction{Label: label, Confidence: p}
}

// Evaluate returns the accuracy of the artifact on labeled documents.
func (a *Artifact) Evaluate(docs, labels []string) float64 {
	return a.accuracy(a.Vectorizer.TransformAll(docs), labels)
}

func (a *Artifact) accuracy(rows []SparseVector, labels []string) float64 {
	if len(rows) == 0 {
		return 0
	}
	correct := 0
	for i, row := range rows {
		if label, _ := a.Model.Predict(row); label == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(rows))
}

// Save writes the artifact as JSON, creating parent directories. The file is
// written to a temporary name and renamed into place.
func (a *Artifact) Save(path string) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}

// Load reads and validates an artifact written by Save.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}

	if a.Version != artifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", a.Version)
	}
	if a.Vectorizer == nil || a.Model == nil {
		return nil, fmt.Errorf("artifact %s is incomplete", path)
	}
	if len(a.Vectorizer.Terms) != len(a.Vectorizer.IDF) {
		return nil, fmt.Errorf("vectorizer shape mismatch: %d terms, %d idf weights",
			len(a.Vectorizer.Terms), len(a.Vectorizer.IDF))
	}
	if err := a.Model.validate(a.Vectorizer.Features()); err != nil {
		return nil, fmt.Errorf("invalid model in %s: %w", path, err)
	}

	a.Vectorizer.buildIndex()
	return &a, nil
}
