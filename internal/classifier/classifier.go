package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/hijaiyah-api/internal/imageprocessor"
)

// DefaultThreshold is the minimum top probability accepted as a prediction.
const DefaultThreshold = 0.5

// Model runs a single inference over one preprocessed image and returns the
// probability vector over the label set.
type Model interface {
	Predict(ctx context.Context, tensor *imageprocessor.Tensor) ([]float32, error)
}

// Result is an accepted classification.
type Result struct {
	Label      string
	Index      int
	Confidence float32
}

// Classifier pairs a loaded model with its label list. It is immutable after
// construction and safe for concurrent use when the model is.
type Classifier struct {
	model     Model
	labels    []string
	threshold float32
}

func New(model Model, labels []string, threshold float64) (*Classifier, error) {
	if model == nil {
		return nil, errors.New("classifier: nil model")
	}
	if len(labels) == 0 {
		return nil, errors.New("classifier: empty label set")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("classifier: threshold %v out of range", threshold)
	}
	return &Classifier{
		model:     model,
		labels:    append([]string(nil), labels...),
		threshold: float32(threshold),
	}, nil
}

// Labels returns a copy of the label list.
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// Classify returns the arg-max label, or nil with no error when the top
// probability is below the threshold or points past the label list. Non-finite
// scores are ignored.
func (c *Classifier) Classify(ctx context.Context, tensor *imageprocessor.Tensor) (*Result, error) {
	probs, err := c.model.Predict(ctx, tensor)
	if err != nil {
		return nil, err
	}
	if len(probs) == 0 {
		return nil, errors.New("classifier: model returned no probabilities")
	}

	best := -1
	for i, p := range probs {
		if v := float64(p); math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if best < 0 || p > probs[best] {
			best = i
		}
	}

	if best < 0 || best >= len(c.labels) {
		return nil, nil
	}
	if probs[best] < c.threshold {
		return nil, nil
	}
	return &Result{Label: c.labels[best], Index: best, Confidence: probs[best]}, nil
}
