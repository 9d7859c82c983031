package classifier

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/hijaiyah-api/internal/imageprocessor"
)

type stubModel struct {
	probs []float32
	err   error
	calls int
}

func (s *stubModel) Predict(ctx context.Context, tensor *imageprocessor.Tensor) ([]float32, error) {
	s.calls++
	return s.probs, s.err
}

func probsWith(index int, p float32) []float32 {
	probs := make([]float32, len(DefaultLabels))
	rest := (1 - p) / float32(len(probs)-1)
	for i := range probs {
		probs[i] = rest
	}
	probs[index] = p
	return probs
}

func TestDefaultLabels(t *testing.T) {
	if len(DefaultLabels) != 30 {
		t.Fatalf("expected 30 labels, got %d", len(DefaultLabels))
	}
	if DefaultLabels[1] != "alif" || DefaultLabels[29] != "zain" {
		t.Fatalf("unexpected label order: %v", DefaultLabels)
	}
}

func TestClassifyAboveThreshold(t *testing.T) {
	model := &stubModel{probs: probsWith(1, 0.92)}
	c, err := New(model, DefaultLabels, DefaultThreshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := c.Classify(context.Background(), &imageprocessor.Tensor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || result.Label != "alif" || result.Index != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Confidence != 0.92 {
		t.Fatalf("unexpected confidence: %v", result.Confidence)
	}
	if model.calls != 1 {
		t.Fatalf("expected a single inference call, got %d", model.calls)
	}
}

func TestClassifyBelowThresholdIsNoResult(t *testing.T) {
	c, _ := New(&stubModel{probs: probsWith(4, 0.40)}, DefaultLabels, DefaultThreshold)

	result, err := c.Classify(context.Background(), &imageprocessor.Tensor{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != nil {
		t.Fatalf("expected no result, got %+v", result)
	}
}

func TestClassifyAtThresholdIsAccepted(t *testing.T) {
	c, _ := New(&stubModel{probs: []float32{0.5, 0.25, 0.25}}, []string{"a", "b", "c"}, DefaultThreshold)

	result, err := c.Classify(context.Background(), &imageprocessor.Tensor{})
	if err != nil || result == nil || result.Label != "a" {
		t.Fatalf("expected label a, got %+v err=%v", result, err)
	}
}

func TestClassifyIndexPastLabelsIsNoResult(t *testing.T) {
	c, _ := New(&stubModel{probs: []float32{0.1, 0.9}}, []string{"only"}, DefaultThreshold)

	result, err := c.Classify(context.Background(), &imageprocessor.Tensor{})
	if err != nil || result != nil {
		t.Fatalf("expected no result, got %+v err=%v", result, err)
	}
}

func TestClassifyIgnoresNonFiniteScores(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	labels := []string{"a", "b", "c"}

	c, _ := New(&stubModel{probs: []float32{nan, 0.1, 0.2}}, labels, DefaultThreshold)
	result, err := c.Classify(context.Background(), &imageprocessor.Tensor{})
	if err != nil || result != nil {
		t.Fatalf("expected no result for a NaN leader, got %+v err=%v", result, err)
	}

	c, _ = New(&stubModel{probs: []float32{inf, 0.7, 0.2}}, labels, DefaultThreshold)
	result, err = c.Classify(context.Background(), &imageprocessor.Tensor{})
	if err != nil || result == nil || result.Label != "b" || result.Confidence != 0.7 {
		t.Fatalf("expected finite arg-max b, got %+v err=%v", result, err)
	}

	c, _ = New(&stubModel{probs: []float32{nan, nan}}, labels, DefaultThreshold)
	result, err = c.Classify(context.Background(), &imageprocessor.Tensor{})
	if err != nil || result != nil {
		t.Fatalf("expected no result for an all-NaN vector, got %+v err=%v", result, err)
	}
}

func TestClassifyPropagatesModelError(t *testing.T) {
	c, _ := New(&stubModel{err: errors.New("session closed")}, DefaultLabels, DefaultThreshold)

	if _, err := c.Classify(context.Background(), &imageprocessor.Tensor{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, DefaultLabels, 0.5); err == nil {
		t.Fatal("expected error for nil model")
	}
	if _, err := New(&stubModel{}, nil, 0.5); err == nil {
		t.Fatal("expected error for empty labels")
	}
	if _, err := New(&stubModel{}, DefaultLabels, 1.5); err == nil {
		t.Fatal("expected error for threshold out of range")
	}
}

func TestLoadLabels(t *testing.T) {
	labels, err := LoadLabels("")
	if err != nil || len(labels) != len(DefaultLabels) {
		t.Fatalf("expected defaults, got %v err=%v", labels, err)
	}

	path := filepath.Join(t.TempDir(), "labels.txt")
	if err := os.WriteFile(path, []byte("alif\n\n ba \nta\n"), 0o600); err != nil {
		t.Fatalf("write labels: %v", err)
	}
	labels, err = LoadLabels(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(labels) != 3 || labels[1] != "ba" {
		t.Fatalf("unexpected labels: %v", labels)
	}
}

type stubDownloader struct {
	data  []byte
	err   error
	calls int
}

func (s *stubDownloader) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func TestEnsureLocalDownloadsMissingModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model", "model.onnx")
	src := &stubDownloader{data: []byte("onnx-bytes")}

	downloaded, err := EnsureLocal(context.Background(), path, "models/model.onnx", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !downloaded {
		t.Fatal("expected a download")
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "onnx-bytes" {
		t.Fatalf("unexpected model contents %q err=%v", got, err)
	}

	downloaded, err = EnsureLocal(context.Background(), path, "models/model.onnx", src)
	if err != nil || downloaded {
		t.Fatalf("expected existing file to be reused, downloaded=%t err=%v", downloaded, err)
	}
	if src.calls != 1 {
		t.Fatalf("expected one download, got %d", src.calls)
	}
}

func TestEnsureLocalFailsWithoutSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.onnx")
	if _, err := EnsureLocal(context.Background(), path, "", nil); err == nil {
		t.Fatal("expected error when model is missing and no key is set")
	}

	if _, err := EnsureLocal(context.Background(), path, "k", &stubDownloader{err: errors.New("denied")}); err == nil {
		t.Fatal("expected download error")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no partial model file, got %v", err)
	}
}
