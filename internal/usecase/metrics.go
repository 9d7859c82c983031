package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prediction outcomes as reported by the predictions_total counter.
const (
	outcomeAccepted     = "accepted"
	outcomeRejected     = "rejected"
	outcomeInvalidImage = "invalid_image"
	outcomeInferenceErr = "inference_error"
	outcomeUploadErr    = "upload_error"
	outcomePersistErr   = "persistence_error"
)

var predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hijaiyah",
	Name:      "predictions_total",
	Help:      "Prediction requests by outcome.",
}, []string{"outcome"})

var predictedLabelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hijaiyah",
	Name:      "predicted_labels_total",
	Help:      "Accepted predictions by label.",
}, []string{"label"})

var inferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "hijaiyah",
	Name:      "inference_duration_seconds",
	Help:      "Time spent in a single model inference call.",
	Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
})

var historyCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hijaiyah",
	Name:      "history_cache_lookups_total",
	Help:      "History cache lookups by result.",
}, []string{"result"})
