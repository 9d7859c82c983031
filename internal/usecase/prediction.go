package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/hijaiyah-api/internal/auth"
	"github.com/example/hijaiyah-api/internal/classifier"
	"github.com/example/hijaiyah-api/internal/imageprocessor"
	"github.com/example/hijaiyah-api/internal/logging"
	"github.com/example/hijaiyah-api/internal/repository"
)

var (
	ErrMissingUpload            = errors.New("missing upload")
	ErrPredictionBelowThreshold = errors.New("prediction invalid")
	ErrMissingSubject           = errors.New("missing subject id")
)

// ImageClassifier classifies one preprocessed image. A nil result with a nil
// error means no label reached the confidence threshold.
type ImageClassifier interface {
	Classify(ctx context.Context, tensor *imageprocessor.Tensor) (*classifier.Result, error)
}

// ArtifactArchiver stores the uploaded bytes and returns their public URL.
type ArtifactArchiver interface {
	Archive(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// ImageAsset is an upload read fully into memory. Data is shared read-only
// by preprocessing and archival.
type ImageAsset struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Prediction is the outcome of an accepted classification.
type Prediction struct {
	Result     string  `json:"result"`
	Confidence float64 `json:"confidence"`
	UID        string  `json:"uid"`
	ImageURL   string  `json:"image_url"`
	HistoryID  string  `json:"history_id"`
	RequestID  string  `json:"request_id"`
}

// PredictionUseCase sequences preprocessing, classification, archival and
// history recording for a single request.
type PredictionUseCase struct {
	preprocess  func([]byte) (*imageprocessor.Tensor, error)
	classifier  ImageClassifier
	artifacts   ArtifactArchiver
	history     repository.HistoryStore
	cache       Cache
	logger      *zap.Logger
	cacheTTL    time.Duration
	callTimeout time.Duration
	retry       cacheRetry
}

// Option customises a PredictionUseCase.
type Option func(*PredictionUseCase)

// WithCallTimeout bounds every outbound call made while serving a request.
func WithCallTimeout(d time.Duration) Option {
	return func(uc *PredictionUseCase) { uc.callTimeout = d }
}

// WithCacheTTL sets how long a subject's history listing stays cached.
func WithCacheTTL(d time.Duration) Option {
	return func(uc *PredictionUseCase) { uc.cacheTTL = d }
}

// WithMaxImagePixels bounds the raster size an upload may declare.
func WithMaxImagePixels(n int64) Option {
	return func(uc *PredictionUseCase) {
		uc.preprocess = func(data []byte) (*imageprocessor.Tensor, error) {
			return imageprocessor.PreprocessLimit(data, n)
		}
	}
}

func NewPredictionUseCase(cls ImageClassifier, artifacts ArtifactArchiver, history repository.HistoryStore, cache Cache, logger *zap.Logger, opts ...Option) *PredictionUseCase {
	if cache == nil {
		cache = NopCache{}
	}
	uc := &PredictionUseCase{
		preprocess:  imageprocessor.Preprocess,
		classifier:  cls,
		artifacts:   artifacts,
		history:     history,
		cache:       cache,
		logger:      logger.Named("prediction_usecase"),
		cacheTTL:    5 * time.Minute,
		callTimeout: 30 * time.Second,
		retry:       defaultCacheRetry(),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// ConfidencePercent converts a probability to a percentage rounded to two
// decimals.
func ConfidencePercent(p float32) float64 {
	return math.Round(float64(p)*10000) / 100
}

// Predict runs the full prediction flow for an authenticated subject. Side
// effects already completed are not rolled back when a later step fails.
func (uc *PredictionUseCase) Predict(ctx context.Context, id *auth.Identity, asset ImageAsset) (*Prediction, error) {
	if id == nil || id.UID == "" {
		return nil, ErrMissingSubject
	}
	if len(asset.Data) == 0 || asset.Filename == "" {
		return nil, ErrMissingUpload
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID).With(zap.String("uid", id.UID))

	tensor, err := uc.preprocess(asset.Data)
	if err != nil {
		predictionsTotal.WithLabelValues(outcomeInvalidImage).Inc()
		opLogger.Info("rejected undecodable image", zap.String("filename", asset.Filename), zap.Error(err))
		return nil, err
	}

	result, err := uc.classify(ctx, tensor)
	if err != nil {
		predictionsTotal.WithLabelValues(outcomeInferenceErr).Inc()
		wrapped := logging.NewOperationError("usecase.classify", requestID, err)
		opLogger.Error("inference failed", logging.ErrorField(wrapped))
		return nil, wrapped
	}
	if result == nil {
		predictionsTotal.WithLabelValues(outcomeRejected).Inc()
		opLogger.Info("prediction below threshold")
		return nil, ErrPredictionBelowThreshold
	}

	archiveCtx, cancel := uc.callContext(ctx)
	imageURL, err := uc.artifacts.Archive(archiveCtx, asset.Filename, asset.ContentType, asset.Data)
	cancel()
	if err != nil {
		predictionsTotal.WithLabelValues(outcomeUploadErr).Inc()
		wrapped := logging.NewOperationError("usecase.archive_image", requestID, err)
		opLogger.Error("failed to archive image", logging.ErrorField(wrapped))
		return nil, wrapped
	}

	record := &repository.HistoryRecord{
		UID:            id.UID,
		Email:          id.Email,
		PredictedClass: result.Label,
		Confidence:     ConfidencePercent(result.Confidence),
		ImageURL:       imageURL,
	}
	recordCtx, cancel := uc.callContext(ctx)
	err = uc.history.Record(recordCtx, record)
	cancel()
	if err != nil {
		predictionsTotal.WithLabelValues(outcomePersistErr).Inc()
		wrapped := logging.NewOperationError("usecase.record_history", requestID, err)
		opLogger.Error("failed to record history, archived image is orphaned", zap.String("image_url", imageURL), logging.ErrorField(wrapped))
		return nil, wrapped
	}

	uc.invalidateHistory(ctx, requestID, id.UID, opLogger)

	predictionsTotal.WithLabelValues(outcomeAccepted).Inc()
	predictedLabelsTotal.WithLabelValues(result.Label).Inc()
	opLogger.Info("prediction recorded",
		zap.String("label", result.Label),
		zap.Float64("confidence", record.Confidence),
		zap.String("history_id", record.ID))

	return &Prediction{
		Result:     result.Label,
		Confidence: record.Confidence,
		UID:        id.UID,
		ImageURL:   imageURL,
		HistoryID:  record.ID,
		RequestID:  requestID,
	}, nil
}

// History lists every record of uid, serving from the cache when possible.
// A cached listing is only used while the subject's generation is unchanged,
// so a listing loaded before a concurrent Predict never outlives it.
func (uc *PredictionUseCase) History(ctx context.Context, uid string) ([]*repository.HistoryRecord, error) {
	if uid == "" {
		return nil, ErrMissingSubject
	}
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.history", requestID).With(zap.String("uid", uid))

	generation, genErr := uc.historyGeneration(ctx, requestID, uid)
	if genErr != nil {
		opLogger.Warn("failed to read history generation, bypassing cache", logging.ErrorField(genErr))
	} else if records, ok := uc.cachedHistory(ctx, requestID, uid, generation, opLogger); ok {
		historyCacheLookups.WithLabelValues("hit").Inc()
		return onlySubject(records, uid), nil
	}
	historyCacheLookups.WithLabelValues("miss").Inc()

	listCtx, cancel := uc.callContext(ctx)
	records, err := uc.history.ListForSubject(listCtx, uid)
	cancel()
	if err != nil {
		wrapped := logging.NewOperationError("usecase.list_history", requestID, err)
		opLogger.Error("failed to list history", logging.ErrorField(wrapped))
		return nil, wrapped
	}
	records = onlySubject(records, uid)

	if genErr != nil {
		return records, nil
	}
	serialized, err := json.Marshal(historyEntry{Generation: generation, Records: records})
	if err != nil {
		opLogger.Warn("failed to serialize history", zap.Error(err))
		return records, nil
	}
	if err := uc.cacheDo(ctx, requestID, "cache.set.history", func(ctx context.Context) error {
		return uc.cache.Set(ctx, historyCacheKey(uid), string(serialized), uc.cacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache history", logging.ErrorField(err))
	}
	return records, nil
}

// historyEntry is the cached form of a listing, tagged with the generation
// that was current before the store was read.
type historyEntry struct {
	Generation string                      `json:"generation"`
	Records    []*repository.HistoryRecord `json:"records"`
}

// historyGeneration returns the subject's current generation; "" when none
// has been written yet.
func (uc *PredictionUseCase) historyGeneration(ctx context.Context, requestID, uid string) (string, error) {
	generation, err := uc.cacheGet(ctx, requestID, "cache.get.history_generation", historyGenerationKey(uid))
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return generation, err
}

func (uc *PredictionUseCase) cachedHistory(ctx context.Context, requestID, uid, generation string, opLogger *zap.Logger) ([]*repository.HistoryRecord, bool) {
	cached, err := uc.cacheGet(ctx, requestID, "cache.get.history", historyCacheKey(uid))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			opLogger.Warn("failed to read history cache", logging.ErrorField(err))
		}
		return nil, false
	}
	var entry historyEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		opLogger.Warn("failed to decode cached history", zap.Error(err))
		return nil, false
	}
	if entry.Generation != generation {
		return nil, false
	}
	return entry.Records, true
}

// invalidateHistory moves the subject to a new generation and drops the
// cached listing. The generation outlives any listing tagged before it.
func (uc *PredictionUseCase) invalidateHistory(ctx context.Context, requestID, uid string, opLogger *zap.Logger) {
	if err := uc.cacheDo(ctx, requestID, "cache.set.history_generation", func(ctx context.Context) error {
		return uc.cache.Set(ctx, historyGenerationKey(uid), uuid.NewString(), 2*uc.cacheTTL)
	}); err != nil {
		opLogger.Warn("failed to advance history generation", logging.ErrorField(err))
	}
	if err := uc.cacheDo(ctx, requestID, "cache.del.history", func(ctx context.Context) error {
		return uc.cache.Del(ctx, historyCacheKey(uid))
	}); err != nil {
		opLogger.Warn("failed to invalidate history cache", logging.ErrorField(err))
	}
}

func (uc *PredictionUseCase) classify(ctx context.Context, tensor *imageprocessor.Tensor) (*classifier.Result, error) {
	callCtx, cancel := uc.callContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { inferenceDuration.Observe(time.Since(start).Seconds()) }()
	return uc.classifier.Classify(callCtx, tensor)
}

func (uc *PredictionUseCase) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if uc.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, uc.callTimeout)
}

func onlySubject(records []*repository.HistoryRecord, uid string) []*repository.HistoryRecord {
	out := make([]*repository.HistoryRecord, 0, len(records))
	for _, r := range records {
		if r != nil && r.UID == uid {
			out = append(out, r)
		}
	}
	return out
}
