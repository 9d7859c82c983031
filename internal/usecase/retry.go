package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/hijaiyah-api/internal/logging"
)

// cacheRetry is the backoff schedule for cache operations. The request path
// itself never retries.
type cacheRetry struct {
	attempts int
	initial  time.Duration
	max      time.Duration
}

func defaultCacheRetry() cacheRetry {
	return cacheRetry{attempts: 3, initial: 50 * time.Millisecond, max: time.Second}
}

// delay returns the wait before the given retry (1-based), doubling from
// initial and capped at max.
func (r cacheRetry) delay(retry int) time.Duration {
	d := r.initial
	for i := 1; i < retry && d < r.max; i++ {
		d *= 2
	}
	if d > r.max {
		d = r.max
	}
	return d
}

// cacheDo runs fn, retrying the errors go-redis itself treats as retryable.
// The final error is returned as an OperationError so callers can log it and
// still match redis.Nil with errors.Is.
func (uc *PredictionUseCase) cacheDo(ctx context.Context, requestID, operation string, fn func(context.Context) error) error {
	opLogger := logging.WithOperation(uc.logger, operation, requestID)

	attempts := uc.retry.attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(uc.retry.delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-timer.C:
			}
		}

		if err = fn(ctx); err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !retryableCacheError(err) {
			break
		}
		opLogger.Warn("retryable cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *PredictionUseCase) cacheGet(ctx context.Context, requestID, operation, key string) (string, error) {
	var value string
	err := uc.cacheDo(ctx, requestID, operation, func(ctx context.Context) error {
		v, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

// retryableServerPrefixes are Redis replies that describe a passing server
// state rather than a bad command.
var retryableServerPrefixes = []string{"LOADING ", "READONLY ", "MASTERDOWN ", "TRYAGAIN ", "CLUSTERDOWN "}

func retryableCacheError(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, redis.Nil),
		errors.Is(err, redis.ErrClosed),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		msg := replyErr.Error()
		if msg == "ERR max number of clients reached" {
			return true
		}
		for _, prefix := range retryableServerPrefixes {
			if strings.HasPrefix(msg, prefix) {
				return true
			}
		}
		return false
	}

	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
