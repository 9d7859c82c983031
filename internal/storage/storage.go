package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrUploadFailed = errors.New("upload failed")

// KeyPrefix starts every archived image key.
const KeyPrefix = "image_predict_"

// ObjectStore is a single bucket of an external object storage service.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// ArtifactStore archives uploaded images under timestamped keys.
type ArtifactStore struct {
	store  ObjectStore
	now    func() time.Time
	logger *zap.Logger
}

func NewArtifactStore(store ObjectStore, logger *zap.Logger) *ArtifactStore {
	return &ArtifactStore{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("artifact_store"),
	}
}

// ObjectKey builds image_predict_<YYYYMMDDHHMMSS>_<filename>. Any directory
// part of filename is dropped.
func ObjectKey(at time.Time, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "upload"
	}
	return KeyPrefix + at.Format("20060102150405") + "_" + name
}

// Archive uploads data and returns the public URL of the stored object.
func (a *ArtifactStore) Archive(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	key := ObjectKey(a.now(), filename)
	url, err := a.store.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		a.logger.Error("failed to archive image", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	a.logger.Info("image archived", zap.String("key", key), zap.Int("size", len(data)))
	return url, nil
}
