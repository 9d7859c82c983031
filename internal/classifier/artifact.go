package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Downloader fetches an object by key.
type Downloader interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// EnsureLocal makes sure the model file exists at path, fetching it from src
// under key when it is missing. It reports whether a download happened.
func EnsureLocal(ctx context.Context, path, key string, src Downloader) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat model: %w", err)
	}
	if key == "" || src == nil {
		return false, fmt.Errorf("model %s not found and no remote artifact configured", path)
	}

	body, err := src.Download(ctx, key)
	if err != nil {
		return false, fmt.Errorf("download model %s: %w", key, err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create model dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*")
	if err != nil {
		return false, fmt.Errorf("create temp model: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close model: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, fmt.Errorf("install model: %w", err)
	}
	return true, nil
}
