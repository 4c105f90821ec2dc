package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const fileSuffix = ".json"

// FileMirror stores one JSON file per key inside a directory.
type FileMirror struct {
	dir    string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileMirror creates the directory if needed.
func NewFileMirror(dir string, logger *zap.Logger) (*FileMirror, error) {
	if dir == "" {
		return nil, errors.New("mirror directory cannot be empty")
	}

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("create mirror directory: %w", err)
	}

	logger.Info("file-mirror-opened", zap.String("dir", dir))

	return &FileMirror{
		dir:    dir,
		logger: logger,
	}, nil
}

// Keys are path-escaped so market ids and separators stay filesystem safe.
func (f *FileMirror) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileSuffix)
}

// Load reads the file for key.
func (f *FileMirror) Load(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Save writes to a temp file and renames it over the old value.
func (f *FileMirror) Save(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.path(key)
	tmp := target + ".tmp"

	err := os.WriteFile(tmp, value, 0o644)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	err = os.Rename(tmp, target)
	if err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}

	f.logger.Debug("mirror-saved",
		zap.String("key", key),
		zap.Int("bytes", len(value)))

	return nil
}

// Clear removes the file for key.
func (f *FileMirror) Clear(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Keys lists keys with the given prefix.
func (f *FileMirror) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read mirror directory: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}

		key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			f.logger.Debug("mirror-skipping-unparseable-name", zap.String("name", name))
			continue
		}

		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Close is a no-op for files.
func (f *FileMirror) Close() error {
	f.logger.Info("closing-file-mirror")
	return nil
}
