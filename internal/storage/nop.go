package storage

import (
	"context"

	"go.uber.org/zap"
)

// NopMirror keeps nothing. Writes are logged at debug level.
type NopMirror struct {
	logger *zap.Logger
}

// NewNopMirror creates a mirror that persists nothing.
func NewNopMirror(logger *zap.Logger) *NopMirror {
	logger.Info("nop-mirror-initialized")
	return &NopMirror{
		logger: logger,
	}
}

// Load always reports a missing key.
func (n *NopMirror) Load(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrNotFound
}

// Save discards the value.
func (n *NopMirror) Save(ctx context.Context, key string, value []byte) error {
	n.logger.Debug("mirror-save-skipped",
		zap.String("key", key),
		zap.Int("bytes", len(value)))
	return nil
}

// Clear is a no-op.
func (n *NopMirror) Clear(ctx context.Context, key string) error {
	return nil
}

// Keys returns nothing.
func (n *NopMirror) Keys(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

// Close is a no-op.
func (n *NopMirror) Close() error {
	n.logger.Info("closing-nop-mirror")
	return nil
}
