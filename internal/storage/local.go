// Package storage persists raw receipt payloads under opaque keys.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ObjectStore is the payload store used by ingestion. Keys are opaque
// relative paths assigned by the caller.
type ObjectStore interface {
	Save(ctx context.Context, key string, content []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) bool
}

// LocalStore implements ObjectStore on the local filesystem.
type LocalStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalStore creates a new LocalStore
func NewLocalStore(baseDir string, logger *zap.Logger) *LocalStore {
	return &LocalStore{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Save writes content under the given key, creating parent directories.
func (s *LocalStore) Save(ctx context.Context, key string, content []byte) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		s.logger.Error("Failed to write object",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to write object: %w", err)
	}

	s.logger.Debug("Object saved",
		zap.String("key", key),
		zap.Int("size", len(content)))
	return nil
}

// Read returns the content stored under the given key.
func (s *LocalStore) Read(ctx context.Context, key string) ([]byte, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		s.logger.Error("Failed to read object",
			zap.String("key", key),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return content, nil
}

// Delete removes the object. Deleting a missing key is a no-op.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return nil
	}
	if err := os.Remove(fullPath); err != nil {
		s.logger.Error("Failed to delete object",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists reports whether an object is stored under the given key.
func (s *LocalStore) Exists(ctx context.Context, key string) bool {
	fullPath, err := s.resolve(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// resolve maps a key to an absolute path and rejects keys that escape the
// base directory.
func (s *LocalStore) resolve(key string) (string, error) {
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, key))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return "", fmt.Errorf("key escapes base directory: %s", key)
	}
	return absPath, nil
}
