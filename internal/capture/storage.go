// internal/capture/storage.go
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/grab/api/schemas"
)

// Storage persists raw bytes at an absolute path.
type Storage interface {
	Write(ctx context.Context, absPath string, data []byte) error
}

// FileStorage writes to the local filesystem, creating parent directories on demand.
type FileStorage struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// NewFileStorage returns a FileStorage with conventional permissions.
func NewFileStorage() *FileStorage {
	return &FileStorage{dirPerm: 0o755, filePerm: 0o644}
}

// Write creates any missing parent directories and writes data to absPath.
// MkdirAll tolerates concurrent creation of the same tree.
func (s *FileStorage) Write(ctx context.Context, absPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", schemas.ErrStorage, absPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), s.dirPerm); err != nil {
		return fmt.Errorf("%w: create directory for %s: %v", schemas.ErrStorage, absPath, err)
	}
	if err := os.WriteFile(absPath, data, s.filePerm); err != nil {
		return fmt.Errorf("%w: write %s: %v", schemas.ErrStorage, absPath, err)
	}
	return nil
}

// ResolveOutputDir expands a leading ~ and makes dir absolute.
func ResolveOutputDir(dir string) (string, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return "", fmt.Errorf("failed to expand output directory %q: %w", dir, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory %q: %w", dir, err)
	}
	return abs, nil
}

// EnsureDir creates dir if it does not already exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create output directory %s: %v", schemas.ErrStorage, dir, err)
	}
	return nil
}
