package iostore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is the polling interval while waiting for a write lock.
const lockRetryDelay = 20 * time.Millisecond

// FileStore persists IO objects as files below a root directory.
// Writes hold an advisory lock on "<path>.lock" and replace the target
// atomically, so concurrent runs and readers never observe partial objects.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir. Relative IO paths are
// resolved against dir and may not leave it; absolute paths are used as-is.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Root returns the store's root directory.
func (fs *FileStore) Root() string {
	return fs.root
}

func (fs *FileStore) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}
	if fs.root == "" {
		return path, nil
	}
	return filepath.Join(fs.root, path), nil
}

// Write atomically writes data to path while holding its lock.
func (fs *FileStore) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := fs.resolve(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	lock := flock.New(target + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", target, err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock on %s", target)
	}
	defer lock.Unlock()

	return atomicWrite(target, data)
}

// Read returns the contents stored at path.
func (fs *FileStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// atomicWrite writes to a temp file in the target directory and renames it
// over the target. The original file is left untouched on failure.
func atomicWrite(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}

	// Renamed; nothing left to clean up
	tempFile = nil
	return nil
}
