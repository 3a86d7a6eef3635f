package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists uploaded bytes and returns a locator for them.
type Store interface {
	Put(ctx context.Context, data []byte, key string) (string, error)
}

// NewKey builds a collision resistant key namespaced by upload date:
// uploads/YYYYMMDD/<uuid><ext>.
func NewKey(now time.Time, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("uploads/%s/%s%s", now.UTC().Format("20060102"), uuid.NewString(), strings.ToLower(ext))
}

// LocalStore writes blobs under a base directory.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) (*LocalStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{baseDir: abs}, nil
}

func (s *LocalStore) Put(ctx context.Context, data []byte, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := filepath.Clean("/" + key)
	path := filepath.Join(s.baseDir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	// write then rename so readers never see a partial blob
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write blob: %w", err)
	}

	return "file://" + filepath.ToSlash(path), nil
}
