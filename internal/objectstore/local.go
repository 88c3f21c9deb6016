package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Local stores objects on disk. It backs development setups without a bucket.
type Local struct {
	baseDir string
	now     func() time.Time
}

// NewLocal builds a disk store rooted at baseDir.
func NewLocal(baseDir string) *Local {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	return &Local{baseDir: baseDir, now: time.Now}
}

func (l *Local) path(key string) string {
	return filepath.Join(l.baseDir, filepath.FromSlash(sanitizeKey(key)))
}

func (l *Local) Put(_ context.Context, key string, body []byte, _ string) (Object, error) {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Object{}, fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return Object{}, fmt.Errorf("write file: %w", err)
	}
	return Object{Key: key, URL: fileURL(p), Size: int64(len(body))}, nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// SignURL returns a file URL carrying the expiry. Local files are not access
// controlled, so the expiry is informational.
func (l *Local) SignURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	p := l.path(key)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("sign %s: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("stat file: %w", err)
	}
	q := url.Values{"expires": {strconv.FormatInt(l.now().Add(ttl).Unix(), 10)}}
	return fileURL(p) + "?" + q.Encode(), nil
}

func fileURL(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}
