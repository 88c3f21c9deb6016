// Package objectstore holds the source documents handed to the parsing service.
package objectstore

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("object not found")

// Object describes a stored document.
type Object struct {
	Key  string
	URL  string
	Size int64
}

// Store is the storage contract used by the orchestrator.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (Object, error)
	Delete(ctx context.Context, key string) error
	SignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Key places name under prefix, normalizing separators.
func Key(prefix, name string) string {
	name = sanitizeKey(name)
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

func sanitizeKey(key string) string {
	key = path.Clean("/" + key)
	return strings.TrimPrefix(key, "/")
}
