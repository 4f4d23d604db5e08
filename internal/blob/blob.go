// Package blob stores batch result documents by key.
package blob

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("blob not found")

// Store reads and writes whole objects.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ResultKey returns the object key of a batch document, e.g. Data/<id>.json.
func ResultKey(prefix, sessionID string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return sessionID + ".json"
	}
	return path.Join(prefix, sessionID+".json")
}
