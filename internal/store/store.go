// Package store is the byte-level key/value layer under the list cache.
//
// Values are opaque. Get never reports "missing" separately: it returns the
// caller's default instead, so callers decode whatever they get back.
package store

import (
	"context"
	"strings"

	"github.com/robb-j/husky-cms/internal/xerrors"
)

type Store interface {
	// Get returns the value for key, or def when the key has never been set.
	Get(ctx context.Context, key string, def []byte) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

type Options struct {
	Backend string

	SQLitePath string

	S3Client S3API
	S3Bucket string
	S3Prefix string
}

// Open picks the backend named in opts. An empty backend is the in-process map.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		s, err := NewSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendS3:
		s, err := NewS3(opts.S3Client, opts.S3Bucket, opts.S3Prefix)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, xerrors.WithKind(
			xerrors.Newf("unknown store backend %q (valid backends are memory|sqlite|s3)", opts.Backend),
			xerrors.KindConfig,
		)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
