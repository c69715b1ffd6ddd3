package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// Change is an advisory notification that a key of an origin was written.
// Source identifies the writer so it can ignore its own writes.
type Change struct {
	Key    string `json:"key"`
	Source string `json:"source"`
}

// KV is the persisted key-value store shared by every context of one origin.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Watcher delivers changes written by anyone to the origin. The channel is
// closed once ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

type Store interface {
	KV
	Watcher
}

// Backend hands out origin-scoped stores over one connection.
type Backend interface {
	Origin(name string) Store
	Close() error
}

type sourceKey struct{}

// WithSource tags writes made with ctx as coming from source.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func SourceFrom(ctx context.Context) string {
	if source, ok := ctx.Value(sourceKey{}).(string); ok {
		return source
	}
	return ""
}
