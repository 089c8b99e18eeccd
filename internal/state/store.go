package state

import "context"

// Store is the durable key/value backing for cache envelopes. Values are
// opaque blobs; envelope semantics live one layer up in internal/cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
