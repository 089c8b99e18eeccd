// Package cache wraps the kv store with a versioned, timestamped envelope so
// mirrored state survives restarts but never outlives a schema change or the
// 24h freshness window.
package cache

import (
	"context"
	"fmt"
	"time"

	"account-mirror/internal/state"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// SchemaVersion invalidates every persisted envelope when the entry
	// shapes change.
	SchemaVersion = 2
	// TTL after which a stored envelope is treated as absent.
	TTL = 24 * time.Hour
)

const (
	KeyCompletedOrders = "trading_completed_orders"
	KeySystemHealth    = "system_health_data"
	KeyBalances        = "account_balances"
	KeyPositions       = "account_positions"
)

type envelope[T any] struct {
	Data    T     `msgpack:"data"`
	SavedAt int64 `msgpack:"saved_at"`
	Version int   `msgpack:"version"`
}

var now = time.Now

// Save stores v under key wrapped in the current-version envelope.
func Save[T any](ctx context.Context, store state.Store, key string, v T) error {
	if store == nil {
		return nil
	}
	env := envelope[T]{Data: v, SavedAt: now().UnixMilli(), Version: SchemaVersion}
	payload, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", key, err)
	}
	return store.Set(ctx, key, payload)
}

// Load returns the value stored under key. A missing key, a version mismatch
// or an envelope older than TTL all report a miss, not an error; only storage
// and decode failures surface as errors.
func Load[T any](ctx context.Context, store state.Store, key string) (T, bool, error) {
	var zero T
	if store == nil {
		return zero, false, nil
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if !ok || len(raw) == 0 {
		return zero, false, nil
	}
	var env envelope[T]
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return zero, false, fmt.Errorf("decode cache %s: %w", key, err)
	}
	if env.Version != SchemaVersion {
		return zero, false, nil
	}
	if now().UnixMilli()-env.SavedAt > TTL.Milliseconds() {
		return zero, false, nil
	}
	return env.Data, true, nil
}

// Clear removes key from the store.
func Clear(ctx context.Context, store state.Store, key string) error {
	if store == nil {
		return nil
	}
	return store.Delete(ctx, key)
}
