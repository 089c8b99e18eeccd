// Package health persists a small connectivity/state summary under the
// system_health_data cache key so dashboards can render a last-known status
// immediately after a restart.
package health

import (
	"context"

	"account-mirror/internal/cache"
	"account-mirror/internal/state"
)

type Snapshot struct {
	Connected       bool   `msgpack:"connected"`
	LastError       string `msgpack:"last_error"`
	Balances        int    `msgpack:"balances"`
	Positions       int    `msgpack:"positions"`
	ActiveOrders    int    `msgpack:"active_orders"`
	CompletedOrders int    `msgpack:"completed_orders"`
	LoadingHistory  bool   `msgpack:"loading_history"`
	UpdatedAtMS     int64  `msgpack:"updated_at_ms"`
}

func Save(ctx context.Context, store state.Store, snap Snapshot) error {
	return cache.Save(ctx, store, cache.KeySystemHealth, snap)
}

func Load(ctx context.Context, store state.Store) (Snapshot, bool, error) {
	return cache.Load[Snapshot](ctx, store, cache.KeySystemHealth)
}
