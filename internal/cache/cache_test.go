package cache

import (
	"context"
	"testing"
	"time"

	"account-mirror/internal/state/sqlite"

	"github.com/vmihailenco/msgpack/v5"
)

type sample struct {
	Asset string `msgpack:"asset"`
	Total string `msgpack:"total"`
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	in := []sample{{Asset: "BTC", Total: "1.5"}, {Asset: "USDC", Total: "1000"}}
	if err := Save(ctx, store, KeyBalances, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, ok, err := Load[[]sample](ctx, store, KeyBalances)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected hit")
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestMissOnAbsentKey(t *testing.T) {
	store := openStore(t)
	_, ok, err := Load[[]sample](context.Background(), store, KeyPositions)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestMissAfterTTL(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Now()
	now = func() time.Time { return base }
	defer func() { now = time.Now }()

	if err := Save(ctx, store, KeyBalances, []sample{{Asset: "BTC"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	now = func() time.Time { return base.Add(TTL + time.Minute) }
	_, ok, err := Load[[]sample](ctx, store, KeyBalances)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected miss after ttl expiry")
	}
}

func TestMissOnVersionMismatch(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	env := envelope[[]sample]{Data: []sample{{Asset: "BTC"}}, SavedAt: time.Now().UnixMilli(), Version: SchemaVersion - 1}
	payload, err := msgpack.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := store.Set(ctx, KeyBalances, payload); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, ok, err := Load[[]sample](ctx, store, KeyBalances)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected miss on version mismatch")
	}
}

func TestDecodeErrorSurfaces(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.Set(ctx, KeyBalances, []byte{0xc1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, _, err := Load[[]sample](ctx, store, KeyBalances); err == nil {
		t.Fatalf("expected decode error for corrupt payload")
	}
}

func TestClear(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := Save(ctx, store, KeyBalances, []sample{{Asset: "BTC"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := Clear(ctx, store, KeyBalances); err != nil {
		t.Fatalf("clear: %v", err)
	}
	_, ok, err := Load[[]sample](ctx, store, KeyBalances)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected miss after clear")
	}
}
