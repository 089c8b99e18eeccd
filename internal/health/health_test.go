package health

import (
	"context"
	"testing"

	"account-mirror/internal/state/sqlite"
)

func TestSnapshotRoundTrip(t *testing.T) {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	in := Snapshot{Connected: true, Balances: 3, ActiveOrders: 1, UpdatedAtMS: 1234}
	if err := Save(ctx, store, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, ok, err := Load(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok || out != in {
		t.Fatalf("round trip mismatch: ok=%v %+v", ok, out)
	}
}

func TestLoadMissesOnEmptyStore(t *testing.T) {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	_, ok, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected miss on empty store")
	}
}
