package account

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeHistoryClient struct {
	body  string
	err   error
	calls int
}

func (f *fakeHistoryClient) GetJSON(_ context.Context, _ string, out any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.body), out)
}

const historyPath = "/api/account/order-history"

func TestLoadHistoryConvertsRecords(t *testing.T) {
	m, _ := newTestMirror(t)
	client := &fakeHistoryClient{body: `[
		{
			"orderId": "h1",
			"symbol": "BTC-USD",
			"side": "Buy",
			"type": "Limit",
			"quantity": "1.0",
			"price": "30000",
			"lastUpdateNs": 500,
			"lastUpdate": "2026-08-27T12:00:00Z",
			"finalStatus": "FILLED",
			"stateTransitions": [
				{"status": "NEW", "timestampNs": 100, "timestamp": "2026-08-27T11:59:00Z", "filledQuantity": "0", "avgFillPrice": ""},
				{"status": "FILLED", "timestampNs": 500, "timestamp": "2026-08-27T12:00:00Z", "filledQuantity": "1.0", "avgFillPrice": "29950"}
			],
			"fills": [
				{"fillId": "f1", "fillQuantity": "0.4", "fillPrice": "29900", "timestampNs": 200},
				{"fillId": "f2", "fillQuantity": "0.6", "fillPrice": "29983", "timestampNs": 400},
				{"fillId": "f3", "fillQuantity": "garbage", "fillPrice": "0", "timestampNs": 450}
			]
		},
		{"orderId": "", "finalStatus": "FILLED", "fills": [], "stateTransitions": []},
		{"orderId": "h3", "finalStatus": "", "fills": [], "stateTransitions": []}
	]`}

	if err := m.LoadHistory(context.Background(), client, historyPath); err != nil {
		t.Fatalf("load history: %v", err)
	}
	finals := m.RecentFinalOrders()
	if len(finals) != 1 {
		t.Fatalf("expected invalid records dropped, got %d finals", len(finals))
	}
	got := finals[0]
	if got.ID != "h1" || got.Status != "FILLED" || !got.IsFinal {
		t.Fatalf("unexpected converted order: %+v", got)
	}
	if got.FilledQuantity != "1" {
		t.Fatalf("expected fill sum 1, got %q", got.FilledQuantity)
	}
	if got.AvgFillPrice != "29950" {
		t.Fatalf("expected avg fill price from last transition, got %q", got.AvgFillPrice)
	}
	if len(got.StateHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(got.StateHistory))
	}
	if got.StateHistory[0].MessageType != TypeState || got.StateHistory[1].MessageType != TypeState {
		t.Fatalf("expected messageType state throughout, got %+v", got.StateHistory)
	}
	if got.StateHistory[1].Timestamp == 0 {
		t.Fatalf("expected parsed wall clock timestamp")
	}
}

func TestLoadHistoryFallsBackToNominalQuantity(t *testing.T) {
	m, _ := newTestMirror(t)
	client := &fakeHistoryClient{body: `[
		{"orderId": "h1", "quantity": "2.5", "lastUpdateNs": 1, "finalStatus": "CANCELED", "stateTransitions": [], "fills": []}
	]`}
	if err := m.LoadHistory(context.Background(), client, historyPath); err != nil {
		t.Fatalf("load history: %v", err)
	}
	finals := m.RecentFinalOrders()
	if len(finals) != 1 || finals[0].FilledQuantity != "2.5" {
		t.Fatalf("expected nominal quantity fallback, got %+v", finals)
	}
	if finals[0].AvgFillPrice != "0" {
		t.Fatalf("expected avg fill price default 0, got %q", finals[0].AvgFillPrice)
	}
}

func TestLoadHistoryRunsOnce(t *testing.T) {
	m, _ := newTestMirror(t)
	client := &fakeHistoryClient{body: `[]`}
	if err := m.LoadHistory(context.Background(), client, historyPath); err != nil {
		t.Fatalf("load history: %v", err)
	}
	if err := m.LoadHistory(context.Background(), client, historyPath); err != nil {
		t.Fatalf("load history: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected a single fetch, got %d", client.calls)
	}
}

func TestLoadHistoryFailureLeavesStateUntouched(t *testing.T) {
	m, _ := newTestMirror(t)
	ctx := context.Background()
	m.HandleMessage(ctx, frame(t, TopicOrder, TypeFinal, OrderEntry{ID: "live", Status: "FILLED", LastUpdateNs: 7}))

	client := &fakeHistoryClient{err: errors.New("boom")}
	if err := m.LoadHistory(ctx, client, historyPath); err == nil {
		t.Fatalf("expected fetch error surfaced")
	}
	finals := m.RecentFinalOrders()
	if len(finals) != 1 || finals[0].ID != "live" {
		t.Fatalf("expected state untouched after failure, got %+v", finals)
	}

	// Failure does not latch the once-guard; a later call fetches again.
	client.err = nil
	client.body = `[]`
	if err := m.LoadHistory(ctx, client, historyPath); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected second fetch, got %d", client.calls)
	}
}

func TestLoadHistoryCachePrecedenceAndIdempotence(t *testing.T) {
	m, _ := newTestMirror(t)
	ctx := context.Background()
	// Live-accumulated final for the same id the fetch will return.
	m.HandleMessage(ctx, frame(t, TopicOrder, TypeFinal, OrderEntry{ID: "dup", Status: "FILLED", FilledQuantity: "1", LastUpdateNs: 900}))

	body := `[
		{"orderId": "dup", "quantity": "9", "lastUpdateNs": 100, "finalStatus": "CANCELED", "stateTransitions": [], "fills": []},
		{"orderId": "new", "quantity": "1", "lastUpdateNs": 50, "finalStatus": "FILLED", "stateTransitions": [], "fills": []}
	]`
	client := &fakeHistoryClient{body: body}
	if err := m.LoadHistory(ctx, client, historyPath); err != nil {
		t.Fatalf("load history: %v", err)
	}
	finals := m.RecentFinalOrders()
	if len(finals) != 2 {
		t.Fatalf("expected 2 finals, got %d", len(finals))
	}
	if finals[0].ID != "dup" || finals[0].Status != "FILLED" {
		t.Fatalf("expected live entry to win by id and sort first, got %+v", finals[0])
	}
	if finals[1].ID != "new" {
		t.Fatalf("expected fetched entry appended, got %+v", finals[1])
	}

	// Merging the same fetched set again changes nothing.
	merged := mergeFinalOrders(finals, []OrderEntry{
		{ID: "dup", Status: "CANCELED", LastUpdateNs: 100},
		{ID: "new", Status: "FILLED", LastUpdateNs: 50},
	})
	if len(merged) != 2 || merged[0].ID != "dup" || merged[0].Status != "FILLED" || merged[1].ID != "new" {
		t.Fatalf("expected idempotent merge, got %+v", merged)
	}
}

func TestMergeFinalOrdersCaps(t *testing.T) {
	existing := make([]OrderEntry, 0, 60)
	for i := 0; i < 60; i++ {
		existing = append(existing, OrderEntry{ID: idOf("a", i), LastUpdateNs: int64(1000 + i)})
	}
	fetched := make([]OrderEntry, 0, 60)
	for i := 0; i < 60; i++ {
		fetched = append(fetched, OrderEntry{ID: idOf("b", i), LastUpdateNs: int64(i)})
	}
	merged := mergeFinalOrders(existing, fetched)
	if len(merged) != maxFinalOrders {
		t.Fatalf("expected cap at %d, got %d", maxFinalOrders, len(merged))
	}
	if merged[0].LastUpdateNs < merged[len(merged)-1].LastUpdateNs {
		t.Fatalf("expected newest-first ordering")
	}
}

func idOf(prefix string, i int) string {
	return prefix + string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func TestOrderHistoryByID(t *testing.T) {
	m := New(nil, zap.NewNop(), nil)
	client := &fakeHistoryClient{body: `{"orderId": "solo", "finalStatus": "FILLED"}`}
	record, err := m.OrderHistoryByID(context.Background(), client, historyPath, "solo")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if record.OrderID != "solo" || record.FinalStatus != "FILLED" {
		t.Fatalf("unexpected record: %+v", record)
	}
}
