// Package account maintains a locally consistent mirror of balances,
// positions and orders from the backend's account-state stream. Messages are
// applied strictly in transport order by a single goroutine; the transport
// guarantees in-order delivery within a connection, and a fresh snapshot after
// every reconnect resynchronizes whatever was lost in the gap.
package account

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"account-mirror/internal/cache"
	"account-mirror/internal/metrics"
	"account-mirror/internal/state"

	"go.uber.org/zap"
)

// maxFinalOrders caps the recent-final-orders list, newest first.
const maxFinalOrders = 100

// Sender pushes client frames (pong replies) back onto the stream.
type Sender interface {
	Send(ctx context.Context, v any) error
}

type Mirror struct {
	store   state.Store
	log     *zap.Logger
	metrics *metrics.Metrics

	mu           sync.RWMutex
	asOf         string
	version      int
	balances     map[string]BalanceEntry
	positions    map[string]PositionEntry
	orders       map[string]OrderEntry
	finals       []OrderEntry
	lastErr      string
	sender       Sender
	onOrderFinal func(order OrderEntry)

	historyLoaded  bool
	loadingHistory bool

	now func() time.Time
}

func New(store state.Store, log *zap.Logger, m *metrics.Metrics) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Mirror{
		store:     store,
		log:       log,
		metrics:   m,
		balances:  make(map[string]BalanceEntry),
		positions: make(map[string]PositionEntry),
		orders:    make(map[string]OrderEntry),
		now:       time.Now,
	}
}

// SetSender wires the transport used for pong replies. Optional; without it
// heartbeats are counted but not answered.
func (m *Mirror) SetSender(s Sender) {
	m.mu.Lock()
	m.sender = s
	m.mu.Unlock()
}

// OnOrderFinal registers a callback invoked after an order reaches a terminal
// state and has been moved to the final-orders list.
func (m *Mirror) OnOrderFinal(fn func(order OrderEntry)) {
	m.mu.Lock()
	m.onOrderFinal = fn
	m.mu.Unlock()
}

// WarmLoad seeds balances, positions and completed orders from the cache so a
// restart renders data before the first snapshot arrives. Active orders are
// never cached; only a snapshot rebuilds them.
func (m *Mirror) WarmLoad(ctx context.Context) {
	if balances, ok, err := cache.Load[[]BalanceEntry](ctx, m.store, cache.KeyBalances); err != nil {
		m.log.Warn("balance cache load failed", zap.Error(err))
	} else if ok {
		m.mu.Lock()
		for _, b := range balances {
			m.balances[b.Asset] = b
		}
		m.mu.Unlock()
	}
	if positions, ok, err := cache.Load[[]PositionEntry](ctx, m.store, cache.KeyPositions); err != nil {
		m.log.Warn("position cache load failed", zap.Error(err))
	} else if ok {
		m.mu.Lock()
		for _, p := range positions {
			m.positions[p.ID] = p
		}
		m.mu.Unlock()
	}
	if finals, ok, err := cache.Load[[]OrderEntry](ctx, m.store, cache.KeyCompletedOrders); err != nil {
		m.log.Warn("completed orders cache load failed", zap.Error(err))
	} else if ok {
		m.mu.Lock()
		m.finals = finals
		m.mu.Unlock()
		m.log.Info("loaded completed orders from cache", zap.Int("count", len(finals)))
	}
}

// HandleMessage decodes one frame and routes it. Decode failures drop only the
// offending frame; the stream keeps going.
func (m *Mirror) HandleMessage(ctx context.Context, raw json.RawMessage) {
	m.metrics.MessagesReceived.Inc()
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.recordParseFailure(err)
		return
	}
	switch msg.Topic {
	case TopicSnapshot:
		var payload SnapshotPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			m.recordParseFailure(err)
			return
		}
		m.applySnapshot(ctx, msg.Version, payload)
	case TopicBalance:
		var payload BalanceEntry
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			m.recordParseFailure(err)
			return
		}
		m.applyBalance(ctx, payload)
	case TopicPosition:
		var payload PositionEntry
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			m.recordParseFailure(err)
			return
		}
		m.applyPosition(ctx, msg.Type, payload)
	case TopicOrder:
		var payload OrderEntry
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			m.recordParseFailure(err)
			return
		}
		m.applyOrder(ctx, msg.Type, payload)
	case TopicHeartbeat:
		if msg.Type == TypePing {
			var payload HeartbeatPayload
			_ = json.Unmarshal(msg.Payload, &payload)
			m.answerPing(ctx, payload.ID)
		}
	default:
		// Forward compatible: unknown topics are logged and ignored.
		m.log.Warn("unknown account message topic", zap.String("topic", msg.Topic))
	}
}

// applySnapshot replaces the whole tracked state; entries absent from the
// snapshot are gone afterwards. Idempotent by construction.
func (m *Mirror) applySnapshot(ctx context.Context, version int, payload SnapshotPayload) {
	m.mu.Lock()
	m.asOf = payload.AsOf
	m.version = version
	m.balances = make(map[string]BalanceEntry, len(payload.Balances))
	for _, b := range payload.Balances {
		m.balances[b.Asset] = b
	}
	m.positions = make(map[string]PositionEntry, len(payload.Positions))
	for _, p := range payload.Positions {
		m.positions[p.ID] = p
	}
	m.orders = make(map[string]OrderEntry, len(payload.Orders))
	for _, o := range payload.Orders {
		m.orders[o.ID] = o
	}
	m.mu.Unlock()
	m.metrics.SnapshotsApplied.Inc()
	m.persistBalances(ctx)
	m.persistPositions(ctx)
	m.log.Debug("applied account snapshot",
		zap.String("as_of", payload.AsOf),
		zap.Int("balances", len(payload.Balances)),
		zap.Int("positions", len(payload.Positions)),
		zap.Int("orders", len(payload.Orders)),
	)
}

// applyBalance replaces the entry for the asset unconditionally. Last write
// wins by arrival order; lastUpdateNs is never compared because the transport
// delivers in order.
func (m *Mirror) applyBalance(ctx context.Context, payload BalanceEntry) {
	m.mu.Lock()
	m.balances[payload.Asset] = payload
	m.mu.Unlock()
	m.persistBalances(ctx)
}

func (m *Mirror) applyPosition(ctx context.Context, msgType string, payload PositionEntry) {
	m.mu.Lock()
	if msgType == TypeDelete {
		delete(m.positions, payload.ID)
	} else {
		m.positions[payload.ID] = payload
	}
	m.mu.Unlock()
	m.persistPositions(ctx)
}

// applyOrder appends a transition event to the order's history, then either
// updates the order in place (state/fill) or moves it to the final-orders
// list (final). An order lives in exactly one of the two collections.
func (m *Mirror) applyOrder(ctx context.Context, msgType string, payload OrderEntry) {
	event := OrderStateEvent{
		Status:         payload.Status,
		Timestamp:      m.now().UnixMilli(),
		TimestampNs:    payload.LastUpdateNs,
		FilledQuantity: payload.FilledQuantity,
		AvgFillPrice:   payload.AvgFillPrice,
		MessageType:    msgType,
	}
	m.mu.Lock()
	existing := m.orders[payload.ID]
	history := make([]OrderStateEvent, 0, len(existing.StateHistory)+1)
	history = append(history, existing.StateHistory...)
	history = append(history, event)
	payload.StateHistory = history

	final := msgType == TypeFinal
	var callback func(order OrderEntry)
	if final {
		delete(m.orders, payload.ID)
		payload.IsFinal = true
		m.finals = append([]OrderEntry{payload}, m.finals...)
		if len(m.finals) > maxFinalOrders {
			m.finals = m.finals[:maxFinalOrders]
		}
		callback = m.onOrderFinal
	} else {
		m.orders[payload.ID] = payload
	}
	m.mu.Unlock()

	if final {
		m.metrics.OrdersFinalized.Inc()
		m.persistFinals(ctx)
		m.log.Info("order finalized", zap.String("order_id", payload.ID), zap.String("status", payload.Status))
		if callback != nil {
			callback(payload)
		}
	}
}

func (m *Mirror) answerPing(ctx context.Context, id string) {
	m.metrics.HeartbeatsAnswered.Inc()
	m.mu.RLock()
	sender := m.sender
	m.mu.RUnlock()
	if sender == nil {
		return
	}
	if err := sender.Send(ctx, PongMessage{Type: TypePong, ID: id}); err != nil {
		m.log.Warn("pong reply failed", zap.Error(err))
	}
}

func (m *Mirror) recordParseFailure(err error) {
	m.metrics.ParseFailures.Inc()
	m.mu.Lock()
	m.lastErr = "failed to parse message"
	m.mu.Unlock()
	m.log.Warn("account message parse failed", zap.Error(err))
}

// Persistence failures are logged and swallowed: the worst outcome is a stale
// cache that self-heals on the next change or snapshot.

func (m *Mirror) persistBalances(ctx context.Context) {
	if err := cache.Save(ctx, m.store, cache.KeyBalances, m.Balances()); err != nil {
		m.log.Warn("balance cache save failed", zap.Error(err))
	}
}

func (m *Mirror) persistPositions(ctx context.Context) {
	if err := cache.Save(ctx, m.store, cache.KeyPositions, m.Positions()); err != nil {
		m.log.Warn("position cache save failed", zap.Error(err))
	}
}

func (m *Mirror) persistFinals(ctx context.Context) {
	if err := cache.Save(ctx, m.store, cache.KeyCompletedOrders, m.RecentFinalOrders()); err != nil {
		m.log.Warn("completed orders cache save failed", zap.Error(err))
	}
}

// Read accessors return copies; callers never see the internal maps.

func (m *Mirror) Balances() []BalanceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BalanceEntry, 0, len(m.balances))
	for _, b := range m.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func (m *Mirror) Positions() []PositionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PositionEntry, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Mirror) Orders() []OrderEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OrderEntry, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Mirror) RecentFinalOrders() []OrderEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]OrderEntry(nil), m.finals...)
}

// AsOf reports the server timestamp of the last applied snapshot and its
// protocol version.
func (m *Mirror) AsOf() (string, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.asOf, m.version
}

// LastError reports the most recent per-message failure, empty if none.
func (m *Mirror) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Mirror) LoadingHistory() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadingHistory
}
