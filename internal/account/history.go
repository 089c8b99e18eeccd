package account

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HistoryClient is the slice of the REST client the loader needs.
type HistoryClient interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// LoadHistory backfills completed orders from the order-history endpoint.
// The fetch runs at most once per mirror lifetime; only a successful load
// latches the guard, so a failed attempt may be retried by a later call.
// Best effort either way: a failure leaves state untouched and the mirror
// works with zero history loaded.
func (m *Mirror) LoadHistory(ctx context.Context, client HistoryClient, path string) error {
	m.mu.Lock()
	if m.historyLoaded || m.loadingHistory {
		m.mu.Unlock()
		return nil
	}
	m.loadingHistory = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loadingHistory = false
		m.mu.Unlock()
	}()

	var records []OrderHistory
	if err := client.GetJSON(ctx, path, &records); err != nil {
		m.log.Warn("order history fetch failed", zap.Error(err))
		return err
	}
	m.log.Info("fetched order history", zap.Int("count", len(records)))

	converted := make([]OrderEntry, 0, len(records))
	for _, h := range records {
		entry, ok := m.convertHistory(h)
		if !ok {
			continue
		}
		converted = append(converted, entry)
	}

	m.mu.Lock()
	merged := mergeFinalOrders(m.finals, converted)
	m.finals = merged
	m.historyLoaded = true
	m.mu.Unlock()
	m.persistFinals(ctx)
	m.log.Info("merged completed orders", zap.Int("total", len(merged)))
	return nil
}

// OrderHistoryByID fetches one order's pre-built history.
func (m *Mirror) OrderHistoryByID(ctx context.Context, client HistoryClient, path, orderID string) (OrderHistory, error) {
	var record OrderHistory
	err := client.GetJSON(ctx, path+"/"+orderID, &record)
	return record, err
}

// convertHistory maps a history record into the OrderEntry shape the live
// feed accumulates. Records missing the id or final status are dropped with a
// warning; partial success is expected.
func (m *Mirror) convertHistory(h OrderHistory) (OrderEntry, bool) {
	if h.OrderID == "" || h.FinalStatus == "" {
		m.log.Warn("skipping invalid order history record",
			zap.String("order_id", h.OrderID),
			zap.String("final_status", h.FinalStatus),
		)
		return OrderEntry{}, false
	}

	totalFilled := decimal.Zero
	for _, f := range h.Fills {
		qty, err := decimal.NewFromString(f.FillQuantity)
		if err != nil {
			continue
		}
		totalFilled = totalFilled.Add(qty)
	}
	quantity := h.Quantity
	if quantity == "" {
		quantity = "0"
	}
	filled := quantity
	if totalFilled.IsPositive() {
		filled = totalFilled.String()
	}

	avgFillPrice := "0"
	if n := len(h.StateTransitions); n > 0 && h.StateTransitions[n-1].AvgFillPrice != "" {
		avgFillPrice = h.StateTransitions[n-1].AvgFillPrice
	}

	history := make([]OrderStateEvent, 0, len(h.StateTransitions))
	for _, t := range h.StateTransitions {
		history = append(history, OrderStateEvent{
			Status:         t.Status,
			Timestamp:      parseWallClockMS(t.Timestamp),
			TimestampNs:    t.TimestampNs,
			FilledQuantity: t.FilledQuantity,
			AvgFillPrice:   t.AvgFillPrice,
			MessageType:    TypeState,
		})
	}

	price := h.Price
	if price == "" {
		price = "0"
	}
	return OrderEntry{
		ID:             h.OrderID,
		ClientID:       h.ClientID,
		Symbol:         h.Symbol,
		Side:           h.Side,
		Type:           h.Type,
		Quantity:       quantity,
		Price:          price,
		FilledQuantity: filled,
		AvgFillPrice:   avgFillPrice,
		Status:         h.FinalStatus,
		LastUpdateNs:   h.LastUpdateNs,
		LastUpdate:     h.LastUpdate,
		IsFinal:        true,
		StateHistory:   history,
	}, true
}

// mergeFinalOrders deduplicates by id with existing entries taking precedence,
// sorts newest first and caps the result. Idempotent.
func mergeFinalOrders(existing, fetched []OrderEntry) []OrderEntry {
	seen := make(map[string]struct{}, len(existing)+len(fetched))
	merged := make([]OrderEntry, 0, len(existing)+len(fetched))
	for _, o := range existing {
		if _, ok := seen[o.ID]; ok {
			continue
		}
		seen[o.ID] = struct{}{}
		merged = append(merged, o)
	}
	for _, o := range fetched {
		if _, ok := seen[o.ID]; ok {
			continue
		}
		seen[o.ID] = struct{}{}
		merged = append(merged, o)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].LastUpdateNs > merged[j].LastUpdateNs })
	if len(merged) > maxFinalOrders {
		merged = merged[:maxFinalOrders]
	}
	return merged
}

func parseWallClockMS(ts string) int64 {
	if ts == "" {
		return 0
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return 0
	}
	return parsed.UnixMilli()
}
