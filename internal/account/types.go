package account

import "encoding/json"

// Wire contracts for the account-state stream and the order-history endpoint.
// Quantities and prices stay decimal strings end to end; nothing in the mirror
// does arithmetic on them except the history loader's fill summation.

const (
	TopicSnapshot  = "snapshot"
	TopicBalance   = "balance"
	TopicPosition  = "position"
	TopicOrder     = "order"
	TopicHeartbeat = "heartbeat"
)

const (
	TypeState  = "state"
	TypeUpdate = "update"
	TypeDelete = "delete"
	TypeFill   = "fill"
	TypeFinal  = "final"
	TypePing   = "ping"
	TypePong   = "pong"
)

type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

type BalanceDelta struct {
	Total     string `json:"total"`
	Available string `json:"available"`
}

type BalanceEntry struct {
	Asset        string        `json:"asset"`
	Total        string        `json:"total"`
	Available    string        `json:"available"`
	Hold         string        `json:"hold"`
	Source       string        `json:"source"`
	LastUpdateNs int64         `json:"lastUpdateNs"`
	Version      int           `json:"version,omitempty"`
	Delta        *BalanceDelta `json:"delta,omitempty"`
}

type PositionEntry struct {
	ID           string `json:"id"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	Size         string `json:"size"`
	EntryPrice   string `json:"entryPrice"`
	MarkPrice    string `json:"markPrice"`
	PnL          string `json:"pnl"`
	Leverage     string `json:"leverage,omitempty"`
	LastUpdateNs int64  `json:"lastUpdateNs"`
	ClosedReason string `json:"closedReason,omitempty"`
}

type ExecutionFill struct {
	ID          string `json:"id"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	Fee         string `json:"fee"`
	TimestampNs int64  `json:"timestampNs"`
}

// OrderStateEvent is one entry of an order's client-built transition history.
// Timestamp is local wall clock at apply time; TimestampNs carries the
// server-side update time untouched.
type OrderStateEvent struct {
	Status         string `json:"status"`
	Timestamp      int64  `json:"timestamp"`
	TimestampNs    int64  `json:"timestampNs"`
	FilledQuantity string `json:"filledQuantity,omitempty"`
	AvgFillPrice   string `json:"avgFillPrice,omitempty"`
	MessageType    string `json:"messageType"`
}

type OrderEntry struct {
	ID                string            `json:"id"`
	ClientID          string            `json:"clientId,omitempty"`
	Symbol            string            `json:"symbol"`
	Side              string            `json:"side"`
	Type              string            `json:"type"`
	Quantity          string            `json:"quantity"`
	Price             string            `json:"price,omitempty"`
	FilledQuantity    string            `json:"filledQuantity"`
	AvgFillPrice      string            `json:"avgFillPrice,omitempty"`
	Status            string            `json:"status"`
	LastUpdateNs      int64             `json:"lastUpdateNs"`
	LastUpdate        string            `json:"lastUpdate,omitempty"`
	RemainingQuantity string            `json:"remainingQuantity,omitempty"`
	Executions        []ExecutionFill   `json:"executions,omitempty"`
	IsFinal           bool              `json:"isFinal,omitempty"`
	StateHistory      []OrderStateEvent `json:"stateHistory,omitempty"`
	Fill              *ExecutionFill    `json:"fill,omitempty"`
	CancelReason      string            `json:"cancelReason,omitempty"`
}

type SnapshotPayload struct {
	AsOf      string          `json:"asOf"`
	Balances  []BalanceEntry  `json:"balances"`
	Positions []PositionEntry `json:"positions"`
	Orders    []OrderEntry    `json:"orders"`
}

type HeartbeatPayload struct {
	TS int64  `json:"ts"`
	ID string `json:"id,omitempty"`
}

// Order history, as served by GET /api/account/order-history. The backend
// returns the transition history pre-built; the mirror converts it into the
// same OrderEntry shape the live feed accumulates.

type OrderStateTransition struct {
	Status         string `json:"status"`
	Quantity       string `json:"quantity"`
	Price          string `json:"price"`
	FilledQuantity string `json:"filledQuantity"`
	AvgFillPrice   string `json:"avgFillPrice"`
	TimestampNs    int64  `json:"timestampNs"`
	Timestamp      string `json:"timestamp"`
	LatencyNs      int64  `json:"latencyNs,omitempty"`
	LatencyMs      string `json:"latencyMs,omitempty"`
}

type OrderFill struct {
	FillID           string `json:"fillId"`
	FillPrice        string `json:"fillPrice"`
	FillQuantity     string `json:"fillQuantity"`
	FillFee          string `json:"fillFee"`
	CumulativeFilled string `json:"cumulativeFilled"`
	TimestampNs      int64  `json:"timestampNs"`
	Timestamp        string `json:"timestamp"`
}

type OrderHistory struct {
	OrderID          string                 `json:"orderId"`
	ClientID         string                 `json:"clientId,omitempty"`
	Symbol           string                 `json:"symbol"`
	Side             string                 `json:"side"`
	Type             string                 `json:"type"`
	Quantity         string                 `json:"quantity"`
	Price            string                 `json:"price"`
	CreatedNs        int64                  `json:"createdNs"`
	Created          string                 `json:"created,omitempty"`
	FirstSeenNs      int64                  `json:"firstSeenNs"`
	FirstSeen        string                 `json:"firstSeen"`
	LastUpdateNs     int64                  `json:"lastUpdateNs"`
	LastUpdate       string                 `json:"lastUpdate"`
	FinalStatus      string                 `json:"finalStatus"`
	StateTransitions []OrderStateTransition `json:"stateTransitions"`
	Fills            []OrderFill            `json:"fills"`
}

// Client -> server messages.

type SubscribeMessage struct {
	Type    string            `json:"type"`
	Topics  []string          `json:"topics,omitempty"`
	Filters *SubscribeFilters `json:"filters,omitempty"`
}

type SubscribeFilters struct {
	Symbols []string `json:"symbols,omitempty"`
}

type PongMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}
