package events

// Event enumerates high-level topics inside the broadcaster.
type Event string

const (
	EventSignalNew      Event = "signal.new"
	EventSignalClose    Event = "signal.close"
	EventSignalSLTP     Event = "signal.sltp"
	EventSignalLeverage Event = "signal.leverage"
	EventBroadcastDone  Event = "broadcast.done"
)

// SignalNew carries a freshly parsed signal to downstream consumers.
// Field tags match the wire shape pushed to SDK clients.
type SignalNew struct {
	SignalID   string   `json:"signal_id"`
	Symbol     string   `json:"symbol"`
	SignalType string   `json:"signal_type"`
	OrderType  string   `json:"order_type"`
	EntryPrice *float64 `json:"entry_price"`
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
	Leverage   int      `json:"leverage"`
}

// SignalClose announces a full or partial close of an active signal.
type SignalClose struct {
	SignalID   string  `json:"signal_id"`
	Symbol     string  `json:"symbol"`
	Percentage float64 `json:"percentage"`
}

// SignalSLTP announces updated stop-loss / take-profit levels.
type SignalSLTP struct {
	SignalID   string   `json:"signal_id"`
	Symbol     string   `json:"symbol"`
	StopLoss   *float64 `json:"stop_loss"`
	TakeProfit *float64 `json:"take_profit"`
}

// SignalLeverage announces a leverage change for an active signal.
type SignalLeverage struct {
	SignalID string `json:"signal_id"`
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}

// BroadcastDone reports one finished fan-out for observers.
type BroadcastDone struct {
	SignalID  string `json:"signal_id"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
}
