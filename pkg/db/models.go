package db

import "time"

// Subscriber represents a registered trading user. API credentials are
// stored encrypted; this layer never sees plaintext keys.
type Subscriber struct {
	TelegramID         int64
	Username           string
	APIKeyEncrypted    string
	APISecretEncrypted string
	TradeAmountUSDT    float64
	MaxLeverage        int
	TradeMode          string // "auto" or "manual"
	IsActive           bool
	TotalTrades        int
	TotalPnL           float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Signal is a broadcast trading signal row.
type Signal struct {
	SignalID   string
	Symbol     string
	SignalType string
	OrderType  string
	EntryPrice *float64
	StopLoss   *float64
	TakeProfit *float64
	Leverage   int
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TradeRecord is one execution attempt for one subscriber. Append-only.
type TradeRecord struct {
	ID           int64
	SignalID     string
	TelegramID   int64
	Symbol       string
	Side         string
	OrderType    string
	Status       string
	Quantity     float64
	EntryPrice   float64
	ErrorMessage string
	CreatedAt    time.Time
}

// SDKClient is an external consumer connected over the SDK API.
type SDKClient struct {
	ClientID      string
	TelegramID    int64
	ConnectedAt   time.Time
	LastHeartbeat time.Time
	Active        bool
}

// Delivery records one signal pushed to one SDK client.
type Delivery struct {
	ID           int64
	SignalID     string
	ClientID     string
	DeliveredAt  time.Time
	Acknowledged bool
}

// Stats is the service-wide aggregate surfaced on the API root.
type Stats struct {
	TotalSignals  int
	ActiveSignals int
	TotalClients  int
	ActiveClients int
	Deliveries24h int
	TotalSubs     int
	ActiveSubs    int
}

// SubscriberStats breaks the subscriber base down by mode.
type SubscriberStats struct {
	Total  int
	Active int
	Auto   int
	Manual int
}

// DeliveryStats summarizes delivery bookkeeping for one signal.
type DeliveryStats struct {
	SignalID     string
	Delivered    int
	Acknowledged int
}
