// Package exchange defines the brokerage capability set used by the
// broadcast engine and provides the Mudrex REST implementation.
package exchange

import (
	"context"
	"fmt"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Asset describes a tradable contract: last price plus the venue's
// price and quantity increments.
type Asset struct {
	Symbol       string
	Price        float64
	PriceStep    float64
	QuantityStep float64
}

// Position is an open futures position.
type Position struct {
	PositionID string
	Symbol     string
	Quantity   float64
}

// OrderRequest captures an order intent to be sent to the venue.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Quantity   float64
	Price      float64 // required for LIMIT
	StopLoss   float64 // 0 means unset
	TakeProfit float64 // 0 means unset
}

// OrderResult returns the venue ack.
type OrderResult struct {
	OrderID string
	Status  string
}

// Client is the capability set the engine needs from a brokerage.
// Implementations are scoped to one subscriber's credentials.
type Client interface {
	GetBalance(ctx context.Context) (float64, error)
	GetAsset(ctx context.Context, symbol string) (*Asset, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	ListOpenPositions(ctx context.Context) ([]Position, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	ClosePosition(ctx context.Context, positionID string) (bool, error)
	ClosePartial(ctx context.Context, positionID string, quantity float64) (bool, error)
	SetRiskOrder(ctx context.Context, positionID string, stopLoss, takeProfit *float64) error
}

// Factory builds a Client for one subscriber's decrypted credentials.
// The engine uses it per broadcast; tests inject fakes through it.
type Factory func(apiKey, apiSecret string) Client

// APIError carries a wire-level failure with its HTTP status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API status %d: %s", e.StatusCode, e.Message)
}
