// Package signal parses admin trading commands into structured signal types.
package signal

import "time"

// Direction denotes the trade direction of a signal.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// OrderType denotes how the entry order is placed.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Status tracks the lifecycle of a signal.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
)

// Command is implemented by every parsed admin command.
type Command interface {
	CommandSignalID() string
	CommandSymbol() string
}

// Signal is one trade idea broadcast by an admin.
type Signal struct {
	SignalID   string    `json:"signal_id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"signal_type"`
	OrderType  OrderType `json:"order_type"`
	EntryPrice *float64  `json:"entry_price,omitempty"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	Leverage   int       `json:"leverage"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *Signal) CommandSignalID() string { return s.SignalID }
func (s *Signal) CommandSymbol() string   { return s.Symbol }

// Close instructs subscribers to close (part of) the position opened for a signal.
type Close struct {
	SignalID   string  `json:"signal_id"`
	Symbol     string  `json:"symbol"`
	Percentage float64 `json:"percentage"` // 100 means full close
}

func (c *Close) CommandSignalID() string { return c.SignalID }
func (c *Close) CommandSymbol() string   { return c.Symbol }

// Leverage updates the leverage of an existing signal.
type Leverage struct {
	SignalID string `json:"signal_id"`
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}

func (l *Leverage) CommandSignalID() string { return l.SignalID }
func (l *Leverage) CommandSymbol() string   { return l.Symbol }

// EditSLTP updates stop loss and/or take profit of an existing signal.
// At least one of StopLoss/TakeProfit is set.
type EditSLTP struct {
	SignalID   string   `json:"signal_id"`
	Symbol     string   `json:"symbol"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

func (e *EditSLTP) CommandSignalID() string { return e.SignalID }
func (e *EditSLTP) CommandSymbol() string   { return e.Symbol }
