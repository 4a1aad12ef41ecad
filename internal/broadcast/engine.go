// Package broadcast fans one admin signal out to every active
// subscriber, executing trades concurrently under a bounded worker gate
// and normalizing every failure into a closed outcome taxonomy.
package broadcast

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/signal"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/crypto"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/db"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/exchange"
)

const (
	defaultWorkers       = 10
	defaultMinOrderValue = 8.0 // USDT, exchange minimum notional
)

// Config tunes the engine.
type Config struct {
	Workers       int     // max concurrent subscriber executions
	MinOrderValue float64 // minimum order notional in USDT
}

// Engine executes signals for all subscribers.
type Engine struct {
	store   *db.Database
	vault   *crypto.Vault
	factory exchange.Factory
	gate    chan struct{}
	minimum float64
}

// New creates an engine. The factory builds a brokerage client per
// subscriber from decrypted credentials.
func New(store *db.Database, vault *crypto.Vault, factory exchange.Factory, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MinOrderValue <= 0 {
		cfg.MinOrderValue = defaultMinOrderValue
	}
	return &Engine{
		store:   store,
		vault:   vault,
		factory: factory,
		gate:    make(chan struct{}, cfg.Workers),
		minimum: cfg.MinOrderValue,
	}
}

// BroadcastSignal saves the signal and executes it for every active
// subscriber. Each attempt is one-shot; there is no retry queue.
func (e *Engine) BroadcastSignal(ctx context.Context, sig *signal.Signal) *Summary {
	if err := e.store.SaveSignal(ctx, toSignalRow(sig)); err != nil {
		log.Printf("engine: save signal %s: %v", sig.SignalID, err)
	}

	subs, err := e.store.GetActiveSubscribers(ctx)
	if err != nil {
		log.Printf("engine: load subscribers: %v", err)
		return NewSummary(sig.SignalID)
	}
	log.Printf("engine: broadcasting %s to %d subscribers", sig.SignalID, len(subs))

	results := e.fanOut(ctx, subs, func(ctx context.Context, sub db.Subscriber) Result {
		return e.executeSignal(ctx, sig, sub)
	})
	return e.finish(ctx, sig.SignalID, sig.Symbol, string(sig.Direction), string(sig.OrderType), results)
}

// BroadcastClose closes (part of) each subscriber's position for a
// signal and marks the signal CLOSED. Closing an already closed signal
// is harmless.
func (e *Engine) BroadcastClose(ctx context.Context, cmd *signal.Close) *Summary {
	if err := e.store.UpdateSignalStatus(ctx, cmd.SignalID, string(signal.StatusClosed)); err != nil && err != db.ErrNotFound {
		log.Printf("engine: close signal %s: %v", cmd.SignalID, err)
	}

	subs, err := e.store.GetActiveSubscribers(ctx)
	if err != nil {
		log.Printf("engine: load subscribers: %v", err)
		return NewSummary(cmd.SignalID)
	}
	log.Printf("engine: closing %s (%.0f%%) for %d subscribers", cmd.SignalID, cmd.Percentage, len(subs))

	results := e.fanOut(ctx, subs, func(ctx context.Context, sub db.Subscriber) Result {
		return e.executeClose(ctx, cmd, sub)
	})
	return e.finish(ctx, cmd.SignalID, cmd.Symbol, "CLOSE", "MARKET", results)
}

// BroadcastLeverage applies a leverage update per subscriber, capped by
// each subscriber's own maximum.
func (e *Engine) BroadcastLeverage(ctx context.Context, cmd *signal.Leverage) *Summary {
	if err := e.store.UpdateSignalLeverage(ctx, cmd.SignalID, cmd.Leverage); err != nil && err != db.ErrNotFound {
		log.Printf("engine: update leverage %s: %v", cmd.SignalID, err)
	}

	subs, err := e.store.GetActiveSubscribers(ctx)
	if err != nil {
		log.Printf("engine: load subscribers: %v", err)
		return NewSummary(cmd.SignalID)
	}

	results := e.fanOut(ctx, subs, func(ctx context.Context, sub db.Subscriber) Result {
		return e.executeLeverage(ctx, cmd, sub)
	})
	return e.finish(ctx, cmd.SignalID, cmd.Symbol, "LEVERAGE", "", results)
}

// BroadcastSLTP updates stop loss / take profit on each subscriber's
// open position. A subscriber without an open position is a success:
// the new levels are stored on the signal for later pickup.
func (e *Engine) BroadcastSLTP(ctx context.Context, cmd *signal.EditSLTP) *Summary {
	if err := e.store.UpdateSignalSLTP(ctx, cmd.SignalID, cmd.StopLoss, cmd.TakeProfit); err != nil && err != db.ErrNotFound {
		log.Printf("engine: update sl/tp %s: %v", cmd.SignalID, err)
	}

	subs, err := e.store.GetActiveSubscribers(ctx)
	if err != nil {
		log.Printf("engine: load subscribers: %v", err)
		return NewSummary(cmd.SignalID)
	}

	results := e.fanOut(ctx, subs, func(ctx context.Context, sub db.Subscriber) Result {
		return e.executeSLTP(ctx, cmd, sub)
	})
	return e.finish(ctx, cmd.SignalID, cmd.Symbol, "EDIT_SLTP", "", results)
}

// fanOut runs fn once per subscriber behind the worker gate. A panic in
// one subscriber's execution becomes an API_ERROR outcome and never
// touches siblings. Result order matches the subscriber slice, which
// callers must not read meaning into.
func (e *Engine) fanOut(ctx context.Context, subs []db.Subscriber, fn func(context.Context, db.Subscriber) Result) []Result {
	results := make([]Result, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub db.Subscriber) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("engine: recovered panic for subscriber %d: %v", sub.TelegramID, r)
					results[i] = Result{
						TelegramID: sub.TelegramID,
						Username:   sub.Username,
						Status:     StatusAPIError,
						Message:    "internal error",
					}
				}
			}()
			e.gate <- struct{}{}
			defer func() { <-e.gate }()
			results[i] = fn(ctx, sub)
		}(i, sub)
	}
	wg.Wait()
	return results
}

// finish records every attempt and builds the aggregate summary.
func (e *Engine) finish(ctx context.Context, signalID, symbol, side, orderType string, results []Result) *Summary {
	summary := NewSummary(signalID)
	for _, r := range results {
		summary.Add(r)
		rec := db.TradeRecord{
			SignalID:   signalID,
			TelegramID: r.TelegramID,
			Symbol:     symbol,
			Side:       side,
			OrderType:  orderType,
			Status:     string(r.Status),
			Quantity:   r.Quantity,
			EntryPrice: r.EntryPrice,
		}
		if !r.Succeeded() {
			rec.ErrorMessage = r.Message
		}
		if err := e.store.RecordTrade(ctx, rec); err != nil {
			log.Printf("engine: record trade for %d: %v", r.TelegramID, err)
		}
	}
	log.Printf("engine: %s complete: %s", signalID, summary.Counts())
	return summary
}

// clientFor decrypts the subscriber's credentials and builds a client.
// Vault failures are fatal for this subscriber only and never retried.
func (e *Engine) clientFor(sub db.Subscriber) (exchange.Client, error) {
	apiKey, err := e.vault.Decrypt(sub.APIKeyEncrypted)
	if err != nil {
		return nil, err
	}
	apiSecret, err := e.vault.Decrypt(sub.APISecretEncrypted)
	if err != nil {
		return nil, err
	}
	return e.factory(apiKey, apiSecret), nil
}

func (e *Engine) executeSignal(ctx context.Context, sig *signal.Signal, sub db.Subscriber) Result {
	info := subscriberInfo{id: sub.TelegramID, username: sub.Username}
	if sub.TradeMode != "auto" {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusSkipped, Message: "manual mode"}
	}

	client, err := e.clientFor(sub)
	if err != nil {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusInvalidKey, Message: "credential decryption failed"}
	}

	// Best effort: a failed position check proceeds as "no position".
	if positions, err := client.ListOpenPositions(ctx); err != nil {
		log.Printf("engine: position check for %d failed: %v", sub.TelegramID, err)
	} else {
		for _, p := range positions {
			if p.Symbol == sig.Symbol {
				return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusPositionExists,
					Message: fmt.Sprintf("open position already exists in %s", sig.Symbol)}
			}
		}
	}

	balance, err := client.GetBalance(ctx)
	if err != nil {
		return errorResult(info, err)
	}
	if balance <= 0 {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusInsufficientBalance,
			Message: "available balance is 0 USDT", Balance: balance}
	}

	margin := sub.TradeAmountUSDT
	reduced := false
	if balance < margin {
		margin = balance
		reduced = true
	}

	asset, err := client.GetAsset(ctx, sig.Symbol)
	if err != nil {
		return errorResult(info, err)
	}

	leverage := effectiveLeverage(sig.Leverage, sub.MaxLeverage)
	if err := client.SetLeverage(ctx, sig.Symbol, leverage); err != nil {
		return errorResult(info, err)
	}

	price := 1.0 // documented fallback when no price is known
	if sig.EntryPrice != nil {
		price = RoundToStep(*sig.EntryPrice, asset.PriceStep)
	} else if asset.Price > 0 {
		price = asset.Price
	}

	// Minimum notional: resize up to exactly the minimum if the balance
	// covers the required margin, otherwise reject distinctly from the
	// zero-balance case.
	var quantity float64
	notional := margin * float64(leverage)
	if notional < e.minimum {
		requiredMargin := e.minimum / float64(leverage)
		if balance < requiredMargin {
			return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusMinOrderNotMet,
				Message: fmt.Sprintf("order value below %.0f USDT minimum", e.minimum), Balance: balance}
		}
		quantity = CeilToStep(e.minimum/price, asset.QuantityStep)
		reduced = true
	} else {
		quantity = FloorToStep(notional/price, asset.QuantityStep)
	}
	if quantity <= 0 {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusAPIError,
			Message: "computed order quantity is zero"}
	}

	req := exchange.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     exchange.SideBuy,
		Type:     exchange.OrderType(sig.OrderType),
		Quantity: quantity,
	}
	if sig.Direction == signal.DirectionShort {
		req.Side = exchange.SideSell
	}
	if sig.OrderType == signal.OrderTypeLimit && sig.EntryPrice != nil {
		req.Price = price
	}
	if sig.StopLoss != nil {
		req.StopLoss = RoundToStep(*sig.StopLoss, asset.PriceStep)
	}
	if sig.TakeProfit != nil {
		req.TakeProfit = RoundToStep(*sig.TakeProfit, asset.PriceStep)
	}

	order, err := client.CreateOrder(ctx, req)
	if err != nil {
		return errorResult(info, err)
	}

	status := StatusSuccess
	if reduced {
		status = StatusSuccessReduced
	}
	return Result{
		TelegramID:    sub.TelegramID,
		Username:      sub.Username,
		Status:        status,
		Message:       fmt.Sprintf("%s %s @ %s", req.Side, sig.Symbol, sig.OrderType),
		OrderID:       order.OrderID,
		Quantity:      quantity,
		EntryPrice:    price,
		RealizedValue: quantity * price,
		Balance:       balance,
	}
}

func (e *Engine) executeClose(ctx context.Context, cmd *signal.Close, sub db.Subscriber) Result {
	info := subscriberInfo{id: sub.TelegramID, username: sub.Username}
	if sub.TradeMode != "auto" {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusSkipped, Message: "manual mode"}
	}

	client, err := e.clientFor(sub)
	if err != nil {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusInvalidKey, Message: "credential decryption failed"}
	}

	positions, err := client.ListOpenPositions(ctx)
	if err != nil {
		return errorResult(info, err)
	}
	var pos *exchange.Position
	for i := range positions {
		if positions[i].Symbol == cmd.Symbol {
			pos = &positions[i]
			break
		}
	}
	if pos == nil {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusSkipped,
			Message: fmt.Sprintf("no open position in %s", cmd.Symbol)}
	}

	var closed bool
	var quantity float64
	if cmd.Percentage >= 100 {
		quantity = pos.Quantity
		closed, err = client.ClosePosition(ctx, pos.PositionID)
	} else {
		step := 0.0
		if asset, assetErr := client.GetAsset(ctx, cmd.Symbol); assetErr == nil {
			step = asset.QuantityStep
		}
		quantity = FloorToStep(pos.Quantity*cmd.Percentage/100, step)
		if quantity <= 0 {
			return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusSkipped,
				Message: "partial close quantity rounds to zero"}
		}
		closed, err = client.ClosePartial(ctx, pos.PositionID, quantity)
	}
	if err != nil {
		return errorResult(info, err)
	}
	if !closed {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusAPIError,
			Message: "close was not confirmed by the exchange"}
	}
	return Result{
		TelegramID: sub.TelegramID,
		Username:   sub.Username,
		Status:     StatusSuccess,
		Message:    fmt.Sprintf("closed %.0f%% of %s", cmd.Percentage, cmd.Symbol),
		Quantity:   quantity,
	}
}

func (e *Engine) executeLeverage(ctx context.Context, cmd *signal.Leverage, sub db.Subscriber) Result {
	info := subscriberInfo{id: sub.TelegramID, username: sub.Username}
	if sub.TradeMode != "auto" {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusSkipped, Message: "manual mode"}
	}

	client, err := e.clientFor(sub)
	if err != nil {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusInvalidKey, Message: "credential decryption failed"}
	}

	leverage := effectiveLeverage(cmd.Leverage, sub.MaxLeverage)
	if err := client.SetLeverage(ctx, cmd.Symbol, leverage); err != nil {
		return errorResult(info, err)
	}
	return Result{
		TelegramID: sub.TelegramID,
		Username:   sub.Username,
		Status:     StatusSuccess,
		Message:    fmt.Sprintf("leverage set to %dx on %s", leverage, cmd.Symbol),
	}
}

func (e *Engine) executeSLTP(ctx context.Context, cmd *signal.EditSLTP, sub db.Subscriber) Result {
	info := subscriberInfo{id: sub.TelegramID, username: sub.Username}
	if sub.TradeMode != "auto" {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusSkipped, Message: "manual mode"}
	}

	client, err := e.clientFor(sub)
	if err != nil {
		return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusInvalidKey, Message: "credential decryption failed"}
	}

	positions, err := client.ListOpenPositions(ctx)
	if err != nil {
		return errorResult(info, err)
	}
	for _, p := range positions {
		if p.Symbol == cmd.Symbol {
			if err := client.SetRiskOrder(ctx, p.PositionID, cmd.StopLoss, cmd.TakeProfit); err != nil {
				return errorResult(info, err)
			}
			return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusSuccess,
				Message: fmt.Sprintf("SL/TP updated on %s", cmd.Symbol)}
		}
	}
	// Deliberate success path: the levels are stored on the signal so a
	// later-opened position can pick them up.
	return Result{TelegramID: sub.TelegramID, Username: sub.Username, Status: StatusSuccess,
		Message: "no open position; levels recorded for later"}
}

// effectiveLeverage clamps signal leverage to the subscriber's cap,
// with 1 as the floor.
func effectiveLeverage(signalLev, maxLev int) int {
	lev := signalLev
	if maxLev > 0 && lev > maxLev {
		lev = maxLev
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}

func toSignalRow(s *signal.Signal) db.Signal {
	return db.Signal{
		SignalID:   s.SignalID,
		Symbol:     s.Symbol,
		SignalType: string(s.Direction),
		OrderType:  string(s.OrderType),
		EntryPrice: s.EntryPrice,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		Leverage:   s.Leverage,
		Status:     string(signal.StatusActive),
	}
}
