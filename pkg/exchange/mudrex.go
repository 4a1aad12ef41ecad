package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://trade.mudrex.com/fapi/v1"

// maxErrorBody caps how much of a failure response is carried in errors.
const maxErrorBody = 200

// Mudrex is a REST client for the Mudrex futures API, scoped to one
// set of credentials.
type Mudrex struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	httpClient *http.Client
	perSecond  *rate.Limiter
	perMinute  *rate.Limiter
}

// NewMudrex creates a client for one subscriber's credentials.
func NewMudrex(apiKey, apiSecret string) *Mudrex {
	return NewMudrexWithBaseURL(apiKey, apiSecret, defaultBaseURL)
}

// NewMudrexWithBaseURL allows pointing the client at a test server.
func NewMudrexWithBaseURL(apiKey, apiSecret, baseURL string) *Mudrex {
	return &Mudrex{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// Venue limits: 2 requests/second, 50 requests/minute per key.
		perSecond: rate.NewLimiter(2, 2),
		perMinute: rate.NewLimiter(rate.Every(time.Minute/50), 5),
	}
}

// MudrexFactory builds per-subscriber Mudrex clients for the engine.
func MudrexFactory(apiKey, apiSecret string) Client {
	return NewMudrex(apiKey, apiSecret)
}

// GetBalance returns the available USDT balance.
func (m *Mudrex) GetBalance(ctx context.Context) (float64, error) {
	body, err := m.do(ctx, http.MethodGet, "/wallet", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		AvailableBalance json.Number `json:"available_balance"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode wallet: %w", err)
	}
	bal, err := out.AvailableBalance.Float64()
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", out.AvailableBalance, err)
	}
	return bal, nil
}

// GetAsset returns price and increment data for a symbol.
func (m *Mudrex) GetAsset(ctx context.Context, symbol string) (*Asset, error) {
	body, err := m.do(ctx, http.MethodGet, "/assets/"+symbol+"?is_symbol", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Symbol       string      `json:"symbol"`
		Price        json.Number `json:"price"`
		PriceStep    json.Number `json:"price_step"`
		QuantityStep json.Number `json:"quantity_step"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode asset: %w", err)
	}
	a := &Asset{Symbol: out.Symbol}
	if a.Symbol == "" {
		a.Symbol = symbol
	}
	a.Price, _ = out.Price.Float64()
	a.PriceStep, _ = out.PriceStep.Float64()
	a.QuantityStep, _ = out.QuantityStep.Float64()
	return a, nil
}

// SetLeverage sets leverage for a symbol.
func (m *Mudrex) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	payload := map[string]any{"symbol": symbol, "leverage": leverage}
	_, err := m.do(ctx, http.MethodPatch, "/leverage?is_symbol", payload)
	return err
}

// ListOpenPositions returns all open positions for the account.
func (m *Mudrex) ListOpenPositions(ctx context.Context) ([]Position, error) {
	body, err := m.do(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Positions []struct {
			PositionID string      `json:"position_id"`
			Symbol     string      `json:"symbol"`
			Quantity   json.Number `json:"quantity"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	positions := make([]Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		qty, _ := p.Quantity.Float64()
		positions = append(positions, Position{
			PositionID: p.PositionID,
			Symbol:     p.Symbol,
			Quantity:   qty,
		})
	}
	return positions, nil
}

// CreateOrder places an order and returns the venue ack.
func (m *Mudrex) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	payload := map[string]any{
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"type":     string(req.Type),
		"quantity": req.Quantity,
	}
	if req.Type == OrderTypeLimit && req.Price > 0 {
		payload["price"] = req.Price
	}
	if req.StopLoss > 0 {
		payload["stop_loss"] = req.StopLoss
	}
	if req.TakeProfit > 0 {
		payload["take_profit"] = req.TakeProfit
	}

	body, err := m.do(ctx, http.MethodPost, "/orders?is_symbol", payload)
	if err != nil {
		return nil, err
	}
	var out struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if out.OrderID == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "order ack missing order_id"}
	}
	return &OrderResult{OrderID: out.OrderID, Status: out.Status}, nil
}

// ClosePosition closes a position entirely. The venue's close ack is not
// a reliable success indicator, so ambiguous acks are resolved by
// re-querying open positions.
func (m *Mudrex) ClosePosition(ctx context.Context, positionID string) (bool, error) {
	body, err := m.do(ctx, http.MethodPost, "/positions/"+positionID+"/close", nil)
	if err != nil {
		return false, err
	}
	return m.resolveCloseAck(ctx, positionID, body)
}

// ClosePartial closes part of a position.
func (m *Mudrex) ClosePartial(ctx context.Context, positionID string, quantity float64) (bool, error) {
	payload := map[string]any{"quantity": quantity}
	body, err := m.do(ctx, http.MethodPost, "/positions/"+positionID+"/close", payload)
	if err != nil {
		return false, err
	}
	closed, ambiguous := normalizeCloseAck(body)
	if !ambiguous {
		return closed, nil
	}
	// A partial close leaves the position open, so the position list
	// cannot confirm it. Treat an ambiguous 2xx ack as accepted.
	return true, nil
}

// SetRiskOrder updates stop loss and/or take profit on a position.
// A nil pointer leaves that side unchanged.
func (m *Mudrex) SetRiskOrder(ctx context.Context, positionID string, stopLoss, takeProfit *float64) error {
	payload := map[string]any{}
	if stopLoss != nil {
		payload["stop_loss"] = *stopLoss
	}
	if takeProfit != nil {
		payload["take_profit"] = *takeProfit
	}
	_, err := m.do(ctx, http.MethodPatch, "/positions/"+positionID+"/risk", payload)
	return err
}

// resolveCloseAck interprets the venue's close response, falling back to
// an authoritative position re-query when the ack says nothing useful.
func (m *Mudrex) resolveCloseAck(ctx context.Context, positionID string, body []byte) (bool, error) {
	closed, ambiguous := normalizeCloseAck(body)
	if !ambiguous {
		return closed, nil
	}
	positions, err := m.ListOpenPositions(ctx)
	if err != nil {
		return false, fmt.Errorf("confirm close of %s: %w", positionID, err)
	}
	for _, p := range positions {
		if p.PositionID == positionID {
			return false, nil
		}
	}
	return true, nil
}

// normalizeCloseAck maps the venue's assorted close responses onto a
// boolean. ambiguous is true when the body carries no usable indicator.
func normalizeCloseAck(body []byte) (closed bool, ambiguous bool) {
	var ack struct {
		Success *bool  `json:"success"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return false, true
	}
	if ack.Success != nil {
		return *ack.Success, false
	}
	switch strings.ToUpper(ack.Status) {
	case "CLOSED", "SUCCESS", "OK", "FILLED":
		return true, false
	case "FAILED", "REJECTED", "ERROR":
		return false, false
	default:
		return false, true
	}
}

func (m *Mudrex) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := m.perSecond.Wait(ctx); err != nil {
		return nil, err
	}
	if err := m.perMinute.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", m.apiKey)
	req.Header.Set("X-Authentication", m.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	res, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &APIError{StatusCode: res.StatusCode, Message: msg}
	}
	return body, nil
}
