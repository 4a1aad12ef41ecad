package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMudrexAuthHeaders(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotAuth = r.Header.Get("X-Authentication")
		json.NewEncoder(w).Encode(map[string]any{"available_balance": "123.45"})
	}))
	defer srv.Close()

	client := NewMudrexWithBaseURL("key-1", "secret-1", srv.URL)
	bal, err := client.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal != 123.45 {
		t.Errorf("expected balance 123.45, got %v", bal)
	}
	if gotKey != "key-1" || gotAuth != "secret-1" {
		t.Errorf("auth headers not sent: key=%q auth=%q", gotKey, gotAuth)
	}
}

func TestMudrexBalanceAcceptsNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Some venue endpoints return numbers, some strings.
		w.Write([]byte(`{"available_balance": 50}`))
	}))
	defer srv.Close()

	client := NewMudrexWithBaseURL("k", "s", srv.URL)
	bal, err := client.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal != 50 {
		t.Errorf("expected 50, got %v", bal)
	}
}

func TestMudrexErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewMudrexWithBaseURL("k", "s", srv.URL)
	_, err := client.GetBalance(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", apiErr.StatusCode)
	}
}

func TestNormalizeCloseAck(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		closed    bool
		ambiguous bool
	}{
		{"explicit success true", `{"success": true}`, true, false},
		{"explicit success false", `{"success": false}`, false, false},
		{"status closed", `{"status": "CLOSED"}`, true, false},
		{"status ok lowercase", `{"status": "ok"}`, true, false},
		{"status failed", `{"status": "FAILED"}`, false, false},
		{"empty object", `{}`, false, true},
		{"unknown status", `{"status": "PENDING"}`, false, true},
		{"not json", `done`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closed, ambiguous := normalizeCloseAck([]byte(tt.body))
			if closed != tt.closed || ambiguous != tt.ambiguous {
				t.Errorf("normalizeCloseAck(%s) = (%v, %v), want (%v, %v)",
					tt.body, closed, ambiguous, tt.closed, tt.ambiguous)
			}
		})
	}
}

func TestClosePositionResolvesAmbiguousAck(t *testing.T) {
	t.Run("position gone means closed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/positions" {
				w.Write([]byte(`{"positions": []}`))
				return
			}
			w.Write([]byte(`{}`)) // ambiguous ack
		}))
		defer srv.Close()

		client := NewMudrexWithBaseURL("k", "s", srv.URL)
		closed, err := client.ClosePosition(context.Background(), "pos-1")
		if err != nil {
			t.Fatalf("ClosePosition: %v", err)
		}
		if !closed {
			t.Error("expected closed=true when position no longer listed")
		}
	})

	t.Run("position still open means not closed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/positions" {
				w.Write([]byte(`{"positions": [{"position_id": "pos-1", "symbol": "BTCUSDT", "quantity": "0.5"}]}`))
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		client := NewMudrexWithBaseURL("k", "s", srv.URL)
		closed, err := client.ClosePosition(context.Background(), "pos-1")
		if err != nil {
			t.Fatalf("ClosePosition: %v", err)
		}
		if closed {
			t.Error("expected closed=false when position still listed")
		}
	})

	t.Run("unambiguous ack skips re-query", func(t *testing.T) {
		var positionsCalls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/positions" {
				positionsCalls++
				w.Write([]byte(`{"positions": []}`))
				return
			}
			w.Write([]byte(`{"success": true}`))
		}))
		defer srv.Close()

		client := NewMudrexWithBaseURL("k", "s", srv.URL)
		closed, err := client.ClosePosition(context.Background(), "pos-1")
		if err != nil {
			t.Fatalf("ClosePosition: %v", err)
		}
		if !closed {
			t.Error("expected closed=true from explicit ack")
		}
		if positionsCalls != 0 {
			t.Errorf("expected no position re-query, got %d", positionsCalls)
		}
	})
}

func TestCreateOrderPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{"order_id": "ord-1", "status": "NEW"})
	}))
	defer srv.Close()

	client := NewMudrexWithBaseURL("k", "s", srv.URL)
	res, err := client.CreateOrder(context.Background(), OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     OrderTypeLimit,
		Quantity: 0.011,
		Price:    45000,
		StopLoss: 44000,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if res.OrderID != "ord-1" {
		t.Errorf("expected order ID ord-1, got %q", res.OrderID)
	}
	if got["price"] != 45000.0 {
		t.Errorf("limit price not sent: %v", got["price"])
	}
	if got["stop_loss"] != 44000.0 {
		t.Errorf("stop loss not sent: %v", got["stop_loss"])
	}
	if _, ok := got["take_profit"]; ok {
		t.Error("unset take profit should be omitted")
	}
}

func TestCreateOrderMissingIDIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewMudrexWithBaseURL("k", "s", srv.URL)
	if _, err := client.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeMarket, Quantity: 1,
	}); err == nil {
		t.Fatal("expected error when ack has no order_id")
	}
}
