package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DecentralizedJM/TIA-Service-Broadcaster/internal/events"
	"github.com/DecentralizedJM/TIA-Service-Broadcaster/pkg/db"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	testAPISecret = "unit-test-api-secret"
	testJWTSecret = "unit-test-jwt-secret"
)

func newTestServer(t *testing.T) (*Server, *db.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	bus := events.NewBus()
	s := NewServer(bus, database, testAPISecret, testJWTSecret, ServiceMeta{
		Name:    "tia-service-broadcaster",
		Version: "test",
	})
	return s, database
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func authed(extra map[string]string) map[string]string {
	h := map[string]string{"X-API-Secret": testAPISecret}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }

func seedSignal(t *testing.T, database *db.Database, id, status string) {
	t.Helper()
	sig := db.Signal{
		SignalID:   id,
		Symbol:     "BTCUSDT",
		SignalType: "LONG",
		OrderType:  "MARKET",
		EntryPrice: floatPtr(45000),
		StopLoss:   floatPtr(44000),
		Leverage:   10,
		Status:     "ACTIVE",
	}
	if err := database.SaveSignal(context.Background(), sig); err != nil {
		t.Fatalf("save signal: %v", err)
	}
	if status != "ACTIVE" {
		if err := database.UpdateSignalStatus(context.Background(), id, status); err != nil {
			t.Fatalf("update status: %v", err)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decodeBody(t, w)["status"]; got != "healthy" {
		t.Fatalf("expected healthy, got %v", got)
	}
}

func TestSDKAuth(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("missing credentials", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/signals", nil, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/signals", nil, map[string]string{"X-API-Secret": "nope"})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("shared secret", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/signals", nil, authed(nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})

	t.Run("bearer token", func(t *testing.T) {
		reg := doJSON(t, s, http.MethodPost, "/api/sdk/register",
			map[string]any{"client_id": "cli-auth", "telegram_id": 42}, authed(nil))
		if reg.Code != http.StatusOK {
			t.Fatalf("register failed: %d %s", reg.Code, reg.Body.String())
		}
		token, _ := decodeBody(t, reg)["token"].(string)
		if token == "" {
			t.Fatal("expected a token in the register response")
		}

		w := doJSON(t, s, http.MethodGet, "/api/signals", nil,
			map[string]string{"Authorization": "Bearer " + token})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 with bearer token, got %d", w.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/signals", nil,
			map[string]string{"Authorization": "Bearer not.a.token"})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})
}

func TestRegisterAndHeartbeat(t *testing.T) {
	s, database := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/sdk/register",
		map[string]any{"client_id": "cli-1", "telegram_id": 7}, authed(nil))
	if w.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "registered" || body["client_id"] != "cli-1" {
		t.Fatalf("unexpected register response: %v", body)
	}

	client, err := database.GetClient(context.Background(), "cli-1")
	if err != nil || client == nil {
		t.Fatalf("client not persisted: %v", err)
	}
	if client.TelegramID != 7 {
		t.Fatalf("expected telegram_id 7, got %d", client.TelegramID)
	}

	t.Run("heartbeat known client", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/sdk/heartbeat",
			map[string]any{"client_id": "cli-1"}, authed(nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})

	t.Run("heartbeat unknown client", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/sdk/heartbeat",
			map[string]any{"client_id": "ghost"}, authed(nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("missing client_id", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/sdk/register", map[string]any{}, authed(nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestSignalEndpoints(t *testing.T) {
	s, database := newTestServer(t)
	seedSignal(t, database, "sig-active", "ACTIVE")
	seedSignal(t, database, "sig-closed", "CLOSED")

	t.Run("active only by default", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/signals", nil, authed(nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		body := decodeBody(t, w)
		if body["count"] != float64(1) {
			t.Fatalf("expected 1 active signal, got %v", body["count"])
		}
	})

	t.Run("history includes closed", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/signals?active_only=false&limit=10", nil, authed(nil))
		body := decodeBody(t, w)
		if body["count"] != float64(2) {
			t.Fatalf("expected 2 signals, got %v", body["count"])
		}
	})

	t.Run("single signal", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/signals/sig-active", nil, authed(nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		body := decodeBody(t, w)
		if body["symbol"] != "BTCUSDT" || body["entry_price"] != float64(45000) {
			t.Fatalf("unexpected signal body: %v", body)
		}
		if body["take_profit"] != nil {
			t.Fatalf("expected null take_profit, got %v", body["take_profit"])
		}
	})

	t.Run("unknown signal", func(t *testing.T) {
		w := doJSON(t, s, http.MethodGet, "/api/signals/nope", nil, authed(nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})
}

func TestAcknowledgeDelivery(t *testing.T) {
	s, database := newTestServer(t)
	ctx := context.Background()
	seedSignal(t, database, "sig-1", "ACTIVE")
	if err := database.RegisterClient(ctx, "cli-1", 0); err != nil {
		t.Fatalf("register client: %v", err)
	}
	if err := database.RecordDelivery(ctx, "sig-1", "cli-1"); err != nil {
		t.Fatalf("record delivery: %v", err)
	}

	w := doJSON(t, s, http.MethodPost, "/api/signals/sig-1/ack",
		map[string]any{"client_id": "cli-1"}, authed(nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}

	acked, err := database.ClientsWhoAcknowledged(ctx, "sig-1")
	if err != nil {
		t.Fatalf("query acked: %v", err)
	}
	if len(acked) != 1 || acked[0] != "cli-1" {
		t.Fatalf("expected cli-1 acked, got %v", acked)
	}

	t.Run("ack without delivery", func(t *testing.T) {
		w := doJSON(t, s, http.MethodPost, "/api/signals/sig-1/ack",
			map[string]any{"client_id": "cli-other"}, authed(nil))
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", w.Code)
		}
	})

	t.Run("token bound to its own client", func(t *testing.T) {
		if err := database.RegisterClient(ctx, "cli-2", 0); err != nil {
			t.Fatalf("register client: %v", err)
		}
		if err := database.RecordDelivery(ctx, "sig-1", "cli-2"); err != nil {
			t.Fatalf("record delivery: %v", err)
		}
		token, err := generateToken(testJWTSecret, "cli-2", 0)
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		bearer := map[string]string{"Authorization": "Bearer " + token}

		w := doJSON(t, s, http.MethodPost, "/api/signals/sig-1/ack",
			map[string]any{"client_id": "cli-1"}, bearer)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403 acking another client, got %d %s", w.Code, w.Body.String())
		}

		w = doJSON(t, s, http.MethodPost, "/api/signals/sig-1/ack",
			map[string]any{"client_id": "cli-2"}, bearer)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 acking own delivery, got %d %s", w.Code, w.Body.String())
		}
	})
}

func TestRootReportsStats(t *testing.T) {
	s, database := newTestServer(t)
	seedSignal(t, database, "sig-1", "ACTIVE")

	w := doJSON(t, s, http.MethodGet, "/", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["service"] != "tia-service-broadcaster" || body["status"] != "running" {
		t.Fatalf("unexpected root body: %v", body)
	}
	stats, ok := body["stats"].(map[string]any)
	if !ok {
		t.Fatalf("missing stats object: %v", body)
	}
	if stats["total_signals"] != float64(1) {
		t.Fatalf("expected 1 total signal, got %v", stats["total_signals"])
	}
}

func TestWebSocketDelivery(t *testing.T) {
	s, database := newTestServer(t)
	bus := s.Bus
	go s.Hub.Pump(bus)

	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?client_id=cli-ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Implicit registration happens on connect.
	waitFor(t, func() bool {
		c, err := database.GetClient(context.Background(), "cli-ws")
		return err == nil && c != nil && c.Active
	})

	t.Run("ping pong", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
			t.Fatalf("write ping: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read pong: %v", err)
		}
		if string(data) != "pong" {
			t.Fatalf("expected pong, got %q", data)
		}
	})

	t.Run("new signal push", func(t *testing.T) {
		seedSignal(t, database, "sig-ws", "ACTIVE")

		// The pump subscribes asynchronously; retry until it is wired up.
		var msg map[string]any
		deadline := time.Now().Add(3 * time.Second)
		for {
			bus.Publish(events.EventSignalNew, events.SignalNew{
				SignalID:   "sig-ws",
				Symbol:     "BTCUSDT",
				SignalType: "LONG",
				OrderType:  "MARKET",
				Leverage:   10,
			})
			conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			if err := conn.ReadJSON(&msg); err == nil {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("no signal event received")
			}
		}

		if msg["type"] != "NEW_SIGNAL" {
			t.Fatalf("expected NEW_SIGNAL, got %v", msg["type"])
		}
		sig, ok := msg["signal"].(map[string]any)
		if !ok || sig["signal_id"] != "sig-ws" {
			t.Fatalf("unexpected signal payload: %v", msg)
		}

		waitFor(t, func() bool {
			got, err := database.ClientsWhoReceived(context.Background(), "sig-ws")
			return err == nil && len(got) >= 1
		})
	})

	t.Run("disconnect deactivates client", func(t *testing.T) {
		conn.Close()
		waitFor(t, func() bool {
			c, err := database.GetClient(context.Background(), "cli-ws")
			return err == nil && c != nil && !c.Active
		})
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
