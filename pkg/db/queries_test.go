package db

import (
	"context"
	"testing"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestSubscriberLifecycle(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	sub := Subscriber{
		TelegramID:         1001,
		Username:           "alice",
		APIKeyEncrypted:    "ENC[v1]:key",
		APISecretEncrypted: "ENC[v1]:secret",
		TradeAmountUSDT:    50,
		MaxLeverage:        10,
		TradeMode:          "auto",
	}
	if err := database.UpsertSubscriber(ctx, sub); err != nil {
		t.Fatalf("Failed to upsert subscriber: %v", err)
	}

	t.Run("get returns stored subscriber", func(t *testing.T) {
		got, err := database.GetSubscriber(ctx, 1001)
		if err != nil {
			t.Fatalf("GetSubscriber: %v", err)
		}
		if got == nil {
			t.Fatal("expected subscriber, got nil")
		}
		if got.Username != "alice" || got.TradeAmountUSDT != 50 || !got.IsActive {
			t.Errorf("unexpected subscriber: %+v", got)
		}
	})

	t.Run("get missing returns nil without error", func(t *testing.T) {
		got, err := database.GetSubscriber(ctx, 9999)
		if err != nil {
			t.Fatalf("GetSubscriber: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})

	t.Run("field updates", func(t *testing.T) {
		if err := database.UpdateTradeAmount(ctx, 1001, 120); err != nil {
			t.Fatalf("UpdateTradeAmount: %v", err)
		}
		if err := database.UpdateMaxLeverage(ctx, 1001, 20); err != nil {
			t.Fatalf("UpdateMaxLeverage: %v", err)
		}
		if err := database.UpdateTradeMode(ctx, 1001, "manual"); err != nil {
			t.Fatalf("UpdateTradeMode: %v", err)
		}
		got, _ := database.GetSubscriber(ctx, 1001)
		if got.TradeAmountUSDT != 120 || got.MaxLeverage != 20 || got.TradeMode != "manual" {
			t.Errorf("updates not applied: %+v", got)
		}
	})

	t.Run("update on missing subscriber returns ErrNotFound", func(t *testing.T) {
		if err := database.UpdateTradeAmount(ctx, 9999, 10); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("deactivate hides from active set, upsert revives", func(t *testing.T) {
		if err := database.DeactivateSubscriber(ctx, 1001); err != nil {
			t.Fatalf("DeactivateSubscriber: %v", err)
		}
		active, err := database.GetActiveSubscribers(ctx)
		if err != nil {
			t.Fatalf("GetActiveSubscribers: %v", err)
		}
		if len(active) != 0 {
			t.Errorf("expected 0 active subscribers, got %d", len(active))
		}

		if err := database.UpsertSubscriber(ctx, sub); err != nil {
			t.Fatalf("UpsertSubscriber: %v", err)
		}
		active, _ = database.GetActiveSubscribers(ctx)
		if len(active) != 1 {
			t.Errorf("expected 1 active subscriber after re-register, got %d", len(active))
		}
	})
}

func TestSignalQueries(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	entry := 45000.0
	sig := Signal{
		SignalID:   "SIG-150126-BTCUSDT-A1B2C3",
		Symbol:     "BTCUSDT",
		SignalType: "LONG",
		OrderType:  "LIMIT",
		EntryPrice: &entry,
		Leverage:   10,
		Status:     "ACTIVE",
	}
	if err := database.SaveSignal(ctx, sig); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}

	t.Run("save is idempotent by ID", func(t *testing.T) {
		dup := sig
		dup.Leverage = 99
		if err := database.SaveSignal(ctx, dup); err != nil {
			t.Fatalf("duplicate SaveSignal: %v", err)
		}
		got, _ := database.GetSignal(ctx, sig.SignalID)
		if got.Leverage != 10 {
			t.Errorf("duplicate save mutated row: leverage = %d", got.Leverage)
		}
	})

	t.Run("nullable prices round-trip", func(t *testing.T) {
		got, err := database.GetSignal(ctx, sig.SignalID)
		if err != nil {
			t.Fatalf("GetSignal: %v", err)
		}
		if got.EntryPrice == nil || *got.EntryPrice != 45000 {
			t.Errorf("entry price lost: %+v", got.EntryPrice)
		}
		if got.StopLoss != nil || got.TakeProfit != nil {
			t.Errorf("expected nil SL/TP, got %+v / %+v", got.StopLoss, got.TakeProfit)
		}
	})

	t.Run("sltp update keeps unset side", func(t *testing.T) {
		sl := 44000.0
		if err := database.UpdateSignalSLTP(ctx, sig.SignalID, &sl, nil); err != nil {
			t.Fatalf("UpdateSignalSLTP: %v", err)
		}
		got, _ := database.GetSignal(ctx, sig.SignalID)
		if got.StopLoss == nil || *got.StopLoss != 44000 {
			t.Errorf("stop loss not stored: %+v", got.StopLoss)
		}
		if got.TakeProfit != nil {
			t.Errorf("take profit should remain nil, got %v", *got.TakeProfit)
		}
	})

	t.Run("status transition removes from active set", func(t *testing.T) {
		active, _ := database.GetActiveSignals(ctx)
		if len(active) != 1 {
			t.Fatalf("expected 1 active signal, got %d", len(active))
		}
		if err := database.UpdateSignalStatus(ctx, sig.SignalID, "CLOSED"); err != nil {
			t.Fatalf("UpdateSignalStatus: %v", err)
		}
		active, _ = database.GetActiveSignals(ctx)
		if len(active) != 0 {
			t.Errorf("expected 0 active signals, got %d", len(active))
		}
		all, _ := database.GetAllSignals(ctx, 10)
		if len(all) != 1 {
			t.Errorf("expected 1 signal total, got %d", len(all))
		}
	})

	t.Run("closed signal rejects sltp and leverage edits", func(t *testing.T) {
		sl := 1.0
		if err := database.UpdateSignalSLTP(ctx, sig.SignalID, &sl, nil); err != ErrNotFound {
			t.Errorf("expected ErrNotFound editing closed signal, got %v", err)
		}
		if err := database.UpdateSignalLeverage(ctx, sig.SignalID, 5); err != ErrNotFound {
			t.Errorf("expected ErrNotFound on leverage edit, got %v", err)
		}
	})
}

func TestTradeHistoryBumpsCounter(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if err := database.UpsertSubscriber(ctx, Subscriber{TelegramID: 2002, TradeMode: "auto"}); err != nil {
		t.Fatalf("UpsertSubscriber: %v", err)
	}

	records := []TradeRecord{
		{SignalID: "SIG-1", TelegramID: 2002, Symbol: "BTCUSDT", Side: "LONG", OrderType: "MARKET", Status: "SUCCESS", Quantity: 0.01},
		{SignalID: "SIG-2", TelegramID: 2002, Symbol: "BTCUSDT", Side: "LONG", OrderType: "MARKET", Status: "INSUFFICIENT_BALANCE"},
		{SignalID: "SIG-3", TelegramID: 2002, Symbol: "ETHUSDT", Side: "SHORT", OrderType: "LIMIT", Status: "SUCCESS_REDUCED", Quantity: 0.5},
	}
	for _, r := range records {
		if err := database.RecordTrade(ctx, r); err != nil {
			t.Fatalf("RecordTrade: %v", err)
		}
	}

	sub, _ := database.GetSubscriber(ctx, 2002)
	if sub.TotalTrades != 2 {
		t.Errorf("expected total_trades = 2 (successes only), got %d", sub.TotalTrades)
	}

	hist, err := database.GetTradeHistory(ctx, 2002, 10)
	if err != nil {
		t.Fatalf("GetTradeHistory: %v", err)
	}
	if len(hist) != 3 {
		t.Errorf("expected 3 history rows, got %d", len(hist))
	}
}

func TestDeliveryTracking(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if err := database.RegisterClient(ctx, "client-a", 1); err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	if err := database.RegisterClient(ctx, "client-b", 2); err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}

	const sigID = "SIG-150126-SOLUSDT-XYZ123"
	if err := database.RecordDelivery(ctx, sigID, "client-a"); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	if err := database.RecordDelivery(ctx, sigID, "client-b"); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	if err := database.AcknowledgeDelivery(ctx, sigID, "client-a"); err != nil {
		t.Fatalf("AcknowledgeDelivery: %v", err)
	}

	t.Run("received and acknowledged sets", func(t *testing.T) {
		received, err := database.ClientsWhoReceived(ctx, sigID)
		if err != nil {
			t.Fatalf("ClientsWhoReceived: %v", err)
		}
		if len(received) != 2 {
			t.Errorf("expected 2 receivers, got %v", received)
		}
		acked, err := database.ClientsWhoAcknowledged(ctx, sigID)
		if err != nil {
			t.Fatalf("ClientsWhoAcknowledged: %v", err)
		}
		if len(acked) != 1 || acked[0] != "client-a" {
			t.Errorf("expected [client-a], got %v", acked)
		}
	})

	t.Run("delivery stats", func(t *testing.T) {
		st, err := database.SignalDeliveryStats(ctx, sigID)
		if err != nil {
			t.Fatalf("SignalDeliveryStats: %v", err)
		}
		if st.Delivered != 2 || st.Acknowledged != 1 {
			t.Errorf("unexpected stats: %+v", st)
		}
	})

	t.Run("ack unknown delivery returns ErrNotFound", func(t *testing.T) {
		if err := database.AcknowledgeDelivery(ctx, sigID, "client-z"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("deactivate removes from active clients", func(t *testing.T) {
		if err := database.DeactivateClient(ctx, "client-b"); err != nil {
			t.Fatalf("DeactivateClient: %v", err)
		}
		active, err := database.GetActiveClients(ctx)
		if err != nil {
			t.Fatalf("GetActiveClients: %v", err)
		}
		if len(active) != 1 || active[0].ClientID != "client-a" {
			t.Errorf("expected only client-a active, got %+v", active)
		}
	})
}

func TestServiceStats(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if err := database.SaveSignal(ctx, Signal{SignalID: "S1", Symbol: "BTCUSDT", SignalType: "LONG", OrderType: "MARKET", Leverage: 1, Status: "ACTIVE"}); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	if err := database.SaveSignal(ctx, Signal{SignalID: "S2", Symbol: "ETHUSDT", SignalType: "SHORT", OrderType: "MARKET", Leverage: 1, Status: "CLOSED"}); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	if err := database.RegisterClient(ctx, "c1", 0); err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	if err := database.RecordDelivery(ctx, "S1", "c1"); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	if err := database.UpsertSubscriber(ctx, Subscriber{TelegramID: 7, TradeMode: "auto"}); err != nil {
		t.Fatalf("UpsertSubscriber: %v", err)
	}
	if err := database.UpsertSubscriber(ctx, Subscriber{TelegramID: 8, TradeMode: "manual"}); err != nil {
		t.Fatalf("UpsertSubscriber: %v", err)
	}
	if err := database.DeactivateSubscriber(ctx, 8); err != nil {
		t.Fatalf("DeactivateSubscriber: %v", err)
	}

	st, err := database.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if st.TotalSignals != 2 || st.ActiveSignals != 1 {
		t.Errorf("signal counts wrong: %+v", st)
	}
	if st.TotalClients != 1 || st.ActiveClients != 1 {
		t.Errorf("client counts wrong: %+v", st)
	}
	if st.Deliveries24h != 1 {
		t.Errorf("expected 1 delivery in last 24h, got %d", st.Deliveries24h)
	}
	if st.TotalSubs != 2 || st.ActiveSubs != 1 {
		t.Errorf("subscriber counts wrong: %+v", st)
	}

	ss, err := database.GetSubscriberStats(ctx)
	if err != nil {
		t.Fatalf("GetSubscriberStats: %v", err)
	}
	if ss.Total != 2 || ss.Active != 1 || ss.Auto != 1 || ss.Manual != 0 {
		t.Errorf("unexpected subscriber stats: %+v", ss)
	}
}
