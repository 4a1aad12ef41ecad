package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("record not found")
)

// ----------------------------------------
// Subscriber Queries
// ----------------------------------------

// UpsertSubscriber creates or updates a subscriber, reactivating it if it
// was previously soft-deleted.
func (d *Database) UpsertSubscriber(ctx context.Context, s Subscriber) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO subscribers (
			telegram_id, username, api_key_encrypted, api_secret_encrypted,
			trade_amount_usdt, max_leverage, trade_mode, is_active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(telegram_id) DO UPDATE SET
			username = excluded.username,
			api_key_encrypted = excluded.api_key_encrypted,
			api_secret_encrypted = excluded.api_secret_encrypted,
			trade_amount_usdt = excluded.trade_amount_usdt,
			max_leverage = excluded.max_leverage,
			trade_mode = excluded.trade_mode,
			is_active = 1,
			updated_at = CURRENT_TIMESTAMP
	`, s.TelegramID, s.Username, s.APIKeyEncrypted, s.APISecretEncrypted,
		s.TradeAmountUSDT, s.MaxLeverage, s.TradeMode)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	return nil
}

// GetSubscriber returns a subscriber by telegram ID or nil if not found.
func (d *Database) GetSubscriber(ctx context.Context, telegramID int64) (*Subscriber, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT telegram_id, username, api_key_encrypted, api_secret_encrypted,
		       trade_amount_usdt, max_leverage, trade_mode, is_active,
		       total_trades, total_pnl, created_at, updated_at
		FROM subscribers WHERE telegram_id = ?
	`, telegramID)
	var s Subscriber
	if err := row.Scan(&s.TelegramID, &s.Username, &s.APIKeyEncrypted, &s.APISecretEncrypted,
		&s.TradeAmountUSDT, &s.MaxLeverage, &s.TradeMode, &s.IsActive,
		&s.TotalTrades, &s.TotalPnL, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &s, nil
}

// GetActiveSubscribers returns every subscriber eligible for a broadcast.
func (d *Database) GetActiveSubscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT telegram_id, username, api_key_encrypted, api_secret_encrypted,
		       trade_amount_usdt, max_leverage, trade_mode, is_active,
		       total_trades, total_pnl, created_at, updated_at
		FROM subscribers WHERE is_active = 1
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var res []Subscriber
	for rows.Next() {
		var s Subscriber
		if err := rows.Scan(&s.TelegramID, &s.Username, &s.APIKeyEncrypted, &s.APISecretEncrypted,
			&s.TradeAmountUSDT, &s.MaxLeverage, &s.TradeMode, &s.IsActive,
			&s.TotalTrades, &s.TotalPnL, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateTradeAmount sets the per-trade margin for a subscriber.
func (d *Database) UpdateTradeAmount(ctx context.Context, telegramID int64, amount float64) error {
	return d.updateSubscriberField(ctx, telegramID, "trade_amount_usdt", amount)
}

// UpdateMaxLeverage sets the subscriber's leverage cap.
func (d *Database) UpdateMaxLeverage(ctx context.Context, telegramID int64, leverage int) error {
	return d.updateSubscriberField(ctx, telegramID, "max_leverage", leverage)
}

// UpdateTradeMode switches a subscriber between auto and manual execution.
func (d *Database) UpdateTradeMode(ctx context.Context, telegramID int64, mode string) error {
	return d.updateSubscriberField(ctx, telegramID, "trade_mode", mode)
}

func (d *Database) updateSubscriberField(ctx context.Context, telegramID int64, column string, value any) error {
	res, err := d.DB.ExecContext(ctx,
		fmt.Sprintf("UPDATE subscribers SET %s = ?, updated_at = CURRENT_TIMESTAMP WHERE telegram_id = ?", column),
		value, telegramID)
	if err != nil {
		return fmt.Errorf("update subscriber %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateSubscriber soft-deletes a subscriber. Rows are never removed so
// trade history stays attributable.
func (d *Database) DeactivateSubscriber(ctx context.Context, telegramID int64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE subscribers
		SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE telegram_id = ?
	`, telegramID)
	return err
}

// GetSubscriberStats returns subscriber base counts broken down by mode.
func (d *Database) GetSubscriberStats(ctx context.Context) (*SubscriberStats, error) {
	var st SubscriberStats
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(is_active), 0),
		       COALESCE(SUM(CASE WHEN is_active = 1 AND trade_mode = 'auto' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_active = 1 AND trade_mode = 'manual' THEN 1 ELSE 0 END), 0)
		FROM subscribers
	`).Scan(&st.Total, &st.Active, &st.Auto, &st.Manual)
	if err != nil {
		return nil, fmt.Errorf("subscriber stats: %w", err)
	}
	return &st, nil
}

// ----------------------------------------
// Trade History
// ----------------------------------------

// RecordTrade appends one execution attempt and bumps the subscriber's
// trade counter on success.
func (d *Database) RecordTrade(ctx context.Context, t TradeRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trade_history (
			signal_id, telegram_id, symbol, side, order_type, status,
			quantity, entry_price, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.SignalID, t.TelegramID, t.Symbol, t.Side, t.OrderType, t.Status,
		t.Quantity, t.EntryPrice, t.ErrorMessage)
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}

	if t.Status == "SUCCESS" || t.Status == "SUCCESS_REDUCED" {
		_, err = d.DB.ExecContext(ctx, `
			UPDATE subscribers SET total_trades = total_trades + 1
			WHERE telegram_id = ?
		`, t.TelegramID)
	}
	return err
}

// GetTradeHistory returns the most recent attempts for a subscriber.
func (d *Database) GetTradeHistory(ctx context.Context, telegramID int64, limit int) ([]TradeRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, signal_id, telegram_id, symbol, side, order_type, status,
		       quantity, entry_price, error_message, created_at
		FROM trade_history
		WHERE telegram_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade history: %w", err)
	}
	defer rows.Close()

	var res []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.SignalID, &t.TelegramID, &t.Symbol, &t.Side, &t.OrderType,
			&t.Status, &t.Quantity, &t.EntryPrice, &t.ErrorMessage, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ----------------------------------------
// Signal Queries
// ----------------------------------------

// SaveSignal stores a signal. Saving the same signal ID twice is a no-op,
// which makes redelivery of the same message harmless.
func (d *Database) SaveSignal(ctx context.Context, s Signal) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals (
			signal_id, symbol, signal_type, order_type,
			entry_price, stop_loss, take_profit, leverage, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.SignalID, s.Symbol, s.SignalType, s.OrderType,
		s.EntryPrice, s.StopLoss, s.TakeProfit, s.Leverage, s.Status)
	if err != nil {
		return fmt.Errorf("save signal: %w", err)
	}
	return nil
}

const signalColumns = `signal_id, symbol, signal_type, order_type,
	entry_price, stop_loss, take_profit, leverage, status, created_at, updated_at`

func scanSignal(row interface{ Scan(...any) error }) (*Signal, error) {
	var (
		s          Signal
		entry, sl  sql.NullFloat64
		takeProfit sql.NullFloat64
	)
	if err := row.Scan(&s.SignalID, &s.Symbol, &s.SignalType, &s.OrderType,
		&entry, &sl, &takeProfit, &s.Leverage, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if entry.Valid {
		s.EntryPrice = &entry.Float64
	}
	if sl.Valid {
		s.StopLoss = &sl.Float64
	}
	if takeProfit.Valid {
		s.TakeProfit = &takeProfit.Float64
	}
	return &s, nil
}

// GetSignal returns a signal by ID or nil if not found.
func (d *Database) GetSignal(ctx context.Context, signalID string) (*Signal, error) {
	row := d.DB.QueryRowContext(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE signal_id = ?`, signalID)
	s, err := scanSignal(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return s, nil
}

// GetActiveSignals returns all signals not yet closed, newest first.
func (d *Database) GetActiveSignals(ctx context.Context) ([]Signal, error) {
	return d.querySignals(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE status = 'ACTIVE' ORDER BY created_at DESC`)
}

// GetAllSignals returns the most recent signals regardless of status.
func (d *Database) GetAllSignals(ctx context.Context, limit int) ([]Signal, error) {
	return d.querySignals(ctx,
		`SELECT `+signalColumns+` FROM signals ORDER BY created_at DESC LIMIT ?`, limit)
}

func (d *Database) querySignals(ctx context.Context, query string, args ...any) ([]Signal, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var res []Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		res = append(res, *s)
	}
	return res, rows.Err()
}

// UpdateSignalStatus sets the lifecycle status of a signal.
func (d *Database) UpdateSignalStatus(ctx context.Context, signalID, status string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE signals SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE signal_id = ?
	`, status, signalID)
	if err != nil {
		return fmt.Errorf("update signal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSignalSLTP updates stop loss and/or take profit on an active signal.
// A nil pointer leaves the stored value untouched.
func (d *Database) UpdateSignalSLTP(ctx context.Context, signalID string, stopLoss, takeProfit *float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE signals
		SET stop_loss = COALESCE(?, stop_loss),
		    take_profit = COALESCE(?, take_profit),
		    updated_at = CURRENT_TIMESTAMP
		WHERE signal_id = ? AND status = 'ACTIVE'
	`, stopLoss, takeProfit, signalID)
	if err != nil {
		return fmt.Errorf("update signal sl/tp: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSignalLeverage updates the stated leverage on an active signal.
func (d *Database) UpdateSignalLeverage(ctx context.Context, signalID string, leverage int) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE signals SET leverage = ?, updated_at = CURRENT_TIMESTAMP
		WHERE signal_id = ? AND status = 'ACTIVE'
	`, leverage, signalID)
	if err != nil {
		return fmt.Errorf("update signal leverage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------------------------------
// SDK Clients & Delivery Tracking
// ----------------------------------------

// RegisterClient creates or reactivates an SDK client and refreshes its
// heartbeat.
func (d *Database) RegisterClient(ctx context.Context, clientID string, telegramID int64) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO sdk_clients (client_id, telegram_id, connected_at, last_heartbeat, active)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, 1)
		ON CONFLICT(client_id) DO UPDATE SET
			telegram_id = excluded.telegram_id,
			connected_at = CURRENT_TIMESTAMP,
			last_heartbeat = CURRENT_TIMESTAMP,
			active = 1
	`, clientID, telegramID)
	if err != nil {
		return fmt.Errorf("register client: %w", err)
	}
	return nil
}

// UpdateClientHeartbeat refreshes the heartbeat timestamp for a client.
func (d *Database) UpdateClientHeartbeat(ctx context.Context, clientID string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE sdk_clients SET last_heartbeat = CURRENT_TIMESTAMP, active = 1
		WHERE client_id = ?
	`, clientID)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetClient returns an SDK client by ID or nil if not found.
func (d *Database) GetClient(ctx context.Context, clientID string) (*SDKClient, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT client_id, telegram_id, connected_at, last_heartbeat, active
		FROM sdk_clients WHERE client_id = ?
	`, clientID)
	var c SDKClient
	if err := row.Scan(&c.ClientID, &c.TelegramID, &c.ConnectedAt, &c.LastHeartbeat, &c.Active); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}

// GetActiveClients returns all currently active SDK clients.
func (d *Database) GetActiveClients(ctx context.Context) ([]SDKClient, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT client_id, telegram_id, connected_at, last_heartbeat, active
		FROM sdk_clients WHERE active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var res []SDKClient
	for rows.Next() {
		var c SDKClient
		if err := rows.Scan(&c.ClientID, &c.TelegramID, &c.ConnectedAt, &c.LastHeartbeat, &c.Active); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// DeactivateClient marks an SDK client as disconnected.
func (d *Database) DeactivateClient(ctx context.Context, clientID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE sdk_clients SET active = 0 WHERE client_id = ?
	`, clientID)
	return err
}

// RecordDelivery records that a signal was pushed to a client.
func (d *Database) RecordDelivery(ctx context.Context, signalID, clientID string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signal_delivery (signal_id, client_id) VALUES (?, ?)
	`, signalID, clientID)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// AcknowledgeDelivery marks a client's delivery of a signal as acknowledged.
func (d *Database) AcknowledgeDelivery(ctx context.Context, signalID, clientID string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE signal_delivery SET acknowledged = 1
		WHERE signal_id = ? AND client_id = ?
	`, signalID, clientID)
	if err != nil {
		return fmt.Errorf("acknowledge delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClientsWhoReceived returns the client IDs a signal was delivered to.
func (d *Database) ClientsWhoReceived(ctx context.Context, signalID string) ([]string, error) {
	return d.queryClientIDs(ctx, `
		SELECT DISTINCT client_id FROM signal_delivery WHERE signal_id = ?
	`, signalID)
}

// ClientsWhoAcknowledged returns the client IDs that acknowledged a signal.
func (d *Database) ClientsWhoAcknowledged(ctx context.Context, signalID string) ([]string, error) {
	return d.queryClientIDs(ctx, `
		SELECT DISTINCT client_id FROM signal_delivery
		WHERE signal_id = ? AND acknowledged = 1
	`, signalID)
}

func (d *Database) queryClientIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query client ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SignalDeliveryStats summarizes delivery bookkeeping for one signal.
func (d *Database) SignalDeliveryStats(ctx context.Context, signalID string) (*DeliveryStats, error) {
	st := DeliveryStats{SignalID: signalID}
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT client_id),
		       COUNT(DISTINCT CASE WHEN acknowledged = 1 THEN client_id END)
		FROM signal_delivery WHERE signal_id = ?
	`, signalID).Scan(&st.Delivered, &st.Acknowledged)
	if err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	return &st, nil
}

// GetStats returns the service-wide aggregate counts.
func (d *Database) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := d.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM signals),
			(SELECT COUNT(*) FROM signals WHERE status = 'ACTIVE'),
			(SELECT COUNT(*) FROM sdk_clients),
			(SELECT COUNT(*) FROM sdk_clients WHERE active = 1),
			(SELECT COUNT(*) FROM signal_delivery WHERE delivered_at > datetime('now', '-1 day')),
			(SELECT COUNT(*) FROM subscribers),
			(SELECT COUNT(*) FROM subscribers WHERE is_active = 1)
	`).Scan(&st.TotalSignals, &st.ActiveSignals, &st.TotalClients, &st.ActiveClients,
		&st.Deliveries24h, &st.TotalSubs, &st.ActiveSubs)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &st, nil
}
