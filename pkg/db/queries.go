package db

import (
	"context"
	"fmt"
)

// ----------------------------------------
// Processed message ledger
// ----------------------------------------

// LoadProcessed returns every processed message id grouped by channel.
func (d *Database) LoadProcessed(ctx context.Context) (map[int64][]int64, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT channel_id, message_id FROM processed_messages ORDER BY channel_id, message_id`)
	if err != nil {
		return nil, fmt.Errorf("query processed: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	for rows.Next() {
		var ch, id int64
		if err := rows.Scan(&ch, &id); err != nil {
			return nil, fmt.Errorf("scan processed: %w", err)
		}
		out[ch] = append(out[ch], id)
	}
	return out, rows.Err()
}

// InsertProcessed records a single mark; repeating it is a no-op.
func (d *Database) InsertProcessed(ctx context.Context, channelID, messageID int64) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_messages (channel_id, message_id, processed_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`, channelID, messageID)
	if err != nil {
		return fmt.Errorf("insert processed %d/%d: %w", channelID, messageID, err)
	}
	return nil
}

// DeleteProcessed removes a mark so the scanner may replay the message.
func (d *Database) DeleteProcessed(ctx context.Context, channelID, messageID int64) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM processed_messages WHERE channel_id = ? AND message_id = ?`, channelID, messageID)
	return err
}

// ReplaceProcessed overwrites the whole ledger in one transaction.
func (d *Database) ReplaceProcessed(ctx context.Context, state map[int64][]int64) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM processed_messages`); err != nil {
		return fmt.Errorf("clear processed: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO processed_messages (channel_id, message_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for ch, ids := range state {
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, ch, id); err != nil {
				return fmt.Errorf("insert processed %d/%d: %w", ch, id, err)
			}
		}
	}
	return tx.Commit()
}

// ----------------------------------------
// Audit trail
// ----------------------------------------

// InsertSignal writes a classified message synchronously.
func (d *Database) InsertSignal(ctx context.Context, s SignalRecord) error {
	_, err := d.DB.ExecContext(ctx, InsertSignalSQL, s.InsertArgs()...)
	return err
}

// InsertOutcome writes an execution outcome synchronously.
func (d *Database) InsertOutcome(ctx context.Context, o OutcomeRecord) error {
	_, err := d.DB.ExecContext(ctx, InsertOutcomeSQL, o.InsertArgs()...)
	return err
}

// ListSignals returns the newest signals first.
func (d *Database) ListSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, channel_id, message_id, source, kind, COALESCE(direction, ''), COALESCE(symbol, ''),
			COALESCE(rule, ''), COALESCE(text, ''), created_at
		FROM signals
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var s SignalRecord
		if err := rows.Scan(&s.ID, &s.ChannelID, &s.MessageID, &s.Source, &s.Kind, &s.Direction, &s.Symbol,
			&s.Rule, &s.Text, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListOutcomes returns the newest outcomes first, optionally filtered by account.
func (d *Database) ListOutcomes(ctx context.Context, account string, limit int) ([]OutcomeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(signal_id, ''), account, kind, COALESCE(symbol, ''), COALESCE(direction, ''), success,
			COALESCE(order_id, ''), COALESCE(client_order_id, ''), COALESCE(market_price, ''), COALESCE(size, ''),
			COALESCE(margin, ''), COALESCE(take_profit, ''), COALESCE(stop_loss, ''), closes, COALESCE(error, ''),
			COALESCE(exchange_code, ''), COALESCE(exchange_msg, ''), latency_ms, created_at
		FROM execution_outcomes
		WHERE (? = '' OR account = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`, account, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var o OutcomeRecord
		if err := rows.Scan(&o.ID, &o.SignalID, &o.Account, &o.Kind, &o.Symbol, &o.Direction, &o.Success,
			&o.OrderID, &o.ClientOrderID, &o.MarketPrice, &o.Size, &o.Margin, &o.TakeProfit, &o.StopLoss,
			&o.Closes, &o.Error, &o.ExchangeCode, &o.ExchangeMsg, &o.LatencyMs, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
