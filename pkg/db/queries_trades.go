package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// GetTradeByOrder returns the trade recorded for an exchange order, or nil.
// Accepts a Runner so the recorder can check inside its own transaction.
func (d *Database) GetTradeByOrder(ctx context.Context, r Runner, strategyAccountID, exchangeOrderID string) (*Trade, error) {
	if r == nil {
		r = d.DB
	}
	row := r.QueryRowContext(ctx, `
		SELECT id, strategy_account_id, exchange_order_id, symbol, side,
		       quantity, price, order_price, order_type, is_entry, pnl, fee, executed_at
		FROM trades WHERE strategy_account_id = ? AND exchange_order_id = ?
	`, strategyAccountID, exchangeOrderID)
	t, err := scanTrade(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query trade: %w", err)
	}
	return t, nil
}

// InsertTradeTx writes a trade row inside the fill transaction. The UNIQUE
// constraint on (strategy_account_id, exchange_order_id) is the last line of
// defense against double recording; callers must treat a constraint hit as
// "already recorded", not as a failure.
func (d *Database) InsertTradeTx(ctx context.Context, tx *sql.Tx, t Trade) error {
	var pnl any
	if t.PnL != nil {
		pnl = t.PnL.String()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO trades (
			id, strategy_account_id, exchange_order_id, symbol, side,
			quantity, price, order_price, order_type, is_entry, pnl, fee, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.StrategyAccountID, t.ExchangeOrderID, t.Symbol, t.Side,
		t.Quantity.String(), t.Price.String(), t.OrderPrice.String(), t.OrderType,
		t.IsEntry, pnl, t.Fee.String(), t.ExecutedAt)
	return err
}

// IsUniqueViolation reports whether err is a SQLite unique constraint hit.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpdateTradeQuantityTx raises the cumulative fill on an existing trade.
func (d *Database) UpdateTradeQuantityTx(ctx context.Context, tx *sql.Tx, tradeID string, t Trade) error {
	var pnl any
	if t.PnL != nil {
		pnl = t.PnL.String()
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE trades SET quantity = ?, price = ?, pnl = ?, fee = ?, executed_at = ?
		WHERE id = ?
	`, t.Quantity.String(), t.Price.String(), pnl, t.Fee.String(), t.ExecutedAt, tradeID)
	return err
}

// ListTradesByAccount returns recent trades for one link, newest first.
func (d *Database) ListTradesByAccount(ctx context.Context, strategyAccountID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, strategy_account_id, exchange_order_id, symbol, side,
		       quantity, price, order_price, order_type, is_entry, pnl, fee, executed_at
		FROM trades WHERE strategy_account_id = ?
		ORDER BY executed_at DESC LIMIT ?
	`, strategyAccountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListTradesByUser returns recent trades across every link a user owns.
func (d *Database) ListTradesByUser(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT t.id, t.strategy_account_id, t.exchange_order_id, t.symbol, t.side,
		       t.quantity, t.price, t.order_price, t.order_type, t.is_entry, t.pnl, t.fee, t.executed_at
		FROM trades t
		JOIN strategy_accounts sa ON sa.id = t.strategy_account_id
		JOIN accounts a ON a.id = sa.account_id
		WHERE a.user_id = ?
		ORDER BY t.executed_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades by user: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]Trade, error) {
	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTrade(scan func(...any) error) (*Trade, error) {
	var t Trade
	var qty, price, orderPrice, pnl, fee sql.NullString
	if err := scan(&t.ID, &t.StrategyAccountID, &t.ExchangeOrderID, &t.Symbol, &t.Side,
		&qty, &price, &orderPrice, &t.OrderType, &t.IsEntry, &pnl, &fee, &t.ExecutedAt); err != nil {
		return nil, err
	}
	t.Quantity = scanDec(qty)
	t.Price = scanDec(price)
	t.OrderPrice = scanDec(orderPrice)
	t.PnL = scanDecPtr(pnl)
	t.Fee = scanDec(fee)
	return &t, nil
}

// InsertTradeExecution appends a per-execution row under a trade.
func (d *Database) InsertTradeExecution(ctx context.Context, e TradeExecution) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trade_executions (
			id, trade_id, venue_trade_id, quantity, price, commission, commission_asset, is_maker, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TradeID, e.VenueTradeID, e.Quantity.String(), e.Price.String(),
		e.Commission.String(), e.CommissionAsset, e.IsMaker, e.ExecutedAt)
	return err
}

// InsertWebhookLog appends an audit row for an ingested signal.
func (d *Database) InsertWebhookLog(ctx context.Context, l WebhookLog) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO webhook_logs (
			id, node_id, group_name, payload, status, error,
			validation_ms, preprocessing_ms, total_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.NodeID, l.GroupName, l.Payload, l.Status, l.Error,
		l.ValidationMs, l.PreprocessingMs, l.TotalMs)
	return err
}

// UpsertDailySummary writes a day's rollup for an account.
func (d *Database) UpsertDailySummary(ctx context.Context, s DailyAccountSummary) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO daily_account_summaries (account_id, date, balance, realized_pnl, trade_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, date) DO UPDATE SET
		    balance = excluded.balance,
		    realized_pnl = excluded.realized_pnl,
		    trade_count = excluded.trade_count
	`, s.AccountID, s.Date, s.Balance.String(), s.RealizedPnL.String(), s.TradeCount)
	return err
}

// UpdateDailyTradeStats writes the PnL and trade count for one day, leaving
// any balance snapshot in place. Used by the intraday trade hook; the nightly
// rollup owns the balance column.
func (d *Database) UpdateDailyTradeStats(ctx context.Context, accountID, date string, realizedPnL decimal.Decimal, tradeCount int) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO daily_account_summaries (account_id, date, balance, realized_pnl, trade_count)
		VALUES (?, ?, '0', ?, ?)
		ON CONFLICT(account_id, date) DO UPDATE SET
		    realized_pnl = excluded.realized_pnl,
		    trade_count = excluded.trade_count
	`, accountID, date, realizedPnL.String(), tradeCount)
	return err
}

// ListDailySummaries returns rollups for an account, newest first.
func (d *Database) ListDailySummaries(ctx context.Context, accountID string, limit int) ([]DailyAccountSummary, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT account_id, date, balance, realized_pnl, trade_count, created_at
		FROM daily_account_summaries WHERE account_id = ?
		ORDER BY date DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query daily summaries: %w", err)
	}
	defer rows.Close()

	var out []DailyAccountSummary
	for rows.Next() {
		var s DailyAccountSummary
		var bal, pnl sql.NullString
		if err := rows.Scan(&s.AccountID, &s.Date, &bal, &pnl, &s.TradeCount, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan daily summary: %w", err)
		}
		s.Balance = scanDec(bal)
		s.RealizedPnL = scanDec(pnl)
		out = append(out, s)
	}
	return out, rows.Err()
}

// DailyTradePnLs returns the realized PnL strings for an account over one UTC
// day. Summation happens in the caller with decimal arithmetic; SQL SUM over
// the TEXT column would coerce to float.
func (d *Database) DailyTradePnLs(ctx context.Context, accountID, date string) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT COALESCE(t.pnl, '0')
		FROM trades t
		JOIN strategy_accounts sa ON sa.id = t.strategy_account_id
		WHERE sa.account_id = ? AND DATE(t.executed_at) = ?
	`, accountID, date)
	if err != nil {
		return nil, fmt.Errorf("query daily pnl: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
