package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// UpsertOpenOrder persists an exchange-acknowledged order. Callers must not
// pass terminal statuses; a terminal order belongs in trades, not here.
func (d *Database) UpsertOpenOrder(ctx context.Context, o OpenOrder) error {
	if common.IsTerminal(o.Status) {
		return fmt.Errorf("open order %s has terminal status %s", o.ExchangeOrderID, o.Status)
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO open_orders (
			strategy_account_id, exchange_order_id, symbol, side, order_type,
			quantity, filled_quantity, price, stop_price, status, market_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_account_id, exchange_order_id) DO UPDATE SET
		    filled_quantity = excluded.filled_quantity,
		    status = excluded.status,
		    updated_at = CURRENT_TIMESTAMP
	`, o.StrategyAccountID, o.ExchangeOrderID, o.Symbol, o.Side, o.OrderType,
		o.Quantity.String(), o.FilledQuantity.String(), o.Price.String(), o.StopPrice.String(),
		o.Status, o.MarketType)
	if err != nil {
		return fmt.Errorf("upsert open order: %w", err)
	}
	return nil
}

// DeleteOpenOrder removes an order that reached a terminal state.
func (d *Database) DeleteOpenOrder(ctx context.Context, strategyAccountID, exchangeOrderID string) error {
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM open_orders WHERE strategy_account_id = ? AND exchange_order_id = ?
	`, strategyAccountID, exchangeOrderID)
	return err
}

// DeleteOpenOrderTx is the transactional variant used by the fill path.
func (d *Database) DeleteOpenOrderTx(ctx context.Context, tx *sql.Tx, strategyAccountID, exchangeOrderID string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM open_orders WHERE strategy_account_id = ? AND exchange_order_id = ?
	`, strategyAccountID, exchangeOrderID)
	return err
}

// GetOpenOrder returns one tracked order or nil.
func (d *Database) GetOpenOrder(ctx context.Context, strategyAccountID, exchangeOrderID string) (*OpenOrder, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT strategy_account_id, exchange_order_id, symbol, side, order_type,
		       quantity, filled_quantity, price, stop_price, status, market_type,
		       created_at, updated_at
		FROM open_orders WHERE strategy_account_id = ? AND exchange_order_id = ?
	`, strategyAccountID, exchangeOrderID)
	o, err := scanOpenOrder(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query open order: %w", err)
	}
	return o, nil
}

// OpenOrderFilter narrows ListOpenOrders; zero fields match everything.
type OpenOrderFilter struct {
	StrategyAccountID string
	Symbol            string
	Side              common.Side
	OrderType         common.OrderType
}

// ListOpenOrders returns tracked orders matching the filter.
func (d *Database) ListOpenOrders(ctx context.Context, f OpenOrderFilter) ([]OpenOrder, error) {
	query := `
		SELECT strategy_account_id, exchange_order_id, symbol, side, order_type,
		       quantity, filled_quantity, price, stop_price, status, market_type,
		       created_at, updated_at
		FROM open_orders WHERE 1=1`
	var args []any
	if f.StrategyAccountID != "" {
		query += " AND strategy_account_id = ?"
		args = append(args, f.StrategyAccountID)
	}
	if f.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, f.Symbol)
	}
	if f.Side != "" {
		query += " AND side = ?"
		args = append(args, f.Side)
	}
	if f.OrderType != "" {
		query += " AND order_type = ?"
		args = append(args, f.OrderType)
	}
	query += " ORDER BY created_at"

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer rows.Close()

	var out []OpenOrder
	for rows.Next() {
		o, err := scanOpenOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan open order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOpenOrder(scan func(...any) error) (*OpenOrder, error) {
	var o OpenOrder
	var qty, filled, price, stop sql.NullString
	if err := scan(&o.StrategyAccountID, &o.ExchangeOrderID, &o.Symbol, &o.Side, &o.OrderType,
		&qty, &filled, &price, &stop, &o.Status, &o.MarketType,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Quantity = scanDec(qty)
	o.FilledQuantity = scanDec(filled)
	o.Price = scanDec(price)
	o.StopPrice = scanDec(stop)
	return &o, nil
}

// SlotUsage counts live orders per side split into limit-class and stop-class,
// the numbers capacity admission compares against venue ceilings.
type SlotUsage struct {
	LimitOrders map[common.Side]int
	StopOrders  map[common.Side]int
}

// CountSlotUsage tallies live orders for (link, symbol) by side and class.
func (d *Database) CountSlotUsage(ctx context.Context, strategyAccountID, symbol string) (SlotUsage, error) {
	usage := SlotUsage{
		LimitOrders: make(map[common.Side]int),
		StopOrders:  make(map[common.Side]int),
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT side, order_type, COUNT(*)
		FROM open_orders
		WHERE strategy_account_id = ? AND symbol = ?
		GROUP BY side, order_type
	`, strategyAccountID, symbol)
	if err != nil {
		return usage, fmt.Errorf("query slot usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var side common.Side
		var typ common.OrderType
		var n int
		if err := rows.Scan(&side, &typ, &n); err != nil {
			return usage, err
		}
		if typ.IsStop() {
			usage.StopOrders[side] += n
		} else {
			usage.LimitOrders[side] += n
		}
	}
	return usage, rows.Err()
}

// CountOpenOrdersByAccount returns the total live-order count across all
// symbols on one (link) for per-account ceilings.
func (d *Database) CountOpenOrdersByAccount(ctx context.Context, strategyAccountID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM open_orders WHERE strategy_account_id = ?
	`, strategyAccountID).Scan(&n)
	return n, err
}

// --- pending queue ---

// InsertPendingOrder enqueues an order that could not claim an exchange slot.
// Accepts a Runner so batch admission can stage rows without committing.
func (d *Database) InsertPendingOrder(ctx context.Context, r Runner, p PendingOrder) error {
	if r == nil {
		r = d.DB
	}
	_, err := r.ExecContext(ctx, `
		INSERT INTO pending_orders (
			id, strategy_account_id, symbol, side, order_type,
			quantity, price, stop_price, priority, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.StrategyAccountID, p.Symbol, p.Side, p.OrderType,
		p.Quantity.String(), p.Price.String(), p.StopPrice.String(), p.Priority, p.Reason)
	if err != nil {
		return fmt.Errorf("insert pending order: %w", err)
	}
	return nil
}

// ListPendingOrders returns queued orders for (link, symbol) in priority then
// FIFO order, limited to n (0 means all).
func (d *Database) ListPendingOrders(ctx context.Context, strategyAccountID, symbol string, n int) ([]PendingOrder, error) {
	query := `
		SELECT id, strategy_account_id, symbol, side, order_type,
		       quantity, price, stop_price, priority, reason, enqueued_at
		FROM pending_orders
		WHERE strategy_account_id = ? AND symbol = ?
		ORDER BY priority, enqueued_at`
	args := []any{strategyAccountID, symbol}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending orders: %w", err)
	}
	defer rows.Close()

	var out []PendingOrder
	for rows.Next() {
		var p PendingOrder
		var qty, price, stop sql.NullString
		if err := rows.Scan(&p.ID, &p.StrategyAccountID, &p.Symbol, &p.Side, &p.OrderType,
			&qty, &price, &stop, &p.Priority, &p.Reason, &p.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan pending order: %w", err)
		}
		p.Quantity = scanDec(qty)
		p.Price = scanDec(price)
		p.StopPrice = scanDec(stop)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPendingSlots returns the distinct (link, symbol) pairs with queued
// orders, the work list for the background rebalancer.
func (d *Database) ListPendingSlots(ctx context.Context) ([][2]string, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT DISTINCT strategy_account_id, symbol FROM pending_orders
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending slots: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var pair [2]string
		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}

// DeletePendingOrder removes a queued order after promotion or cancel.
func (d *Database) DeletePendingOrder(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM pending_orders WHERE id = ?`, id)
	return err
}

// CountPendingOrders returns the queue depth for a link.
func (d *Database) CountPendingOrders(ctx context.Context, strategyAccountID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pending_orders WHERE strategy_account_id = ?
	`, strategyAccountID).Scan(&n)
	return n, err
}
