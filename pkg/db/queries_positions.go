package db

import (
	"context"
	"database/sql"
	"fmt"
)

// GetPosition returns the netted position for (link, symbol) or nil.
func getPosition(ctx context.Context, r Runner, strategyAccountID, symbol string) (*StrategyPosition, error) {
	var p StrategyPosition
	var qty, entry sql.NullString
	err := r.QueryRowContext(ctx, `
		SELECT strategy_account_id, symbol, quantity, entry_price, last_updated
		FROM strategy_positions
		WHERE strategy_account_id = ? AND symbol = ?
	`, strategyAccountID, symbol).Scan(&p.StrategyAccountID, &p.Symbol, &qty, &entry, &p.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query position: %w", err)
	}
	p.Quantity = scanDec(qty)
	p.EntryPrice = scanDec(entry)
	return &p, nil
}

// GetPosition returns the netted position for (link, symbol) or nil.
func (d *Database) GetPosition(ctx context.Context, strategyAccountID, symbol string) (*StrategyPosition, error) {
	return getPosition(ctx, d.DB, strategyAccountID, symbol)
}

// GetPositionTx is the transactional variant used by the fill path.
func (d *Database) GetPositionTx(ctx context.Context, tx *sql.Tx, strategyAccountID, symbol string) (*StrategyPosition, error) {
	return getPosition(ctx, tx, strategyAccountID, symbol)
}

// UpsertPositionTx writes the position row inside the fill transaction.
func (d *Database) UpsertPositionTx(ctx context.Context, tx *sql.Tx, p StrategyPosition) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO strategy_positions (strategy_account_id, symbol, quantity, entry_price, last_updated)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_account_id, symbol) DO UPDATE SET
		    quantity = excluded.quantity,
		    entry_price = excluded.entry_price,
		    last_updated = CURRENT_TIMESTAMP
	`, p.StrategyAccountID, p.Symbol, p.Quantity.String(), p.EntryPrice.String())
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// DeletePositionTx removes a closed position inside the fill transaction.
func (d *Database) DeletePositionTx(ctx context.Context, tx *sql.Tx, strategyAccountID, symbol string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM strategy_positions WHERE strategy_account_id = ? AND symbol = ?
	`, strategyAccountID, symbol)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// ListPositions returns all open positions for a link.
func (d *Database) ListPositions(ctx context.Context, strategyAccountID string) ([]StrategyPosition, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT strategy_account_id, symbol, quantity, entry_price, last_updated
		FROM strategy_positions WHERE strategy_account_id = ?
		ORDER BY symbol
	`, strategyAccountID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []StrategyPosition
	for rows.Next() {
		var p StrategyPosition
		var qty, entry sql.NullString
		if err := rows.Scan(&p.StrategyAccountID, &p.Symbol, &qty, &entry, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Quantity = scanDec(qty)
		p.EntryPrice = scanDec(entry)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPositionsByUser returns positions across every link the user owns.
func (d *Database) ListPositionsByUser(ctx context.Context, userID string) ([]StrategyPosition, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT sp.strategy_account_id, sp.symbol, sp.quantity, sp.entry_price, sp.last_updated
		FROM strategy_positions sp
		JOIN strategy_accounts sa ON sa.id = sp.strategy_account_id
		JOIN accounts a ON a.id = sa.account_id
		WHERE a.user_id = ?
		ORDER BY sp.strategy_account_id, sp.symbol
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query positions by user: %w", err)
	}
	defer rows.Close()

	var out []StrategyPosition
	for rows.Next() {
		var p StrategyPosition
		var qty, entry sql.NullString
		if err := rows.Scan(&p.StrategyAccountID, &p.Symbol, &qty, &entry, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Quantity = scanDec(qty)
		p.EntryPrice = scanDec(entry)
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPositionSymbols returns how many distinct symbols a link holds.
func (d *Database) CountPositionSymbols(ctx context.Context, strategyAccountID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM strategy_positions WHERE strategy_account_id = ?
	`, strategyAccountID).Scan(&n)
	return n, err
}
