package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// CreateStrategy inserts a strategy; group_name must be globally unique.
func (d *Database) CreateStrategy(ctx context.Context, s Strategy) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategies (id, user_id, name, group_name, market_type, is_active, is_public)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.UserID, s.Name, s.GroupName, s.MarketType, s.IsActive, s.IsPublic)
	return err
}

// GetStrategyByGroupName resolves the strategy a webhook addresses.
func (d *Database) GetStrategyByGroupName(ctx context.Context, groupName string) (*Strategy, error) {
	var s Strategy
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, name, group_name, market_type, is_active, is_public, created_at, updated_at
		FROM strategies WHERE group_name = ?
	`, groupName).Scan(&s.ID, &s.UserID, &s.Name, &s.GroupName, &s.MarketType,
		&s.IsActive, &s.IsPublic, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query strategy: %w", err)
	}
	return &s, nil
}

// GetStrategyByID returns a strategy row.
func (d *Database) GetStrategyByID(ctx context.Context, id string) (*Strategy, error) {
	var s Strategy
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, name, group_name, market_type, is_active, is_public, created_at, updated_at
		FROM strategies WHERE id = ?
	`, id).Scan(&s.ID, &s.UserID, &s.Name, &s.GroupName, &s.MarketType,
		&s.IsActive, &s.IsPublic, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query strategy: %w", err)
	}
	return &s, nil
}

// ListStrategiesByUser returns a user's own strategies, newest first.
func (d *Database) ListStrategiesByUser(ctx context.Context, userID string) ([]Strategy, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, name, group_name, market_type, is_active, is_public, created_at, updated_at
		FROM strategies WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	var out []Strategy
	for rows.Next() {
		var s Strategy
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.GroupName, &s.MarketType,
			&s.IsActive, &s.IsPublic, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AuthorizeWebhookToken returns the user whose webhook token may trade the
// strategy: the owner always, a subscriber only when the strategy is public.
func (d *Database) AuthorizeWebhookToken(ctx context.Context, strategyID, token string) (*User, error) {
	var u User
	err := d.DB.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.password_hash, u.webhook_token, u.created_at, u.updated_at
		FROM users u
		JOIN strategies s ON s.id = ?
		WHERE u.webhook_token = ?
		  AND (u.id = s.user_id
		       OR (s.is_public = 1 AND EXISTS (
		               SELECT 1 FROM strategy_subscriptions ss
		               WHERE ss.strategy_id = s.id AND ss.user_id = u.id)))
	`, strategyID, token).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.WebhookToken, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("authorize webhook token: %w", err)
	}
	return &u, nil
}

// LinkStrategyAccount attaches an account to a strategy and seeds its capital row.
func (d *Database) LinkStrategyAccount(ctx context.Context, link StrategyAccount, capital decimal.Decimal) error {
	return d.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO strategy_accounts (id, strategy_id, account_id, weight, leverage, max_symbols, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, link.ID, link.StrategyID, link.AccountID, link.Weight, link.Leverage, link.MaxSymbols, link.IsActive)
		if err != nil {
			return fmt.Errorf("insert strategy account: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO strategy_capital (strategy_account_id, allocated_capital, current_pnl)
			VALUES (?, ?, '0')
		`, link.ID, capital.String())
		if err != nil {
			return fmt.Errorf("seed strategy capital: %w", err)
		}
		return nil
	})
}

// ListActiveStrategyAccounts returns the fan-out set for a strategy: every
// active link whose account is also active, with account, strategy and
// capital fields loaded in one query.
func (d *Database) ListActiveStrategyAccounts(ctx context.Context, strategyID string) ([]StrategyAccountView, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT sa.id, sa.strategy_id, sa.account_id, sa.weight, sa.leverage, sa.max_symbols, sa.is_active, sa.created_at,
		       a.id, a.user_id, a.exchange, a.account_type, a.name,
		       a.api_key_encrypted, a.api_secret_encrypted, COALESCE(a.passphrase_encrypted, ''),
		       COALESCE(a.key_version, 1), a.is_testnet, a.is_active,
		       s.id, s.user_id, s.name, s.group_name, s.market_type, s.is_active, s.is_public,
		       COALESCE(sc.allocated_capital, '0'), COALESCE(sc.current_pnl, '0')
		FROM strategy_accounts sa
		JOIN accounts a ON a.id = sa.account_id
		JOIN strategies s ON s.id = sa.strategy_id
		LEFT JOIN strategy_capital sc ON sc.strategy_account_id = sa.id
		WHERE sa.strategy_id = ? AND sa.is_active = 1 AND a.is_active = 1
		ORDER BY sa.created_at
	`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query strategy accounts: %w", err)
	}
	defer rows.Close()

	var out []StrategyAccountView
	for rows.Next() {
		var v StrategyAccountView
		var alloc, pnl sql.NullString
		if err := rows.Scan(
			&v.ID, &v.StrategyID, &v.AccountID, &v.Weight, &v.Leverage, &v.MaxSymbols, &v.IsActive, &v.CreatedAt,
			&v.Account.ID, &v.Account.UserID, &v.Account.Exchange, &v.Account.AccountType, &v.Account.Name,
			&v.Account.APIKeyEncrypted, &v.Account.APISecretEncrypted, &v.Account.PassphraseEncrypted,
			&v.Account.KeyVersion, &v.Account.IsTestnet, &v.Account.IsActive,
			&v.Strategy.ID, &v.Strategy.UserID, &v.Strategy.Name, &v.Strategy.GroupName,
			&v.Strategy.MarketType, &v.Strategy.IsActive, &v.Strategy.IsPublic,
			&alloc, &pnl,
		); err != nil {
			return nil, fmt.Errorf("scan strategy account: %w", err)
		}
		v.Capital.StrategyAccountID = v.ID
		v.Capital.AllocatedCapital = scanDec(alloc)
		v.Capital.CurrentPnL = scanDec(pnl)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListActiveStrategyLinks returns every active link across all strategies,
// with joined rows. Used by the periodic capital refresh.
func (d *Database) ListActiveStrategyLinks(ctx context.Context) ([]StrategyAccountView, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT sa.id, sa.strategy_id, sa.account_id, sa.weight, sa.leverage, sa.max_symbols, sa.is_active, sa.created_at,
		       a.id, a.user_id, a.exchange, a.account_type, a.name,
		       a.api_key_encrypted, a.api_secret_encrypted, COALESCE(a.passphrase_encrypted, ''),
		       COALESCE(a.key_version, 1), a.is_testnet, a.is_active,
		       s.id, s.user_id, s.name, s.group_name, s.market_type, s.is_active, s.is_public,
		       COALESCE(sc.allocated_capital, '0'), COALESCE(sc.current_pnl, '0')
		FROM strategy_accounts sa
		JOIN accounts a ON a.id = sa.account_id
		JOIN strategies s ON s.id = sa.strategy_id
		LEFT JOIN strategy_capital sc ON sc.strategy_account_id = sa.id
		WHERE sa.is_active = 1 AND a.is_active = 1 AND s.is_active = 1
		ORDER BY sa.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query strategy links: %w", err)
	}
	defer rows.Close()

	var out []StrategyAccountView
	for rows.Next() {
		var v StrategyAccountView
		var alloc, pnl sql.NullString
		if err := rows.Scan(
			&v.ID, &v.StrategyID, &v.AccountID, &v.Weight, &v.Leverage, &v.MaxSymbols, &v.IsActive, &v.CreatedAt,
			&v.Account.ID, &v.Account.UserID, &v.Account.Exchange, &v.Account.AccountType, &v.Account.Name,
			&v.Account.APIKeyEncrypted, &v.Account.APISecretEncrypted, &v.Account.PassphraseEncrypted,
			&v.Account.KeyVersion, &v.Account.IsTestnet, &v.Account.IsActive,
			&v.Strategy.ID, &v.Strategy.UserID, &v.Strategy.Name, &v.Strategy.GroupName,
			&v.Strategy.MarketType, &v.Strategy.IsActive, &v.Strategy.IsPublic,
			&alloc, &pnl,
		); err != nil {
			return nil, fmt.Errorf("scan strategy link: %w", err)
		}
		v.Capital.StrategyAccountID = v.ID
		v.Capital.AllocatedCapital = scanDec(alloc)
		v.Capital.CurrentPnL = scanDec(pnl)
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetStrategyAccountView loads a single link with its joined rows.
func (d *Database) GetStrategyAccountView(ctx context.Context, strategyAccountID string) (*StrategyAccountView, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT sa.id, sa.strategy_id, sa.account_id, sa.weight, sa.leverage, sa.max_symbols, sa.is_active, sa.created_at,
		       a.id, a.user_id, a.exchange, a.account_type, a.name,
		       a.api_key_encrypted, a.api_secret_encrypted, COALESCE(a.passphrase_encrypted, ''),
		       COALESCE(a.key_version, 1), a.is_testnet, a.is_active,
		       s.id, s.user_id, s.name, s.group_name, s.market_type, s.is_active, s.is_public,
		       COALESCE(sc.allocated_capital, '0'), COALESCE(sc.current_pnl, '0')
		FROM strategy_accounts sa
		JOIN accounts a ON a.id = sa.account_id
		JOIN strategies s ON s.id = sa.strategy_id
		LEFT JOIN strategy_capital sc ON sc.strategy_account_id = sa.id
		WHERE sa.id = ?
	`, strategyAccountID)
	if err != nil {
		return nil, fmt.Errorf("query strategy account: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	var v StrategyAccountView
	var alloc, pnl sql.NullString
	if err := rows.Scan(
		&v.ID, &v.StrategyID, &v.AccountID, &v.Weight, &v.Leverage, &v.MaxSymbols, &v.IsActive, &v.CreatedAt,
		&v.Account.ID, &v.Account.UserID, &v.Account.Exchange, &v.Account.AccountType, &v.Account.Name,
		&v.Account.APIKeyEncrypted, &v.Account.APISecretEncrypted, &v.Account.PassphraseEncrypted,
		&v.Account.KeyVersion, &v.Account.IsTestnet, &v.Account.IsActive,
		&v.Strategy.ID, &v.Strategy.UserID, &v.Strategy.Name, &v.Strategy.GroupName,
		&v.Strategy.MarketType, &v.Strategy.IsActive, &v.Strategy.IsPublic,
		&alloc, &pnl,
	); err != nil {
		return nil, fmt.Errorf("scan strategy account: %w", err)
	}
	v.Capital.StrategyAccountID = v.ID
	v.Capital.AllocatedCapital = scanDec(alloc)
	v.Capital.CurrentPnL = scanDec(pnl)
	return &v, nil
}

// CountStrategyLinks counts every account link on a strategy, active or not.
// The webhook summary reports inactive links without fanning out to them.
func (d *Database) CountStrategyLinks(ctx context.Context, strategyID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM strategy_accounts WHERE strategy_id = ?
	`, strategyID).Scan(&n)
	return n, err
}

// GetStrategyCapital returns the capital row for a link, zero row when absent.
func (d *Database) GetStrategyCapital(ctx context.Context, strategyAccountID string) (StrategyCapital, error) {
	var c StrategyCapital
	var alloc, pnl sql.NullString
	err := d.DB.QueryRowContext(ctx, `
		SELECT strategy_account_id, allocated_capital, current_pnl, last_updated
		FROM strategy_capital WHERE strategy_account_id = ?
	`, strategyAccountID).Scan(&c.StrategyAccountID, &alloc, &pnl, &c.LastUpdated)
	if err == sql.ErrNoRows {
		return StrategyCapital{StrategyAccountID: strategyAccountID}, nil
	}
	if err != nil {
		return c, fmt.Errorf("query strategy capital: %w", err)
	}
	c.AllocatedCapital = scanDec(alloc)
	c.CurrentPnL = scanDec(pnl)
	return c, nil
}

// AddRealizedPnL folds realized profit into both allocated capital and the
// running PnL counter, so percentage sizing compounds.
func (d *Database) AddRealizedPnL(ctx context.Context, strategyAccountID string, pnl decimal.Decimal) error {
	cap, err := d.GetStrategyCapital(ctx, strategyAccountID)
	if err != nil {
		return err
	}
	newAlloc := cap.AllocatedCapital.Add(pnl)
	newPnL := cap.CurrentPnL.Add(pnl)
	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO strategy_capital (strategy_account_id, allocated_capital, current_pnl, last_updated)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_account_id) DO UPDATE SET
		    allocated_capital = excluded.allocated_capital,
		    current_pnl = excluded.current_pnl,
		    last_updated = CURRENT_TIMESTAMP
	`, strategyAccountID, newAlloc.String(), newPnL.String())
	if err != nil {
		return fmt.Errorf("update strategy capital: %w", err)
	}
	return nil
}

// SetAllocatedCapital overwrites the allocation, used by the periodic refresh.
func (d *Database) SetAllocatedCapital(ctx context.Context, strategyAccountID string, capital decimal.Decimal) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_capital (strategy_account_id, allocated_capital, current_pnl, last_updated)
		VALUES (?, ?, '0', CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_account_id) DO UPDATE SET
		    allocated_capital = excluded.allocated_capital,
		    last_updated = CURRENT_TIMESTAMP
	`, strategyAccountID, capital.String())
	return err
}

// SubscribeStrategy records a subscription to a public strategy.
func (d *Database) SubscribeStrategy(ctx context.Context, strategyID, userID string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO strategy_subscriptions (strategy_id, user_id) VALUES (?, ?)
	`, strategyID, userID)
	return err
}
