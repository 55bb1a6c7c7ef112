package db

import (
	"database/sql"
	"fmt"
)

// Monetary columns are TEXT holding decimal strings; REAL would silently lose
// precision on accounting paths.
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    webhook_token TEXT NOT NULL UNIQUE,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    exchange TEXT NOT NULL,
    account_type TEXT NOT NULL DEFAULT 'CRYPTO',
    name TEXT NOT NULL,
    api_key_encrypted TEXT NOT NULL,
    api_secret_encrypted TEXT NOT NULL,
    passphrase_encrypted TEXT DEFAULT '',
    key_version INTEGER DEFAULT 1,
    is_testnet BOOLEAN DEFAULT 0,
    is_active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS strategies (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    group_name TEXT NOT NULL UNIQUE,
    market_type TEXT NOT NULL,
    is_active BOOLEAN DEFAULT 1,
    is_public BOOLEAN DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS strategy_subscriptions (
    strategy_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(strategy_id, user_id)
);

CREATE TABLE IF NOT EXISTS strategy_accounts (
    id TEXT PRIMARY KEY,
    strategy_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    weight REAL DEFAULT 1,
    leverage INTEGER DEFAULT 1,
    max_symbols INTEGER DEFAULT 0,
    is_active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(strategy_id, account_id),
    FOREIGN KEY(strategy_id) REFERENCES strategies(id),
    FOREIGN KEY(account_id) REFERENCES accounts(id)
);

CREATE TABLE IF NOT EXISTS strategy_capital (
    strategy_account_id TEXT PRIMARY KEY,
    allocated_capital TEXT NOT NULL DEFAULT '0',
    current_pnl TEXT NOT NULL DEFAULT '0',
    last_updated DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(strategy_account_id) REFERENCES strategy_accounts(id)
);

CREATE TABLE IF NOT EXISTS strategy_positions (
    strategy_account_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    quantity TEXT NOT NULL,
    entry_price TEXT NOT NULL,
    last_updated DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(strategy_account_id, symbol),
    FOREIGN KEY(strategy_account_id) REFERENCES strategy_accounts(id)
);

CREATE TABLE IF NOT EXISTS open_orders (
    strategy_account_id TEXT NOT NULL,
    exchange_order_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    order_type TEXT NOT NULL,
    quantity TEXT NOT NULL,
    filled_quantity TEXT NOT NULL DEFAULT '0',
    price TEXT NOT NULL DEFAULT '0',
    stop_price TEXT NOT NULL DEFAULT '0',
    status TEXT NOT NULL,
    market_type TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(strategy_account_id, exchange_order_id),
    FOREIGN KEY(strategy_account_id) REFERENCES strategy_accounts(id)
);

CREATE TABLE IF NOT EXISTS pending_orders (
    id TEXT PRIMARY KEY,
    strategy_account_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    order_type TEXT NOT NULL,
    quantity TEXT NOT NULL,
    price TEXT NOT NULL DEFAULT '0',
    stop_price TEXT NOT NULL DEFAULT '0',
    priority INTEGER NOT NULL,
    reason TEXT DEFAULT '',
    enqueued_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(strategy_account_id) REFERENCES strategy_accounts(id)
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    strategy_account_id TEXT NOT NULL,
    exchange_order_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity TEXT NOT NULL,
    price TEXT NOT NULL,
    order_price TEXT NOT NULL DEFAULT '0',
    order_type TEXT NOT NULL,
    is_entry BOOLEAN DEFAULT 1,
    pnl TEXT,
    fee TEXT NOT NULL DEFAULT '0',
    executed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(strategy_account_id, exchange_order_id),
    FOREIGN KEY(strategy_account_id) REFERENCES strategy_accounts(id)
);

CREATE TABLE IF NOT EXISTS trade_executions (
    id TEXT PRIMARY KEY,
    trade_id TEXT NOT NULL,
    venue_trade_id TEXT DEFAULT '',
    quantity TEXT NOT NULL,
    price TEXT NOT NULL,
    commission TEXT NOT NULL DEFAULT '0',
    commission_asset TEXT DEFAULT '',
    is_maker BOOLEAN DEFAULT 0,
    executed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(trade_id) REFERENCES trades(id)
);

CREATE TABLE IF NOT EXISTS webhook_logs (
    id TEXT PRIMARY KEY,
    node_id TEXT DEFAULT '',
    group_name TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT DEFAULT '',
    validation_ms REAL DEFAULT 0,
    preprocessing_ms REAL DEFAULT 0,
    total_ms REAL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS daily_account_summaries (
    account_id TEXT NOT NULL,
    date TEXT NOT NULL,
    balance TEXT NOT NULL DEFAULT '0',
    realized_pnl TEXT NOT NULL DEFAULT '0',
    trade_count INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(account_id, date)
);

CREATE INDEX IF NOT EXISTS idx_open_orders_symbol_side
    ON open_orders(strategy_account_id, symbol, side);
CREATE INDEX IF NOT EXISTS idx_pending_orders_slot
    ON pending_orders(strategy_account_id, symbol, side, priority);
CREATE INDEX IF NOT EXISTS idx_trades_account
    ON trades(strategy_account_id, executed_at);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "accounts", "passphrase_encrypted", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "order_price", "TEXT NOT NULL DEFAULT '0'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "webhook_logs", "node_id", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
