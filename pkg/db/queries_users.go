package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Runner is satisfied by both *sql.DB and *sql.Tx so managers can share
// queries inside or outside a transaction.
type Runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, webhook_token)
		VALUES (?, ?, ?, ?)
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.WebhookToken)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, webhook_token, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.WebhookToken, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID returns a user by id.
func (d *Database) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, webhook_token, created_at, updated_at
		FROM users WHERE id = ?
	`, id)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.WebhookToken, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateAccount inserts an exchange account with encrypted credentials.
func (d *Database) CreateAccount(ctx context.Context, a Account) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO accounts (
			id, user_id, exchange, account_type, name,
			api_key_encrypted, api_secret_encrypted, passphrase_encrypted,
			key_version, is_testnet, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.Exchange, a.AccountType, a.Name,
		a.APIKeyEncrypted, a.APISecretEncrypted, a.PassphraseEncrypted,
		a.KeyVersion, a.IsTestnet, a.IsActive)
	return err
}

// GetAccountByID returns an account, verifying ownership when userID is set.
func (d *Database) GetAccountByID(ctx context.Context, userID, accountID string) (*Account, error) {
	query := `
		SELECT id, user_id, exchange, account_type, name,
		       api_key_encrypted, api_secret_encrypted, COALESCE(passphrase_encrypted, ''),
		       COALESCE(key_version, 1), is_testnet, is_active, created_at, updated_at
		FROM accounts WHERE id = ?`
	args := []any{accountID}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	var a Account
	err := d.DB.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.UserID, &a.Exchange, &a.AccountType, &a.Name,
		&a.APIKeyEncrypted, &a.APISecretEncrypted, &a.PassphraseEncrypted,
		&a.KeyVersion, &a.IsTestnet, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

// ListAccountsByUser returns all active accounts for a user.
func (d *Database) ListAccountsByUser(ctx context.Context, userID string) ([]Account, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, exchange, account_type, name,
		       api_key_encrypted, api_secret_encrypted, COALESCE(passphrase_encrypted, ''),
		       COALESCE(key_version, 1), is_testnet, is_active, created_at, updated_at
		FROM accounts WHERE user_id = ? AND is_active = 1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Exchange, &a.AccountType, &a.Name,
			&a.APIKeyEncrypted, &a.APISecretEncrypted, &a.PassphraseEncrypted,
			&a.KeyVersion, &a.IsTestnet, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListActiveAccounts returns every active account. Used by background rollup
// jobs that run across users.
func (d *Database) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, user_id, exchange, account_type, name,
		       api_key_encrypted, api_secret_encrypted, COALESCE(passphrase_encrypted, ''),
		       COALESCE(key_version, 1), is_testnet, is_active, created_at, updated_at
		FROM accounts WHERE is_active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query active accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Exchange, &a.AccountType, &a.Name,
			&a.APIKeyEncrypted, &a.APISecretEncrypted, &a.PassphraseEncrypted,
			&a.KeyVersion, &a.IsTestnet, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeactivateAccount marks an account inactive; used when key decryption fails.
func (d *Database) DeactivateAccount(ctx context.Context, accountID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE accounts SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, accountID)
	return err
}
