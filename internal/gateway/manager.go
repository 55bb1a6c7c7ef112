// Package gateway builds and caches per-account exchange adapters, decrypting
// stored API credentials on first use.
package gateway

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/binee108/signalbridge/pkg/crypto"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Manager is the adapter registry. One adapter exists per (account, market);
// adapters hold decrypted keys so the cache also bounds how often keys are
// decrypted.
type Manager struct {
	db        *db.Database
	encryptor *crypto.Encryptor
	testnet   bool

	mu       sync.Mutex
	adapters map[string]common.Exchange
	paper    map[string]common.Exchange // test-mode venues, scripted in tests
}

// NewManager creates a gateway manager.
func NewManager(database *db.Database, encryptor *crypto.Encryptor, testnet bool) *Manager {
	return &Manager{
		db:        database,
		encryptor: encryptor,
		testnet:   testnet,
		adapters:  make(map[string]common.Exchange),
		paper:     make(map[string]common.Exchange),
	}
}

func cacheKey(accountID string, market common.MarketType) string {
	return accountID + ":" + string(market)
}

// For returns the live adapter for an account on a market segment, building
// and caching it on first use. A credential decryption failure deactivates
// the account so it stops receiving signals until keys are fixed.
func (m *Manager) For(ctx context.Context, account db.Account, market common.MarketType) (common.Exchange, error) {
	key := cacheKey(account.ID, market)

	m.mu.Lock()
	if gw, ok := m.paper[key]; ok {
		m.mu.Unlock()
		return gw, nil
	}
	if gw, ok := m.adapters[key]; ok {
		m.mu.Unlock()
		return gw, nil
	}
	m.mu.Unlock()

	creds, err := m.decrypt(account)
	if err != nil {
		log.Printf("gateway: key decryption failed for account %s, deactivating: %v", account.ID, err)
		if derr := m.db.DeactivateAccount(ctx, account.ID); derr != nil {
			log.Printf("gateway: deactivate account %s: %v", account.ID, derr)
		}
		return nil, fmt.Errorf("decrypt credentials for account %s: %w", account.ID, err)
	}

	gw, err := build(account, market, creds, m.testnet)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.adapters[key]; ok {
		return existing, nil
	}
	m.adapters[key] = gw
	return gw, nil
}

// Register pins a pre-built adapter for an account segment. Used for paper
// venues in dry-run mode and by tests.
func (m *Manager) Register(accountID string, market common.MarketType, gw common.Exchange) {
	m.mu.Lock()
	m.paper[cacheKey(accountID, market)] = gw
	m.mu.Unlock()
}

// Evict drops a cached adapter, forcing a rebuild on next use.
func (m *Manager) Evict(accountID string, market common.MarketType) {
	m.mu.Lock()
	delete(m.adapters, cacheKey(accountID, market))
	m.mu.Unlock()
}

func (m *Manager) decrypt(account db.Account) (Credentials, error) {
	if m.encryptor == nil {
		return Credentials{}, fmt.Errorf("no encryption key configured")
	}
	apiKey, err := m.encryptor.Decrypt(account.APIKeyEncrypted)
	if err != nil {
		return Credentials{}, fmt.Errorf("api key: %w", err)
	}
	apiSecret, err := m.encryptor.Decrypt(account.APISecretEncrypted)
	if err != nil {
		return Credentials{}, fmt.Errorf("api secret: %w", err)
	}
	creds := Credentials{APIKey: apiKey, APISecret: apiSecret}
	if account.PassphraseEncrypted != "" {
		creds.Passphrase, err = m.encryptor.Decrypt(account.PassphraseEncrypted)
		if err != nil {
			return Credentials{}, fmt.Errorf("passphrase: %w", err)
		}
	}
	return creds, nil
}
