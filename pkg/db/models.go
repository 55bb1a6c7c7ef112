package db

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// User owns strategies and accounts.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	WebhookToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Account holds one user's credentials for one exchange. API keys are stored
// encrypted; a decrypt failure disables trading on the account.
type Account struct {
	ID                  string
	UserID              string
	Exchange            common.ExchangeName
	AccountType         common.AccountType
	Name                string
	APIKeyEncrypted     string
	APISecretEncrypted  string
	PassphraseEncrypted string
	KeyVersion          int
	IsTestnet           bool
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Strategy is the logical grouping webhooks address via group_name.
type Strategy struct {
	ID         string
	UserID     string
	Name       string
	GroupName  string
	MarketType common.MarketType
	IsActive   bool
	IsPublic   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StrategyAccount links a strategy to an account with sizing parameters.
type StrategyAccount struct {
	ID         string
	StrategyID string
	AccountID  string
	Weight     float64
	Leverage   int
	MaxSymbols int
	IsActive   bool
	CreatedAt  time.Time
}

// StrategyAccountView joins the link row with its account and strategy fields
// the trading core needs. Relationship traversal is an explicit query here,
// never an attribute side effect.
type StrategyAccountView struct {
	StrategyAccount
	Account  Account
	Strategy Strategy
	Capital  StrategyCapital
}

// StrategyCapital is the per-link capital allocation.
type StrategyCapital struct {
	StrategyAccountID string
	AllocatedCapital  decimal.Decimal
	CurrentPnL        decimal.Decimal
	LastUpdated       time.Time
}

// StrategyPosition is the netted signed position per (strategy account, symbol).
type StrategyPosition struct {
	StrategyAccountID string
	Symbol            string
	Quantity          decimal.Decimal // positive long, negative short
	EntryPrice        decimal.Decimal // volume-weighted
	LastUpdated       time.Time
}

// OpenOrder is an exchange-acknowledged order in a non-terminal state.
type OpenOrder struct {
	StrategyAccountID string
	ExchangeOrderID   string
	Symbol            string
	Side              common.Side
	OrderType         common.OrderType
	Quantity          decimal.Decimal
	FilledQuantity    decimal.Decimal
	Price             decimal.Decimal
	StopPrice         decimal.Decimal
	Status            common.OrderStatus
	MarketType        common.MarketType
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PendingOrder is a LIMIT/STOP order admitted to the local queue but not yet
// submitted to the exchange.
type PendingOrder struct {
	ID                string
	StrategyAccountID string
	Symbol            string
	Side              common.Side
	OrderType         common.OrderType
	Quantity          decimal.Decimal
	Price             decimal.Decimal
	StopPrice         decimal.Decimal
	Priority          int
	Reason            string
	EnqueuedAt        time.Time
}

// Trade is a finalized fill record, idempotent per
// (strategy_account_id, exchange_order_id). Quantity is the cumulative fill
// for the order, not a per-event amount.
type Trade struct {
	ID                string
	StrategyAccountID string
	ExchangeOrderID   string
	Symbol            string
	Side              common.Side
	Quantity          decimal.Decimal
	Price             decimal.Decimal
	OrderPrice        decimal.Decimal
	OrderType         common.OrderType
	IsEntry           bool
	PnL               *decimal.Decimal
	Fee               decimal.Decimal
	ExecutedAt        time.Time
}

// TradeExecution is the optional per-execution ledger under a Trade.
type TradeExecution struct {
	ID              string
	TradeID         string
	VenueTradeID    string
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	Commission      decimal.Decimal
	CommissionAsset string
	IsMaker         bool
	ExecutedAt      time.Time
}

// WebhookLog is the audit row for one ingested signal.
type WebhookLog struct {
	ID              string
	NodeID          string
	GroupName       string
	Payload         string
	Status          string
	Error           string
	ValidationMs    float64
	PreprocessingMs float64
	TotalMs         float64
	CreatedAt       time.Time
}

// DailyAccountSummary is the per-day balance/PnL rollup.
type DailyAccountSummary struct {
	AccountID   string
	Date        string // YYYY-MM-DD
	Balance     decimal.Decimal
	RealizedPnL decimal.Decimal
	TradeCount  int
	CreatedAt   time.Time
}

// --- decimal scan helpers ---

// scanDec parses a TEXT decimal column, treating empty/NULL as zero.
func scanDec(s sql.NullString) decimal.Decimal {
	if !s.Valid || s.String == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// scanDecPtr parses a nullable TEXT decimal column.
func scanDecPtr(s sql.NullString) *decimal.Decimal {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}
