package core

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// OrderIntent is one normalized order instruction from a webhook.
type OrderIntent struct {
	Symbol    string
	Side      common.Side
	OrderType common.OrderType
	Qty       decimal.Decimal
	QtyPer    decimal.Decimal
	Price     decimal.Decimal
	StopPrice decimal.Decimal
	OrderID   string // target for CANCEL
}

// Signal is a parsed, validated webhook payload. A batch payload carries
// multiple intents sharing the same strategy and token.
type Signal struct {
	GroupName string
	Token     string
	TestMode  bool
	Intents   []OrderIntent
}

// Normalize canonicalizes case-insensitive fields.
func (s *Signal) Normalize() {
	for i := range s.Intents {
		s.Intents[i].Side = common.Side(strings.ToUpper(string(s.Intents[i].Side)))
		s.Intents[i].OrderType = common.OrderType(strings.ToUpper(string(s.Intents[i].OrderType)))
		s.Intents[i].Symbol = strings.ToUpper(s.Intents[i].Symbol)
	}
}

// IntentResult is the outcome of one intent on one account.
type IntentResult struct {
	Symbol    string           `json:"symbol"`
	OrderType common.OrderType `json:"order_type"`
	Success   bool             `json:"success"`
	Queued    bool             `json:"queued,omitempty"`
	Priority  int              `json:"priority,omitempty"`
	OrderID   string           `json:"order_id,omitempty"`
	Status    string           `json:"status,omitempty"`
	Cancelled int              `json:"cancelled,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
}

// AccountResult is one account's slot in the webhook response.
type AccountResult struct {
	AccountID   string         `json:"account_id"`
	AccountName string         `json:"account_name"`
	Success     bool           `json:"success"`
	Results     []IntentResult `json:"results"`
	Error       string         `json:"error,omitempty"`
	ErrorType   string         `json:"error_type,omitempty"`
}

// Summary aggregates the fan-out outcome.
type Summary struct {
	TotalAccounts    int `json:"total_accounts"`
	ExecutedAccounts int `json:"executed_accounts"`
	SuccessfulTrades int `json:"successful_trades"`
	FailedTrades     int `json:"failed_trades"`
	InactiveAccounts int `json:"inactive_accounts"`
}

// Performance carries the request's timing breakdown in milliseconds.
type Performance struct {
	ValidationTimeMs      float64 `json:"validation_time_ms"`
	PreprocessingTimeMs   float64 `json:"preprocessing_time_ms"`
	TotalProcessingTimeMs float64 `json:"total_processing_time_ms"`
}

// Response is the webhook reply.
type Response struct {
	Action             string            `json:"action"`
	Strategy           string            `json:"strategy"`
	MarketType         common.MarketType `json:"market_type"`
	Success            bool              `json:"success"`
	Results            []AccountResult   `json:"results"`
	Summary            Summary           `json:"summary"`
	PerformanceMetrics Performance       `json:"performance_metrics"`
}
