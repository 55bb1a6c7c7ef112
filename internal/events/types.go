package events

import (
	"time"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// SSE event names.
const (
	TypeOrderCreated   = "order_created"
	TypeOrderFilled    = "order_filled"
	TypeOrderCancelled = "order_cancelled"
	TypeOrderRejected  = "order_rejected"
	TypeOrderQueued    = "order_queued"

	TypePositionCreated = "position_created"
	TypePositionUpdated = "position_updated"
	TypePositionClosed  = "position_closed"

	TypeOrderBatch = "order_batch_event"
)

// AccountRef identifies the account an event concerns.
type AccountRef struct {
	AccountID string              `json:"account_id"`
	Name      string              `json:"name"`
	Exchange  common.ExchangeName `json:"exchange"`
}

// OrderEvent is one order lifecycle transition.
type OrderEvent struct {
	EventType  string             `json:"event_type"`
	OrderID    string             `json:"order_id"`
	Symbol     string             `json:"symbol"`
	StrategyID string             `json:"strategy_id"`
	UserID     string             `json:"user_id"`
	Side       common.Side        `json:"side"`
	Quantity   float64            `json:"quantity"`
	Price      float64            `json:"price"`
	Status     common.OrderStatus `json:"status"`
	OrderType  common.OrderType   `json:"order_type"`
	StopPrice  *float64           `json:"stop_price,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Account    AccountRef         `json:"account"`
}

// PositionEvent is one position transition.
type PositionEvent struct {
	EventType        string     `json:"event_type"`
	PositionID       string     `json:"position_id"`
	Symbol           string     `json:"symbol"`
	StrategyID       string     `json:"strategy_id"`
	UserID           string     `json:"user_id"`
	Quantity         float64    `json:"quantity"`
	EntryPrice       float64    `json:"entry_price"`
	PreviousQuantity *float64   `json:"previous_quantity,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
	Account          AccountRef `json:"account"`
}

// BatchSummary is the per-order-type tally inside an OrderBatchEvent.
type BatchSummary struct {
	OrderType common.OrderType `json:"order_type"`
	Created   int              `json:"created"`
	Cancelled int              `json:"cancelled"`
}

// OrderBatchEvent aggregates a multi-account signal into one notification.
type OrderBatchEvent struct {
	Summaries  []BatchSummary `json:"summaries"`
	StrategyID string         `json:"strategy_id"`
	UserID     string         `json:"user_id"`
	Timestamp  time.Time      `json:"timestamp"`
}
