// Package record persists trades idempotently. Each exchange order maps to at
// most one Trade row; repeated fill notifications for the same order update
// the cumulative quantity instead of inserting duplicates.
package record

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Record statuses.
const (
	StatusCreated            = "created"
	StatusUpdated            = "updated"
	StatusDuplicatePrevented = "duplicate_prevented"
)

// FillInput describes one confirmed fill. Quantity is the cumulative filled
// amount reported by the exchange, not a per-event increment.
type FillInput struct {
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

// Result reports what the recorder did. QuantityDelta is the newly-filled
// amount since the last record for this order; position updates consume the
// delta so partial fills never double count.
type Result struct {
	Trade         db.Trade
	QuantityDelta decimal.Decimal
	Status        string
}

// Hook runs after a trade is committed. Hook panics and errors are logged and
// swallowed; a notification failure must never unwind a recorded trade.
type Hook func(ctx context.Context, r Result)

// Recorder writes trades with application-level and constraint-level dedup.
type Recorder struct {
	db    *db.Database
	hooks []Hook
}

// NewRecorder creates a recorder.
func NewRecorder(database *db.Database) *Recorder {
	return &Recorder{db: database}
}

// AddHook registers a post-commit callback.
func (r *Recorder) AddHook(h Hook) {
	r.hooks = append(r.hooks, h)
}

// RecordTx applies a fill inside the caller's transaction.
//
// The application pre-check handles the common path; the UNIQUE constraint on
// (strategy_account_id, exchange_order_id) catches the race where two threads
// record the same order concurrently. A constraint hit re-reads the winner's
// row and reports duplicate_prevented, never an error.
func (r *Recorder) RecordTx(ctx context.Context, tx *sql.Tx, in FillInput) (Result, error) {
	if in.Quantity.Sign() <= 0 {
		return Result{}, fmt.Errorf("record: fill quantity must be positive, got %s", in.Quantity)
	}
	if in.Price.Sign() <= 0 {
		return Result{}, fmt.Errorf("record: fill price must be positive, got %s", in.Price)
	}
	if in.ExecutedAt.IsZero() {
		in.ExecutedAt = time.Now().UTC()
	}

	existing, err := r.db.GetTradeByOrder(ctx, tx, in.StrategyAccountID, in.ExchangeOrderID)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return r.updateExisting(ctx, tx, existing, in)
	}

	trade := db.Trade{
		ID:                uuid.NewString(),
		StrategyAccountID: in.StrategyAccountID,
		ExchangeOrderID:   in.ExchangeOrderID,
		Symbol:            in.Symbol,
		Side:              in.Side,
		Quantity:          in.Quantity,
		Price:             in.Price,
		OrderPrice:        in.OrderPrice,
		OrderType:         in.OrderType,
		IsEntry:           in.IsEntry,
		PnL:               in.PnL,
		Fee:               in.Fee,
		ExecutedAt:        in.ExecutedAt,
	}
	if err := r.db.InsertTradeTx(ctx, tx, trade); err != nil {
		if !db.IsUniqueViolation(err) {
			return Result{}, fmt.Errorf("insert trade: %w", err)
		}
		// Lost the race; the winner's row is authoritative.
		winner, rerr := r.db.GetTradeByOrder(ctx, tx, in.StrategyAccountID, in.ExchangeOrderID)
		if rerr != nil {
			return Result{}, rerr
		}
		if winner == nil {
			return Result{}, fmt.Errorf("insert trade: %w", err)
		}
		return r.updateExisting(ctx, tx, winner, in)
	}

	return Result{Trade: trade, QuantityDelta: in.Quantity, Status: StatusCreated}, nil
}

// updateExisting raises the cumulative quantity when the new report exceeds
// the stored one; equal or lower reports are no-ops.
func (r *Recorder) updateExisting(ctx context.Context, tx *sql.Tx, existing *db.Trade, in FillInput) (Result, error) {
	delta := in.Quantity.Sub(existing.Quantity)
	if delta.Sign() <= 0 {
		return Result{Trade: *existing, QuantityDelta: decimal.Zero, Status: StatusDuplicatePrevented}, nil
	}

	updated := *existing
	updated.Quantity = in.Quantity
	updated.Price = in.Price
	updated.Fee = in.Fee
	updated.ExecutedAt = in.ExecutedAt
	if in.PnL != nil {
		if existing.PnL != nil {
			sum := existing.PnL.Add(*in.PnL)
			updated.PnL = &sum
		} else {
			updated.PnL = in.PnL
		}
	}
	if err := r.db.UpdateTradeQuantityTx(ctx, tx, existing.ID, updated); err != nil {
		return Result{}, fmt.Errorf("update trade: %w", err)
	}
	return Result{Trade: updated, QuantityDelta: delta, Status: StatusUpdated}, nil
}

// RunHooks fires post-commit callbacks; call only after the transaction
// committed.
func (r *Recorder) RunHooks(ctx context.Context, res Result) {
	for _, h := range r.hooks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Printf("record: hook panicked: %v", p)
				}
			}()
			h(ctx, res)
		}()
	}
}
