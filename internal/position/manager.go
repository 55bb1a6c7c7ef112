// Package position applies confirmed fills to netted per-(strategy account,
// symbol) positions with volume-weighted entries and realized PnL settlement.
package position

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/internal/events"
	"github.com/binee108/signalbridge/internal/record"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Outcome statuses.
const (
	StatusApplied            = "applied"
	StatusSkipped            = "skipped"
	StatusDuplicatePrevented = "duplicate_prevented"

	ReasonLockContention = "lock_contention"
)

// ErrNoExecutionPrice aborts fill processing when no price is resolvable from
// the order result, the venue, or the ticker.
var ErrNoExecutionPrice = fmt.Errorf("execution_price_unavailable")

// minResidual is the floor below which a position is considered closed when
// the instrument reports no step or minimum quantity.
var minResidual = decimal.New(1, -6)

// Venue is the slice of the exchange capability fill processing needs.
type Venue interface {
	FetchOrder(ctx context.Context, symbol, exchangeOrderID string) (common.OrderResult, error)
	FetchTicker(ctx context.Context, symbol string) (common.Ticker, error)
}

// Outcome reports how a fill was handled.
type Outcome struct {
	Status           string
	Reason           string
	Record           record.Result
	Position         *db.StrategyPosition
	PreviousQuantity decimal.Decimal
	RealizedPnL      decimal.Decimal
}

// Manager owns the fill-to-position pipeline.
type Manager struct {
	db       *db.Database
	recorder *record.Recorder
	emitter  *events.Emitter
	locks    *lockRegistry
}

// NewManager creates a position manager.
func NewManager(database *db.Database, recorder *record.Recorder, emitter *events.Emitter) *Manager {
	return &Manager{
		db:       database,
		recorder: recorder,
		emitter:  emitter,
		locks:    newLockRegistry(),
	}
}

// ProcessOrderFill ingests one fill notification end to end: merge with the
// venue's authoritative order state, record the trade idempotently, apply the
// quantity delta to the position under the per-position lock, then settle
// realized PnL into strategy capital outside the lock.
//
// A failed lock acquisition returns StatusSkipped/lock_contention without
// blocking: the concurrent holder sees the same authoritative venue state,
// and trade idempotency guarantees convergence.
func (m *Manager) ProcessOrderFill(ctx context.Context, view *db.StrategyAccountView, venue Venue, res common.OrderResult, prec common.Precision) (Outcome, error) {
	res, err := m.mergeAuthoritative(ctx, venue, res)
	if err != nil {
		return Outcome{}, err
	}
	if res.FilledQuantity.Sign() <= 0 {
		return Outcome{Status: StatusDuplicatePrevented}, nil
	}

	price := res.AveragePrice
	if price.Sign() <= 0 && venue != nil {
		ticker, terr := venue.FetchTicker(ctx, res.Symbol)
		if terr == nil {
			price = ticker.Price
		}
	}
	if price.Sign() <= 0 {
		return Outcome{}, ErrNoExecutionPrice
	}

	key := view.ID + ":" + res.Symbol
	release, ok := m.locks.TryAcquire(key)
	if !ok {
		return Outcome{Status: StatusSkipped, Reason: ReasonLockContention}, nil
	}

	out, realizedToCapital, err := m.applyLocked(ctx, view, res, price, prec)
	release()
	if err != nil {
		return Outcome{}, err
	}

	// Capital settlement runs outside the position lock; its failure must not
	// unwind the committed position change.
	if !realizedToCapital.IsZero() {
		if cerr := m.db.AddRealizedPnL(ctx, view.ID, realizedToCapital); cerr != nil {
			log.Printf("position: capital settlement failed for %s: %v", view.ID, cerr)
		}
	}

	if out.Status == StatusApplied {
		m.recorder.RunHooks(ctx, out.Record)
		m.emitEvents(ctx, view, res, out)
	}
	return out, nil
}

// mergeAuthoritative overlays the venue's current view of the order onto the
// local result, preferring venue-reported fill state.
func (m *Manager) mergeAuthoritative(ctx context.Context, venue Venue, res common.OrderResult) (common.OrderResult, error) {
	if venue == nil || res.ExchangeOrderID == "" {
		return res, nil
	}
	fetched, err := venue.FetchOrder(ctx, res.Symbol, res.ExchangeOrderID)
	if err != nil {
		// Proceed on the local view; reconciliation will catch divergence.
		log.Printf("position: fetch order %s failed, using local result: %v", res.ExchangeOrderID, err)
		return res, nil
	}
	if fetched.FilledQuantity.GreaterThan(res.FilledQuantity) {
		res.FilledQuantity = fetched.FilledQuantity
	}
	if fetched.AveragePrice.Sign() > 0 {
		res.AveragePrice = fetched.AveragePrice
	}
	if fetched.Status != "" {
		res.Status = fetched.Status
	}
	return res, nil
}

// applyLocked runs the single transaction covering trade record and position
// mutation. Returns the realized PnL to settle into capital after release.
func (m *Manager) applyLocked(ctx context.Context, view *db.StrategyAccountView, res common.OrderResult, price decimal.Decimal, prec common.Precision) (Outcome, decimal.Decimal, error) {
	var out Outcome
	var realized decimal.Decimal

	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		pos, err := m.db.GetPositionTx(ctx, tx, view.ID, res.Symbol)
		if err != nil {
			return err
		}
		curQty, curEntry := decimal.Zero, decimal.Zero
		if pos != nil {
			curQty, curEntry = pos.Quantity, pos.EntryPrice
		}

		tradeSign := 1
		if res.Side == common.SideSell {
			tradeSign = -1
		}
		// Entry/exit is judged against this strategy account's own position,
		// not the account's aggregate across strategies.
		isEntry := curQty.IsZero() || curQty.Sign() == tradeSign

		preview := mergeFill(curQty, curEntry, res.Side, res.FilledQuantity, price)
		var pnlPtr *decimal.Decimal
		if !preview.RealizedPnL.IsZero() {
			p := preview.RealizedPnL
			pnlPtr = &p
		}

		rec, err := m.recorder.RecordTx(ctx, tx, record.FillInput{
			StrategyAccountID: view.ID,
			ExchangeOrderID:   res.ExchangeOrderID,
			Symbol:            res.Symbol,
			Side:              res.Side,
			Quantity:          res.FilledQuantity,
			Price:             price,
			OrderPrice:        res.AdjustedPrice,
			OrderType:         res.Type,
			IsEntry:           isEntry,
			PnL:               pnlPtr,
			ExecutedAt:        time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if rec.QuantityDelta.Sign() <= 0 {
			out = Outcome{Status: StatusDuplicatePrevented, Record: rec}
			return nil
		}

		// Apply only the unrecorded delta so a repeated cumulative report
		// never double-applies.
		merged := mergeFill(curQty, curEntry, res.Side, rec.QuantityDelta, price)
		realized = merged.RealizedPnL

		newQty := quantize(merged.Quantity, prec.StepSize)
		if closed(newQty, prec) {
			if err := m.db.DeletePositionTx(ctx, tx, view.ID, res.Symbol); err != nil {
				return err
			}
			out = Outcome{Status: StatusApplied, Record: rec, PreviousQuantity: curQty, RealizedPnL: realized}
		} else {
			newPos := db.StrategyPosition{
				StrategyAccountID: view.ID,
				Symbol:            res.Symbol,
				Quantity:          merged.Quantity,
				EntryPrice:        merged.EntryPrice,
			}
			if err := m.db.UpsertPositionTx(ctx, tx, newPos); err != nil {
				return err
			}
			out = Outcome{Status: StatusApplied, Record: rec, Position: &newPos, PreviousQuantity: curQty, RealizedPnL: realized}
		}

		if common.IsTerminal(common.NormalizeStatus(string(res.Status), view.Account.Exchange)) {
			if err := m.db.DeleteOpenOrderTx(ctx, tx, view.ID, res.ExchangeOrderID); err != nil {
				return err
			}
		}

		return m.db.InsertTradeExecution(ctx, db.TradeExecution{
			ID:         uuid.NewString(),
			TradeID:    rec.Trade.ID,
			Quantity:   rec.QuantityDelta,
			Price:      price,
			ExecutedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		return Outcome{}, decimal.Zero, err
	}
	return out, realized, nil
}

// quantize truncates a signed quantity toward zero to the instrument step.
func quantize(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	return qty.Div(step).Truncate(0).Mul(step)
}

// closed reports whether a residual quantity is below the instrument's
// tradeable floor.
func closed(qty decimal.Decimal, prec common.Precision) bool {
	floor := minResidual
	if prec.StepSize.GreaterThan(floor) {
		floor = prec.StepSize
	}
	if prec.MinQty.GreaterThan(floor) {
		floor = prec.MinQty
	}
	return qty.Abs().LessThan(floor)
}

func (m *Manager) emitEvents(ctx context.Context, view *db.StrategyAccountView, res common.OrderResult, out Outcome) {
	octx := events.OrderContext{
		StrategyID: view.StrategyID,
		UserID:     view.Account.UserID,
		Account: events.AccountRef{
			AccountID: view.AccountID,
			Name:      view.Account.Name,
			Exchange:  view.Account.Exchange,
		},
	}
	fill := res
	fill.FilledQuantity = out.Record.QuantityDelta
	if err := m.emitter.EmitOrder(events.TypeOrderFilled, octx, fill); err != nil {
		log.Printf("position: emit fill event: %v", err)
	}

	prev := out.PreviousQuantity
	switch {
	case out.Position == nil:
		m.emitter.EmitPosition(events.TypePositionClosed, octx, res.Symbol, decimal.Zero, decimal.Zero, &prev)
	case prev.IsZero():
		m.emitter.EmitPosition(events.TypePositionCreated, octx, res.Symbol, out.Position.Quantity, out.Position.EntryPrice, nil)
	default:
		m.emitter.EmitPosition(events.TypePositionUpdated, octx, res.Symbol, out.Position.Quantity, out.Position.EntryPrice, &prev)
	}
}
