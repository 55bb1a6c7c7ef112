// Package orders tracks exchange-acknowledged orders locally and keeps them
// reconciled with venue state: persistence, cancellation, and the periodic
// sweep that catches fills the WebSocket stream missed.
package orders

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/binee108/signalbridge/internal/events"
	"github.com/binee108/signalbridge/internal/position"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// VenueResolver maps a strategy account to its live exchange adapter.
type VenueResolver func(ctx context.Context, strategyAccountID string) (common.Exchange, *db.StrategyAccountView, error)

// Manager owns OpenOrder lifecycle.
type Manager struct {
	db        *db.Database
	positions *position.Manager
	emitter   *events.Emitter
	resolve   VenueResolver
}

// NewManager creates an order manager.
func NewManager(database *db.Database, positions *position.Manager, emitter *events.Emitter, resolve VenueResolver) *Manager {
	return &Manager{db: database, positions: positions, emitter: emitter, resolve: resolve}
}

// Track persists an exchange-acknowledged order. Terminal results are not
// tracked; their fills flow through the position manager instead.
func (m *Manager) Track(ctx context.Context, view *db.StrategyAccountView, res common.OrderResult) error {
	status := common.NormalizeStatus(string(res.Status), view.Account.Exchange)
	if common.IsTerminal(status) {
		return nil
	}
	return m.db.UpsertOpenOrder(ctx, db.OpenOrder{
		StrategyAccountID: view.ID,
		ExchangeOrderID:   res.ExchangeOrderID,
		Symbol:            res.Symbol,
		Side:              res.Side,
		OrderType:         res.Type,
		Quantity:          res.AdjustedQuantity,
		FilledQuantity:    res.FilledQuantity,
		Price:             res.AdjustedPrice,
		StopPrice:         res.AdjustedStopPrice,
		Status:            status,
		MarketType:        view.Strategy.MarketType,
	})
}

// Cancel cancels one order on the venue and drops the local record.
func (m *Manager) Cancel(ctx context.Context, strategyAccountID, symbol, exchangeOrderID string) error {
	venue, view, err := m.resolve(ctx, strategyAccountID)
	if err != nil {
		return err
	}
	if err := venue.CancelOrder(ctx, symbol, exchangeOrderID); err != nil {
		return fmt.Errorf("cancel order %s: %w", exchangeOrderID, err)
	}

	res := common.OrderResult{
		ExchangeOrderID: exchangeOrderID,
		Symbol:          symbol,
		Status:          common.StatusCancelled,
	}
	account := events.AccountRef{
		AccountID: view.AccountID,
		Name:      view.Account.Name,
		Exchange:  view.Account.Exchange,
	}
	if err := m.emitter.EmitCancel(ctx, view.Account.UserID, account, strategyAccountID, res); err != nil {
		log.Printf("orders: emit cancel event: %v", err)
	}
	return m.db.DeleteOpenOrder(ctx, strategyAccountID, exchangeOrderID)
}

// CancelReport lists the outcomes of a filtered cancellation pass.
type CancelReport struct {
	Cancelled []string `json:"cancelled_orders"`
	Failed    []string `json:"failed_orders"`
}

// CancelByFilter cancels every tracked order matching the filter. Each cancel
// is attempted independently; one venue rejection does not stop the sweep.
func (m *Manager) CancelByFilter(ctx context.Context, f db.OpenOrderFilter) (CancelReport, error) {
	open, err := m.db.ListOpenOrders(ctx, f)
	if err != nil {
		return CancelReport{}, err
	}

	report := CancelReport{Cancelled: []string{}, Failed: []string{}}
	for _, o := range open {
		if err := m.Cancel(ctx, o.StrategyAccountID, o.Symbol, o.ExchangeOrderID); err != nil {
			log.Printf("orders: cancel %s failed: %v", o.ExchangeOrderID, err)
			report.Failed = append(report.Failed, o.ExchangeOrderID)
			continue
		}
		report.Cancelled = append(report.Cancelled, o.ExchangeOrderID)
	}
	return report, nil
}

// Reconcile fetches venue state for every tracked order and applies
// transitions: fills route through the position manager, terminal states drop
// the local record, open states refresh the stored fill progress.
func (m *Manager) Reconcile(ctx context.Context) {
	open, err := m.db.ListOpenOrders(ctx, db.OpenOrderFilter{})
	if err != nil {
		log.Printf("orders: reconcile list: %v", err)
		return
	}

	for _, o := range open {
		if err := m.reconcileOne(ctx, o); err != nil {
			log.Printf("orders: reconcile %s: %v", o.ExchangeOrderID, err)
		}
	}
}

func (m *Manager) reconcileOne(ctx context.Context, o db.OpenOrder) error {
	venue, view, err := m.resolve(ctx, o.StrategyAccountID)
	if err != nil {
		return err
	}
	res, err := venue.FetchOrder(ctx, o.Symbol, o.ExchangeOrderID)
	if err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}

	status := common.NormalizeStatus(string(res.Status), view.Account.Exchange)
	newFill := res.FilledQuantity.GreaterThan(o.FilledQuantity)

	if newFill {
		prec, perr := venue.GetPrecision(ctx, o.Symbol)
		if perr != nil {
			prec = common.Precision{}
		}
		outcome, err := m.positions.ProcessOrderFill(ctx, view, venue, res, prec)
		if err != nil {
			return err
		}
		if outcome.Status == position.StatusSkipped {
			// Contended; the holder or the next sweep converges this order.
			return nil
		}
	}

	switch {
	case common.IsTerminal(status) && !newFill:
		// Cancelled/expired without an unseen fill: emit while the record
		// still resolves strategy context, then drop it.
		if status == common.StatusCancelled || status == common.StatusExpired {
			account := events.AccountRef{
				AccountID: view.AccountID,
				Name:      view.Account.Name,
				Exchange:  view.Account.Exchange,
			}
			if err := m.emitter.EmitCancel(ctx, view.Account.UserID, account, o.StrategyAccountID, res); err != nil {
				log.Printf("orders: emit cancel event: %v", err)
			}
		}
		if err := m.db.DeleteOpenOrder(ctx, o.StrategyAccountID, o.ExchangeOrderID); err != nil {
			return err
		}
	case !common.IsTerminal(status):
		o.FilledQuantity = res.FilledQuantity
		o.Status = status
		if err := m.db.UpsertOpenOrder(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// StartReconciler sweeps tracked orders on a fixed interval until ctx ends.
func (m *Manager) StartReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Reconcile(ctx)
			}
		}
	}()
}
