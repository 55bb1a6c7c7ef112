// Package queue admits LIMIT and STOP orders against per-venue open-order
// capacity. Orders that cannot claim an exchange slot wait in the pending
// queue; a background rebalancer promotes them as slots free up.
package queue

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Submission priorities, lower first.
const (
	PriorityMarket     = 1
	PriorityCancel     = 2
	PriorityLimit      = 3
	PriorityStopMarket = 4
	PriorityStopLimit  = 5
)

// Priority maps an order type to its queue priority.
func Priority(t common.OrderType) int {
	switch t {
	case common.OrderTypeMarket:
		return PriorityMarket
	case common.OrderTypeCancel, common.OrderTypeCancelAll:
		return PriorityCancel
	case common.OrderTypeLimit, common.OrderTypeBestLimit:
		return PriorityLimit
	case common.OrderTypeStopMarket, common.OrderTypeConditionMarket:
		return PriorityStopMarket
	case common.OrderTypeStopLimit:
		return PriorityStopLimit
	default:
		return PriorityStopLimit
	}
}

// Manager owns capacity admission and the pending queue.
type Manager struct {
	db *db.Database
}

// NewManager creates a queue manager.
func NewManager(database *db.Database) *Manager {
	return &Manager{db: database}
}

// Capacity derives the side-aware order budget for one venue segment.
func (m *Manager) Capacity(exchange common.ExchangeName, market common.MarketType) common.SideCapacity {
	return common.DeriveCapacity(exchange, market)
}

// HasSlot reports whether (link, symbol, side) can take one more live order of
// the given class without breaching the per-side cap.
func (m *Manager) HasSlot(ctx context.Context, strategyAccountID, symbol string, side common.Side, orderType common.OrderType, cap common.SideCapacity) (bool, error) {
	usage, err := m.db.CountSlotUsage(ctx, strategyAccountID, symbol)
	if err != nil {
		return false, err
	}
	if orderType.IsStop() {
		return usage.StopOrders[side] < cap.MaxStopSide, nil
	}
	return usage.LimitOrders[side] < cap.MaxLimitSide, nil
}

// Enqueue stages an order in the pending queue with its priority assigned.
// r may be a transaction for batch admission under one outer commit; nil
// writes directly.
func (m *Manager) Enqueue(ctx context.Context, r db.Runner, p db.PendingOrder, reason string) (db.PendingOrder, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.Priority = Priority(p.OrderType)
	p.Reason = reason
	if err := m.db.InsertPendingOrder(ctx, r, p); err != nil {
		return p, err
	}
	return p, nil
}

// Promoter submits a pending order to its venue. A false return means the
// order should stay queued (submission failed transiently).
type Promoter func(ctx context.Context, p db.PendingOrder) bool

// RebalanceSlot promotes queued orders for one (link, symbol) while per-side
// capacity allows, in priority then secondary-key order.
func (m *Manager) RebalanceSlot(ctx context.Context, strategyAccountID, symbol string, cap common.SideCapacity, promote Promoter) error {
	pending, err := m.db.ListPendingOrders(ctx, strategyAccountID, symbol, 0)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	sortPending(pending)

	usage, err := m.db.CountSlotUsage(ctx, strategyAccountID, symbol)
	if err != nil {
		return err
	}

	for _, p := range pending {
		var free bool
		if p.OrderType.IsStop() {
			free = usage.StopOrders[p.Side] < cap.MaxStopSide
		} else {
			free = usage.LimitOrders[p.Side] < cap.MaxLimitSide
		}
		if !free {
			continue
		}
		if !promote(ctx, p) {
			continue
		}
		if err := m.db.DeletePendingOrder(ctx, p.ID); err != nil {
			return err
		}
		if p.OrderType.IsStop() {
			usage.StopOrders[p.Side]++
		} else {
			usage.LimitOrders[p.Side]++
		}
	}
	return nil
}

// sortPending orders by priority, then the per-type secondary key: LIMIT by
// price, STOP by stop price with STOP_MARKET before STOP_LIMIT on ties, then
// FIFO.
func sortPending(orders []db.PendingOrder) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		switch {
		case a.OrderType.IsStop() && b.OrderType.IsStop():
			if !a.StopPrice.Equal(b.StopPrice) {
				return a.StopPrice.LessThan(b.StopPrice)
			}
			if a.OrderType != b.OrderType {
				return a.OrderType == common.OrderTypeStopMarket
			}
		case a.Priority == PriorityLimit:
			if !a.Price.Equal(b.Price) {
				return a.Price.LessThan(b.Price)
			}
		}
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	})
}

// CapacityResolver maps a link to its venue capacity, provided by the core
// which knows each link's exchange and market.
type CapacityResolver func(ctx context.Context, strategyAccountID string) (common.SideCapacity, bool)

// StartRebalancer promotes queued orders on a fixed interval until ctx ends.
func (m *Manager) StartRebalancer(ctx context.Context, interval time.Duration, resolve CapacityResolver, promote Promoter) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.rebalanceAll(ctx, resolve, promote)
			}
		}
	}()
}

func (m *Manager) rebalanceAll(ctx context.Context, resolve CapacityResolver, promote Promoter) {
	slots, err := m.db.ListPendingSlots(ctx)
	if err != nil {
		log.Printf("queue: list pending slots: %v", err)
		return
	}
	for _, slot := range slots {
		said, symbol := slot[0], slot[1]
		cap, ok := resolve(ctx, said)
		if !ok {
			continue
		}
		if err := m.RebalanceSlot(ctx, said, symbol, cap, promote); err != nil {
			log.Printf("queue: rebalance %s %s: %v", said, symbol, err)
		}
	}
}
