package core

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// RefreshCapital re-derives each active link's allocated capital from the
// account's settlement balance and the link's weight. Per-link failures are
// logged; the remaining links still refresh.
func (c *Core) RefreshCapital(ctx context.Context) {
	views, err := c.db.ListActiveStrategyLinks(ctx)
	if err != nil {
		log.Printf("core: capital refresh list links: %v", err)
		return
	}

	for i := range views {
		view := &views[i]
		gw, err := c.gateways.For(ctx, view.Account, view.Strategy.MarketType)
		if err != nil {
			log.Printf("core: capital refresh %s gateway: %v", view.ID, err)
			continue
		}
		balances, err := gw.FetchBalance(ctx)
		if err != nil {
			log.Printf("core: capital refresh %s balance: %v", view.ID, err)
			continue
		}

		total := decimal.Zero
		for _, b := range balances {
			if common.IsQuoteAsset(b.Asset) {
				total = total.Add(b.Free).Add(b.Locked)
			}
		}
		alloc := total.Mul(decimal.NewFromFloat(view.Weight))
		if err := c.db.SetAllocatedCapital(ctx, view.ID, alloc); err != nil {
			log.Printf("core: capital refresh %s store: %v", view.ID, err)
		}
	}
}

// StartCapitalRefresh runs RefreshCapital on a fixed interval until the
// context is cancelled.
func (c *Core) StartCapitalRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RefreshCapital(ctx)
			}
		}
	}()
}
