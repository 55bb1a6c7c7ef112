// Package summary rolls trades and balances into per-account daily rows on a
// cron schedule.
package summary

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/internal/gateway"
	"github.com/binee108/signalbridge/internal/record"
	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Service produces the daily account summaries.
type Service struct {
	db       *db.Database
	gateways *gateway.Manager
	cron     *cron.Cron
}

// NewService creates a summary service.
func NewService(database *db.Database, gateways *gateway.Manager) *Service {
	return &Service{
		db:       database,
		gateways: gateways,
		cron:     cron.New(),
	}
}

// Start schedules the rollup. The default schedule fires shortly after
// midnight so the job summarizes the previous UTC day.
func (s *Service) Start(ctx context.Context, cronSpec string) error {
	_, err := s.cron.AddFunc(cronSpec, func() {
		date := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
		if err := s.RunFor(ctx, date); err != nil {
			log.Printf("summary: rollup for %s: %v", date, err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for a running job to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// TradeHook returns the post-commit performance hook: every recorded trade
// re-derives the trade day's PnL and count for its account, so dashboards see
// intraday numbers without waiting for the nightly rollup. The balance column
// stays with the scheduled job. Failures log and return; the recorded trade
// is already committed.
func TradeHook(database *db.Database) record.Hook {
	return func(ctx context.Context, r record.Result) {
		if r.Status == record.StatusDuplicatePrevented {
			return
		}
		view, err := database.GetStrategyAccountView(ctx, r.Trade.StrategyAccountID)
		if err != nil {
			log.Printf("summary: trade hook resolve %s: %v", r.Trade.StrategyAccountID, err)
			return
		}
		date := r.Trade.ExecutedAt.UTC().Format("2006-01-02")
		pnls, err := database.DailyTradePnLs(ctx, view.AccountID, date)
		if err != nil {
			log.Printf("summary: trade hook pnls for %s: %v", view.AccountID, err)
			return
		}
		realized := decimal.Zero
		for _, raw := range pnls {
			d, perr := decimal.NewFromString(raw)
			if perr != nil {
				continue
			}
			realized = realized.Add(d)
		}
		if err := database.UpdateDailyTradeStats(ctx, view.AccountID, date, realized, len(pnls)); err != nil {
			log.Printf("summary: trade hook update for %s: %v", view.AccountID, err)
		}
	}
}

// RunFor summarizes one UTC day across all active accounts. Per-account
// failures are logged and the remaining accounts still get their rows.
func (s *Service) RunFor(ctx context.Context, date string) error {
	accounts, err := s.db.ListActiveAccounts(ctx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := s.summarizeAccount(ctx, account, date); err != nil {
			log.Printf("summary: account %s on %s: %v", account.ID, date, err)
		}
	}
	return nil
}

func (s *Service) summarizeAccount(ctx context.Context, account db.Account, date string) error {
	pnls, err := s.db.DailyTradePnLs(ctx, account.ID, date)
	if err != nil {
		return err
	}
	realized := decimal.Zero
	for _, raw := range pnls {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			log.Printf("summary: bad pnl %q for account %s, skipping row", raw, account.ID)
			continue
		}
		realized = realized.Add(d)
	}

	balance, err := s.fetchBalance(ctx, account)
	if err != nil {
		// A venue outage should not lose the PnL rollup.
		log.Printf("summary: balance fetch for account %s: %v", account.ID, err)
		balance = decimal.Zero
	}

	return s.db.UpsertDailySummary(ctx, db.DailyAccountSummary{
		AccountID:   account.ID,
		Date:        date,
		Balance:     balance,
		RealizedPnL: realized,
		TradeCount:  len(pnls),
	})
}

// fetchBalance sums stablecoin balances across the account's market segments.
func (s *Service) fetchBalance(ctx context.Context, account db.Account) (decimal.Decimal, error) {
	markets := []common.MarketType{common.MarketSpot, common.MarketFutures}
	if account.AccountType == common.AccountStock {
		markets = []common.MarketType{common.MarketStock}
	}

	total := decimal.Zero
	var lastErr error
	fetched := false
	for _, market := range markets {
		gw, err := s.gateways.For(ctx, account, market)
		if err != nil {
			lastErr = err
			continue
		}
		balances, err := gw.FetchBalance(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		fetched = true
		for _, b := range balances {
			if common.IsQuoteAsset(b.Asset) {
				total = total.Add(b.Free).Add(b.Locked)
			}
		}
	}
	if !fetched {
		return decimal.Zero, lastErr
	}
	return total, nil
}
