package common

import "context"

// Exchange abstracts a trading venue for one account's credentials on one
// market segment. Accounts that trade several segments hold one Exchange per
// segment, mirroring how venues separate their spot and derivatives APIs.
type Exchange interface {
	Name() ExchangeName
	Market() MarketType
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	FetchOrder(ctx context.Context, symbol, exchangeOrderID string) (OrderResult, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchBalance(ctx context.Context) ([]Balance, error)
	CreateBatchOrders(ctx context.Context, reqs []OrderRequest) ([]OrderOutcome, error)
	GetPrecision(ctx context.Context, symbol string) (Precision, error)
}

// VenueSymbol converts a canonical "BASE/QUOTE" symbol into the compact form
// most venues use ("BTC/USDT" -> "BTCUSDT").
func VenueSymbol(symbol string) string {
	out := make([]byte, 0, len(symbol))
	for i := 0; i < len(symbol); i++ {
		if symbol[i] != '/' {
			out = append(out, symbol[i])
		}
	}
	return string(out)
}
