package gateway

import (
	"fmt"

	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/binance"
	"github.com/binee108/signalbridge/pkg/exchanges/bybit"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
	"github.com/binee108/signalbridge/pkg/exchanges/paper"
)

// Credentials are an account's decrypted API keys.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// build constructs a venue adapter for one account on one market segment.
func build(account db.Account, market common.MarketType, creds Credentials, testnet bool) (common.Exchange, error) {
	limiter := common.NewAccountLimiter(10, 20)

	switch account.Exchange {
	case common.ExchangeBinance:
		return binance.New(binance.Config{
			APIKey:     creds.APIKey,
			APISecret:  creds.APISecret,
			Market:     market,
			Testnet:    account.IsTestnet || testnet,
			AccountKey: account.ID,
		}, limiter), nil
	case common.ExchangeBybit:
		return bybit.New(bybit.Config{
			APIKey:     creds.APIKey,
			APISecret:  creds.APISecret,
			Market:     market,
			Testnet:    account.IsTestnet || testnet,
			AccountKey: account.ID,
		}, limiter), nil
	case common.ExchangePaper:
		return paper.New(market), nil
	default:
		return nil, fmt.Errorf("unsupported exchange %s", account.Exchange)
	}
}
