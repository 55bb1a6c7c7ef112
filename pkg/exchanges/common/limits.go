package common

// Unlimited marks a venue limit the exchange does not enforce.
const Unlimited = 1 << 30

// VenueLimits holds a venue's open-order count limits for one market segment.
type VenueLimits struct {
	PerSymbol   int // max open orders per symbol
	PerAccount  int // max open orders per account
	Conditional int // max conditional (stop) orders per symbol
}

type limitsKey struct {
	Exchange ExchangeName
	Market   MarketType
}

// Limits reproduces each venue's documented open-order count limits.
var Limits = map[limitsKey]VenueLimits{
	{ExchangeBinance, MarketFutures}: {PerSymbol: 200, PerAccount: 10000, Conditional: 10},
	{ExchangeBinance, MarketSpot}:    {PerSymbol: 25, PerAccount: 1000, Conditional: 5},
	{ExchangeBybit, MarketFutures}:   {PerSymbol: 500, PerAccount: Unlimited, Conditional: 10},
	{ExchangeBybit, MarketSpot}:      {PerSymbol: Unlimited, PerAccount: 500, Conditional: 30},
	{ExchangeOKX, MarketFutures}:     {PerSymbol: 500, PerAccount: 4000, Conditional: Unlimited},
	{ExchangeOKX, MarketSpot}:        {PerSymbol: 500, PerAccount: 4000, Conditional: Unlimited},
	{ExchangeUpbit, MarketSpot}:      {PerSymbol: Unlimited, PerAccount: Unlimited, Conditional: 20},
}

// LimitsFor returns the venue limits for (exchange, market). Unknown venues
// get an unconstrained entry so capacity derivation falls back to defaults.
func LimitsFor(exchange ExchangeName, market MarketType) VenueLimits {
	if l, ok := Limits[limitsKey{exchange, market}]; ok {
		return l
	}
	return VenueLimits{PerSymbol: Unlimited, PerAccount: Unlimited, Conditional: Unlimited}
}

// SideCapacity is the derived per-(account,symbol,side) admission budget for
// locally managed LIMIT/STOP orders.
type SideCapacity struct {
	MaxPerSide   int // total managed orders per side
	MaxLimitSide int // LIMIT share
	MaxStopSide  int // STOP share
}

const (
	capacityShare   = 10 // percent of the venue limit this process may use
	capacityDefault = 20
	capacityCeiling = 20
)

// DeriveCapacity computes the per-side order budget for (exchange, market):
// the lesser of 10% of the venue per-symbol limit, 10% of the per-account
// limit, and 20; capped at 20 and floored at 1. The stop side takes the
// integer half, except that a budget of exactly 1 goes to STOP.
func DeriveCapacity(exchange ExchangeName, market MarketType) SideCapacity {
	l := LimitsFor(exchange, market)

	cap := capacityDefault
	if l.PerSymbol != Unlimited {
		if derived := l.PerSymbol * capacityShare / 100; derived < cap {
			cap = derived
		}
	}
	if l.PerAccount != Unlimited {
		if derived := l.PerAccount * capacityShare / 100; derived < cap {
			cap = derived
		}
	}
	if cap > capacityCeiling {
		cap = capacityCeiling
	}
	if cap < 1 {
		cap = 1
	}

	stop := cap / 2
	limit := cap - stop
	if cap == 1 {
		stop, limit = 1, 0
	}
	return SideCapacity{MaxPerSide: cap, MaxLimitSide: limit, MaxStopSide: stop}
}
