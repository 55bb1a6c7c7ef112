package common

import "testing"

func TestDeriveCapacity(t *testing.T) {
	cases := []struct {
		exchange ExchangeName
		market   MarketType
		want     SideCapacity
	}{
		// Binance futures: min(200*10%, 10000*10%, 20) = 20
		{ExchangeBinance, MarketFutures, SideCapacity{MaxPerSide: 20, MaxLimitSide: 10, MaxStopSide: 10}},
		// Binance spot: min(25*10%, 1000*10%, 20) = 2
		{ExchangeBinance, MarketSpot, SideCapacity{MaxPerSide: 2, MaxLimitSide: 1, MaxStopSide: 1}},
		// Bybit futures: per-account unlimited, min(500*10%, 20) = 20
		{ExchangeBybit, MarketFutures, SideCapacity{MaxPerSide: 20, MaxLimitSide: 10, MaxStopSide: 10}},
		// Bybit spot: per-symbol unlimited, min(500*10%, 20) = 20
		{ExchangeBybit, MarketSpot, SideCapacity{MaxPerSide: 20, MaxLimitSide: 10, MaxStopSide: 10}},
		{ExchangeOKX, MarketFutures, SideCapacity{MaxPerSide: 20, MaxLimitSide: 10, MaxStopSide: 10}},
		// Upbit: both unlimited, defaults to 20
		{ExchangeUpbit, MarketSpot, SideCapacity{MaxPerSide: 20, MaxLimitSide: 10, MaxStopSide: 10}},
		// Unknown venue falls back to the default budget.
		{ExchangePaper, MarketSpot, SideCapacity{MaxPerSide: 20, MaxLimitSide: 10, MaxStopSide: 10}},
	}
	for _, tc := range cases {
		got := DeriveCapacity(tc.exchange, tc.market)
		if got != tc.want {
			t.Errorf("DeriveCapacity(%s, %s) = %+v, want %+v", tc.exchange, tc.market, got, tc.want)
		}
	}
}

func TestDeriveCapacityFloor(t *testing.T) {
	// A budget of exactly 1 is given to the STOP side.
	key := limitsKey{ExchangeName("TINY"), MarketSpot}
	Limits[key] = VenueLimits{PerSymbol: 10, PerAccount: Unlimited, Conditional: 1}
	defer delete(Limits, key)

	got := DeriveCapacity("TINY", MarketSpot)
	want := SideCapacity{MaxPerSide: 1, MaxLimitSide: 0, MaxStopSide: 1}
	if got != want {
		t.Errorf("DeriveCapacity = %+v, want %+v", got, want)
	}
}
