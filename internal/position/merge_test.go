package position

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestMergeFill(t *testing.T) {
	cases := []struct {
		name     string
		curQty   string
		curEntry string
		side     common.Side
		qty      string
		price    string
		wantQty  string
		wantEnt  string
		wantPnL  string
	}{
		{
			name:   "open long from flat",
			curQty: "0", curEntry: "0",
			side: common.SideBuy, qty: "2", price: "100",
			wantQty: "2", wantEnt: "100", wantPnL: "0",
		},
		{
			name:   "open short from flat",
			curQty: "0", curEntry: "0",
			side: common.SideSell, qty: "3", price: "50",
			wantQty: "-3", wantEnt: "50", wantPnL: "0",
		},
		{
			name:   "add to long volume-weights entry",
			curQty: "1", curEntry: "100",
			side: common.SideBuy, qty: "1", price: "110",
			wantQty: "2", wantEnt: "105", wantPnL: "0",
		},
		{
			name:   "add to short volume-weights entry",
			curQty: "-2", curEntry: "100",
			side: common.SideSell, qty: "2", price: "90",
			wantQty: "-4", wantEnt: "95", wantPnL: "0",
		},
		{
			name:   "partial close long realizes gain",
			curQty: "4", curEntry: "100",
			side: common.SideSell, qty: "1", price: "120",
			wantQty: "3", wantEnt: "100", wantPnL: "20",
		},
		{
			name:   "full close long at loss",
			curQty: "2", curEntry: "100",
			side: common.SideSell, qty: "2", price: "90",
			wantQty: "0", wantEnt: "0", wantPnL: "-20",
		},
		{
			name:   "partial close short realizes gain",
			curQty: "-3", curEntry: "100",
			side: common.SideBuy, qty: "1", price: "80",
			wantQty: "-2", wantEnt: "100", wantPnL: "20",
		},
		{
			name:   "flip long to short reopens at fill price",
			curQty: "1", curEntry: "100",
			side: common.SideSell, qty: "3", price: "110",
			wantQty: "-2", wantEnt: "110", wantPnL: "10",
		},
		{
			name:   "flip short to long reopens at fill price",
			curQty: "-2", curEntry: "50",
			side: common.SideBuy, qty: "5", price: "40",
			wantQty: "3", wantEnt: "40", wantPnL: "20",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mergeFill(d(tc.curQty), d(tc.curEntry), tc.side, d(tc.qty), d(tc.price))
			if !got.Quantity.Equal(d(tc.wantQty)) {
				t.Errorf("quantity = %s, want %s", got.Quantity, tc.wantQty)
			}
			if !got.EntryPrice.Equal(d(tc.wantEnt)) {
				t.Errorf("entry = %s, want %s", got.EntryPrice, tc.wantEnt)
			}
			if !got.RealizedPnL.Equal(d(tc.wantPnL)) {
				t.Errorf("pnl = %s, want %s", got.RealizedPnL, tc.wantPnL)
			}
		})
	}
}

func TestMergeFillFractional(t *testing.T) {
	// Decimal arithmetic keeps fractional entries exact.
	got := mergeFill(d("0.3"), d("30000"), common.SideBuy, d("0.1"), d("31000"))
	if !got.Quantity.Equal(d("0.4")) {
		t.Fatalf("quantity = %s, want 0.4", got.Quantity)
	}
	if !got.EntryPrice.Equal(d("30250")) {
		t.Fatalf("entry = %s, want 30250", got.EntryPrice)
	}
}

func TestLockRegistry(t *testing.T) {
	locks := newLockRegistry()

	release, ok := locks.TryAcquire("sa1:BTC/USDT")
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	if _, ok := locks.TryAcquire("sa1:BTC/USDT"); ok {
		t.Fatal("second acquire on held key should fail")
	}
	// A different key is independent.
	release2, ok := locks.TryAcquire("sa1:ETH/USDT")
	if !ok {
		t.Fatal("different key should acquire")
	}
	release2()
	release()

	if _, ok := locks.TryAcquire("sa1:BTC/USDT"); !ok {
		t.Fatal("acquire after release should succeed")
	}
}
