package queue

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/db"
	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

func newTestDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPriority(t *testing.T) {
	cases := []struct {
		typ  common.OrderType
		want int
	}{
		{common.OrderTypeMarket, PriorityMarket},
		{common.OrderTypeCancel, PriorityCancel},
		{common.OrderTypeCancelAll, PriorityCancel},
		{common.OrderTypeLimit, PriorityLimit},
		{common.OrderTypeBestLimit, PriorityLimit},
		{common.OrderTypeStopMarket, PriorityStopMarket},
		{common.OrderTypeConditionMarket, PriorityStopMarket},
		{common.OrderTypeStopLimit, PriorityStopLimit},
	}
	for _, tc := range cases {
		if got := Priority(tc.typ); got != tc.want {
			t.Errorf("Priority(%s) = %d, want %d", tc.typ, got, tc.want)
		}
	}
}

// Slot accounting classes orders by IsStop while submission ordering classes
// them by Priority. The two must agree or a stop-priority order would consume
// a limit slot.
func TestStopClassMatchesPriority(t *testing.T) {
	types := []common.OrderType{
		common.OrderTypeMarket,
		common.OrderTypeLimit,
		common.OrderTypeBestLimit,
		common.OrderTypeStopMarket,
		common.OrderTypeStopLimit,
		common.OrderTypeConditionMarket,
	}
	for _, typ := range types {
		p := Priority(typ)
		stopPriority := p == PriorityStopMarket || p == PriorityStopLimit
		if typ.IsStop() != stopPriority {
			t.Errorf("%s: IsStop = %v but priority %d classes it as stop = %v", typ, typ.IsStop(), p, stopPriority)
		}
	}
}

func TestSortPending(t *testing.T) {
	base := time.Now()
	orders := []db.PendingOrder{
		{ID: "stop-limit", OrderType: common.OrderTypeStopLimit, Priority: PriorityStopLimit, StopPrice: d("99"), EnqueuedAt: base},
		{ID: "limit-high", OrderType: common.OrderTypeLimit, Priority: PriorityLimit, Price: d("105"), EnqueuedAt: base},
		{ID: "stop-market", OrderType: common.OrderTypeStopMarket, Priority: PriorityStopMarket, StopPrice: d("101"), EnqueuedAt: base.Add(time.Second)},
		{ID: "limit-low", OrderType: common.OrderTypeLimit, Priority: PriorityLimit, Price: d("100"), EnqueuedAt: base.Add(2 * time.Second)},
		{ID: "stop-market-low", OrderType: common.OrderTypeStopMarket, Priority: PriorityStopMarket, StopPrice: d("100"), EnqueuedAt: base.Add(3 * time.Second)},
	}
	sortPending(orders)

	want := []string{"limit-low", "limit-high", "stop-market-low", "stop-market", "stop-limit"}
	for i, id := range want {
		if orders[i].ID != id {
			t.Fatalf("position %d = %s, want %s (full: %v)", i, orders[i].ID, id, ids(orders))
		}
	}
}

func TestSortPendingStopMarketBeforeStopLimitOnTie(t *testing.T) {
	base := time.Now()
	orders := []db.PendingOrder{
		{ID: "sl", OrderType: common.OrderTypeStopLimit, Priority: PriorityStopLimit, StopPrice: d("100"), EnqueuedAt: base},
		{ID: "sm", OrderType: common.OrderTypeStopMarket, Priority: PriorityStopMarket, StopPrice: d("100"), EnqueuedAt: base.Add(time.Minute)},
	}
	sortPending(orders)
	if orders[0].ID != "sm" {
		t.Fatalf("STOP_MARKET should sort before STOP_LIMIT at equal stop price, got %v", ids(orders))
	}
}

func ids(orders []db.PendingOrder) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestEnqueueAssignsPriorityAndID(t *testing.T) {
	database := newTestDB(t)
	m := NewManager(database)
	ctx := context.Background()

	p, err := m.Enqueue(ctx, nil, db.PendingOrder{
		StrategyAccountID: "sa1",
		Symbol:            "BTC/USDT",
		Side:              common.SideBuy,
		OrderType:         common.OrderTypeLimit,
		Quantity:          d("1"),
		Price:             d("100"),
	}, "webhook")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if p.ID == "" {
		t.Error("enqueue should assign an id")
	}
	if p.Priority != PriorityLimit {
		t.Errorf("priority = %d, want %d", p.Priority, PriorityLimit)
	}

	queued, err := database.ListPendingOrders(ctx, "sa1", "BTC/USDT", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(queued) != 1 || queued[0].Reason != "webhook" {
		t.Fatalf("queued = %+v", queued)
	}
}

func TestRebalanceSlotPromotesUpToCapacity(t *testing.T) {
	database := newTestDB(t)
	m := NewManager(database)
	ctx := context.Background()

	for i, price := range []string{"103", "101", "102"} {
		_, err := m.Enqueue(ctx, nil, db.PendingOrder{
			ID:                string(rune('a' + i)),
			StrategyAccountID: "sa1",
			Symbol:            "BTC/USDT",
			Side:              common.SideBuy,
			OrderType:         common.OrderTypeLimit,
			Quantity:          d("1"),
			Price:             d(price),
		}, "webhook")
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var promoted []string
	promote := func(ctx context.Context, p db.PendingOrder) bool {
		promoted = append(promoted, p.Price.String())
		return true
	}

	cap := common.SideCapacity{MaxPerSide: 2, MaxLimitSide: 2, MaxStopSide: 0}
	if err := m.RebalanceSlot(ctx, "sa1", "BTC/USDT", cap, promote); err != nil {
		t.Fatalf("rebalance: %v", err)
	}

	if len(promoted) != 2 {
		t.Fatalf("promoted %d orders, want 2: %v", len(promoted), promoted)
	}
	// Lowest price first.
	if promoted[0] != "101" || promoted[1] != "102" {
		t.Errorf("promotion order = %v, want [101 102]", promoted)
	}

	left, err := database.ListPendingOrders(ctx, "sa1", "BTC/USDT", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 || !left[0].Price.Equal(d("103")) {
		t.Fatalf("remaining queue = %+v", left)
	}
}

func TestRebalanceSlotKeepsOrderOnFailedPromotion(t *testing.T) {
	database := newTestDB(t)
	m := NewManager(database)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, nil, db.PendingOrder{
		StrategyAccountID: "sa1",
		Symbol:            "ETH/USDT",
		Side:              common.SideSell,
		OrderType:         common.OrderTypeStopMarket,
		Quantity:          d("1"),
		StopPrice:         d("90"),
	}, "webhook")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cap := common.SideCapacity{MaxPerSide: 2, MaxLimitSide: 1, MaxStopSide: 1}
	failing := func(ctx context.Context, p db.PendingOrder) bool { return false }
	if err := m.RebalanceSlot(ctx, "sa1", "ETH/USDT", cap, failing); err != nil {
		t.Fatalf("rebalance: %v", err)
	}

	left, err := database.ListPendingOrders(ctx, "sa1", "ETH/USDT", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left) != 1 {
		t.Fatalf("failed promotion must keep the order queued, queue = %+v", left)
	}
}

func TestHasSlotCountsByClass(t *testing.T) {
	database := newTestDB(t)
	m := NewManager(database)
	ctx := context.Background()

	// One live LIMIT buy occupies the only limit slot.
	err := database.UpsertOpenOrder(ctx, db.OpenOrder{
		StrategyAccountID: "sa1",
		ExchangeOrderID:   "x1",
		Symbol:            "BTC/USDT",
		Side:              common.SideBuy,
		OrderType:         common.OrderTypeLimit,
		Quantity:          d("1"),
		Status:            common.StatusNew,
		MarketType:        common.MarketFutures,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	cap := common.SideCapacity{MaxPerSide: 2, MaxLimitSide: 1, MaxStopSide: 1}

	ok, err := m.HasSlot(ctx, "sa1", "BTC/USDT", common.SideBuy, common.OrderTypeLimit, cap)
	if err != nil {
		t.Fatalf("has slot: %v", err)
	}
	if ok {
		t.Error("limit buy slot should be full")
	}

	// Stop class and the opposite side are unaffected.
	if ok, _ := m.HasSlot(ctx, "sa1", "BTC/USDT", common.SideBuy, common.OrderTypeStopMarket, cap); !ok {
		t.Error("stop slot should be free")
	}
	if ok, _ := m.HasSlot(ctx, "sa1", "BTC/USDT", common.SideSell, common.OrderTypeLimit, cap); !ok {
		t.Error("sell side should be free")
	}
}
