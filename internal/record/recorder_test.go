package record

import (
	"context"
	"database/sql"
	"testing"

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

func record(t *testing.T, database *db.Database, r *Recorder, in FillInput) Result {
	t.Helper()
	var res Result
	err := database.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		res, err = r.RecordTx(context.Background(), tx, in)
		return err
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	return res
}

func fill(qty string) FillInput {
	return FillInput{
		StrategyAccountID: "sa1",
		ExchangeOrderID:   "ord-1",
		Symbol:            "BTC/USDT",
		Side:              common.SideBuy,
		Quantity:          d(qty),
		Price:             d("100"),
		OrderType:         common.OrderTypeMarket,
		IsEntry:           true,
	}
}

func TestRecordCreatesOnce(t *testing.T) {
	database := newTestDB(t)
	r := NewRecorder(database)

	res := record(t, database, r, fill("2"))
	if res.Status != StatusCreated {
		t.Fatalf("status = %s, want created", res.Status)
	}
	if !res.QuantityDelta.Equal(d("2")) {
		t.Fatalf("delta = %s, want 2", res.QuantityDelta)
	}

	// Identical cumulative report is a duplicate.
	res = record(t, database, r, fill("2"))
	if res.Status != StatusDuplicatePrevented {
		t.Fatalf("status = %s, want duplicate_prevented", res.Status)
	}
	if !res.QuantityDelta.IsZero() {
		t.Fatalf("delta = %s, want 0", res.QuantityDelta)
	}
}

func TestRecordCumulativeUpdate(t *testing.T) {
	database := newTestDB(t)
	r := NewRecorder(database)

	record(t, database, r, fill("1"))

	// Exchange reports cumulative 3: delta is 2.
	res := record(t, database, r, fill("3"))
	if res.Status != StatusUpdated {
		t.Fatalf("status = %s, want updated", res.Status)
	}
	if !res.QuantityDelta.Equal(d("2")) {
		t.Fatalf("delta = %s, want 2", res.QuantityDelta)
	}
	if !res.Trade.Quantity.Equal(d("3")) {
		t.Fatalf("stored quantity = %s, want 3", res.Trade.Quantity)
	}

	// A stale lower report never shrinks the record.
	res = record(t, database, r, fill("2"))
	if res.Status != StatusDuplicatePrevented {
		t.Fatalf("status = %s, want duplicate_prevented", res.Status)
	}
	if !res.Trade.Quantity.Equal(d("3")) {
		t.Fatalf("stored quantity = %s, want 3", res.Trade.Quantity)
	}
}

func TestRecordSumsPnLAcrossUpdates(t *testing.T) {
	database := newTestDB(t)
	r := NewRecorder(database)

	first := fill("1")
	pnl1 := d("10")
	first.PnL = &pnl1
	record(t, database, r, first)

	second := fill("2")
	pnl2 := d("5")
	second.PnL = &pnl2
	res := record(t, database, r, second)

	if res.Trade.PnL == nil || !res.Trade.PnL.Equal(d("15")) {
		t.Fatalf("pnl = %v, want 15", res.Trade.PnL)
	}
}

func TestRecordRejectsNonPositiveInput(t *testing.T) {
	database := newTestDB(t)
	r := NewRecorder(database)

	err := database.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := r.RecordTx(context.Background(), tx, fill("0"))
		return err
	})
	if err == nil {
		t.Fatal("zero quantity should be rejected")
	}

	bad := fill("1")
	bad.Price = decimal.Zero
	err = database.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := r.RecordTx(context.Background(), tx, bad)
		return err
	})
	if err == nil {
		t.Fatal("zero price should be rejected")
	}
}

func TestRecordDistinctOrdersCoexist(t *testing.T) {
	database := newTestDB(t)
	r := NewRecorder(database)

	record(t, database, r, fill("1"))

	other := fill("1")
	other.ExchangeOrderID = "ord-2"
	res := record(t, database, r, other)
	if res.Status != StatusCreated {
		t.Fatalf("status = %s, want created", res.Status)
	}

	trades, err := database.ListTradesByAccount(context.Background(), "sa1", 0)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("trade count = %d, want 2", len(trades))
	}
}

func TestRunHooksSurvivesPanic(t *testing.T) {
	database := newTestDB(t)
	r := NewRecorder(database)

	var called bool
	r.AddHook(func(ctx context.Context, res Result) { panic("boom") })
	r.AddHook(func(ctx context.Context, res Result) { called = true })

	r.RunHooks(context.Background(), Result{Status: StatusCreated})
	if !called {
		t.Fatal("hook after a panicking hook should still run")
	}
}
