package events

import (
	"errors"
	"testing"
	"time"

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

func TestExtractPriceMarket(t *testing.T) {
	// Unfilled MARKET has no price yet; zero is legitimate.
	price, err := ExtractPrice(common.OrderTypeMarket, common.OrderResult{})
	if err != nil {
		t.Fatalf("unfilled market: %v", err)
	}
	if !price.IsZero() {
		t.Fatalf("price = %s, want 0", price)
	}

	// Filled MARKET must carry the average price.
	price, err = ExtractPrice(common.OrderTypeMarket, common.OrderResult{
		FilledQuantity: d("1"),
		AveragePrice:   d("100.5"),
	})
	if err != nil {
		t.Fatalf("filled market: %v", err)
	}
	if !price.Equal(d("100.5")) {
		t.Fatalf("price = %s, want 100.5", price)
	}

	// A filled MARKET with no average price is a broken payload.
	_, err = ExtractPrice(common.OrderTypeMarket, common.OrderResult{FilledQuantity: d("1")})
	var missing *ErrMissingPrice
	if !errors.As(err, &missing) {
		t.Fatalf("want ErrMissingPrice, got %v", err)
	}
}

func TestExtractPriceLimitFamily(t *testing.T) {
	for _, typ := range []common.OrderType{common.OrderTypeLimit, common.OrderTypeStopLimit} {
		price, err := ExtractPrice(typ, common.OrderResult{AdjustedPrice: d("99")})
		if err != nil {
			t.Fatalf("%s adjusted: %v", typ, err)
		}
		if !price.Equal(d("99")) {
			t.Fatalf("%s price = %s, want 99", typ, price)
		}

		// Average price is the fallback.
		price, err = ExtractPrice(typ, common.OrderResult{AveragePrice: d("98")})
		if err != nil {
			t.Fatalf("%s average: %v", typ, err)
		}
		if !price.Equal(d("98")) {
			t.Fatalf("%s price = %s, want 98", typ, price)
		}

		_, err = ExtractPrice(typ, common.OrderResult{})
		var missing *ErrMissingPrice
		if !errors.As(err, &missing) {
			t.Fatalf("%s empty: want ErrMissingPrice, got %v", typ, err)
		}
	}
}

func TestExtractPriceStopMarket(t *testing.T) {
	price, err := ExtractPrice(common.OrderTypeStopMarket, common.OrderResult{AdjustedStopPrice: d("95")})
	if err != nil {
		t.Fatalf("stop market: %v", err)
	}
	if !price.Equal(d("95")) {
		t.Fatalf("price = %s, want 95", price)
	}

	_, err = ExtractPrice(common.OrderTypeStopMarket, common.OrderResult{AveragePrice: d("95")})
	var missing *ErrMissingPrice
	if !errors.As(err, &missing) {
		t.Fatalf("want ErrMissingPrice, got %v", err)
	}
}

func TestBusDeliversPerUser(t *testing.T) {
	bus := NewBus()

	ch1, unsub1 := bus.Subscribe("u1", 4)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe("u2", 4)
	defer unsub2()

	bus.Publish("u1", Envelope{Type: TypeOrderCreated, Payload: "a"})

	select {
	case env := <-ch1:
		if env.Type != TypeOrderCreated {
			t.Fatalf("type = %s", env.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("u1 did not receive event")
	}

	select {
	case env := <-ch2:
		t.Fatalf("u2 received another user's event: %+v", env)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe("u1", 1)
	defer unsub()

	bus.Publish("u1", Envelope{Type: TypeOrderCreated})
	// Buffer full; this publish must not block.
	done := make(chan struct{})
	go func() {
		bus.Publish("u1", Envelope{Type: TypeOrderFilled})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	if env := <-ch; env.Type != TypeOrderCreated {
		t.Fatalf("first event = %s", env.Type)
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe("u1", 1)
	unsub()

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe is a no-op.
	bus.Publish("u1", Envelope{Type: TypeOrderCreated})
}
