package common

import "testing"

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw      string
		exchange ExchangeName
		want     OrderStatus
	}{
		{"NEW", ExchangeBinance, StatusNew},
		{"PARTIALLY_FILLED", ExchangeBinance, StatusPartiallyFilled},
		{"FILLED", ExchangeBinance, StatusFilled},
		{"CANCELED", ExchangeBinance, StatusCancelled},
		{"PENDING_CANCEL", ExchangeBinance, StatusCancelled},
		{"EXPIRED_IN_MATCH", ExchangeBinance, StatusExpired},
		{"New", ExchangeBybit, StatusNew},
		{"Untriggered", ExchangeBybit, StatusNew},
		{"Triggered", ExchangeBybit, StatusOpen},
		{"PartiallyFilledCanceled", ExchangeBybit, StatusCancelled},
		{"Deactivated", ExchangeBybit, StatusCancelled},
		{"live", ExchangeOKX, StatusOpen},
		{"mmp_canceled", ExchangeOKX, StatusCancelled},
		{"wait", ExchangeUpbit, StatusOpen},
		{"done", ExchangeUpbit, StatusFilled},
		{"03", ExchangeKIS, StatusFilled},
		{"05", ExchangeKIS, StatusRejected},
		// Spelling alias holds for every venue.
		{"CANCELED", ExchangeBybit, StatusCancelled},
		{"CANCELLED", ExchangeOKX, StatusCancelled},
	}
	for _, tc := range cases {
		if got := NormalizeStatus(tc.raw, tc.exchange); got != tc.want {
			t.Errorf("NormalizeStatus(%q, %s) = %s, want %s", tc.raw, tc.exchange, got, tc.want)
		}
	}
}

func TestNormalizeStatusUnknownPassesThrough(t *testing.T) {
	if got := NormalizeStatus("WEIRD_STATE", ExchangeBinance); got != OrderStatus("WEIRD_STATE") {
		t.Errorf("unknown status should pass through, got %s", got)
	}
}

func TestStatusPredicates(t *testing.T) {
	open := []OrderStatus{StatusNew, StatusOpen, StatusPartiallyFilled}
	for _, s := range open {
		if !IsOpen(s) {
			t.Errorf("IsOpen(%s) = false", s)
		}
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true", s)
		}
	}
	terminal := []OrderStatus{StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusFailed}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false", s)
		}
		if IsOpen(s) {
			t.Errorf("IsOpen(%s) = true", s)
		}
	}
	if IsOpen(StatusPending) || IsTerminal(StatusPending) {
		t.Error("PENDING is neither open nor terminal")
	}
}
