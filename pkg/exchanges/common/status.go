package common

// OrderStatus is the canonical order state used internally, independent of
// exchange vocabulary.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusNew             OrderStatus = "NEW"
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusFailed          OrderStatus = "FAILED"
)

// statusTables maps each venue's raw status strings onto the canonical set.
// Unknown inputs pass through unchanged so downstream can log and fail closed.
var statusTables = map[ExchangeName]map[string]OrderStatus{
	ExchangeBinance: {
		"NEW":              StatusNew,
		"PARTIALLY_FILLED": StatusPartiallyFilled,
		"FILLED":           StatusFilled,
		"CANCELED":         StatusCancelled,
		"PENDING_CANCEL":   StatusCancelled,
		"REJECTED":         StatusRejected,
		"EXPIRED":          StatusExpired,
		"EXPIRED_IN_MATCH": StatusExpired,
	},
	ExchangeBybit: {
		"Created":                 StatusPending,
		"New":                     StatusNew,
		"Untriggered":             StatusNew,
		"Triggered":               StatusOpen,
		"PartiallyFilled":         StatusPartiallyFilled,
		"Filled":                  StatusFilled,
		"Cancelled":               StatusCancelled,
		"PartiallyFilledCanceled": StatusCancelled,
		"Rejected":                StatusRejected,
		"Deactivated":             StatusCancelled,
		"Expired":                 StatusExpired,
	},
	ExchangeOKX: {
		"live":             StatusOpen,
		"partially_filled": StatusPartiallyFilled,
		"filled":           StatusFilled,
		"canceled":         StatusCancelled,
		"mmp_canceled":     StatusCancelled,
	},
	ExchangeUpbit: {
		"wait":   StatusOpen,
		"watch":  StatusNew,
		"trade":  StatusPartiallyFilled,
		"done":   StatusFilled,
		"cancel": StatusCancelled,
	},
	ExchangeKIS: {
		"01": StatusNew,             // accepted
		"02": StatusPartiallyFilled, // partial execution
		"03": StatusFilled,          // executed
		"04": StatusCancelled,       // cancel confirmed
		"05": StatusRejected,        // rejected by the broker
	},
}

// NormalizeStatus maps a raw venue status onto the canonical enum.
// "CANCELED" is accepted as an alias of CANCELLED for every venue.
func NormalizeStatus(raw string, exchange ExchangeName) OrderStatus {
	if raw == "CANCELED" || raw == "CANCELLED" {
		return StatusCancelled
	}
	if table, ok := statusTables[exchange]; ok {
		if mapped, ok := table[raw]; ok {
			return mapped
		}
	}
	return OrderStatus(raw)
}

// IsOpen reports whether the status is a non-terminal, exchange-live state.
func IsOpen(s OrderStatus) bool {
	switch s {
	case StatusNew, StatusOpen, StatusPartiallyFilled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s OrderStatus) bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired, StatusFailed:
		return true
	}
	return false
}
