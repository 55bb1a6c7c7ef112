package position

import (
	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// mergeResult is the outcome of folding one fill into a position.
type mergeResult struct {
	Quantity    decimal.Decimal // signed, positive long
	EntryPrice  decimal.Decimal
	RealizedPnL decimal.Decimal
}

// mergeFill folds a fill of qty at price into the signed position
// (curQty, curEntry). Buys add, sells subtract. Increasing exposure
// volume-weights the entry; reducing realizes PnL against the entry; crossing
// through zero re-opens at the fill price.
func mergeFill(curQty, curEntry decimal.Decimal, side common.Side, qty, price decimal.Decimal) mergeResult {
	tradeQty := qty
	if side == common.SideSell {
		tradeQty = qty.Neg()
	}

	if curQty.IsZero() {
		return mergeResult{Quantity: tradeQty, EntryPrice: price}
	}

	if curQty.Sign() == tradeQty.Sign() {
		newQty := curQty.Add(tradeQty)
		absCur := curQty.Abs()
		absTrade := tradeQty.Abs()
		entry := absCur.Mul(curEntry).Add(absTrade.Mul(price)).Div(absCur.Add(absTrade))
		return mergeResult{Quantity: newQty, EntryPrice: entry}
	}

	closing := decimal.Min(curQty.Abs(), tradeQty.Abs())
	var realized decimal.Decimal
	if curQty.Sign() > 0 {
		realized = closing.Mul(price.Sub(curEntry))
	} else {
		realized = closing.Mul(curEntry.Sub(price))
	}

	residual := curQty.Add(tradeQty)
	entry := curEntry
	if residual.IsZero() {
		entry = decimal.Zero
	} else if residual.Sign() != curQty.Sign() {
		// Flipped through zero; the overshoot opens a new position at the
		// fill price.
		entry = price
	}
	return mergeResult{Quantity: residual, EntryPrice: entry, RealizedPnL: realized}
}
