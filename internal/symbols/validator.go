// Package symbols validates and quantizes order parameters against per
// instrument trading rules: step size, tick size, minimum quantity and
// minimum notional.
package symbols

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// Error types returned by Validate.
const (
	ErrTypeMinQuantity = "min_quantity_error"
	ErrTypeMinNotional = "min_notional_error"
	ErrTypeStep        = "step_error"
	ErrTypeTick        = "tick_error"
)

// ValidationError carries the machine-readable error type alongside the
// human-readable message.
type ValidationError struct {
	Type    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Result is a successful validation with the adjusted values and the rules
// that produced them.
type Result struct {
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	MinQuantity decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// PrecisionSource supplies instrument rules, usually an exchange adapter.
type PrecisionSource interface {
	GetPrecision(ctx context.Context, symbol string) (common.Precision, error)
}

// Validator caches instrument rules per (exchange, market, symbol) and merges
// in local overrides loaded from a rules file.
type Validator struct {
	mu        sync.RWMutex
	overrides map[string]common.Precision
	cache     map[string]common.Precision
}

// NewValidator creates a validator with optional local overrides.
func NewValidator(overrides map[string]common.Precision) *Validator {
	if overrides == nil {
		overrides = make(map[string]common.Precision)
	}
	return &Validator{
		overrides: overrides,
		cache:     make(map[string]common.Precision),
	}
}

func ruleKey(exchange common.ExchangeName, market common.MarketType, symbol string) string {
	return string(exchange) + ":" + string(market) + ":" + symbol
}

// Rules resolves the precision for one instrument: local override first, then
// the cached exchange answer, then a live fetch.
func (v *Validator) Rules(ctx context.Context, src PrecisionSource, exchange common.ExchangeName, market common.MarketType, symbol string) (common.Precision, error) {
	key := ruleKey(exchange, market, symbol)

	v.mu.RLock()
	if p, ok := v.overrides[key]; ok {
		v.mu.RUnlock()
		return p, nil
	}
	if p, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return p, nil
	}
	v.mu.RUnlock()

	if src == nil {
		return common.Precision{}, fmt.Errorf("no precision source for %s", key)
	}
	p, err := src.GetPrecision(ctx, symbol)
	if err != nil {
		return common.Precision{}, fmt.Errorf("fetch precision %s: %w", symbol, err)
	}

	v.mu.Lock()
	v.cache[key] = p
	v.mu.Unlock()
	return p, nil
}

// Validate quantizes quantity and prices to the instrument rules. Quantity is
// floored to the step; prices are rounded to the nearest tick. A quantity that
// floors to zero is a min_quantity_error so callers can tell "too small" from
// "invalid".
func (v *Validator) Validate(ctx context.Context, src PrecisionSource, exchange common.ExchangeName, market common.MarketType, symbol string, quantity, price, stopPrice decimal.Decimal) (Result, error) {
	rules, err := v.Rules(ctx, src, exchange, market, symbol)
	if err != nil {
		return Result{}, err
	}

	adjQty, err := floorToStep(quantity, rules.StepSize)
	if err != nil {
		return Result{}, &ValidationError{Type: ErrTypeStep, Message: err.Error()}
	}
	if adjQty.IsZero() || (!rules.MinQty.IsZero() && adjQty.LessThan(rules.MinQty)) {
		return Result{}, &ValidationError{
			Type:    ErrTypeMinQuantity,
			Message: fmt.Sprintf("quantity %s below minimum %s for %s", quantity, rules.MinQty, symbol),
		}
	}

	adjPrice, err := roundToTick(price, rules.TickSize)
	if err != nil {
		return Result{}, &ValidationError{Type: ErrTypeTick, Message: err.Error()}
	}
	adjStop, err := roundToTick(stopPrice, rules.TickSize)
	if err != nil {
		return Result{}, &ValidationError{Type: ErrTypeTick, Message: err.Error()}
	}

	if !rules.MinNotional.IsZero() && !adjPrice.IsZero() {
		notional := adjQty.Mul(adjPrice)
		if notional.LessThan(rules.MinNotional) {
			return Result{}, &ValidationError{
				Type: ErrTypeMinNotional,
				Message: fmt.Sprintf("notional %s below minimum %s for %s",
					notional, rules.MinNotional, symbol),
			}
		}
	}

	return Result{
		Quantity:    adjQty,
		Price:       adjPrice,
		StopPrice:   adjStop,
		MinQuantity: rules.MinQty,
		StepSize:    rules.StepSize,
		MinNotional: rules.MinNotional,
	}, nil
}

// floorToStep truncates toward zero to a multiple of step.
func floorToStep(v, step decimal.Decimal) (decimal.Decimal, error) {
	if step.Sign() <= 0 {
		return v, nil
	}
	if v.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("quantity %s is negative", v)
	}
	return v.Div(step).Floor().Mul(step), nil
}

// roundToTick rounds half-up to a multiple of tick.
func roundToTick(v, tick decimal.Decimal) (decimal.Decimal, error) {
	if tick.Sign() <= 0 || v.IsZero() {
		return v, nil
	}
	if v.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("price %s is negative", v)
	}
	return v.Div(tick).Round(0).Mul(tick), nil
}
