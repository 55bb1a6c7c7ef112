package symbols

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/binee108/signalbridge/pkg/exchanges/common"
)

// ruleFile is the YAML shape for local instrument overrides. Overrides win
// over whatever the exchange reports, which matters for venues with stale or
// missing filter data.
type ruleFile struct {
	Rules []struct {
		Exchange    string `yaml:"exchange"`
		Market      string `yaml:"market"`
		Symbol      string `yaml:"symbol"`
		StepSize    string `yaml:"step_size"`
		TickSize    string `yaml:"tick_size"`
		MinQty      string `yaml:"min_qty"`
		MinNotional string `yaml:"min_notional"`
	} `yaml:"rules"`
}

// LoadRules parses a YAML overrides file into the validator's override map.
// A missing file is not an error; overrides are optional.
func LoadRules(path string) (map[string]common.Precision, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read symbol rules: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse symbol rules: %w", err)
	}

	out := make(map[string]common.Precision, len(f.Rules))
	for i, r := range f.Rules {
		p, err := parseRule(r.StepSize, r.TickSize, r.MinQty, r.MinNotional)
		if err != nil {
			return nil, fmt.Errorf("symbol rule %d (%s): %w", i, r.Symbol, err)
		}
		key := ruleKey(common.ExchangeName(r.Exchange), common.MarketType(r.Market), r.Symbol)
		out[key] = p
	}
	return out, nil
}

func parseRule(step, tick, minQty, minNotional string) (common.Precision, error) {
	var p common.Precision
	var err error
	if p.StepSize, err = parseDec(step); err != nil {
		return p, fmt.Errorf("step_size: %w", err)
	}
	if p.TickSize, err = parseDec(tick); err != nil {
		return p, fmt.Errorf("tick_size: %w", err)
	}
	if p.MinQty, err = parseDec(minQty); err != nil {
		return p, fmt.Errorf("min_qty: %w", err)
	}
	if p.MinNotional, err = parseDec(minNotional); err != nil {
		return p, fmt.Errorf("min_notional: %w", err)
	}
	return p, nil
}

func parseDec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
