package evaluator

import (
	"github.com/quantcore/trademonitor/internal/candles"
	"github.com/quantcore/trademonitor/internal/domain"
)

func evaluateIndicator(rule *domain.Rule, cfg *domain.IndicatorConfig, ctx domain.EvalContext) domain.RuleResult {
	if indicatorConditionMet(cfg, ctx) {
		return fireRule(rule)
	}
	return domain.NoFire(rule.ID, nil)
}

// indicatorConditionMet resolves the rule's candle source for the configured
// timeframe and compares the computed indicator value against cfg.Value. A
// missing source or an indicator series too short to produce a reading is
// "not met" rather than an error (spec §4.3): the rule simply waits for more
// history.
func indicatorConditionMet(cfg *domain.IndicatorConfig, ctx domain.EvalContext) bool {
	if ctx.Candles == nil {
		return false
	}
	source, ok := ctx.Candles(cfg.Timeframe)
	if !ok {
		return false
	}

	value, ok := candles.Compute(cfg.Indicator, source.GetCompletedCandles(), cfg.Params)
	if !ok {
		return false
	}

	switch cfg.Condition {
	case domain.PriceLTE:
		return value.Current <= cfg.Value
	case domain.PriceGTE:
		return value.Current >= cfg.Value
	case domain.PriceCrossesAbove:
		return value.HasPrev && value.Previous < cfg.Value && value.Current >= cfg.Value
	case domain.PriceCrossesBelow:
		return value.HasPrev && value.Previous > cfg.Value && value.Current <= cfg.Value
	default:
		return false
	}
}
