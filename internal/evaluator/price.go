package evaluator

import "github.com/quantcore/trademonitor/internal/domain"

func evaluatePrice(rule *domain.Rule, cfg *domain.PriceConfig, ctx domain.EvalContext) domain.RuleResult {
	if priceConditionMet(cfg, ctx) {
		return fireRule(rule)
	}
	return domain.NoFire(rule.ID, nil)
}

// priceConditionMet implements the comparison semantics shared by price
// triggers and the price-family leg of compound/trailing-stop triggers.
func priceConditionMet(cfg *domain.PriceConfig, ctx domain.EvalContext) bool {
	current, ok := ctx.Market.Get(cfg.Reference)
	if !ok {
		return false
	}

	switch cfg.Condition {
	case domain.PriceLTE:
		return current <= cfg.Price
	case domain.PriceGTE:
		return current >= cfg.Price
	case domain.PriceCrossesAbove:
		if !ctx.PrevPricePresent {
			return false
		}
		return ctx.PrevPrice < cfg.Price && current >= cfg.Price
	case domain.PriceCrossesBelow:
		if !ctx.PrevPricePresent {
			return false
		}
		return ctx.PrevPrice > cfg.Price && current <= cfg.Price
	default:
		return false
	}
}
