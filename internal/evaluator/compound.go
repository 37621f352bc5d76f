package evaluator

import "github.com/quantcore/trademonitor/internal/domain"

// evaluateCompound composes its sub-conditions' boolean outcomes with the
// configured operator and fires the compound rule's own action if the
// composition is true. Sub-conditions are parsed on demand from their raw
// JSON and evaluated through the same family-specific "condition met"
// helpers the concrete trigger evaluators use, rather than through a nested
// RuleResult — a sub-condition has no rule of its own, no action, and no
// trigger-config-update path, so recursing into EvaluateRule would invent
// semantics the spec never defines (§9).
func evaluateCompound(rule *domain.Rule, cfg *domain.CompoundConfig, ctx domain.EvalContext) domain.RuleResult {
	if compoundConditionMet(rule, cfg, ctx) {
		return fireRule(rule)
	}
	return domain.NoFire(rule.ID, nil)
}

func compoundConditionMet(rule *domain.Rule, cfg *domain.CompoundConfig, ctx domain.EvalContext) bool {
	switch cfg.Operator {
	case domain.CompoundAnd:
		for _, sub := range cfg.Conditions {
			if !subConditionMet(rule, sub, ctx) {
				return false
			}
		}
		return true
	case domain.CompoundOr:
		for _, sub := range cfg.Conditions {
			if subConditionMet(rule, sub, ctx) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// subConditionMet parses and evaluates a single sub-condition in isolation.
// A sub-condition that fails to parse (malformed at fire-time despite having
// passed validation at write-time — e.g. a later schema change) is treated
// as not met rather than propagated as an error, since a compound trigger
// has no field to report a sub-condition parse failure through. rule is
// threaded through for timeConditionMet's own-rule re-fire guard; a time
// sub-condition shares the enclosing compound rule's FiredAt, since the
// compound has no fire history of its own apart from the rule it belongs to.
func subConditionMet(rule *domain.Rule, sub domain.SubCondition, ctx domain.EvalContext) bool {
	parsed, err := domain.ParseTriggerConfig(sub.Type, sub.Raw)
	if err != nil {
		return false
	}

	switch sub.Type {
	case domain.TriggerPrice:
		return priceConditionMet(parsed.(*domain.PriceConfig), ctx)
	case domain.TriggerOrderStatus:
		return orderStatusConditionMet(parsed.(*domain.OrderStatusConfig), ctx)
	case domain.TriggerIndicator:
		return indicatorConditionMet(parsed.(*domain.IndicatorConfig), ctx)
	case domain.TriggerTime:
		return timeConditionMet(rule, parsed.(*domain.TimeConfig), ctx)
	case domain.TriggerCompound:
		return compoundConditionMet(rule, parsed.(*domain.CompoundConfig), ctx)
	default:
		// trailing_stop is excluded from compound sub-conditions: it mutates
		// rule-level high-water-mark state a stateless sub-condition has no
		// field to carry or persist.
		return false
	}
}
