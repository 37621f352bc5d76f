// Package evaluator implements the pure rule-evaluation kernel (spec
// component C2). Every exported function here is free of I/O, logging, and
// wall-clock reads beyond what's passed in via domain.EvalContext — the
// daemon is solely responsible for persistence and side effects.
package evaluator

import "github.com/quantcore/trademonitor/internal/domain"

// EvaluateRule dispatches (rule, ctx) to the family evaluator selected by
// rule.TriggerType, after checking the evaluability predicate. Non-evaluable
// rules are never handed to a family evaluator (spec §3, §8).
func EvaluateRule(rule *domain.Rule, ctx domain.EvalContext) domain.RuleResult {
	if !rule.ShouldEvaluate(ctx.Now) {
		return domain.Skip(rule.ID)
	}

	switch cfg := rule.TriggerConfig.(type) {
	case *domain.PriceConfig:
		return evaluatePrice(rule, cfg, ctx)
	case *domain.TimeConfig:
		return evaluateTime(rule, cfg, ctx)
	case *domain.IndicatorConfig:
		return evaluateIndicator(rule, cfg, ctx)
	case *domain.OrderStatusConfig:
		return evaluateOrderStatus(rule, cfg, ctx)
	case *domain.CompoundConfig:
		return evaluateCompound(rule, cfg, ctx)
	case *domain.TrailingStopConfig:
		return evaluateTrailingStop(rule, cfg, ctx)
	default:
		// Unreachable for rules that passed ParseTriggerConfig at write time.
		return domain.RuleResult{RuleID: rule.ID, Skipped: true}
	}
}

// fireRule packages a positive evaluation using the rule's own configured
// action, propagating rules_to_cancel when the action is cancel_rule.
func fireRule(rule *domain.Rule) domain.RuleResult {
	var toCancel []int64
	if cancelCfg, ok := rule.ActionConfig.(*domain.CancelRuleConfig); ok {
		toCancel = []int64{cancelCfg.RuleID}
	}
	return domain.Fire(rule.ID, rule.ActionType, rule.ActionConfig, toCancel)
}
