package evaluator

import "github.com/quantcore/trademonitor/internal/domain"

func evaluateOrderStatus(rule *domain.Rule, cfg *domain.OrderStatusConfig, ctx domain.EvalContext) domain.RuleResult {
	if orderStatusConditionMet(cfg, ctx) {
		return fireRule(rule)
	}
	return domain.NoFire(rule.ID, nil)
}

func orderStatusConditionMet(cfg *domain.OrderStatusConfig, ctx domain.EvalContext) bool {
	if !ctx.OrderEventPresent {
		return false
	}
	return ctx.OrderEvent.OrderID == cfg.OrderID && ctx.OrderEvent.Status == cfg.Status
}
