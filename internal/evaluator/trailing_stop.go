package evaluator

import "github.com/quantcore/trademonitor/internal/domain"

// evaluateTrailingStop implements spec §4.2's trailing-stop semantics:
//
//	stop = highest * (1 - trail_percent/100)
//	current <= stop        => fire, no update
//	current > highest       => no fire, propose highest := current
//	otherwise                => no fire, no update
//
// This function never mutates cfg; the proposed high-water-mark move is
// returned via RuleResult.TriggerConfigUpdate for the daemon to persist.
func evaluateTrailingStop(rule *domain.Rule, cfg *domain.TrailingStopConfig, ctx domain.EvalContext) domain.RuleResult {
	current, ok := ctx.Market.Get(cfg.Reference)
	if !ok {
		return domain.NoFire(rule.ID, nil)
	}

	stop := cfg.HighestPrice * (1 - cfg.TrailPercent/100)
	if current <= stop {
		return fireRule(rule)
	}

	if current > cfg.HighestPrice {
		updated := *cfg
		updated.HighestPrice = current
		return domain.NoFire(rule.ID, &updated)
	}

	return domain.NoFire(rule.ID, nil)
}
