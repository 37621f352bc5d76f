package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/quantcore/trademonitor/internal/domain"
	"github.com/quantcore/trademonitor/internal/events"
	"github.com/quantcore/trademonitor/internal/session"
)

// executeFire translates a fired RuleResult into a broker call, records the
// durable FireLog + fire-count accounting transactionally, folds the new
// fire count into the in-memory rule, and propagates OCO cancellation (both
// the linked_trade_id sibling mechanism and the generic cancel_rule/
// RulesToCancel mechanism coexist — spec §4.7 scenario 5 uses the latter,
// while CreateOCOBundle-created triples use the former).
func (d *Daemon) executeFire(ctx context.Context, userID int64, sess *session.UserSession, rule *domain.Rule, result domain.RuleResult, evalCtx domain.EvalContext) {
	actionResult := d.executeAction(ctx, userID, sess, result.RuleID, result.ActionType, result.ActionConfig)
	d.events.Emit(events.RuleFired, "daemon", map[string]interface{}{
		"rule_id": result.RuleID, "user_id": userID, "action_type": result.ActionType, "success": actionResult.Success,
	})

	snapshot := snapshotJSON(evalCtx)
	firedAt := time.Now()
	if err := d.store.IncrementFireCount(ctx, result.RuleID, userID, firedAt, snapshot, result.ActionType, actionResult); err != nil {
		d.log.Error().Err(err).Int64("rule_id", result.RuleID).Msg("failed to record fire-count accounting")
		return
	}

	sess.UpdateRule(result.RuleID, func(r *domain.Rule) {
		r.FireCount++
		r.FiredAt = &firedAt
		if r.MaxFires != nil && r.FireCount >= *r.MaxFires {
			r.Enabled = false
		}
	})

	if !actionResult.Success {
		d.log.Warn().Int64("rule_id", result.RuleID).Str("error", actionResult.Error).Msg("fired action failed")
	}

	if rule.LinkedTradeID != nil {
		cancelled, err := d.store.DisableLinkedSiblings(ctx, *rule.LinkedTradeID, result.RuleID)
		if err != nil {
			d.log.Error().Err(err).Int64("linked_trade_id", *rule.LinkedTradeID).Msg("failed to disable OCO sibling rules")
		} else {
			for _, id := range cancelled {
				sess.RemoveRule(id)
				d.events.Emit(events.OCOCancelled, "daemon", map[string]interface{}{
					"rule_id": id, "linked_trade_id": *rule.LinkedTradeID, "fired_rule_id": result.RuleID,
				})
			}
		}
	}

	for _, id := range result.RulesToCancel {
		if err := d.store.DisableRule(ctx, id); err != nil {
			d.log.Error().Err(err).Int64("rule_id", id).Msg("failed to disable cancelled rule")
			continue
		}
		sess.RemoveRule(id)
		d.events.Emit(events.RuleDisabled, "daemon", map[string]interface{}{"rule_id": id, "cancelled_by_rule_id": result.RuleID})
	}
}

// executeAction dispatches a parsed ActionConfig to the broker client and
// converts any error into a durable domain.ActionResult rather than letting
// it propagate — a broker rejection is a recorded outcome, not a daemon
// failure (spec §4.7, §6). A 401 mid-call is retried once after a credential
// refresh; a refresh that fails permanently pauses the session instead of
// retrying forever.
func (d *Daemon) executeAction(ctx context.Context, userID int64, sess *session.UserSession, ruleID int64, actionType domain.ActionType, cfg domain.ActionConfig) domain.ActionResult {
	orderID, err := d.callBroker(ctx, sess.AccessToken(), actionType, cfg)
	var paused *domain.MonitoringPausedError
	if errors.As(err, &paused) {
		if refreshErr := d.sessions.RefreshCredentials(ctx, userID); refreshErr != nil {
			return domain.ActionResult{Success: false, Error: err.Error()}
		}
		orderID, err = d.callBroker(ctx, sess.AccessToken(), actionType, cfg)
	}

	if err != nil {
		return domain.ActionResult{Success: false, Error: err.Error()}
	}
	return domain.ActionResult{Success: true, OrderID: orderID}
}

func (d *Daemon) callBroker(ctx context.Context, accessToken string, actionType domain.ActionType, cfg domain.ActionConfig) (string, error) {
	switch actionType {
	case domain.ActionPlaceOrder:
		poCfg, ok := cfg.(*domain.PlaceOrderConfig)
		if !ok {
			return "", errors.New("place_order action has mismatched config type")
		}
		result, err := d.broker.PlaceOrder(ctx, accessToken, poCfg)
		if err != nil {
			return "", err
		}
		return result.OrderID, nil

	case domain.ActionCancelOrder:
		coCfg, ok := cfg.(*domain.CancelOrderConfig)
		if !ok {
			return "", errors.New("cancel_order action has mismatched config type")
		}
		if err := d.broker.CancelOrder(ctx, accessToken, coCfg); err != nil {
			return "", err
		}
		return coCfg.OrderID, nil

	case domain.ActionModifyOrder:
		moCfg, ok := cfg.(*domain.ModifyOrderConfig)
		if !ok {
			return "", errors.New("modify_order action has mismatched config type")
		}
		result, err := d.broker.ModifyOrder(ctx, accessToken, moCfg)
		if err != nil {
			return "", err
		}
		return result.OrderID, nil

	case domain.ActionCancelRule:
		// cancel_rule fires with no broker call of its own; RulesToCancel on
		// the RuleResult already carries which rule(s) to disable.
		return "", nil

	default:
		return "", errors.New("unknown action type " + string(actionType))
	}
}
