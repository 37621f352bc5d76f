package daemon

import (
	"context"
	"time"

	"github.com/quantcore/trademonitor/internal/domain"
	"github.com/quantcore/trademonitor/internal/evaluator"
	"github.com/quantcore/trademonitor/internal/session"
	"github.com/quantcore/trademonitor/internal/streams"
)

// runDispatcher multiplexes one user's tick and order-event channels.
// Events from one stream are processed in arrival order; the two streams
// may interleave arbitrarily (spec §5). It returns once both channels are
// closed — i.e. the session was torn down — or ctx is cancelled.
func (d *Daemon) runDispatcher(ctx context.Context, userID int64, ss *streams.SessionStreams) {
	ticks := ss.MarketData.Ticks
	events := ss.Portfolio.Events
	for ticks != nil || events != nil {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			d.handleTick(ctx, userID, tick)
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.handleOrderEvent(ctx, userID, evt)
		}
	}
}

// handleTick evaluates every rule on the tick's instrument whose family
// needs market data, using the previous reference price recorded for that
// instrument, then records the new reference price — after evaluation, so
// crossing evaluators compare the current tick against the prior tick, not
// against itself (spec §9).
func (d *Daemon) handleTick(ctx context.Context, userID int64, tick streams.Tick) {
	sess, ok := d.sessions.Get(userID)
	if !ok || sess.IsPaused() {
		return
	}

	rules := sess.Rules()
	prevPrice, hasPrev := sess.PrevPrice(tick.InstrumentToken)

	for _, tf := range timeframesNeeded(rules, tick.InstrumentToken) {
		sess.Buffer(tick.InstrumentToken, tf, d.cfg.MaxCandlesPerBuffer).AddTick(tick.LTP, tick.Volume, tick.Timestamp)
	}

	market := domain.MarketSnapshot{LTP: &tick.LTP, Volume: tick.Volume}
	if tick.Bid != nil {
		market.Bid = tick.Bid
	}
	if tick.Ask != nil {
		market.Ask = tick.Ask
	}

	evalCtx := domain.EvalContext{
		Now:              time.Now(),
		Market:           market,
		MarketPresent:    true,
		PrevPrice:        prevPrice,
		PrevPricePresent: hasPrev,
		Candles: func(tf domain.Timeframe) (domain.CandleSource, bool) {
			return sess.CandleSource(tick.InstrumentToken, tf, d.cfg.MaxCandlesPerBuffer), true
		},
		ToleranceSeconds: d.cfg.ToleranceSeconds,
		Location:         d.loc,
		Calendar:         d.calendar(),
	}

	for _, rule := range rules {
		if rule.InstrumentToken == nil || *rule.InstrumentToken != tick.InstrumentToken {
			continue
		}
		if !rule.RequiresMarketData() {
			continue
		}
		result := evaluator.EvaluateRule(rule, evalCtx)
		d.handleResult(ctx, userID, sess, rule, result, evalCtx)
	}

	sess.SetPrevPrice(tick.InstrumentToken, tick.LTP)
}

// timeframesNeeded collects every indicator timeframe an instrument's rules
// (including nested compound sub-conditions) reference, so the dispatcher
// feeds ticks into exactly the candle buffers an evaluation might read.
func timeframesNeeded(rules []*domain.Rule, instrumentToken string) []domain.Timeframe {
	seen := make(map[domain.Timeframe]bool)
	var out []domain.Timeframe
	add := func(tf domain.Timeframe) {
		if !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	var walk func(cfg domain.TriggerConfig)
	walk = func(cfg domain.TriggerConfig) {
		switch c := cfg.(type) {
		case *domain.IndicatorConfig:
			add(c.Timeframe)
		case *domain.CompoundConfig:
			for _, sub := range c.Conditions {
				if parsed, err := domain.ParseTriggerConfig(sub.Type, sub.Raw); err == nil {
					walk(parsed)
				}
			}
		}
	}
	for _, rule := range rules {
		if rule.InstrumentToken == nil || *rule.InstrumentToken != instrumentToken {
			continue
		}
		walk(rule.TriggerConfig)
	}
	return out
}

// handleOrderEvent evaluates every order_status and compound rule for the
// user against an inbound order-status frame (spec §4.7: "by order_id match
// for portfolio events").
func (d *Daemon) handleOrderEvent(ctx context.Context, userID int64, evt domain.OrderEvent) {
	sess, ok := d.sessions.Get(userID)
	if !ok || sess.IsPaused() {
		return
	}

	evalCtx := domain.EvalContext{
		Now:               time.Now(),
		OrderEvent:         evt,
		OrderEventPresent:  true,
		ToleranceSeconds:   d.cfg.ToleranceSeconds,
		Location:           d.loc,
	}

	for _, rule := range sess.Rules() {
		if rule.TriggerType != domain.TriggerOrderStatus && rule.TriggerType != domain.TriggerCompound {
			continue
		}
		result := evaluator.EvaluateRule(rule, evalCtx)
		d.handleResult(ctx, userID, sess, rule, result, evalCtx)
	}
}

// runTimeTicker evaluates every time-trigger (and compound) rule across all
// active sessions once a second, independent of any tick or order event
// (spec §4.7, §5).
func (d *Daemon) runTimeTicker(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.tickAllSessions(ctx)
		}
	}
}

func (d *Daemon) tickAllSessions(ctx context.Context) {
	for _, userID := range d.sessions.ActiveUserIDs() {
		sess, ok := d.sessions.Get(userID)
		if !ok || sess.IsPaused() {
			continue
		}
		evalCtx := domain.EvalContext{
			Now:              time.Now(),
			ToleranceSeconds: d.cfg.ToleranceSeconds,
			Location:         d.loc,
			Calendar:         d.calendar(),
		}
		for _, rule := range sess.Rules() {
			if rule.TriggerType != domain.TriggerTime && rule.TriggerType != domain.TriggerCompound {
				continue
			}
			result := evaluator.EvaluateRule(rule, evalCtx)
			d.handleResult(ctx, userID, sess, rule, result, evalCtx)
		}
	}
}

// handleResult applies a single evaluation's outcome: persists any
// trailing-stop high-water-mark update (and folds it into the in-memory
// rule immediately), then executes and accounts for a fire, if any.
func (d *Daemon) handleResult(ctx context.Context, userID int64, sess *session.UserSession, rule *domain.Rule, result domain.RuleResult, evalCtx domain.EvalContext) {
	if result.Skipped {
		return
	}

	if result.TriggerConfigUpdate != nil {
		if err := d.store.UpdateTriggerConfig(ctx, result.RuleID, result.TriggerConfigUpdate); err != nil {
			d.log.Error().Err(err).Int64("rule_id", result.RuleID).Msg("failed to persist trigger config update")
		} else {
			updated := result.TriggerConfigUpdate
			sess.UpdateRule(result.RuleID, func(r *domain.Rule) {
				r.TriggerConfig = updated
			})
		}
	}

	if !result.Fired {
		return
	}
	d.executeFire(ctx, userID, sess, rule, result, evalCtx)
}
