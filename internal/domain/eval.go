package domain

import "time"

// MarketSnapshot carries the instrument fields an evaluator may read for a
// single tick. Missing fields are represented by a false second return from
// Get so price evaluators can treat "no data" as "do not fire" (spec §4.2).
type MarketSnapshot struct {
	LTP    *float64
	Bid    *float64
	Ask    *float64
	Open   *float64
	High   *float64
	Low    *float64
	Volume float64
}

// Get returns the value for a named price reference and whether it was
// present in the snapshot.
func (m MarketSnapshot) Get(ref PriceReference) (float64, bool) {
	var v *float64
	switch ref {
	case ReferenceLTP:
		v = m.LTP
	case ReferenceBid:
		v = m.Bid
	case ReferenceAsk:
		v = m.Ask
	case ReferenceOpen:
		v = m.Open
	case ReferenceHigh:
		v = m.High
	case ReferenceLow:
		v = m.Low
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// OrderEvent is an inbound order-status update from the portfolio stream.
type OrderEvent struct {
	OrderID    string
	Status     OrderEventStatus
	RawPayload []byte
}

// CandleSource is the read-only interface the evaluator kernel uses to pull
// candle history for indicator triggers. Implemented by *candles.Buffer; the
// evaluator never touches the concrete type to preserve purity/testability.
type CandleSource interface {
	GetCompletedCandles() []Candle
}

// Candle is a single OHLCV bar.
type Candle struct {
	Start  time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// EvalContext bundles every input a trigger evaluator may need, so
// evaluators remain pure functions of (rule, context) with no I/O (spec
// §4.2). The dispatcher is responsible for populating every field an event
// might touch before calling EvaluateRule.
type EvalContext struct {
	Now time.Time

	// Market carries the current tick's snapshot for the rule's instrument,
	// when this evaluation was triggered by a market-data event.
	Market MarketSnapshot
	// MarketPresent distinguishes "evaluated against a tick" from "no tick
	// this round" (e.g. a pure time-trigger evaluation).
	MarketPresent bool

	// PrevPrice is the last-seen reference price for the rule's instrument,
	// used by crosses_above/crosses_below. Absent (PrevPricePresent=false)
	// means no crossing can be detected yet.
	PrevPrice        float64
	PrevPricePresent bool

	// OrderEvent carries the inbound order-status update, when this
	// evaluation was triggered by a portfolio event.
	OrderEvent        OrderEvent
	OrderEventPresent bool

	// Candles resolves a (instrument, timeframe) pair to its buffer, for
	// indicator triggers. Nil when not needed for this event.
	Candles func(timeframe Timeframe) (CandleSource, bool)

	// ToleranceSeconds is the time-trigger fire window (default 60s).
	ToleranceSeconds int
	// Location is the market-hours timezone time triggers evaluate "at" against.
	Location *time.Location
	// Calendar resolves whether a given instant falls on a trading day,
	// for market_only time triggers. Nil falls back to a plain Sat/Sun
	// weekend check with no holiday awareness.
	Calendar TradingCalendar
}

// TradingCalendar reports whether the market is open for regular trading on
// a given day, accounting for weekends and exchange holidays. Implemented
// by *marketcal.Calendar; kept as an interface here so the evaluator kernel
// has no dependency on the calendar's concrete holiday table.
type TradingCalendar interface {
	IsTradingDay(ts time.Time) bool
}

// RuleResult is the output of evaluating a single rule against a context.
type RuleResult struct {
	RuleID  int64
	Fired   bool
	Skipped bool

	ActionType   ActionType
	ActionConfig ActionConfig

	// RulesToCancel propagates OCO cancellation: rule ids to disable and
	// drop from the in-memory session snapshot when this result fires.
	RulesToCancel []int64

	// TriggerConfigUpdate is non-nil whenever the evaluator wants to mutate
	// the rule's own trigger config (trailing-stop high-water mark) without
	// firing. The daemon persists it and refreshes in-memory state; the
	// evaluator itself never mutates anything (spec §9).
	TriggerConfigUpdate TriggerConfig
}

// Skip builds a RuleResult for a non-evaluable rule.
func Skip(ruleID int64) RuleResult {
	return RuleResult{RuleID: ruleID, Skipped: true}
}

// NoFire builds a RuleResult for an evaluable rule that did not fire this
// round, optionally carrying a trigger-config update (trailing stop).
func NoFire(ruleID int64, update TriggerConfig) RuleResult {
	return RuleResult{RuleID: ruleID, Fired: false, TriggerConfigUpdate: update}
}

// Fire builds a RuleResult for a rule whose action should execute.
func Fire(ruleID int64, actionType ActionType, actionConfig ActionConfig, rulesToCancel []int64) RuleResult {
	return RuleResult{
		RuleID:        ruleID,
		Fired:         true,
		ActionType:    actionType,
		ActionConfig:  actionConfig,
		RulesToCancel: rulesToCancel,
	}
}
