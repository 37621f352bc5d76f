package domain

import "time"

// TriggerType selects which trigger family a Rule's config belongs to.
type TriggerType string

const (
	TriggerPrice        TriggerType = "price"
	TriggerTime         TriggerType = "time"
	TriggerIndicator    TriggerType = "indicator"
	TriggerOrderStatus  TriggerType = "order_status"
	TriggerCompound     TriggerType = "compound"
	TriggerTrailingStop TriggerType = "trailing_stop"
)

// ActionType selects which action family a Rule's config belongs to.
type ActionType string

const (
	ActionPlaceOrder  ActionType = "place_order"
	ActionCancelOrder ActionType = "cancel_order"
	ActionModifyOrder ActionType = "modify_order"
	ActionCancelRule  ActionType = "cancel_rule"
)

// Rule is the unit of automation watched by the daemon.
//
// TriggerConfig and ActionConfig hold the parsed, typed variant selected by
// TriggerType/ActionType respectively; the store round-trips them to JSON
// directly via json.Marshal on the concrete pointer type (each one carries
// its own json tags), so no separate raw-bytes field is needed.
type Rule struct {
	ID      int64
	UserID  int64
	Name    string
	Enabled bool

	ExpiresAt *time.Time
	MaxFires  *int
	FireCount int

	TriggerType   TriggerType
	TriggerConfig TriggerConfig

	ActionType   ActionType
	ActionConfig ActionConfig

	InstrumentToken *string
	Symbol          *string

	LinkedTradeID *int64
	LinkedOrderID *string

	CreatedAt time.Time
	UpdatedAt time.Time
	FiredAt   *time.Time
}

// ShouldEvaluate reports whether a rule is evaluable at the given instant:
// enabled, not fire-exhausted, and not expired. A non-evaluable rule must be
// skipped before any evaluator runs — it must never produce a fire.
func (r *Rule) ShouldEvaluate(now time.Time) bool {
	if !r.Enabled {
		return false
	}
	if r.MaxFires != nil && r.FireCount >= *r.MaxFires {
		return false
	}
	if r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
		return false
	}
	return true
}

// RequiresMarketData reports whether this rule's trigger family needs a
// live market-data subscription for its instrument (spec §4.5,
// extract_instruments). order_status rules are driven by portfolio events
// instead and never need ticks.
func (r *Rule) RequiresMarketData() bool {
	switch r.TriggerType {
	case TriggerPrice, TriggerIndicator, TriggerTrailingStop:
		return true
	case TriggerCompound:
		return compoundNeedsMarketData(r.TriggerConfig)
	default:
		return false
	}
}

func compoundNeedsMarketData(cfg TriggerConfig) bool {
	compound, ok := cfg.(*CompoundConfig)
	if !ok {
		return false
	}
	for _, sub := range compound.Conditions {
		switch sub.Type {
		case TriggerPrice, TriggerIndicator, TriggerTrailingStop:
			return true
		case TriggerCompound:
			if subCompound, err := ParseTriggerConfig(TriggerCompound, sub.Raw); err == nil {
				if compoundNeedsMarketData(subCompound) {
					return true
				}
			}
		}
	}
	return false
}
