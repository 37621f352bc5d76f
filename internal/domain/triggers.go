package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PriceCondition is the comparison operator for a price trigger.
type PriceCondition string

const (
	PriceLTE          PriceCondition = "lte"
	PriceGTE          PriceCondition = "gte"
	PriceCrossesAbove PriceCondition = "crosses_above"
	PriceCrossesBelow PriceCondition = "crosses_below"
)

// PriceReference selects which market-data field a price/trailing-stop
// trigger compares against.
type PriceReference string

const (
	ReferenceLTP  PriceReference = "ltp"
	ReferenceBid  PriceReference = "bid"
	ReferenceAsk  PriceReference = "ask"
	ReferenceOpen PriceReference = "open"
	ReferenceHigh PriceReference = "high"
	ReferenceLow  PriceReference = "low"
)

// Weekday is a lowercase three-letter day abbreviation, as used in
// time-trigger on_days lists.
type Weekday string

const (
	Mon Weekday = "mon"
	Tue Weekday = "tue"
	Wed Weekday = "wed"
	Thu Weekday = "thu"
	Fri Weekday = "fri"
	Sat Weekday = "sat"
	Sun Weekday = "sun"
)

// IndicatorName enumerates the concrete indicators C3 knows how to compute.
type IndicatorName string

const (
	IndicatorRSI          IndicatorName = "rsi"
	IndicatorMACD         IndicatorName = "macd"
	IndicatorEMACrossover IndicatorName = "ema_crossover"
	IndicatorVolumeSpike  IndicatorName = "volume_spike"
)

// Timeframe is a candle-buffer bucket width.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// OrderEventStatus is the set of order-status values an order_status
// trigger can match against.
type OrderEventStatus string

const (
	OrderComplete        OrderEventStatus = "complete"
	OrderRejected        OrderEventStatus = "rejected"
	OrderCancelled       OrderEventStatus = "cancelled"
	OrderPartiallyFilled OrderEventStatus = "partially_filled"
)

// CompoundOperator is the boolean operator compound triggers use to combine
// sub-conditions.
type CompoundOperator string

const (
	CompoundAnd CompoundOperator = "and"
	CompoundOr  CompoundOperator = "or"
)

// maxCompoundDepth bounds compound trigger recursion (spec §9) to guard
// against pathological nesting in authored rules.
const maxCompoundDepth = 4

// TriggerConfig is the tagged-union interface every parsed trigger config
// satisfies. The evaluator kernel switches on the concrete type, never on
// reflection (spec §9).
type TriggerConfig interface {
	triggerConfig()
}

// PriceConfig is the parsed form of a price trigger.
type PriceConfig struct {
	Condition PriceCondition `json:"condition"`
	Price     float64        `json:"price"`
	Reference PriceReference `json:"reference"`
}

func (*PriceConfig) triggerConfig() {}

// TimeConfig is the parsed form of a time trigger.
type TimeConfig struct {
	At         string    `json:"at"` // "HH:MM" in the configured market timezone (IST by default)
	OnDays     []Weekday `json:"on_days"`
	MarketOnly bool      `json:"market_only"`
}

func (*TimeConfig) triggerConfig() {}

// IndicatorConfig is the parsed form of an indicator trigger.
type IndicatorConfig struct {
	Indicator IndicatorName          `json:"indicator"`
	Timeframe Timeframe              `json:"timeframe"`
	Condition PriceCondition         `json:"condition"`
	Value     float64                `json:"value"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

func (*IndicatorConfig) triggerConfig() {}

// OrderStatusConfig is the parsed form of an order_status trigger.
type OrderStatusConfig struct {
	OrderID string           `json:"order_id"`
	Status  OrderEventStatus `json:"status"`
}

func (*OrderStatusConfig) triggerConfig() {}

// SubCondition is a tagged sub-trigger dict inside a compound trigger. Raw
// carries the trigger-family-specific fields (everything except "type"), to
// be parsed on demand by ParseTriggerConfig when the compound evaluator
// descends into it.
type SubCondition struct {
	Type TriggerType
	Raw  json.RawMessage
}

// UnmarshalJSON splits the "type" tag from the remaining fields so Raw can
// be handed straight to ParseTriggerConfig.
func (s *SubCondition) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Type TriggerType `json:"type"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("sub-condition: %w", err)
	}
	if tagged.Type == "" {
		return fmt.Errorf("sub-condition missing required field \"type\"")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("sub-condition: %w", err)
	}
	delete(fields, "type")
	rest, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("sub-condition: %w", err)
	}
	s.Type = tagged.Type
	s.Raw = rest
	return nil
}

// MarshalJSON re-embeds the "type" tag into the sub-condition's own fields.
func (s SubCondition) MarshalJSON() ([]byte, error) {
	var fields map[string]interface{}
	if len(s.Raw) > 0 {
		if err := json.Unmarshal(s.Raw, &fields); err != nil {
			return nil, err
		}
	} else {
		fields = map[string]interface{}{}
	}
	fields["type"] = s.Type
	return json.Marshal(fields)
}

// CompoundConfig is the parsed form of a compound trigger.
type CompoundConfig struct {
	Operator   CompoundOperator `json:"operator"`
	Conditions []SubCondition   `json:"conditions"`
}

func (*CompoundConfig) triggerConfig() {}

// TrailingStopConfig is the parsed form of a trailing_stop trigger. Highest
// is the persisted high-water mark; evaluation proposes updates to it via
// RuleResult.TriggerConfigUpdate rather than mutating this value directly.
type TrailingStopConfig struct {
	TrailPercent float64        `json:"trail_percent"`
	InitialPrice float64        `json:"initial_price"`
	HighestPrice float64        `json:"highest_price"`
	Reference    PriceReference `json:"reference"`
}

func (*TrailingStopConfig) triggerConfig() {}

var hhmmPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ParseTriggerConfig validates and materializes a typed TriggerConfig from
// the trigger_type string and the raw JSON config column. Unknown fields are
// accepted but ignored (json.Unmarshal's default behavior); missing
// required fields or semantically invalid values reject the rule at write
// time with a ValidationError, per spec §4.1.
func ParseTriggerConfig(triggerType TriggerType, raw json.RawMessage) (TriggerConfig, error) {
	return parseTriggerConfigDepth(triggerType, raw, 0)
}

func parseTriggerConfigDepth(triggerType TriggerType, raw json.RawMessage, depth int) (TriggerConfig, error) {
	if depth > maxCompoundDepth {
		return nil, &ValidationError{Field: "conditions", Reason: "compound trigger nesting exceeds max depth"}
	}

	switch triggerType {
	case TriggerPrice:
		var cfg PriceConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ValidationError{Field: "trigger_config", Reason: err.Error()}
		}
		switch cfg.Condition {
		case PriceLTE, PriceGTE, PriceCrossesAbove, PriceCrossesBelow:
		default:
			return nil, &ValidationError{Field: "condition", Reason: "unknown price condition " + string(cfg.Condition)}
		}
		switch cfg.Reference {
		case ReferenceLTP, ReferenceBid, ReferenceAsk, ReferenceOpen, ReferenceHigh, ReferenceLow:
		default:
			return nil, &ValidationError{Field: "reference", Reason: "unknown price reference " + string(cfg.Reference)}
		}
		return &cfg, nil

	case TriggerTime:
		var cfg TimeConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ValidationError{Field: "trigger_config", Reason: err.Error()}
		}
		if !hhmmPattern.MatchString(cfg.At) {
			return nil, &ValidationError{Field: "at", Reason: "expected \"HH:MM\", got " + cfg.At}
		}
		for _, day := range cfg.OnDays {
			if !validWeekday(day) {
				return nil, &ValidationError{Field: "on_days", Reason: "unknown weekday " + string(day)}
			}
		}
		return &cfg, nil

	case TriggerIndicator:
		var cfg IndicatorConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ValidationError{Field: "trigger_config", Reason: err.Error()}
		}
		switch cfg.Indicator {
		case IndicatorRSI, IndicatorMACD, IndicatorEMACrossover, IndicatorVolumeSpike:
		default:
			return nil, &ValidationError{Field: "indicator", Reason: "unknown indicator " + string(cfg.Indicator)}
		}
		switch cfg.Timeframe {
		case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m, Timeframe1h, Timeframe1d:
		default:
			return nil, &ValidationError{Field: "timeframe", Reason: "unknown timeframe " + string(cfg.Timeframe)}
		}
		switch cfg.Condition {
		case PriceLTE, PriceGTE, PriceCrossesAbove, PriceCrossesBelow:
		default:
			return nil, &ValidationError{Field: "condition", Reason: "unknown condition " + string(cfg.Condition)}
		}
		return &cfg, nil

	case TriggerOrderStatus:
		var cfg OrderStatusConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ValidationError{Field: "trigger_config", Reason: err.Error()}
		}
		if strings.TrimSpace(cfg.OrderID) == "" {
			return nil, &ValidationError{Field: "order_id", Reason: "required"}
		}
		switch cfg.Status {
		case OrderComplete, OrderRejected, OrderCancelled, OrderPartiallyFilled:
		default:
			return nil, &ValidationError{Field: "status", Reason: "unknown order status " + string(cfg.Status)}
		}
		return &cfg, nil

	case TriggerCompound:
		var cfg CompoundConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ValidationError{Field: "trigger_config", Reason: err.Error()}
		}
		switch cfg.Operator {
		case CompoundAnd, CompoundOr:
		default:
			return nil, &ValidationError{Field: "operator", Reason: "unknown compound operator " + string(cfg.Operator)}
		}
		if len(cfg.Conditions) == 0 {
			return nil, &ValidationError{Field: "conditions", Reason: "compound trigger requires at least one sub-condition"}
		}
		for _, sub := range cfg.Conditions {
			if _, err := parseTriggerConfigDepth(sub.Type, sub.Raw, depth+1); err != nil {
				return nil, err
			}
		}
		return &cfg, nil

	case TriggerTrailingStop:
		var cfg TrailingStopConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ValidationError{Field: "trigger_config", Reason: err.Error()}
		}
		if cfg.TrailPercent < 0 {
			return nil, &ValidationError{Field: "trail_percent", Reason: "must be non-negative"}
		}
		switch cfg.Reference {
		case ReferenceLTP, ReferenceBid, ReferenceAsk, ReferenceOpen, ReferenceHigh, ReferenceLow:
		default:
			return nil, &ValidationError{Field: "reference", Reason: "unknown price reference " + string(cfg.Reference)}
		}
		return &cfg, nil

	default:
		return nil, &ValidationError{Field: "trigger_type", Reason: "unknown trigger type " + string(triggerType)}
	}
}

func validWeekday(w Weekday) bool {
	switch w {
	case Mon, Tue, Wed, Thu, Fri, Sat, Sun:
		return true
	default:
		return false
	}
}
