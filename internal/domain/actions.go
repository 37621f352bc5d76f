package domain

import (
	"encoding/json"
	"strings"
)

// TransactionType is BUY or SELL for a place_order action.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// OrderType selects market vs limit execution for a place_order action.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Product distinguishes delivery/cash trades from intraday/margin trades.
type Product string

const (
	ProductDelivery Product = "D"
	ProductIntraday Product = "I"
)

// ActionConfig is the tagged-union interface every parsed action config
// satisfies.
type ActionConfig interface {
	actionConfig()
}

// PlaceOrderConfig is the parsed form of a place_order action.
type PlaceOrderConfig struct {
	Symbol          string          `json:"symbol"`
	TransactionType TransactionType `json:"transaction_type"`
	Quantity        float64         `json:"quantity"`
	OrderType       OrderType       `json:"order_type"`
	Product         Product         `json:"product"`
	Price           *float64        `json:"price,omitempty"` // null for MARKET
}

func (*PlaceOrderConfig) actionConfig() {}

// CancelOrderConfig is the parsed form of a cancel_order action.
type CancelOrderConfig struct {
	OrderID string `json:"order_id"`
}

func (*CancelOrderConfig) actionConfig() {}

// ModifyOrderConfig is the parsed form of a modify_order action.
type ModifyOrderConfig struct {
	OrderID  string   `json:"order_id"`
	Price    *float64 `json:"price,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
}

func (*ModifyOrderConfig) actionConfig() {}

// CancelRuleConfig is the parsed form of a cancel_rule action, used for OCO:
// when one leg fires, it cancels the other via RuleID.
type CancelRuleConfig struct {
	RuleID int64 `json:"rule_id"`
}

func (*CancelRuleConfig) actionConfig() {}

// ParseActionConfig validates and materializes a typed ActionConfig from the
// action_type string and the raw JSON config column.
func ParseActionConfig(actionType ActionType, raw json.RawMessage) (ActionConfig, error) {
	switch actionType {
	case ActionPlaceOrder:
		var cfg PlaceOrderConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ValidationError{Field: "action_config", Reason: err.Error()}
		}
		if strings.TrimSpace(cfg.Symbol) == "" {
			return nil, &ValidationError{Field: "symbol", Reason: "required"}
		}
		switch cfg.TransactionType {
		case TransactionBuy, TransactionSell:
		default:
			return nil, &ValidationError{Field: "transaction_type", Reason: "must be BUY or SELL"}
		}
		switch cfg.OrderType {
		case OrderTypeMarket, OrderTypeLimit:
		default:
			return nil, &ValidationError{Field: "order_type", Reason: "must be MARKET or LIMIT"}
		}
		switch cfg.Product {
		case ProductDelivery, ProductIntraday:
		default:
			return nil, &ValidationError{Field: "product", Reason: "must be D or I"}
		}
		if cfg.OrderType == OrderTypeLimit && cfg.Price == nil {
			return nil, &ValidationError{Field: "price", Reason: "required for LIMIT orders"}
		}
		if cfg.Quantity <= 0 {
			return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
		}
		return &cfg, nil

	case ActionCancelOrder:
		var cfg CancelOrderConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ValidationError{Field: "action_config", Reason: err.Error()}
		}
		if strings.TrimSpace(cfg.OrderID) == "" {
			return nil, &ValidationError{Field: "order_id", Reason: "required"}
		}
		return &cfg, nil

	case ActionModifyOrder:
		var cfg ModifyOrderConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ValidationError{Field: "action_config", Reason: err.Error()}
		}
		if strings.TrimSpace(cfg.OrderID) == "" {
			return nil, &ValidationError{Field: "order_id", Reason: "required"}
		}
		if cfg.Price == nil && cfg.Quantity == nil {
			return nil, &ValidationError{Field: "action_config", Reason: "modify_order requires price and/or quantity"}
		}
		return &cfg, nil

	case ActionCancelRule:
		var cfg CancelRuleConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, &ValidationError{Field: "action_config", Reason: err.Error()}
		}
		if cfg.RuleID <= 0 {
			return nil, &ValidationError{Field: "rule_id", Reason: "required"}
		}
		return &cfg, nil

	default:
		return nil, &ValidationError{Field: "action_type", Reason: "unknown action type " + string(actionType)}
	}
}
