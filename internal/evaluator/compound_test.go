package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantcore/trademonitor/internal/domain"
)

func compoundRule(id int64, cfg *domain.CompoundConfig) *domain.Rule {
	return &domain.Rule{
		ID:            id,
		Enabled:       true,
		TriggerType:   domain.TriggerCompound,
		TriggerConfig: cfg,
		ActionType:    domain.ActionCancelOrder,
		ActionConfig:  &domain.CancelOrderConfig{OrderID: "ORD1"},
	}
}

func TestEvaluateCompound_AndRequiresAllSubConditions(t *testing.T) {
	cfg := &domain.CompoundConfig{
		Operator: domain.CompoundAnd,
		Conditions: []domain.SubCondition{
			{Type: domain.TriggerPrice, Raw: []byte(`{"condition":"gte","price":100,"reference":"ltp"}`)},
			{Type: domain.TriggerOrderStatus, Raw: []byte(`{"order_id":"ORD1","status":"complete"}`)},
		},
	}
	rule := compoundRule(1, cfg)

	t.Run("only price satisfied does not fire", func(t *testing.T) {
		ctx := domain.EvalContext{
			Now:           time.Now(),
			Market:        domain.MarketSnapshot{LTP: floatPtr(150)},
			MarketPresent: true,
		}
		result := EvaluateRule(rule, ctx)
		assert.False(t, result.Fired)
	})

	t.Run("both satisfied fires", func(t *testing.T) {
		ctx := domain.EvalContext{
			Now:               time.Now(),
			Market:            domain.MarketSnapshot{LTP: floatPtr(150)},
			MarketPresent:     true,
			OrderEvent:        domain.OrderEvent{OrderID: "ORD1", Status: domain.OrderComplete},
			OrderEventPresent: true,
		}
		result := EvaluateRule(rule, ctx)
		assert.True(t, result.Fired)
	})
}

func TestEvaluateCompound_OrFiresOnAnySubCondition(t *testing.T) {
	cfg := &domain.CompoundConfig{
		Operator: domain.CompoundOr,
		Conditions: []domain.SubCondition{
			{Type: domain.TriggerPrice, Raw: []byte(`{"condition":"lte","price":50,"reference":"ltp"}`)},
			{Type: domain.TriggerPrice, Raw: []byte(`{"condition":"gte","price":200,"reference":"ltp"}`)},
		},
	}
	rule := compoundRule(1, cfg)

	ctx := domain.EvalContext{
		Now:           time.Now(),
		Market:        domain.MarketSnapshot{LTP: floatPtr(210)},
		MarketPresent: true,
	}
	result := EvaluateRule(rule, ctx)
	assert.True(t, result.Fired)
}

func TestEvaluateCompound_NestedCompoundSubCondition(t *testing.T) {
	inner := `{"type":"compound","operator":"or","conditions":[{"type":"price","condition":"lte","price":50,"reference":"ltp"}]}`
	cfg := &domain.CompoundConfig{
		Operator: domain.CompoundAnd,
		Conditions: []domain.SubCondition{
			{Type: domain.TriggerCompound, Raw: []byte(inner)},
			{Type: domain.TriggerPrice, Raw: []byte(`{"condition":"lte","price":60,"reference":"ltp"}`)},
		},
	}
	rule := compoundRule(1, cfg)

	ctx := domain.EvalContext{
		Now:           time.Now(),
		Market:        domain.MarketSnapshot{LTP: floatPtr(40)},
		MarketPresent: true,
	}
	result := EvaluateRule(rule, ctx)
	assert.True(t, result.Fired)
}

func TestEvaluateCompound_PriceAndTimeSubConditionsFireWhenBothHold(t *testing.T) {
	cfg := &domain.CompoundConfig{
		Operator: domain.CompoundAnd,
		Conditions: []domain.SubCondition{
			{Type: domain.TriggerPrice, Raw: []byte(`{"condition":"lte","price":100,"reference":"ltp"}`)},
			{Type: domain.TriggerTime, Raw: []byte(`{"at":"14:00","on_days":["mon"],"market_only":false}`)},
		},
	}
	rule := compoundRule(1, cfg)

	// 2026-01-05 is a Monday (confirmed against pkg/marketcal's own fixture).
	monday14h := time.Date(2026, 1, 5, 14, 0, 10, 0, time.UTC)

	t.Run("both hold fires", func(t *testing.T) {
		ctx := domain.EvalContext{
			Now:              monday14h,
			Market:           domain.MarketSnapshot{LTP: floatPtr(90)},
			MarketPresent:    true,
			Location:         time.UTC,
			ToleranceSeconds: 60,
		}
		result := EvaluateRule(rule, ctx)
		assert.True(t, result.Fired)
	})

	t.Run("only price holds does not fire", func(t *testing.T) {
		ctx := domain.EvalContext{
			Now:              time.Date(2026, 1, 6, 14, 0, 10, 0, time.UTC), // Tuesday
			Market:           domain.MarketSnapshot{LTP: floatPtr(90)},
			MarketPresent:    true,
			Location:         time.UTC,
			ToleranceSeconds: 60,
		}
		result := EvaluateRule(rule, ctx)
		assert.False(t, result.Fired)
	})

	t.Run("only time holds does not fire", func(t *testing.T) {
		ctx := domain.EvalContext{
			Now:              monday14h,
			Market:           domain.MarketSnapshot{LTP: floatPtr(150)},
			MarketPresent:    true,
			Location:         time.UTC,
			ToleranceSeconds: 60,
		}
		result := EvaluateRule(rule, ctx)
		assert.False(t, result.Fired)
	})
}

func TestEvaluateCompound_TrailingStopSubConditionIsExcluded(t *testing.T) {
	cfg := &domain.CompoundConfig{
		Operator: domain.CompoundOr,
		Conditions: []domain.SubCondition{
			{Type: domain.TriggerTrailingStop, Raw: []byte(`{"trail_percent":5,"reference":"ltp","highest_price":110}`)},
		},
	}
	rule := compoundRule(1, cfg)
	ctx := domain.EvalContext{
		Now:           time.Now(),
		Market:        domain.MarketSnapshot{LTP: floatPtr(90)},
		MarketPresent: true,
	}
	result := EvaluateRule(rule, ctx)
	assert.False(t, result.Fired)
}

func TestEvaluateCompound_OCOCancelRuleAction(t *testing.T) {
	cfg := &domain.CompoundConfig{
		Operator: domain.CompoundAnd,
		Conditions: []domain.SubCondition{
			{Type: domain.TriggerOrderStatus, Raw: []byte(`{"order_id":"ORD1","status":"complete"}`)},
		},
	}
	rule := &domain.Rule{
		ID:            5,
		Enabled:       true,
		TriggerType:   domain.TriggerCompound,
		TriggerConfig: cfg,
		ActionType:    domain.ActionCancelRule,
		ActionConfig:  &domain.CancelRuleConfig{RuleID: 6},
	}
	ctx := domain.EvalContext{
		Now:               time.Now(),
		OrderEvent:        domain.OrderEvent{OrderID: "ORD1", Status: domain.OrderComplete},
		OrderEventPresent: true,
	}
	result := EvaluateRule(rule, ctx)
	assert.True(t, result.Fired)
	assert.Equal(t, []int64{6}, result.RulesToCancel)
}
