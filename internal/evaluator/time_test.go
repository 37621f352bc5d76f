package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantcore/trademonitor/internal/domain"
)

func timeRule(id int64, cfg *domain.TimeConfig) *domain.Rule {
	return &domain.Rule{
		ID:            id,
		Enabled:       true,
		TriggerType:   domain.TriggerTime,
		TriggerConfig: cfg,
		ActionType:    domain.ActionCancelOrder,
		ActionConfig:  &domain.CancelOrderConfig{OrderID: "ORD1"},
	}
}

// fakeCalendar lets tests control IsTradingDay without pulling in the real
// holiday table.
type fakeCalendar struct{ tradingDay bool }

func (f fakeCalendar) IsTradingDay(time.Time) bool { return f.tradingDay }

func TestEvaluateTime_FiresWithinToleranceWindow(t *testing.T) {
	cfg := &domain.TimeConfig{At: "09:15", OnDays: []domain.Weekday{domain.Mon, domain.Tue, domain.Wed, domain.Thu, domain.Fri}}
	rule := timeRule(1, cfg)

	// 2026-03-02 is a Monday.
	now := time.Date(2026, 3, 2, 9, 15, 30, 0, time.UTC)
	ctx := domain.EvalContext{Now: now, ToleranceSeconds: 60, Location: time.UTC}
	result := EvaluateRule(rule, ctx)
	assert.True(t, result.Fired)
}

func TestEvaluateTime_OutsideToleranceWindowDoesNotFire(t *testing.T) {
	cfg := &domain.TimeConfig{At: "09:15", OnDays: []domain.Weekday{domain.Mon}}
	rule := timeRule(1, cfg)
	now := time.Date(2026, 3, 2, 9, 20, 0, 0, time.UTC)
	ctx := domain.EvalContext{Now: now, ToleranceSeconds: 60, Location: time.UTC}
	result := EvaluateRule(rule, ctx)
	assert.False(t, result.Fired)
}

func TestEvaluateTime_WrongWeekdayDoesNotFire(t *testing.T) {
	cfg := &domain.TimeConfig{At: "09:15", OnDays: []domain.Weekday{domain.Tue}}
	rule := timeRule(1, cfg)
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC) // Monday
	ctx := domain.EvalContext{Now: now, ToleranceSeconds: 60, Location: time.UTC}
	result := EvaluateRule(rule, ctx)
	assert.False(t, result.Fired)
}

func TestEvaluateTime_MarketOnlyUsesCalendarWhenPresent(t *testing.T) {
	cfg := &domain.TimeConfig{At: "09:15", OnDays: []domain.Weekday{domain.Mon}, MarketOnly: true}
	rule := timeRule(1, cfg)
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC) // Monday

	t.Run("calendar says holiday, does not fire", func(t *testing.T) {
		ctx := domain.EvalContext{Now: now, ToleranceSeconds: 60, Location: time.UTC, Calendar: fakeCalendar{tradingDay: false}}
		result := EvaluateRule(rule, ctx)
		assert.False(t, result.Fired)
	})

	t.Run("calendar says trading day, fires", func(t *testing.T) {
		ctx := domain.EvalContext{Now: now, ToleranceSeconds: 60, Location: time.UTC, Calendar: fakeCalendar{tradingDay: true}}
		result := EvaluateRule(rule, ctx)
		assert.True(t, result.Fired)
	})
}

func TestEvaluateTime_MarketOnlyFallsBackToWeekendCheckWithoutCalendar(t *testing.T) {
	cfg := &domain.TimeConfig{At: "09:15", OnDays: []domain.Weekday{domain.Sat}, MarketOnly: true}
	rule := timeRule(1, cfg)
	// 2026-03-07 is a Saturday.
	now := time.Date(2026, 3, 7, 9, 15, 0, 0, time.UTC)
	ctx := domain.EvalContext{Now: now, ToleranceSeconds: 60, Location: time.UTC}
	result := EvaluateRule(rule, ctx)
	assert.False(t, result.Fired)
}

func TestEvaluateTime_DoesNotRefireWithinToleranceOfOwnLastFire(t *testing.T) {
	cfg := &domain.TimeConfig{At: "09:15", OnDays: []domain.Weekday{domain.Mon}}
	rule := timeRule(1, cfg)
	now := time.Date(2026, 3, 2, 9, 15, 20, 0, time.UTC)
	firedAt := now.Add(-10 * time.Second)
	rule.FiredAt = &firedAt

	ctx := domain.EvalContext{Now: now, ToleranceSeconds: 60, Location: time.UTC}
	result := EvaluateRule(rule, ctx)
	assert.False(t, result.Fired)
}

func TestEvaluateTime_DefaultToleranceAppliedWhenUnset(t *testing.T) {
	cfg := &domain.TimeConfig{At: "09:15", OnDays: []domain.Weekday{domain.Mon}}
	rule := timeRule(1, cfg)
	now := time.Date(2026, 3, 2, 9, 15, 45, 0, time.UTC)
	ctx := domain.EvalContext{Now: now, Location: time.UTC} // ToleranceSeconds left at zero value
	result := EvaluateRule(rule, ctx)
	assert.True(t, result.Fired)
}
