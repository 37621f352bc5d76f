package evaluator

import (
	"strconv"
	"strings"
	"time"

	"github.com/quantcore/trademonitor/internal/domain"
)

const defaultToleranceSeconds = 60

var weekdayLookup = map[time.Weekday]domain.Weekday{
	time.Sunday:    domain.Sun,
	time.Monday:    domain.Mon,
	time.Tuesday:   domain.Tue,
	time.Wednesday: domain.Wed,
	time.Thursday:  domain.Thu,
	time.Friday:    domain.Fri,
	time.Saturday:  domain.Sat,
}

func evaluateTime(rule *domain.Rule, cfg *domain.TimeConfig, ctx domain.EvalContext) domain.RuleResult {
	if timeConditionMet(rule, cfg, ctx) {
		return fireRule(rule)
	}
	return domain.NoFire(rule.ID, nil)
}

func timeConditionMet(rule *domain.Rule, cfg *domain.TimeConfig, ctx domain.EvalContext) bool {
	loc := ctx.Location
	if loc == nil {
		loc = time.UTC
	}
	now := ctx.Now.In(loc)

	today := weekdayLookup[now.Weekday()]
	if !dayAllowed(cfg, today, now, ctx.Calendar) {
		return false
	}

	hour, minute, ok := parseHHMM(cfg.At)
	if !ok {
		return false
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)

	tolerance := time.Duration(ctx.ToleranceSeconds) * time.Second
	if ctx.ToleranceSeconds <= 0 {
		tolerance = defaultToleranceSeconds * time.Second
	}

	elapsed := now.Sub(target)
	if elapsed < 0 || elapsed >= tolerance {
		return false
	}

	// Refuse to re-fire within the tolerance window on the same rule (spec
	// §9 open question 2): a restart mid-window must not double-fire.
	if rule.FiredAt != nil && now.Sub(*rule.FiredAt) < tolerance {
		return false
	}

	return true
}

func dayAllowed(cfg *domain.TimeConfig, today domain.Weekday, now time.Time, cal domain.TradingCalendar) bool {
	allowed := false
	for _, d := range cfg.OnDays {
		if d == today {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	if !cfg.MarketOnly {
		return true
	}
	if cal != nil {
		return cal.IsTradingDay(now)
	}
	return today != domain.Sat && today != domain.Sun
}

func parseHHMM(s string) (hour, minute int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return h, m, true
}
