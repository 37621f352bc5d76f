// Package marketcal narrows the teacher's multi-exchange calendar down to
// the single NSE/IST calendar the monitor core's market_only time triggers
// and session gating need (spec §4.2, §6).
package marketcal

import (
	"fmt"
	"time"
)

// TradingWindow is a single open/close period within a trading day.
type TradingWindow struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// Calendar holds the NSE session window and its holiday list for a given
// year, anchored to the configured market timezone (default Asia/Kolkata).
type Calendar struct {
	Location *time.Location
	Window   TradingWindow
	Holidays map[string]bool // "YYYY-MM-DD" in Location
}

// NSE cash-market hours: 09:15-15:30 IST.
var nseWindow = TradingWindow{OpenHour: 9, OpenMinute: 15, CloseHour: 15, CloseMinute: 30}

var nseHolidays2026 = []string{
	"2026-01-26", // Republic Day
	"2026-03-14", // Holi
	"2026-03-30", // Ram Navami
	"2026-04-02", // Mahavir Jayanti
	"2026-04-10", // Good Friday
	"2026-04-14", // Ambedkar Jayanti
	"2026-05-01", // Maharashtra Day
	"2026-07-07", // Bakri Id
	"2026-08-15", // Independence Day
	"2026-10-02", // Gandhi Jayanti
	"2026-10-23", // Dussehra
	"2026-11-11", // Diwali (Laxmi Puja)
}

// New builds a Calendar for the given IANA timezone name (pass "" for the
// NSE default, Asia/Kolkata).
func New(timezone string) (*Calendar, error) {
	if timezone == "" {
		timezone = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load market timezone %q: %w", timezone, err)
	}

	holidays := make(map[string]bool, len(nseHolidays2026))
	for _, d := range nseHolidays2026 {
		holidays[d] = true
	}

	return &Calendar{Location: loc, Window: nseWindow, Holidays: holidays}, nil
}

// IsOpen reports whether the market is in its regular trading session at ts.
func (c *Calendar) IsOpen(ts time.Time) bool {
	now := ts.In(c.Location)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	if c.Holidays[now.Format("2006-01-02")] {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	open := c.Window.OpenHour*60 + c.Window.OpenMinute
	close_ := c.Window.CloseHour*60 + c.Window.CloseMinute
	return minutes >= open && minutes < close_
}

// IsTradingDay reports whether ts falls on a weekday that isn't an NSE
// holiday, independent of the current time of day — used by market_only
// time triggers, which gate on the day rather than the live session clock.
func (c *Calendar) IsTradingDay(ts time.Time) bool {
	now := ts.In(c.Location)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false
	}
	return !c.Holidays[now.Format("2006-01-02")]
}
