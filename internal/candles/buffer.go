// Package candles implements the candle buffer and indicator engine (spec
// component C3): tick-to-OHLCV aggregation and the indicator dispatch table
// the evaluator kernel reads from.
package candles

import (
	"sync"
	"time"

	"github.com/quantcore/trademonitor/internal/domain"
)

var timeframeDurations = map[domain.Timeframe]time.Duration{
	domain.Timeframe1m:  time.Minute,
	domain.Timeframe5m:  5 * time.Minute,
	domain.Timeframe15m: 15 * time.Minute,
	domain.Timeframe30m: 30 * time.Minute,
	domain.Timeframe1h:  time.Hour,
	domain.Timeframe1d:  24 * time.Hour,
}

// Buffer is a per (user x instrument x timeframe) bounded ring of OHLCV
// bars, ordered by bar-start time. Seeded from a historical REST fetch on
// first subscription and maintained by incoming ticks thereafter (spec §3).
type Buffer struct {
	mu         sync.RWMutex
	timeframe  time.Duration
	maxCandles int
	bars       []domain.Candle // oldest first; last element may be in-progress
	// seededThrough is the Start of the newest seeded bar (zero if unseeded).
	seededThrough time.Time
}

// NewBuffer creates an empty candle buffer for the given timeframe, capped
// at maxCandles bars.
func NewBuffer(timeframe domain.Timeframe, maxCandles int) *Buffer {
	return &Buffer{
		timeframe:  timeframeDurations[timeframe],
		maxCandles: maxCandles,
	}
}

// WindowStart snaps a timestamp to its bar boundary: floor(ts/timeframe)*timeframe.
func (b *Buffer) WindowStart(ts time.Time) time.Time {
	unix := ts.Unix()
	width := int64(b.timeframe / time.Second)
	if width <= 0 {
		width = 1
	}
	floored := (unix / width) * width
	return time.Unix(floored, 0).UTC()
}

// AddTick folds a single tick into the buffer: starts a fresh bar when the
// tick falls in a new window, otherwise mutates the in-progress tail bar.
func (b *Buffer) AddTick(price, volume float64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.WindowStart(ts)
	if !b.seededThrough.IsZero() && !start.After(b.seededThrough) {
		return
	}

	if len(b.bars) > 0 {
		last := &b.bars[len(b.bars)-1]
		if last.Start.Equal(start) {
			if price > last.High {
				last.High = price
			}
			if price < last.Low {
				last.Low = price
			}
			last.Close = price
			last.Volume += volume
			return
		}
	}

	b.bars = append(b.bars, domain.Candle{
		Start:  start,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: volume,
	})
	b.evictLocked()
}

// Seed bulk-loads historical bars, assumed already in ascending time order
// and finalized — later ticks whose timestamps fall inside a seeded bar's
// window never mutate it: AddTick drops any tick whose window is at or
// before the newest seeded bar's.
func (b *Buffer) Seed(historical []domain.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seededThrough = time.Time{}
	if len(historical) > 0 {
		b.seededThrough = historical[len(historical)-1].Start
	}
	b.bars = append(b.bars[:0], historical...)
	b.evictLocked()
}

// evictLocked discards the oldest bars once maxCandles is exceeded. Caller
// must hold b.mu.
func (b *Buffer) evictLocked() {
	if b.maxCandles <= 0 {
		return
	}
	if excess := len(b.bars) - b.maxCandles; excess > 0 {
		b.bars = b.bars[excess:]
	}
}

// GetCandles returns all bars, including the in-progress tail bar.
func (b *Buffer) GetCandles() []domain.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Candle, len(b.bars))
	copy(out, b.bars)
	return out
}

// GetCompletedCandles returns all bars except the in-progress tail. This is
// what indicator computations should read from, per spec §4.3.
func (b *Buffer) GetCompletedCandles() []domain.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bars) == 0 {
		return nil
	}
	out := make([]domain.Candle, len(b.bars)-1)
	copy(out, b.bars[:len(b.bars)-1])
	return out
}
