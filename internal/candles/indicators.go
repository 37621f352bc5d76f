package candles

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/quantcore/trademonitor/internal/domain"
)

// Default indicator parameters, used whenever a rule's trigger_config omits
// the corresponding params entry.
const (
	defaultRSIPeriod        = 14
	defaultMACDFast         = 12
	defaultMACDSlow         = 26
	defaultMACDSignal       = 9
	defaultEMAFast          = 9
	defaultEMASlow          = 21
	defaultVolumeLookback   = 20
	defaultVolumeMultiplier = 1.0
)

// IndicatorValue carries both the current reading and, where the series is
// long enough, the reading one bar back — the pair evaluateIndicator needs
// to detect crosses_above/crosses_below without threading extra state
// through EvalContext (the spec doesn't define a "previous indicator" input,
// so crossing is derived from the completed-candle series itself).
type IndicatorValue struct {
	Current  float64
	Previous float64
	HasPrev  bool
}

// Compute dispatches to the named indicator's pure calculation over a
// completed-candle series, honoring any per-rule overrides in params (e.g.
// {"period": 21} for rsi, {"fast": 5, "slow": 13} for ema_crossover,
// {"lookback": 30, "multiplier": 2} for volume_spike). ok is false when the
// series is too short to produce a value yet: skip, don't fire and don't
// error.
func Compute(name domain.IndicatorName, bars []domain.Candle, params map[string]interface{}) (IndicatorValue, bool) {
	switch name {
	case domain.IndicatorRSI:
		return computeRSI(bars, intParam(params, "period", defaultRSIPeriod))
	case domain.IndicatorMACD:
		return computeMACDHistogram(bars,
			intParam(params, "fast", defaultMACDFast),
			intParam(params, "slow", defaultMACDSlow),
			intParam(params, "signal", defaultMACDSignal))
	case domain.IndicatorEMACrossover:
		return computeEMACrossover(bars,
			intParam(params, "fast", defaultEMAFast),
			intParam(params, "slow", defaultEMASlow))
	case domain.IndicatorVolumeSpike:
		return computeVolumeSpike(bars,
			intParam(params, "lookback", defaultVolumeLookback),
			floatParam(params, "multiplier", defaultVolumeMultiplier))
	default:
		return IndicatorValue{}, false
	}
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	f, ok := v.(float64) // json numbers decode as float64
	if !ok || f <= 0 {
		return fallback
	}
	return int(f)
}

func floatParam(params map[string]interface{}, key string, fallback float64) float64 {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	f, ok := v.(float64)
	if !ok {
		return fallback
	}
	return f
}

func closes(bars []domain.Candle) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func volumes(bars []domain.Candle) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

func lastTwoValid(series []float64) (current, previous float64, hasPrev bool, ok bool) {
	n := len(series)
	if n == 0 || isNaN(series[n-1]) {
		return 0, 0, false, false
	}
	current = series[n-1]
	if n >= 2 && !isNaN(series[n-2]) {
		previous = series[n-2]
		hasPrev = true
	}
	return current, previous, hasPrev, true
}

func computeRSI(bars []domain.Candle, period int) (IndicatorValue, bool) {
	if len(bars) < period+2 {
		return IndicatorValue{}, false
	}
	series := talib.Rsi(closes(bars), period)
	cur, prev, hasPrev, ok := lastTwoValid(series)
	if !ok {
		return IndicatorValue{}, false
	}
	return IndicatorValue{Current: cur, Previous: prev, HasPrev: hasPrev}, true
}

// computeMACDHistogram returns the MACD histogram (macd line minus signal
// line), the value traders actually watch for zero-line crossings.
func computeMACDHistogram(bars []domain.Candle, fast, slow, signal int) (IndicatorValue, bool) {
	if len(bars) < slow+signal+2 {
		return IndicatorValue{}, false
	}
	_, _, hist := talib.Macd(closes(bars), fast, slow, signal)
	cur, prev, hasPrev, ok := lastTwoValid(hist)
	if !ok {
		return IndicatorValue{}, false
	}
	return IndicatorValue{Current: cur, Previous: prev, HasPrev: hasPrev}, true
}

// computeEMACrossover returns fast-EMA minus slow-EMA, so a crosses_above 0
// condition reads naturally as "fast crossed above slow".
func computeEMACrossover(bars []domain.Candle, fast, slow int) (IndicatorValue, bool) {
	if slow < fast {
		fast, slow = slow, fast
	}
	if len(bars) < slow+2 {
		return IndicatorValue{}, false
	}
	c := closes(bars)
	fastSeries := talib.Ema(c, fast)
	slowSeries := talib.Ema(c, slow)
	if len(fastSeries) != len(slowSeries) || len(fastSeries) == 0 {
		return IndicatorValue{}, false
	}
	diff := make([]float64, len(fastSeries))
	for i := range diff {
		diff[i] = fastSeries[i] - slowSeries[i]
	}
	cur, prev, hasPrev, ok := lastTwoValid(diff)
	if !ok {
		return IndicatorValue{}, false
	}
	return IndicatorValue{Current: cur, Previous: prev, HasPrev: hasPrev}, true
}

// computeVolumeSpike returns the ratio of the latest bar's volume to the
// rolling mean volume of the preceding lookback window, via gonum's
// stat.Mean, scaled by multiplier so a rule can express "volume ≥ 2x
// average" as condition=gte, value=1 with multiplier=2, or fold multiplier
// into value directly — both are equivalent, multiplier is offered for
// readability in authored rules.
func computeVolumeSpike(bars []domain.Candle, lookback int, multiplier float64) (IndicatorValue, bool) {
	if len(bars) < lookback+2 {
		return IndicatorValue{}, false
	}
	v := volumes(bars)

	ratioAt := func(idx int) (float64, bool) {
		start := idx - lookback
		if start < 0 {
			return 0, false
		}
		mean := stat.Mean(v[start:idx], nil)
		if mean == 0 {
			return 0, false
		}
		return (v[idx] / mean) / multiplier, true
	}

	cur, ok := ratioAt(len(v) - 1)
	if !ok {
		return IndicatorValue{}, false
	}
	prev, hasPrev := ratioAt(len(v) - 2)
	return IndicatorValue{Current: cur, Previous: prev, HasPrev: hasPrev}, true
}

func isNaN(f float64) bool {
	return math.IsNaN(f)
}
