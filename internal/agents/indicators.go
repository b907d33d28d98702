// Package agents implements the swarm roster: the live agents that watch the
// market on their own cadences and the collectors the research pipeline fans
// out to on demand.
package agents

import "math"

// Indicator math over a price series, oldest first. Every function degrades
// to a neutral reading when the series is too short rather than erroring;
// agents analyze whatever history they have.

const (
	rsiPeriod       = 14
	bollingerPeriod = 20
	atrPeriod       = 14
	fibLookback     = 30
)

// RSI is the relative strength index over the trailing period. A short
// series reads as 50, neutral.
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}
	var gains, losses float64
	for i := len(prices) - period; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgGain == 0 {
		avgGain = 0.001
	}
	if avgLoss == 0 {
		avgLoss = 0.001
	}
	rs := avgGain / avgLoss
	return round2(100 - 100/(1+rs))
}

// SMA is the simple moving average. Returns 0, false when the series is
// shorter than the period.
func SMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	var sum float64
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return round2(sum / float64(period)), true
}

// EMA is the exponential moving average seeded with the SMA of the first
// period.
func EMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	var seed float64
	for _, p := range prices[:period] {
		seed += p
	}
	ema := seed / float64(period)
	k := 2 / float64(period+1)
	for _, p := range prices[period:] {
		ema = p*k + ema*(1-k)
	}
	return ema, true
}

// MACDResult carries the MACD line, its 9-period signal line, and the
// histogram between them.
type MACDResult struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// MACD computes the 12/26 EMA spread and its signal line. The signal line is
// the EMA of the MACD series computed point by point over the same prices.
func MACD(prices []float64) (MACDResult, bool) {
	const fast, slow, signal = 12, 26, 9
	if len(prices) < slow {
		return MACDResult{}, false
	}

	series := macdSeries(prices, fast, slow)
	line := series[len(series)-1]
	sig, ok := EMA(series, signal)
	if !ok {
		// Not enough MACD points for a signal line yet; fall back to the
		// line itself so the histogram reads flat.
		sig = line
	}
	return MACDResult{
		Line:      round4(line),
		Signal:    round4(sig),
		Histogram: round4(line - sig),
	}, true
}

// macdSeries returns the MACD line at each index from slow-1 onward, using
// running EMAs.
func macdSeries(prices []float64, fast, slow int) []float64 {
	emaFast := runningEMA(prices, fast)
	emaSlow := runningEMA(prices, slow)
	out := make([]float64, 0, len(prices)-slow+1)
	for i := slow - 1; i < len(prices); i++ {
		out = append(out, emaFast[i]-emaSlow[i])
	}
	return out
}

// runningEMA computes the EMA at every index; indexes before period-1 hold
// the simple average of the prefix so the series is fully populated.
func runningEMA(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	k := 2 / float64(period+1)
	var sum float64
	for i, p := range prices {
		if i < period {
			sum += p
			out[i] = sum / float64(i+1)
			continue
		}
		out[i] = p*k + out[i-1]*(1-k)
	}
	return out
}

// Bollinger computes the 2-sigma bands over the trailing period.
func Bollinger(prices []float64, period int) (upper, middle, lower float64, ok bool) {
	if period <= 0 || len(prices) < period {
		return 0, 0, 0, false
	}
	window := prices[len(prices)-period:]
	var sum float64
	for _, p := range window {
		sum += p
	}
	middle = sum / float64(period)
	var variance float64
	for _, p := range window {
		d := p - middle
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))
	return round2(middle + 2*std), round2(middle), round2(middle - 2*std), true
}

// ATR approximates the average true range from close-to-close moves. With a
// short series it reads as 2% of the last price.
func ATR(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		if len(prices) == 0 {
			return 0
		}
		return round2(prices[len(prices)-1] * 0.02)
	}
	var sum float64
	for i := len(prices) - period; i < len(prices); i++ {
		sum += math.Abs(prices[i] - prices[i-1])
	}
	return round2(sum / float64(period))
}

// Fibonacci computes retracement levels over the trailing lookback window.
func Fibonacci(prices []float64, lookback int) map[string]float64 {
	if len(prices) == 0 {
		return nil
	}
	window := prices
	if len(prices) > lookback {
		window = prices[len(prices)-lookback:]
	}
	high, low := window[0], window[0]
	for _, p := range window {
		if p > high {
			high = p
		}
		if p < low {
			low = p
		}
	}
	diff := high - low
	return map[string]float64{
		"0.0":   round2(high),
		"0.236": round2(high - diff*0.236),
		"0.382": round2(high - diff*0.382),
		"0.5":   round2(high - diff*0.5),
		"0.618": round2(high - diff*0.618),
		"1.0":   round2(low),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
