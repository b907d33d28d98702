package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ascending(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func descending(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 200 - float64(i)
	}
	return out
}

func flat(n, v int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(v)
	}
	return out
}

func TestRSIExtremes(t *testing.T) {
	up := RSI(ascending(30), rsiPeriod)
	assert.Greater(t, up, 99.0, "monotonic rally should read near 100")

	down := RSI(descending(30), rsiPeriod)
	assert.Less(t, down, 1.0, "monotonic selloff should read near 0")
}

func TestRSIShortSeriesIsNeutral(t *testing.T) {
	assert.Equal(t, 50.0, RSI(ascending(5), rsiPeriod))
	assert.Equal(t, 50.0, RSI(nil, rsiPeriod))
}

func TestSMA(t *testing.T) {
	sma, ok := SMA([]float64{1, 2, 3, 4, 5}, 5)
	require.True(t, ok)
	assert.Equal(t, 3.0, sma)

	sma, ok = SMA([]float64{1, 2, 3, 4, 5}, 3)
	require.True(t, ok)
	assert.Equal(t, 4.0, sma, "SMA uses the trailing window")

	_, ok = SMA([]float64{1, 2}, 3)
	assert.False(t, ok)
}

func TestEMAConvergesToFlatSeries(t *testing.T) {
	ema, ok := EMA(flat(40, 150), 12)
	require.True(t, ok)
	assert.InDelta(t, 150.0, ema, 1e-9)
}

func TestEMALeansTowardRecentPrices(t *testing.T) {
	prices := append(flat(30, 100), 120, 120, 120, 120, 120)
	ema, ok := EMA(prices, 12)
	require.True(t, ok)
	sma, _ := SMA(prices, len(prices))
	assert.Greater(t, ema, sma, "EMA should weight the late jump harder than the full-series mean")
}

func TestMACDFlatSeriesReadsZero(t *testing.T) {
	macd, ok := MACD(flat(60, 175))
	require.True(t, ok)
	assert.Zero(t, macd.Line)
	assert.Zero(t, macd.Histogram)
}

func TestMACDTrendingUpIsPositive(t *testing.T) {
	macd, ok := MACD(ascending(60))
	require.True(t, ok)
	assert.Positive(t, macd.Line)
}

func TestMACDShortSeries(t *testing.T) {
	_, ok := MACD(ascending(10))
	assert.False(t, ok)
}

func TestBollingerFlatSeriesCollapses(t *testing.T) {
	upper, middle, lower, ok := Bollinger(flat(25, 90), bollingerPeriod)
	require.True(t, ok)
	assert.Equal(t, 90.0, middle)
	assert.Equal(t, upper, lower, "zero variance means zero band width")
}

func TestBollingerBandsBracketTheMean(t *testing.T) {
	prices := []float64{98, 102, 99, 101, 100, 97, 103, 100, 99, 101, 98, 102, 100, 99, 101, 100, 98, 102, 99, 101}
	upper, middle, lower, ok := Bollinger(prices, bollingerPeriod)
	require.True(t, ok)
	assert.Greater(t, upper, middle)
	assert.Less(t, lower, middle)
}

func TestATR(t *testing.T) {
	// Alternating ±2 moves give an average true range of 2.
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 100 + float64(i%2)*2
	}
	assert.Equal(t, 2.0, ATR(prices, atrPeriod))
}

func TestATRShortSeriesFallsBackToPct(t *testing.T) {
	assert.Equal(t, 2.0, ATR([]float64{100}, atrPeriod))
	assert.Equal(t, 0.0, ATR(nil, atrPeriod))
}

func TestFibonacciLevels(t *testing.T) {
	prices := []float64{100, 150, 120, 200, 180}
	fib := Fibonacci(prices, fibLookback)
	require.NotNil(t, fib)
	assert.Equal(t, 200.0, fib["0.0"])
	assert.Equal(t, 100.0, fib["1.0"])
	assert.Equal(t, 150.0, fib["0.5"])
	assert.Equal(t, 161.8, fib["0.382"])
}

func TestFibonacciEmptySeries(t *testing.T) {
	assert.Nil(t, Fibonacci(nil, fibLookback))
}

func TestClassify(t *testing.T) {
	bias, conf := classify([]indicatorSignal{
		{"RSI", "OVERSOLD", 25},
		{"SMA_CROSS", "GOLDEN_CROSS", 1.5},
		{"MACD", "BEARISH", -0.2},
	})
	assert.Equal(t, "bullish", bias)
	assert.InDelta(t, 0.67, conf, 0.01)

	bias, conf = classify([]indicatorSignal{{"RSI", "NEUTRAL", 50}})
	assert.Equal(t, "neutral", bias)
	assert.Zero(t, conf)
}

func TestSentimentLabels(t *testing.T) {
	assert.Equal(t, "very_bullish", SentimentLabel(0.5))
	assert.Equal(t, "bullish", SentimentLabel(0.2))
	assert.Equal(t, "neutral", SentimentLabel(0.05))
	assert.Equal(t, "bearish", SentimentLabel(-0.2))
	assert.Equal(t, "very_bearish", SentimentLabel(-0.5))
}

func TestAggregateSentiment(t *testing.T) {
	assert.Zero(t, AggregateSentiment(nil))
	got := AggregateSentiment([]Headline{{Sentiment: 0.6}, {Sentiment: -0.2}})
	assert.InDelta(t, 0.2, got, 1e-9)
}
