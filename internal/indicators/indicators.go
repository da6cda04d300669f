package indicators

import (
	"errors"
	"fmt"
	"math"

	"rulebot/internal/domain/entity/marketdata"
)

// MinCloses is the minimum history needed to fill every snapshot field;
// SMA 200 is the longest window.
const MinCloses = 200

// nearBandPct is how close (relative) a price must be to a Bollinger band
// to classify as near_upper/near_lower.
const nearBandPct = 1.0

var ErrNotEnoughHistory = errors.New("not enough closes to build a snapshot")

// SMA returns the simple moving average over the last n closes.
func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

// EMA returns the exponential moving average over the whole series with
// period n, seeded by the SMA of the first n closes.
func EMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	k := 2.0 / (float64(n) + 1.0)
	ema := SMA(closes[:n], n)
	for i := n; i < len(closes); i++ {
		ema = closes[i]*k + ema*(1-k)
	}
	return ema
}

// RSI returns the relative strength index over the last period closes.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

// StdDev returns the population standard deviation over the last n values.
func StdDev(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	m := SMA(vals, n)
	s := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - m
		s += d * d
	}
	return math.Sqrt(s / float64(n))
}

// Bollinger returns the middle, upper and lower bands (n-period SMA ± k
// standard deviations).
func Bollinger(closes []float64, n int, k float64) (mid, up, low float64) {
	mid = SMA(closes, n)
	sd := StdDev(closes, n)
	up = mid + k*sd
	low = mid - k*sd
	return
}

// MACD returns the MACD line, signal line and histogram for the latest
// close, plus the previous tick's line/signal for crossover detection.
func MACD(closes []float64) (line, signal, histogram, prevLine, prevSignal float64) {
	line = macdLine(closes)
	prevLine = macdLine(closes[:len(closes)-1])

	// Signal is the EMA-9 of the MACD line series.
	series := make([]float64, 0, len(closes))
	for i := 26; i <= len(closes); i++ {
		series = append(series, macdLine(closes[:i]))
	}
	signal = EMA(series, 9)
	prevSignal = EMA(series[:len(series)-1], 9)
	histogram = line - signal
	return
}

func macdLine(closes []float64) float64 {
	return EMA(closes, 12) - EMA(closes, 26)
}

// ClassifyMACD maps the current and previous MACD line/signal values to the
// categorical class carried in the snapshot.
func ClassifyMACD(line, signal, prevLine, prevSignal float64) string {
	if prevLine <= prevSignal && line > signal {
		return marketdata.MACDBullishCrossover
	}
	if prevLine >= prevSignal && line < signal {
		return marketdata.MACDBearishCrossover
	}
	if line >= signal {
		return marketdata.MACDAboveSignal
	}
	return marketdata.MACDBelowSignal
}

// ClassifyBollinger maps a price against the bands to the snapshot's
// position class.
func ClassifyBollinger(price, upper, lower float64) string {
	switch {
	case price > upper:
		return marketdata.BBAboveUpper
	case price < lower:
		return marketdata.BBBelowLower
	case upper > 0 && (upper-price)/upper*100 <= nearBandPct:
		return marketdata.BBNearUpper
	case lower > 0 && (price-lower)/lower*100 <= nearBandPct:
		return marketdata.BBNearLower
	}
	return marketdata.BBBetweenBands
}

// BuildSnapshot assembles the full fixed-shape indicator vector from a
// chronological close series plus 24h ticker stats.
func BuildSnapshot(closes []float64, volume24h, priceChangePct float64) (marketdata.IndicatorSnapshot, error) {
	if len(closes) < MinCloses {
		return marketdata.IndicatorSnapshot{}, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughHistory, len(closes), MinCloses)
	}
	price := closes[len(closes)-1]
	_, bbUpper, bbLower := Bollinger(closes, 20, 2.0)
	line, signal, histogram, prevLine, prevSignal := MACD(closes)

	return marketdata.IndicatorSnapshot{
		Price:          price,
		Volume24h:      volume24h,
		PriceChangePct: priceChangePct,
		RSI14:          RSI(closes, 14),
		RSI7:           RSI(closes, 7),
		MACDHistogram:  histogram,
		MACDSignal:     ClassifyMACD(line, signal, prevLine, prevSignal),
		SMA20:          SMA(closes, 20),
		SMA50:          SMA(closes, 50),
		SMA200:         SMA(closes, 200),
		EMA12:          EMA(closes, 12),
		EMA20:          EMA(closes, 20),
		EMA26:          EMA(closes, 26),
		BBUpper:        bbUpper,
		BBLower:        bbLower,
		BBPosition:     ClassifyBollinger(price, bbUpper, bbLower),
	}, nil
}
