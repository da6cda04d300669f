package marketdata

import "time"

// MACD signal classes published by the snapshot producer.
const (
	MACDBullishCrossover = "bullish_crossover"
	MACDBearishCrossover = "bearish_crossover"
	MACDAboveSignal      = "above_signal"
	MACDBelowSignal      = "below_signal"
)

// Bollinger position classes published by the snapshot producer.
const (
	BBAboveUpper   = "above_upper"
	BBBelowLower   = "below_lower"
	BBNearUpper    = "near_upper"
	BBNearLower    = "near_lower"
	BBBetweenBands = "between_bands"
)

// IndicatorSnapshot is one immutable vector of market indicators for a pair.
// The field set is fixed: fourteen numeric values and two categorical classes.
type IndicatorSnapshot struct {
	Price          float64 `json:"price"`
	Volume24h      float64 `json:"volume_24h"`
	PriceChangePct float64 `json:"price_change_pct"`
	RSI14          float64 `json:"rsi_14"`
	RSI7           float64 `json:"rsi_7"`
	MACDHistogram  float64 `json:"macd_histogram"`
	MACDSignal     string  `json:"macd_signal"`
	SMA20          float64 `json:"sma_20"`
	SMA50          float64 `json:"sma_50"`
	SMA200         float64 `json:"sma_200"`
	EMA12          float64 `json:"ema_12"`
	EMA20          float64 `json:"ema_20"`
	EMA26          float64 `json:"ema_26"`
	BBUpper        float64 `json:"bb_upper"`
	BBLower        float64 `json:"bb_lower"`
	BBPosition     string  `json:"bb_position"`
}

// Tick is a timestamped snapshot for one trading pair.
type Tick struct {
	Pair     string            `json:"pair"`
	Time     time.Time         `json:"time"`
	Snapshot IndicatorSnapshot `json:"snapshot"`
}

// NumericField resolves a numeric indicator by its wire name.
// The second return is false for unknown or non-numeric fields.
func (s *IndicatorSnapshot) NumericField(name string) (float64, bool) {
	switch name {
	case "price":
		return s.Price, true
	case "volume_24h":
		return s.Volume24h, true
	case "price_change_pct":
		return s.PriceChangePct, true
	case "rsi_14":
		return s.RSI14, true
	case "rsi_7":
		return s.RSI7, true
	case "macd_histogram":
		return s.MACDHistogram, true
	case "sma_20":
		return s.SMA20, true
	case "sma_50":
		return s.SMA50, true
	case "sma_200":
		return s.SMA200, true
	case "ema_12":
		return s.EMA12, true
	case "ema_20":
		return s.EMA20, true
	case "ema_26":
		return s.EMA26, true
	case "bb_upper":
		return s.BBUpper, true
	case "bb_lower":
		return s.BBLower, true
	}
	return 0, false
}

// CategoricalField resolves a categorical indicator by its wire name.
func (s *IndicatorSnapshot) CategoricalField(name string) (string, bool) {
	switch name {
	case "macd_signal":
		return s.MACDSignal, true
	case "bb_position":
		return s.BBPosition, true
	}
	return "", false
}
