package indicator

import (
	"math"

	"github.com/markcheno/go-talib"

	"papertrader/internal/market"
)

const (
	rsiPeriod       = 14
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	bollingerPeriod = 20
	bollingerK      = 2.0
)

type MACD struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

type Bollinger struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Indicators is the per-coin block handed to the oracle. A nil field means
// there is not enough history yet; it never means zero.
type Indicators struct {
	RSI       *float64   `json:"rsi"`
	SMA20     *float64   `json:"sma20"`
	SMA50     *float64   `json:"sma50"`
	EMA12     *float64   `json:"ema12"`
	EMA26     *float64   `json:"ema26"`
	MACD      *MACD      `json:"macd"`
	Bollinger *Bollinger `json:"bollingerBands"`
}

// Compute derives every indicator from the candle closes.
func Compute(candles []market.Candle) Indicators {
	closes := sanitizeSeries(market.Closes(candles))
	return Indicators{
		RSI:       RSI(closes, rsiPeriod),
		SMA20:     SMA(closes, 20),
		SMA50:     SMA(closes, 50),
		EMA12:     EMA(closes, macdFast),
		EMA26:     EMA(closes, macdSlow),
		MACD:      MACDValue(closes),
		Bollinger: BollingerBands(closes, bollingerPeriod, bollingerK),
	}
}

// SMA is the plain mean of the last period values.
func SMA(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	out := talib.Sma(closes, period)
	return ptr(out[len(out)-1])
}

// EMA uses k = 2/(period+1), seeded by the mean of the first period values.
func EMA(closes []float64, period int) *float64 {
	series := EMASeries(closes, period)
	if len(series) == 0 {
		return nil
	}
	return ptr(series[len(series)-1])
}

// EMASeries returns the EMA from index period-1 onward.
func EMASeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}
	return talib.Ema(closes, period)[period-1:]
}

// RSI uses Wilder smoothing: the first average covers period deltas, later
// values are folded in with weight 1/period. No losses at all yields 100.
func RSI(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			avgGain += diff
		} else {
			avgLoss -= diff
		}
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p
	for i := period + 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}
	if avgLoss == 0 {
		return ptr(100)
	}
	rs := avgGain / avgLoss
	return ptr(100 - 100/(1+rs))
}

// MACDValue is EMA12-EMA26 with a signal line that is the EMA9 of the MACD
// series, taken from the first index where both EMAs exist.
func MACDValue(closes []float64) *MACD {
	fast := EMASeries(closes, macdFast)
	slow := EMASeries(closes, macdSlow)
	if len(slow) == 0 {
		return nil
	}
	offset := macdSlow - macdFast
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i+offset] - slow[i]
	}
	signal := EMA(line, macdSignal)
	if signal == nil {
		return nil
	}
	last := line[len(line)-1]
	return &MACD{MACD: last, Signal: *signal, Histogram: last - *signal}
}

// BollingerBands are SMA ± k·σ over the trailing period, population σ.
func BollingerBands(closes []float64, period int, k float64) *Bollinger {
	if period <= 0 || len(closes) < period {
		return nil
	}
	upper, middle, lower := talib.BBands(closes, period, k, k, talib.SMA)
	n := len(closes) - 1
	return &Bollinger{Upper: upper[n], Middle: middle[n], Lower: lower[n]}
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func ptr(v float64) *float64 { return &v }
