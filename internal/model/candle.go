package model

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Candle is one OHLCV bar. Prices are quote-currency floats.
type Candle struct {
	TS     time.Time `json:"ts"` // bar open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// TypicalPrice returns (high+low+close)/3. Prices near the float64 limit
// are divided before summing so the result stays finite.
func (c *Candle) TypicalPrice() float64 {
	sum := c.High + c.Low + c.Close
	if math.IsInf(sum, 0) {
		return c.High/3 + c.Low/3 + c.Close/3
	}
	return sum / 3.0
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Metadata identifies a series. It is carried through evaluation untouched.
type Metadata struct {
	Exchange  string `json:"exchange"`
	Pair      string `json:"pair"`      // e.g. "BTC/USDT"
	Timeframe string `json:"timeframe"` // e.g. "5m"
}

// Key returns "exchange:pair:timeframe".
func (m Metadata) Key() string {
	return m.Exchange + ":" + m.Pair + ":" + m.Timeframe
}

// Series is an ordered run of candles for one instrument.
type Series struct {
	Meta    Metadata `json:"meta"`
	Candles []Candle `json:"candles"`
}

// Len returns the number of candles.
func (s *Series) Len() int { return len(s.Candles) }

// Closes returns the close prices in order.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Candles))
	for i := range s.Candles {
		out[i] = s.Candles[i].Close
	}
	return out
}

// CandleEvent is the message carried on candle streams and channels.
// Forming candles are still open and only drive live previews.
type CandleEvent struct {
	Meta    Metadata `json:"meta"`
	Candle  Candle   `json:"candle"`
	Forming bool     `json:"forming,omitempty"`
}

// JSON returns the JSON-encoded event.
func (e *CandleEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// ParseSeriesKey parses "exchange:pair:timeframe" as produced by Metadata.Key.
func ParseSeriesKey(key string) (Metadata, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Metadata{}, false
	}
	return Metadata{Exchange: parts[0], Pair: parts[1], Timeframe: parts[2]}, true
}
