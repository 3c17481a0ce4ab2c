package model

import (
	"encoding/json"
	"time"
)

// SignalRow is one augmented output row: the candle, every indicator and the
// two signal flags. Undefined indicators are nil and encode as JSON null.
type SignalRow struct {
	Meta   Metadata  `json:"meta"`
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`

	RSI        *float64 `json:"rsi"`
	MACD       *float64 `json:"macd"`
	MACDSignal *float64 `json:"macd_signal"`
	MACDHist   *float64 `json:"macd_hist"`
	BBLower    *float64 `json:"bb_lower"`
	BBMid      *float64 `json:"bb_mid"`
	BBUpper    *float64 `json:"bb_upper"`
	EMAFast    *float64 `json:"ema_fast"`
	EMASlow    *float64 `json:"ema_slow"`

	Enter bool `json:"enter"`
	Exit  bool `json:"exit"`

	// Preview marks a row computed from a still-forming candle.
	Preview bool `json:"preview,omitempty"`
}

// Candle returns the candle portion of the row.
func (r *SignalRow) Candle() Candle {
	return Candle{TS: r.TS, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume}
}

// JSON returns the JSON-encoded row.
func (r *SignalRow) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// StreamKey returns the Redis stream key: "signal:{tf}:{exchange}:{pair}".
func (r *SignalRow) StreamKey() string {
	return "signal:" + r.Meta.Timeframe + ":" + r.Meta.Exchange + ":" + r.Meta.Pair
}

// PubSubChannel returns the Redis PubSub channel: "pub:signal:{tf}:{exchange}:{pair}".
func (r *SignalRow) PubSubChannel() string {
	return "pub:" + r.StreamKey()
}

// CandleStreamKey returns the Redis stream the service consumes candles from.
func CandleStreamKey(m Metadata) string {
	return "candle:" + m.Timeframe + ":" + m.Exchange + ":" + m.Pair
}
