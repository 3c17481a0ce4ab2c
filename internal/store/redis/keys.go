package redis

import "signal-enginev1/internal/model"

// Key layout:
//
//	candle:{tf}:{exchange}:{pair}            stream of closed CandleEvents (consumed)
//	pub:candle:{tf}:{exchange}:{pair}        PubSub of forming CandleEvents
//	signal:{tf}:{exchange}:{pair}            stream of SignalRows
//	signal:{tf}:latest:{exchange}:{pair}     latest SignalRow (SET with TTL)
//	pub:signal:{tf}:{exchange}:{pair}        PubSub of SignalRows and previews

// CandleStreamKey returns the stream the engine consumes for meta.
func CandleStreamKey(m model.Metadata) string { return model.CandleStreamKey(m) }

// CandleChannel returns the PubSub channel for forming candles of meta.
func CandleChannel(m model.Metadata) string { return "pub:" + model.CandleStreamKey(m) }

// SignalStreamKey returns the stream rows of meta are appended to.
func SignalStreamKey(m model.Metadata) string {
	return "signal:" + m.Timeframe + ":" + m.Exchange + ":" + m.Pair
}

// LatestSignalKey returns the key holding the latest row of meta.
func LatestSignalKey(m model.Metadata) string {
	return "signal:" + m.Timeframe + ":latest:" + m.Exchange + ":" + m.Pair
}

// SignalChannel returns the PubSub channel rows of meta are published on.
func SignalChannel(m model.Metadata) string { return "pub:" + SignalStreamKey(m) }

// SignalChannelPattern matches every signal channel.
const SignalChannelPattern = "pub:signal:*"

// CandleChannelPattern matches every forming-candle channel.
const CandleChannelPattern = "pub:candle:*"
