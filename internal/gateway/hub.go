// Package gateway fans evaluated signal rows out to WebSocket clients.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-enginev1/internal/model"
)

const replayPerChannel = 500

var upgrader = websocket.Upgrader{
	ReadBufferSize:    1024,
	WriteBufferSize:   4096,
	EnableCompression: true,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// Hub manages WebSocket clients, the latest row per channel and the
// per-channel replay rings used for reconnect backfill.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	// OnClientCount, when set, is called with the client count after each
	// connect and disconnect.
	OnClientCount func(n int)
}

type latestEntry struct {
	Data []byte // envelope
	TS   time.Time
	Seq  int64 // per-channel seq
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
	}
}

// Run broadcasts every row received on rows. Blocks until ctx is cancelled
// or rows is closed.
func (h *Hub) Run(ctx context.Context, rows <-chan model.SignalRow) {
	for {
		select {
		case <-ctx.Done():
			return
		case row, ok := <-rows:
			if !ok {
				return
			}
			h.PublishRow(&row)
		}
	}
}

// PublishRow broadcasts a row on its series channel.
func (h *Hub) PublishRow(row *model.SignalRow) {
	h.Broadcast(row.PubSubChannel(), row.JSON())
}

// Broadcast wraps data in an envelope and sends it to every client
// subscribed to channel. Slow clients miss messages rather than block.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.seq++
	seq := h.seq

	buf := buildEnvelope(channel, data, now, seq, channelSeq)
	h.latest[channel] = latestEntry{Data: buf, TS: now, Seq: channelSeq}

	rb, exists := h.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(replayPerChannel)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()
	rb.Push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
}

// buildEnvelope hand-crafts
// {"channel":"...","data":...,"ts":"...","seq":N,"channel_seq":M}.
// data must already be valid JSON.
func buildEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// HandleWS upgrades the request and registers a client. The query parameter
// "series" (repeatable, "exchange:pair:tf") restricts delivery; without it
// the client receives every channel. "last_seq" replays missed envelopes of
// the subscribed channels, otherwise the latest envelope of each is sent.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[gateway] ws upgrade failed", "error", err)
		return
	}

	client := newClient(h, conn)
	for _, key := range r.URL.Query()["series"] {
		if ch, ok := channelForSeries(key); ok {
			client.subscribe(ch)
		}
	}
	lastSeq, _ := strconv.ParseInt(r.URL.Query().Get("last_seq"), 10, 64)

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	slog.Info("[gateway] ws client connected", "clients", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	client.sendInitialState(lastSeq)
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// Latest returns the latest envelope of channel, or nil.
func (h *Hub) Latest(channel string) []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest[channel].Data
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// HandleMissed serves GET ?channel=...&from=N&to=M with the buffered
// envelopes of that range as a JSON array.
func (h *Hub) HandleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	from, errFrom := strconv.ParseInt(q.Get("from"), 10, 64)
	to, errTo := strconv.ParseInt(q.Get("to"), 10, 64)
	if channel == "" || errFrom != nil || errTo != nil || from > to {
		http.Error(w, "channel, from and to are required", http.StatusBadRequest)
		return
	}

	envs := h.GetReplayRange(channel, from, to)
	raw := make([]json.RawMessage, len(envs))
	for i, e := range envs {
		raw[i] = e
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(raw)
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// channelForSeries maps "exchange:pair:tf" to its signal channel.
func channelForSeries(key string) (string, bool) {
	m, ok := model.ParseSeriesKey(key)
	if !ok {
		return "", false
	}
	row := model.SignalRow{Meta: m}
	return row.PubSubChannel(), true
}
