package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-enginev1/internal/model"
)

type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         time.Time       `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

var (
	btc = model.Metadata{Exchange: "binance", Pair: "BTC/USDT", Timeframe: "5m"}
	eth = model.Metadata{Exchange: "binance", Pair: "ETH/USDT", Timeframe: "5m"}
)

func testRow(meta model.Metadata, close float64) *model.SignalRow {
	return &model.SignalRow{
		Meta:  meta,
		TS:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Close: close,
	}
}

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := buildEnvelope(`pub:signal:5m:x:"A/B"`, []byte(`{"a":1}`), now, 7, 3)

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, `pub:signal:5m:x:"A/B"`, env.Channel)
	assert.JSONEq(t, `{"a":1}`, string(env.Data))
	assert.True(t, env.TS.Equal(now))
	assert.Equal(t, int64(7), env.Seq)
	assert.Equal(t, int64(3), env.ChannelSeq)
}

func TestReplayBufferWraps(t *testing.T) {
	rb := NewReplayBuffer(3)
	for i := int64(1); i <= 5; i++ {
		rb.Push(i, []byte{byte('0' + i)})
	}
	assert.Equal(t, 3, rb.Len())

	got := rb.Range(1, 10)
	require.Len(t, got, 3)
	assert.Equal(t, []byte("3"), got[0])
	assert.Equal(t, []byte("5"), got[2])

	assert.Len(t, rb.Range(4, 4), 1)
	assert.Empty(t, rb.Range(6, 9))
}

func TestBroadcastSequences(t *testing.T) {
	h := NewHub()
	h.PublishRow(testRow(btc, 1))
	h.PublishRow(testRow(eth, 2))
	h.PublishRow(testRow(btc, 3))

	ch := testRow(btc, 0).PubSubChannel()
	assert.Equal(t, int64(2), h.ChannelSeq(ch))
	assert.Equal(t, int64(1), h.ChannelSeq(testRow(eth, 0).PubSubChannel()))

	var env envelope
	require.NoError(t, json.Unmarshal(h.Latest(ch), &env))
	assert.Equal(t, int64(3), env.Seq)
	assert.Equal(t, int64(2), env.ChannelSeq)

	var row model.SignalRow
	require.NoError(t, json.Unmarshal(env.Data, &row))
	assert.Equal(t, 3.0, row.Close)

	assert.Nil(t, h.Latest("pub:signal:none"))
	assert.Len(t, h.GetReplayRange(ch, 1, 2), 2)
	assert.Nil(t, h.GetReplayRange("pub:signal:none", 1, 2))
}

func TestHandleMissed(t *testing.T) {
	h := NewHub()
	for i := 0; i < 4; i++ {
		h.PublishRow(testRow(btc, float64(i)))
	}
	ch := testRow(btc, 0).PubSubChannel()

	q := url.Values{"channel": {ch}, "from": {"2"}, "to": {"3"}}
	rec := httptest.NewRecorder()
	h.HandleMissed(rec, httptest.NewRequest(http.MethodGet, "/api/missed?"+q.Encode(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var envs []envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envs))
	require.Len(t, envs, 2)
	assert.Equal(t, int64(2), envs[0].ChannelSeq)
	assert.Equal(t, int64(3), envs[1].ChannelSeq)

	rec = httptest.NewRecorder()
	h.HandleMissed(rec, httptest.NewRequest(http.MethodGet, "/api/missed?channel=x&from=5&to=1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelForSeries(t *testing.T) {
	ch, ok := channelForSeries("binance:BTC/USDT:5m")
	require.True(t, ok)
	assert.Equal(t, "pub:signal:5m:binance:BTC/USDT", ch)

	_, ok = channelForSeries("BTC/USDT")
	assert.False(t, ok)
}

// dial connects a client to a test server and waits until the hub has
// registered it.
func dial(t *testing.T, h *Hub, query url.Values) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	before := h.ClientCount()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.ClientCount() > before }, 2*time.Second, 5*time.Millisecond)
	return conn
}

// readEnvelopes reads frames until n envelopes have arrived. Coalesced
// frames carry several newline-separated envelopes.
func readEnvelopes(t *testing.T, conn *websocket.Conn, n int) []envelope {
	t.Helper()
	var out []envelope
	for len(out) < n {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(msg, []byte{'\n'}) {
			var env envelope
			require.NoError(t, json.Unmarshal(line, &env))
			out = append(out, env)
		}
	}
	return out
}

func TestWebSocketSeriesFilter(t *testing.T) {
	h := NewHub()
	conn := dial(t, h, url.Values{"series": {btc.Key()}})

	h.PublishRow(testRow(eth, 1))
	h.PublishRow(testRow(btc, 2))

	envs := readEnvelopes(t, conn, 1)
	require.Len(t, envs, 1)
	assert.Equal(t, testRow(btc, 0).PubSubChannel(), envs[0].Channel)

	var row model.SignalRow
	require.NoError(t, json.Unmarshal(envs[0].Data, &row))
	assert.Equal(t, 2.0, row.Close)
}

func TestWebSocketInitialState(t *testing.T) {
	h := NewHub()
	h.PublishRow(testRow(btc, 1))
	h.PublishRow(testRow(btc, 2))

	conn := dial(t, h, url.Values{"series": {btc.Key()}})
	envs := readEnvelopes(t, conn, 1)
	assert.Equal(t, int64(2), envs[0].ChannelSeq)
}

func TestWebSocketReplayFromLastSeq(t *testing.T) {
	h := NewHub()
	for i := 1; i <= 3; i++ {
		h.PublishRow(testRow(btc, float64(i)))
	}

	conn := dial(t, h, url.Values{"series": {btc.Key()}, "last_seq": {"1"}})
	envs := readEnvelopes(t, conn, 2)
	require.Len(t, envs, 2)
	assert.Equal(t, int64(2), envs[0].ChannelSeq)
	assert.Equal(t, int64(3), envs[1].ChannelSeq)
}

func TestWebSocketSubscribeMessage(t *testing.T) {
	h := NewHub()
	conn := dial(t, h, url.Values{"series": {btc.Key()}})

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "SUBSCRIBE",
		"series": []string{eth.Key()},
	}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "UNSUBSCRIBE",
		"series": []string{btc.Key()},
	}))

	// The control messages are processed asynchronously; publish until the
	// client's subscriptions reflect them.
	ethCh := testRow(eth, 0).PubSubChannel()
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			return c.matchesChannel(ethCh) && !c.matchesChannel(testRow(btc, 0).PubSubChannel())
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	h.PublishRow(testRow(btc, 1))
	h.PublishRow(testRow(eth, 2))
	envs := readEnvelopes(t, conn, 1)
	assert.Equal(t, ethCh, envs[0].Channel)
}

func TestClientCountCallback(t *testing.T) {
	h := NewHub()
	counts := make(chan int, 4)
	h.OnClientCount = func(n int) { counts <- n }

	conn := dial(t, h, url.Values{})
	assert.Equal(t, 1, <-counts)

	conn.Close()
	select {
	case n := <-counts:
		assert.Equal(t, 0, n)
	case <-time.After(2 * time.Second):
		t.Fatal("client removal not reported")
	}
}
