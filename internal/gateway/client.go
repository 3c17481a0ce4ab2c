package gateway

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed channels; empty means everything.
	subMu sync.RWMutex
	subs  map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}
}

// controlMsg is what clients may send: subscription changes and pings.
type controlMsg struct {
	Type   string   `json:"type"` // SUBSCRIBE | UNSUBSCRIBE
	Series []string `json:"series"`
	Ping   int64    `json:"ping"`
}

func (c *Client) subscribe(channel string) {
	c.subMu.Lock()
	c.subs[channel] = true
	c.subMu.Unlock()
}

func (c *Client) unsubscribe(channel string) {
	c.subMu.Lock()
	delete(c.subs, channel)
	c.subMu.Unlock()
}

// matchesChannel reports whether the client should receive channel.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs) == 0 || c.subs[channel]
}

// sendInitialState queues the latest envelope of each matching channel, or
// when lastSeq > 0 every buffered envelope after it.
func (c *Client) sendInitialState(lastSeq int64) {
	c.hub.mu.RLock()
	var queued [][]byte
	for channel, entry := range c.hub.latest {
		if !c.matchesChannel(channel) {
			continue
		}
		if lastSeq <= 0 {
			queued = append(queued, entry.Data)
			continue
		}
		if rb := c.hub.replayBufs[channel]; rb != nil {
			queued = append(queued, rb.Range(lastSeq+1, math.MaxInt64)...)
		}
	}
	c.hub.mu.RUnlock()

	for _, env := range queued {
		select {
		case c.send <- env:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: queued envelopes share one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		slog.Info("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var ctl controlMsg
		if json.Unmarshal(msg, &ctl) != nil {
			continue
		}

		switch ctl.Type {
		case "SUBSCRIBE", "UNSUBSCRIBE":
			for _, key := range ctl.Series {
				ch, ok := channelForSeries(key)
				if !ok {
					continue
				}
				if ctl.Type == "SUBSCRIBE" {
					c.subscribe(ch)
				} else {
					c.unsubscribe(ch)
				}
			}
		default:
			if ctl.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      ctl.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}
