// Package realtime fans persisted broadcast events out to connected devices
// over websockets. Devices subscribe to channels after connecting; what they
// may subscribe to is decided by their token claims.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/pos-device-bridge/internal/auth"
	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// ErrNoSubscribers is returned by Deliver when nobody listens on the channel.
var ErrNoSubscribers = errors.New("realtime: no subscribers")

// ErrSlowConsumer is returned by Deliver when a subscriber's buffer was full.
var ErrSlowConsumer = errors.New("realtime: subscriber buffer full")

// Frame is what a subscriber receives for every delivered event.
type Frame struct {
	ID        uint            `json:"id"`
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Command is a client-to-server message.
type Command struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Reply acknowledges a Command.
type Reply struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
}

// Hub tracks connected clients and their channel subscriptions.
type Hub struct {
	// SendBuffer is the number of frames queued per client before it is
	// treated as a slow consumer.
	SendBuffer int

	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	clients  map[*Client]struct{}
}

// NewHub returns an empty hub.
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		SendBuffer: sendBuffer,
		channels:   make(map[string]map[*Client]struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

// Client is one websocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	claims *auth.Claims
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// Serve runs the connection until it closes. Device and relay clients are
// subscribed to their own channel on arrival.
func (h *Hub) Serve(conn *websocket.Conn, claims *auth.Claims) {
	c := &Client{
		hub:    h,
		conn:   conn,
		claims: claims,
		send:   make(chan []byte, h.SendBuffer),
		done:   make(chan struct{}),
	}
	h.register(c)
	if claims.DeviceID != 0 {
		h.subscribe(c, domain.DeviceChannel(claims.DeviceID))
	}
	observability.WSConnections.Inc()

	go c.writePump()
	c.readPump()

	h.unregister(c)
	observability.WSConnections.Dec()
}

// Deliver sends d to every subscriber of its channel without blocking. A
// subscriber whose buffer is full is disconnected; it recovers through
// replay after reconnecting.
func (h *Hub) Deliver(d domain.Delivery) error {
	frame, err := json.Marshal(Frame{
		ID:        d.ID,
		Channel:   d.Channel,
		Event:     d.Event,
		Payload:   d.Payload,
		Timestamp: d.Timestamp,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	subs := make([]*Client, 0, len(h.channels[d.Channel]))
	for c := range h.channels[d.Channel] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	if len(subs) == 0 {
		return ErrNoSubscribers
	}
	var slow bool
	for _, c := range subs {
		if !c.enqueue(frame) {
			slow = true
			log.Warn().Str("component", "realtime").Uint("device_id", c.claims.DeviceID).
				Str("channel", d.Channel).Msg("subscriber too slow; disconnecting")
			c.close()
		}
	}
	if slow {
		return ErrSlowConsumer
	}
	return nil
}

// Subscribers returns how many clients listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	for ch, subs := range h.channels {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, ch)
		}
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) subscribe(c *Client, channel string) {
	h.mu.Lock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Client]struct{})
		h.channels[channel] = subs
	}
	subs[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()
}

func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		// Unblocks readPump; writePump owns closing the socket.
		_ = c.conn.SetReadDeadline(time.Now())
	})
}

func (c *Client) reply(r Reply) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	if !c.enqueue(b) {
		c.close()
	}
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("component", "realtime").Uint("device_id", c.claims.DeviceID).Msg("websocket closed")
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(Reply{Type: "error", Message: "malformed command"})
			continue
		}
		switch cmd.Action {
		case "subscribe":
			if !c.claims.CanSubscribe(cmd.Channel) {
				c.reply(Reply{Type: "error", Channel: cmd.Channel, Message: "not allowed to subscribe"})
				continue
			}
			c.hub.subscribe(c, cmd.Channel)
			c.reply(Reply{Type: "subscribed", Channel: cmd.Channel})
		case "unsubscribe":
			c.hub.unsubscribe(c, cmd.Channel)
			c.reply(Reply{Type: "unsubscribed", Channel: cmd.Channel})
		case "ping":
			c.reply(Reply{Type: "pong"})
		default:
			c.reply(Reply{Type: "error", Message: "unknown action"})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
