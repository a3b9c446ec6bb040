// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/territory/services/territory/grid"
	"github.com/AleutianAI/territory/services/territory/stats"
)

const (
	// DefaultSendBuffer is the per-client queue length.
	DefaultSendBuffer = 64

	// DefaultWriteTimeout bounds one websocket write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultPongTimeout is how long a client may stay silent.
	DefaultPongTimeout = 60 * time.Second

	// DefaultMaxMessageBytes caps inbound client messages.
	DefaultMaxMessageBytes = 4096
)

// HubConfig tunes the websocket hub. Zero values use the defaults.
type HubConfig struct {
	SendBuffer      int           `yaml:"send_buffer" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	PongTimeout     time.Duration `yaml:"pong_timeout" validate:"gte=0"`
	MaxMessageBytes int64         `yaml:"max_message_bytes" validate:"gte=0"`

	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func (c HubConfig) withDefaults() HubConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return c
}

// Message is the server-to-client envelope.
type Message struct {
	Type EventType `json:"type"`

	// Seq increases by one for every message the hub broadcasts.
	Seq uint64 `json:"seq,omitempty"`

	Capture *CaptureMessage  `json:"capture,omitempty"`
	Stats   *stats.UserStats `json:"stats,omitempty"`
	BBox    *grid.BBox       `json:"bbox,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Control message types.
const (
	MessageWelcome      EventType = "welcome"
	MessageSubscribed   EventType = "subscribed"
	MessageUnsubscribed EventType = "unsubscribed"
	MessageError        EventType = "error"
)

// CaptureMessage is the rendering view of one capture.
type CaptureMessage struct {
	ID           string               `json:"id"`
	User         string               `json:"user"`
	Color        string               `json:"color,omitempty"`
	PathType     string               `json:"pathType"`
	ClaimedCells []grid.Cell          `json:"claimedCells"`
	Conflicts    map[grid.Cell]string `json:"conflicts,omitempty"`
	CapturedAt   time.Time            `json:"capturedAt"`
}

// ClientMessage is the client-to-server envelope. Type is "subscribe" with a
// BBox, or "unsubscribe".
type ClientMessage struct {
	Type string     `json:"type"`
	BBox *grid.BBox `json:"bbox,omitempty"`
}

// Hub broadcasts captures to websocket clients.
//
// Description:
//
//	Each client has a buffered send queue drained by its own writer
//	goroutine. A client whose queue is full when a message arrives is
//	dropped rather than allowed to stall the broadcast. Clients may
//	subscribe to a bounding box; they then receive only captures with a
//	claimed cell centered inside it. Stats messages go to every client.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	cfg      HubConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates a hub. logger nil uses slog.Default().
func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "notify.hub"),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	filter *grid.BBox

	closeOnce sync.Once
}

func (c *client) setFilter(b *grid.BBox) {
	c.mu.Lock()
	c.filter = b
	c.mu.Unlock()
}

func (c *client) wants(cells []grid.Cell) bool {
	c.mu.Lock()
	filter := c.filter
	c.mu.Unlock()
	if filter == nil {
		return true
	}
	for _, cell := range cells {
		if filter.Contains(grid.Center(cell)) {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.logger.Debug("websocket client connected", "client_id", c.id, "remote", r.RemoteAddr)

	h.enqueue(c, Message{Type: MessageWelcome})
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// unregister removes c and closes its queue. Safe to call more than once.
// The queue is closed under the write lock so offer never sends on it
// after close.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.closeOnce.Do(func() { close(c.send) })
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		h.logger.Debug("websocket client disconnected", "client_id", c.id)
	}()

	c.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.logger.Debug("websocket read ended", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		h.handleClientMessage(c, msg)
	}
}

func (h *Hub) handleClientMessage(c *client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.BBox == nil {
			h.enqueue(c, Message{Type: MessageError, Error: "subscribe requires bbox"})
			return
		}
		if err := msg.BBox.Validate(); err != nil {
			h.enqueue(c, Message{Type: MessageError, Error: err.Error()})
			return
		}
		box := *msg.BBox
		c.setFilter(&box)
		h.enqueue(c, Message{Type: MessageSubscribed, BBox: &box})
	case "unsubscribe":
		c.setFilter(nil)
		h.enqueue(c, Message{Type: MessageUnsubscribed})
	default:
		h.enqueue(c, Message{Type: MessageError, Error: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("websocket write failed", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue sends a control message to one client, dropping it when full.
func (h *Hub) enqueue(c *client, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode websocket message", "type", msg.Type, "error", err)
		return
	}
	h.offer(c, payload)
}

// offer queues payload without blocking. A full queue drops the client.
func (h *Hub) offer(c *client, payload []byte) {
	h.mu.RLock()
	_, live := h.clients[c]
	full := false
	if live {
		select {
		case c.send <- payload:
		default:
			full = true
		}
	}
	h.mu.RUnlock()

	if full {
		h.dropped.Add(1)
		h.logger.Warn("dropping slow websocket client", "client_id", c.id)
		h.unregister(c)
	}
}

// CaptureApplied implements Notifier.
func (h *Hub) CaptureApplied(_ context.Context, ev Event) {
	if ev.Capture != nil {
		res := ev.Capture
		msg := Message{
			Type: EventCaptureApplied,
			Seq:  h.seq.Add(1),
			Capture: &CaptureMessage{
				ID:           res.ID,
				User:         res.User,
				Color:        res.Color,
				PathType:     string(res.PathType),
				ClaimedCells: res.ClaimedCells,
				Conflicts:    res.Conflicts,
				CapturedAt:   res.CapturedAt,
			},
		}
		h.broadcast(msg, res.ClaimedCells)
	}
	if ev.Stats != nil {
		h.broadcast(Message{Type: EventStatsUpdated, Seq: h.seq.Add(1), Stats: ev.Stats}, nil)
	}
}

// broadcast sends msg to every client whose filter accepts cells. nil cells
// bypasses filters.
func (h *Hub) broadcast(msg Message, cells []grid.Cell) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode websocket message", "type", msg.Type, "error", err)
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if cells == nil || c.wants(cells) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.offer(c, payload)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many clients were dropped for falling behind.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.closeOnce.Do(func() { close(c.send) })
	}
	h.clients = make(map[*client]struct{})
}
