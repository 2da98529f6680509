// Package stream pushes bus events to websocket subscribers so external
// UIs can follow job lifecycle activity live. The hub owns all client
// bookkeeping; clients only touch their own connection.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DKmica/TreeProAIv2-sub008/event"
)

// EventMessage is the envelope written to websocket clients.
type EventMessage struct {
	Type      string      `json:"type"` // always "event"
	Data      event.Event `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Hub fans bus events out to connected websocket clients. Slow clients
// are skipped, never waited on; the bus ordering guarantee holds per
// client only while its send queue keeps up.
type Hub struct {
	allowedOrigins []string
	clients        map[*client]bool
	register       chan *client
	unregister     chan *client
	broadcast      chan event.Event
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	mu             sync.RWMutex
	logger         *zap.SugaredLogger
}

// NewHub creates a hub. The logger may be nil; allowedOrigins feeds the
// upgrader's origin check.
func NewHub(allowedOrigins []string, log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		allowedOrigins: allowedOrigins,
		clients:        make(map[*client]bool),
		register:       make(chan *client),
		unregister:     make(chan *client),
		broadcast:      make(chan event.Event, 64),
		ctx:            ctx,
		cancel:         cancel,
		logger:         log,
	}
}

// Attach subscribes the hub to every event type on the bus. Call before
// Run; the bus handler only enqueues, so it never blocks bus delivery
// on websocket writes.
func (h *Hub) Attach(bus *event.Bus) {
	bus.Subscribe("stream-hub", func(ctx context.Context, evt event.Event) error {
		select {
		case h.broadcast <- evt:
		case <-h.ctx.Done():
		}
		return nil
	})
}

// Run processes registration and broadcast traffic until Stop.
func (h *Hub) Run() {
	h.wg.Add(1)
	go h.loop()
	h.logger.Infow("Stream hub started")
}

func (h *Hub) loop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Infow("Stream client connected", "client_id", c.id, "clients", count)
		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				c.close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Infow("Stream client disconnected", "client_id", c.id, "clients", count)
		case evt := <-h.broadcast:
			h.broadcastEvent(evt)
		}
	}
}

func (h *Hub) broadcastEvent(evt event.Event) {
	msg := EventMessage{
		Type:      "event",
		Data:      evt,
		Timestamp: time.Now().Unix(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("Failed to marshal stream event",
			"event_id", evt.ID,
			"error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		select {
		case c.send <- payload:
			sent++
		default:
			h.logger.Warnw("Stream client send queue full, dropping event",
				"client_id", c.id,
				"event_id", evt.ID)
		}
	}

	h.logger.Debugw("Broadcasted event",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"clients", sent)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// Stop disconnects all clients and stops the hub loop.
func (h *Hub) Stop() {
	h.cancel()
	h.wg.Wait()
	h.logger.Infow("Stream hub stopped")
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
