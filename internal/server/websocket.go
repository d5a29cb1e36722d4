package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gatenode-ai/gatenode/internal/eventbus"
)

// wsMessage is the envelope for every message sent to stream clients.
type wsMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// wsClient is one connected stream consumer.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *statusHub
}

// statusHub fans daemon and tunnel status events out to websocket clients.
// A late joiner immediately receives the most recent daemon snapshot.
type statusHub struct {
	bus    *eventbus.Bus
	logger *log.Logger

	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient

	lastMu     sync.RWMutex
	lastStatus []byte

	clientCount atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}

	upgrader websocket.Upgrader
}

func newStatusHub(bus *eventbus.Bus, originAllowed func(string) bool, logger *log.Logger) *statusHub {
	return &statusHub{
		bus:        bus,
		logger:     logger,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		closed:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if originAllowed != nil {
					return originAllowed(origin)
				}
				return false
			},
		},
	}
}

// wsFrame is one bus event staged for fan-out. Retained frames are replayed
// to late joiners.
type wsFrame struct {
	kind   string
	data   any
	ts     time.Time
	retain bool
}

// run is the hub event loop. Bus subscriptions feed the frames channel
// through consumer workers; the loop terminates when the hub is closed.
func (h *statusHub) run() {
	var lc eventbus.ServiceLifecycle
	lc.Start(context.Background())
	defer func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lc.Shutdown(waitCtx); err != nil {
			h.logger.Printf("[APIServer] websocket hub shutdown: %v", err)
		}
	}()

	frames := make(chan wsFrame, 16)

	statusSub := eventbus.SubscribeTo(h.bus, eventbus.Daemon.Status,
		eventbus.WithSubscriptionName("ws-daemon-status"))
	tunnelSub := eventbus.SubscribeTo(h.bus, eventbus.TLSForward.Status,
		eventbus.WithSubscriptionName("ws-tlsforward-status"))
	lc.AddSubscriptions(statusSub, tunnelSub)

	lc.Go(func(ctx context.Context) {
		eventbus.ConsumeEnvelope(ctx, statusSub, nil, func(env eventbus.TypedEnvelope[eventbus.DaemonStatusEvent]) {
			stageFrame(ctx, frames, wsFrame{kind: "daemon_status", data: env.Payload, ts: env.Timestamp, retain: true})
		})
	})
	lc.Go(func(ctx context.Context) {
		eventbus.ConsumeEnvelope(ctx, tunnelSub, nil, func(env eventbus.TypedEnvelope[eventbus.TLSForwardStatusEvent]) {
			stageFrame(ctx, frames, wsFrame{kind: "tlsforward_status", data: env.Payload, ts: env.Timestamp})
		})
	})

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.clientCount.Store(int64(len(h.clients)))
			h.lastMu.RLock()
			last := h.lastStatus
			h.lastMu.RUnlock()
			if last != nil {
				client.trySend(last)
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.clientCount.Store(int64(len(h.clients)))
				close(client.send)
			}

		case frame := <-frames:
			payload := h.encode(frame.kind, frame.data, frame.ts)
			if payload == nil {
				continue
			}
			if frame.retain {
				h.lastMu.Lock()
				h.lastStatus = payload
				h.lastMu.Unlock()
			}
			h.fanOut(payload)

		case <-h.closed:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.clientCount.Store(0)
			return
		}
	}
}

// stageFrame hands a frame to the hub loop without outliving the consumer.
func stageFrame(ctx context.Context, frames chan<- wsFrame, frame wsFrame) {
	select {
	case frames <- frame:
	case <-ctx.Done():
	}
}

func (h *statusHub) encode(kind string, data any, ts time.Time) []byte {
	payload, err := json.Marshal(wsMessage{Type: kind, Data: data, Timestamp: ts})
	if err != nil {
		h.logger.Printf("[APIServer] marshal %s event: %v", kind, err)
		return nil
	}
	return payload
}

func (h *statusHub) fanOut(payload []byte) {
	for client := range h.clients {
		client.trySend(payload)
	}
}

func (h *statusHub) close() {
	h.closeOnce.Do(func() { close(h.closed) })
}

// connectedClients reports how many stream clients are registered.
func (h *statusHub) connectedClients() int {
	return int(h.clientCount.Load())
}

// handleWebSocket upgrades the connection and registers a stream client.
func (h *statusHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[APIServer] websocket upgrade: %v", err)
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.closed:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// trySend drops the message when the client's queue is full. Status events
// are snapshots; a slow consumer only misses intermediate states.
func (c *wsClient) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

// readPump discards inbound frames; the stream is one-way. It exists to
// process control frames and detect the peer going away.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.closed:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Printf("[APIServer] websocket read: %v", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
