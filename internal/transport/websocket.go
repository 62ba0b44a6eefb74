package transport

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketplace-service/internal/observability"
)

// EventJoin is sent to the socket server to subscribe to a conversation.
const EventJoin = "join"

var errNotConnected = errors.New("transport not connected")

// WSTransport is the development live channel: a websocket client connected
// to the local socket server. After a drop it tries to reconnect a bounded
// number of times before giving up.
type WSTransport struct {
	url      string
	clientID string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	joined    map[string]bool

	events *Emitter
	status *Emitter

	maxReconnects  int
	reconnectDelay time.Duration
}

// NewWSTransport builds a WSTransport for the given socket server URL.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{
		url:            url,
		clientID:       uuid.NewString(),
		joined:         make(map[string]bool),
		events:         NewEmitter(),
		status:         NewEmitter(),
		maxReconnects:  5,
		reconnectDelay: time.Second,
	}
}

// Connect dials the socket server and starts the read loop.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("transport closed")
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	observability.SetTransportConnected(true)
	observability.IncTransportEvent("ws", "connect")
	t.notifyStatus(true)

	go t.readLoop(conn)
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.mu.Lock()
			closed := t.closed
			t.connected = false
			t.mu.Unlock()

			observability.SetTransportConnected(false)
			t.notifyStatus(false)
			if closed {
				return
			}
			log.Printf("websocket read error, reconnecting: %v", err)
			observability.IncTransportEvent("ws", "drop")
			// a successful reconnect starts its own read loop
			t.reconnect()
			return
		}
		if env.SenderClientID == t.clientID {
			continue
		}
		observability.IncTransportEvent("ws", env.Event)
		t.events.Dispatch(env)
	}
}

// reconnect makes a bounded number of attempts to re-establish the channel.
// On success it re-subscribes every joined conversation and restarts the
// read loop.
func (t *WSTransport) reconnect() bool {
	for attempt := 1; attempt <= t.maxReconnects; attempt++ {
		time.Sleep(t.reconnectDelay * time.Duration(attempt))

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return false
		}
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := t.Connect(ctx)
		cancel()
		if err != nil {
			log.Printf("websocket reconnect attempt %d failed: %v", attempt, err)
			continue
		}

		t.mu.Lock()
		joined := make([]string, 0, len(t.joined))
		for id := range t.joined {
			joined = append(joined, id)
		}
		t.mu.Unlock()
		for _, id := range joined {
			if err := t.Subscribe(id); err != nil {
				log.Printf("websocket rejoin %s failed: %v", id, err)
			}
		}
		observability.IncTransportEvent("ws", "reconnect")
		return true
	}
	log.Printf("websocket reconnect abandoned after %d attempts", t.maxReconnects)
	return false
}

// Emit writes an envelope to the socket server.
func (t *WSTransport) Emit(env Envelope) error {
	env.SenderClientID = t.clientID

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected || t.conn == nil {
		return errNotConnected
	}
	return t.conn.WriteJSON(env)
}

// Subscribe joins a conversation's event stream. The join is remembered so a
// reconnect re-subscribes.
func (t *WSTransport) Subscribe(conversationID string) error {
	t.mu.Lock()
	t.joined[conversationID] = true
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return errNotConnected
	}
	return t.Emit(Envelope{Event: EventJoin, ConversationID: conversationID})
}

// On registers an inbound event handler.
func (t *WSTransport) On(event string, h Handler) (cancel func()) {
	return t.events.Subscribe(event, h)
}

// OnStatus registers a connection-status observer.
func (t *WSTransport) OnStatus(h func(connected bool)) (cancel func()) {
	return t.status.Subscribe("status", func(env Envelope) {
		connected, _ := env.Payload.(bool)
		h(connected)
	})
}

func (t *WSTransport) notifyStatus(connected bool) {
	t.status.Dispatch(Envelope{Event: "status", Payload: connected})
}

// Connected reports whether the channel is up.
func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Close tears the channel down and stops reconnecting.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.connected = false
	t.mu.Unlock()

	observability.SetTransportConnected(false)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

var _ Transport = (*WSTransport)(nil)
