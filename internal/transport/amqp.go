package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"marketplace-service/internal/observability"
)

// AMQPTransport is the hosted live channel: conversation events fan out over
// a RabbitMQ topic exchange. Each session consumes from its own exclusive
// queue bound per conversation.
type AMQPTransport struct {
	url      string
	exchange string
	clientID string

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
	connected bool
	closed    bool
	joined    map[string]bool

	events *Emitter
	status *Emitter

	maxReconnects  int
	reconnectDelay time.Duration
}

// NewAMQPTransport builds an AMQPTransport; the dial happens in Connect.
func NewAMQPTransport(url, exchange string) *AMQPTransport {
	return &AMQPTransport{
		url:            url,
		exchange:       exchange,
		clientID:       uuid.NewString(),
		joined:         make(map[string]bool),
		events:         NewEmitter(),
		status:         NewEmitter(),
		maxReconnects:  5,
		reconnectDelay: time.Second,
	}
}

// Connect dials the broker, declares the exchange and starts consuming.
func (t *AMQPTransport) Connect(ctx context.Context) error {
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

	conn, err := amqp.Dial(t.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(t.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.ch = ch
	t.queueName = q.Name
	t.connected = true
	joined := make([]string, 0, len(t.joined))
	for id := range t.joined {
		joined = append(joined, id)
	}
	t.mu.Unlock()

	// re-bind conversations joined before (re)connect
	for _, id := range joined {
		if err := t.bind(id); err != nil {
			log.Printf("amqp rebind %s failed: %v", id, err)
		}
	}

	observability.SetTransportConnected(true)
	observability.IncTransportEvent("amqp", "connect")
	t.notifyStatus(true)

	go t.consumeLoop(deliveries)
	go t.watchClose(conn)
	return nil
}

func (t *AMQPTransport) consumeLoop(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		var env Envelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			log.Printf("amqp envelope decode error: %v", err)
			continue
		}
		if env.SenderClientID == t.clientID {
			continue
		}
		observability.IncTransportEvent("amqp", env.Event)
		t.events.Dispatch(env)
	}
}

func (t *AMQPTransport) watchClose(conn *amqp.Connection) {
	err := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	t.mu.Lock()
	closed := t.closed
	t.connected = false
	t.mu.Unlock()

	observability.SetTransportConnected(false)
	t.notifyStatus(false)
	if closed {
		return
	}
	log.Printf("amqp connection dropped, reconnecting: %v", err)
	observability.IncTransportEvent("amqp", "drop")

	for attempt := 1; attempt <= t.maxReconnects; attempt++ {
		time.Sleep(t.reconnectDelay * time.Duration(attempt))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := t.Connect(ctx)
		cancel()
		if err == nil {
			observability.IncTransportEvent("amqp", "reconnect")
			return
		}
		log.Printf("amqp reconnect attempt %d failed: %v", attempt, err)
	}
	log.Printf("amqp reconnect abandoned after %d attempts", t.maxReconnects)
}

func (t *AMQPTransport) bind(conversationID string) error {
	t.mu.Lock()
	ch, queueName := t.ch, t.queueName
	t.mu.Unlock()
	if ch == nil {
		return errNotConnected
	}
	return ch.QueueBind(queueName, "conversation."+conversationID+".*", t.exchange, false, nil)
}

// Emit publishes an envelope to the exchange under
// conversation.<id>.<event>.
func (t *AMQPTransport) Emit(env Envelope) error {
	env.SenderClientID = t.clientID

	t.mu.Lock()
	ch := t.ch
	connected := t.connected
	t.mu.Unlock()
	if !connected || ch == nil {
		return errNotConnected
	}

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = ch.PublishWithContext(ctx, t.exchange, "conversation."+env.ConversationID+"."+env.Event, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		observability.IncAMQPPublishError()
	}
	return err
}

// Subscribe binds the session queue to a conversation's routing keys.
func (t *AMQPTransport) Subscribe(conversationID string) error {
	t.mu.Lock()
	t.joined[conversationID] = true
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return errNotConnected
	}
	return t.bind(conversationID)
}

// On registers an inbound event handler.
func (t *AMQPTransport) On(event string, h Handler) (cancel func()) {
	return t.events.Subscribe(event, h)
}

// OnStatus registers a connection-status observer.
func (t *AMQPTransport) OnStatus(h func(connected bool)) (cancel func()) {
	return t.status.Subscribe("status", func(env Envelope) {
		connected, _ := env.Payload.(bool)
		h(connected)
	})
}

func (t *AMQPTransport) notifyStatus(connected bool) {
	t.status.Dispatch(Envelope{Event: "status", Payload: connected})
}

// Connected reports whether the channel is up.
func (t *AMQPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Close tears the channel down and stops reconnecting.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ch, conn := t.ch, t.conn
	t.ch, t.conn = nil, nil
	t.connected = false
	t.mu.Unlock()

	observability.SetTransportConnected(false)
	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

var _ Transport = (*AMQPTransport)(nil)
