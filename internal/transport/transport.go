// Package transport provides the live channel used for best-effort realtime
// delivery. Two backends exist: a websocket client for the local socket
// server used in development, and a RabbitMQ topic exchange for hosted
// environments. Durable persistence never depends on either.
package transport

import "context"

// Event names carried on the live channel.
const (
	EventMessage  = "message"
	EventTyping   = "typing"
	EventRead     = "read"
	EventPresence = "presence"
	EventDelivery = "delivery_status"
)

// Envelope is the wire shape of one live-channel event.
type Envelope struct {
	Event          string `json:"event"`
	ConversationID string `json:"conversation_id,omitempty"`
	SenderClientID string `json:"sender_client_id,omitempty"`
	Payload        any    `json:"payload,omitempty"`
}

// Handler consumes inbound envelopes. Handlers must not block.
type Handler func(env Envelope)

// Transport is the minimal contract the chat session needs from a live
// channel.
type Transport interface {
	// Connect establishes the channel. Safe to call once per lifecycle;
	// reconnection after a drop is the transport's own concern, bounded in
	// attempts.
	Connect(ctx context.Context) error
	// Emit publishes an event, failing when the channel is down.
	Emit(env Envelope) error
	// Subscribe binds the channel to a conversation's event stream.
	Subscribe(conversationID string) error
	// On registers an inbound handler for an event name. Multiple handlers
	// per event coexist; the returned func removes the registration.
	On(event string, h Handler) (cancel func())
	// OnStatus registers a connection-status observer.
	OnStatus(h func(connected bool)) (cancel func())
	Connected() bool
	Close() error
}
