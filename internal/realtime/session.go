// Package realtime maintains the best-effort live channel for chat delivery:
// message fan-out, typing indicators, read receipts and presence. Durable
// persistence always happens first and never depends on the channel being up.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/transport"
)

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// SendResult is what sendMessage hands back to UI code: a branchable shape
// instead of an exception. Success means durably recorded, not delivered
// live.
type SendResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Options tunes a Session.
type Options struct {
	TypingExpiry   time.Duration // auto-expire of a typing=true signal, default 4s
	JoinWait       time.Duration // bounded wait for joins issued before connect, default 5s
	ConnectTimeout time.Duration // transport establishment deadline, default 5s
	PendingLimit   int           // per-conversation pending queue cap
	PresenceTTL    time.Duration // presence cache entry lifetime
}

func (o *Options) defaults() {
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = 4 * time.Second
	}
	if o.JoinWait <= 0 {
		o.JoinWait = 5 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
}

// PresencePayload is the wire payload of presence events.
type PresencePayload struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
	IsOnline bool   `json:"is_online"`
}

// DeliveryPayload is the wire payload of delivery-status events.
type DeliveryPayload struct {
	MessageID string                `json:"message_id"`
	Status    models.DeliveryStatus `json:"status"`
}

// TypingPayload is the wire payload of typing events.
type TypingPayload struct {
	Role     string `json:"role"`
	IsTyping bool   `json:"is_typing"`
}

// ReadPayload is the wire payload of read-receipt events.
type ReadPayload struct {
	Role       string   `json:"role"`
	MessageIDs []string `json:"message_ids"`
}

// Session multiplexes one live channel for a client identity. Construct with
// NewSession, establish with Connect, tear down with Disconnect.
type Session struct {
	transport transport.Transport
	store     store.ConversationStore
	presence  *PresenceCache
	pending   *PendingQueues
	events    *transport.Emitter
	opts      Options

	mu          sync.Mutex
	state       connState
	connectedCh chan struct{}
	identity    string
	role        string
	registered  bool
	cancels     []func()

	timersMu     sync.Mutex
	typingTimers map[string]*time.Timer

	deliveryMu sync.Mutex
	delivery   map[string]func(models.DeliveryStatus)
}

// NewSession builds a Session over the given transport and store.
func NewSession(t transport.Transport, s store.ConversationStore, opts Options) *Session {
	opts.defaults()
	return &Session{
		transport:    t,
		store:        s,
		presence:     NewPresenceCache(opts.PresenceTTL),
		pending:      NewPendingQueues(opts.PendingLimit),
		events:       transport.NewEmitter(),
		opts:         opts,
		connectedCh:  make(chan struct{}),
		typingTimers: make(map[string]*time.Timer),
		delivery:     make(map[string]func(models.DeliveryStatus)),
	}
}

// Connect establishes the live channel for identity. Idempotent: calling
// while connected is a no-op, and a call racing an outstanding attempt
// collapses onto it instead of opening a second channel. Transport failure is
// non-fatal: the session reports success in a degraded sense because message
// persistence works without the live channel.
func (s *Session) Connect(ctx context.Context, identity, role string) bool {
	if identity == "" {
		return false
	}

	s.mu.Lock()
	if s.state == stateConnected || s.state == stateConnecting {
		s.mu.Unlock()
		return true
	}
	s.state = stateConnecting
	s.identity = identity
	s.role = role
	s.mu.Unlock()

	cctx, span := otel.Tracer("marketplace-service/realtime").Start(ctx, "transport.connect")
	defer span.End()
	cctx, cancel := context.WithTimeout(cctx, s.opts.ConnectTimeout)
	defer cancel()

	err := s.transport.Connect(cctx)

	s.mu.Lock()
	if err != nil {
		s.state = stateDisconnected
		s.mu.Unlock()
		// degraded: persistence still works, so the send path stays open
		log.Printf("live channel unavailable, continuing degraded: %v", err)
		return true
	}
	s.registerHandlers()
	s.mu.Unlock()

	if s.markConnected() {
		go s.replayPending()
	}
	s.emitPresence(true)
	return true
}

// markConnected is the single place the connected transition happens.
// Transports fire their status callback from inside Connect, so this can race
// the connect path itself; whichever side runs second must not close
// connectedCh again. Returns whether this call performed the transition.
func (s *Session) markConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateConnected {
		return false
	}
	s.state = stateConnected
	close(s.connectedCh)
	return true
}

// registerHandlers wires inbound transport events. Caller holds s.mu; runs
// once per session.
func (s *Session) registerHandlers() {
	if s.registered {
		return
	}
	s.registered = true

	s.cancels = append(s.cancels,
		s.transport.On(transport.EventPresence, func(env transport.Envelope) {
			var p PresencePayload
			if err := decodePayload(env.Payload, &p); err != nil {
				log.Printf("presence payload decode: %v", err)
				return
			}
			s.presence.Set(p.Identity, p.Role, p.IsOnline)
			s.events.Dispatch(env)
		}),
		s.transport.On(transport.EventDelivery, func(env transport.Envelope) {
			var p DeliveryPayload
			if err := decodePayload(env.Payload, &p); err != nil {
				log.Printf("delivery payload decode: %v", err)
				return
			}
			s.dispatchDelivery(p.MessageID, p.Status)
			s.events.Dispatch(env)
		}),
		s.transport.On(transport.EventMessage, s.events.Dispatch),
		s.transport.On(transport.EventTyping, s.events.Dispatch),
		s.transport.On(transport.EventRead, s.events.Dispatch),
		s.transport.OnStatus(s.onStatus),
	)
}

func (s *Session) onStatus(connected bool) {
	if connected {
		if !s.markConnected() {
			return
		}
		go s.replayPending()
		s.events.Dispatch(transport.Envelope{Event: "status", Payload: true})
		return
	}
	s.mu.Lock()
	if s.state == stateConnected {
		// the old channel is closed; waiters need a fresh one
		s.connectedCh = make(chan struct{})
	}
	s.state = stateDisconnected
	s.mu.Unlock()
	s.events.Dispatch(transport.Envelope{Event: "status", Payload: false})
}

// Connected reports whether the live channel is currently up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateConnected && s.transport.Connected()
}

// SendMessage persists the message to the durable store first, regardless of
// live-channel state, then attempts live delivery. When the channel is down
// the message joins the per-conversation pending queue and the call still
// succeeds: durable persistence is the success criterion, not live delivery.
func (s *Session) SendMessage(ctx context.Context, conversationID string, msg models.ChatMessage, identity, role string) SendResult {
	if conversationID == "" {
		return SendResult{Error: "missing conversation id"}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}
	msg.Sender = role
	msg.Status = models.StatusSending

	stored, err := s.store.AppendMessage(ctx, conversationID, msg)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			return SendResult{Error: "conversation not found"}
		}
		return SendResult{Error: err.Error()}
	}

	if !s.Connected() {
		s.pending.Add(conversationID, stored)
		return SendResult{Success: true}
	}

	if err := s.transport.Emit(transport.Envelope{
		Event:          transport.EventMessage,
		ConversationID: conversationID,
		Payload:        stored,
	}); err != nil {
		log.Printf("live emit failed, message %s queued for replay: %v", stored.ID, err)
		s.pending.Add(conversationID, stored)
		return SendResult{Success: true}
	}

	s.dispatchDelivery(stored.ID, models.StatusSent)
	return SendResult{Success: true}
}

// OnDelivery registers a callback for one message's delivery-status
// transitions (sent, delivered, read, or a terminal failed). The registration
// is removed once a terminal status arrives.
func (s *Session) OnDelivery(messageID string, cb func(models.DeliveryStatus)) {
	if cb == nil {
		return
	}
	s.deliveryMu.Lock()
	s.delivery[messageID] = cb
	s.deliveryMu.Unlock()
}

func (s *Session) dispatchDelivery(messageID string, status models.DeliveryStatus) {
	s.deliveryMu.Lock()
	cb := s.delivery[messageID]
	if status.Terminal() {
		delete(s.delivery, messageID)
	}
	s.deliveryMu.Unlock()
	if cb != nil {
		cb(status)
	}
}

// JoinConversation subscribes the channel to a conversation's event stream.
// Called before the channel is connected, it waits for the connection up to
// the configured bound and then gives up silently rather than hanging the
// caller.
func (s *Session) JoinConversation(ctx context.Context, conversationID string) {
	s.mu.Lock()
	connected := s.state == stateConnected
	ch := s.connectedCh
	s.mu.Unlock()

	if connected {
		if err := s.transport.Subscribe(conversationID); err != nil {
			log.Printf("join %s failed: %v", conversationID, err)
		}
		return
	}

	timer := time.NewTimer(s.opts.JoinWait)
	defer timer.Stop()
	select {
	case <-ch:
		if err := s.transport.Subscribe(conversationID); err != nil {
			log.Printf("join %s failed: %v", conversationID, err)
		}
	case <-timer.C:
		// give up silently; a later reconnect can re-issue the join
	case <-ctx.Done():
	}
}

// SendTypingIndicator emits a transient typing event. A true signal
// auto-expires to false after the expiry window so a forgotten stop cannot
// leave the indicator stuck.
func (s *Session) SendTypingIndicator(conversationID, role string, isTyping bool) {
	if !s.Connected() {
		return // ephemeral, never queued
	}

	s.emitTyping(conversationID, role, isTyping)

	key := conversationID + "|" + role
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if t, ok := s.typingTimers[key]; ok {
		t.Stop()
		delete(s.typingTimers, key)
	}
	if isTyping {
		s.typingTimers[key] = time.AfterFunc(s.opts.TypingExpiry, func() {
			s.timersMu.Lock()
			delete(s.typingTimers, key)
			s.timersMu.Unlock()
			s.emitTyping(conversationID, role, false)
		})
	}
}

func (s *Session) emitTyping(conversationID, role string, isTyping bool) {
	err := s.transport.Emit(transport.Envelope{
		Event:          transport.EventTyping,
		ConversationID: conversationID,
		Payload:        TypingPayload{Role: role, IsTyping: isTyping},
	})
	if err != nil {
		log.Printf("typing emit failed: %v", err)
	}
}

// MarkAsRead emits a read-receipt event. Durable read-state persistence is a
// separate concern handled by the conversation store.
func (s *Session) MarkAsRead(conversationID string, messageIDs []string, role string) {
	if !s.Connected() {
		return
	}
	err := s.transport.Emit(transport.Envelope{
		Event:          transport.EventRead,
		ConversationID: conversationID,
		Payload:        ReadPayload{Role: role, MessageIDs: messageIDs},
	})
	if err != nil {
		log.Printf("read receipt emit failed: %v", err)
	}
}

// GetUserPresence looks up cached presence; nil when unknown.
func (s *Session) GetUserPresence(identity, role string) *models.UserPresence {
	return s.presence.Get(identity, role)
}

// On registers an application-level handler for inbound events ("message",
// "typing", "read", "presence", "delivery_status", "status").
func (s *Session) On(event string, h transport.Handler) (cancel func()) {
	return s.events.Subscribe(event, h)
}

// PendingCount reports the pending-queue length for a conversation.
func (s *Session) PendingCount(conversationID string) int {
	return s.pending.Len(conversationID)
}

// replayPending re-emits messages buffered while the channel was down.
// Best-effort: replay is attempted, ordering against externally-arriving
// messages is not guaranteed, and every message here is already durable.
func (s *Session) replayPending() {
	for conversationID, msgs := range s.pending.Drain() {
		if err := s.transport.Subscribe(conversationID); err != nil {
			log.Printf("replay subscribe %s failed: %v", conversationID, err)
		}
		for _, msg := range msgs {
			err := s.transport.Emit(transport.Envelope{
				Event:          transport.EventMessage,
				ConversationID: conversationID,
				Payload:        msg,
			})
			if err != nil {
				log.Printf("replay of message %s failed: %v", msg.ID, err)
				continue
			}
			s.dispatchDelivery(msg.ID, models.StatusSent)
		}
	}
}

// Disconnect tears the channel down: typing timers stopped, delivery
// callbacks cleared, transport closed. Leaves no dangling timers. Cleanup
// errors are logged, never propagated.
func (s *Session) Disconnect() {
	s.timersMu.Lock()
	for key, t := range s.typingTimers {
		t.Stop()
		delete(s.typingTimers, key)
	}
	s.timersMu.Unlock()

	s.deliveryMu.Lock()
	s.delivery = make(map[string]func(models.DeliveryStatus))
	s.deliveryMu.Unlock()

	s.emitPresence(false)

	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	s.registered = false
	s.state = stateDisconnected
	s.connectedCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.transport.Close(); err != nil {
		log.Printf("transport close: %v", err)
	}
	s.events.Dispatch(transport.Envelope{Event: "status", Payload: false})
}

func (s *Session) emitPresence(online bool) {
	s.mu.Lock()
	identity, role := s.identity, s.role
	s.mu.Unlock()
	if identity == "" || !s.transport.Connected() {
		return
	}
	err := s.transport.Emit(transport.Envelope{
		Event:   transport.EventPresence,
		Payload: PresencePayload{Identity: identity, Role: role, IsOnline: online},
	})
	if err != nil {
		log.Printf("presence emit failed: %v", err)
	}
}

// decodePayload converts an envelope payload (typically a decoded JSON map)
// into a typed struct.
func decodePayload(payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
