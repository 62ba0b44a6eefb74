package transport

import (
	"context"
	"errors"
)

// NoopTransport is used when no live channel is configured. Connect always
// fails, which the session treats as a degraded-but-working state: durable
// persistence carries the product.
type NoopTransport struct {
	events *Emitter
	status *Emitter
}

// NewNoop builds a NoopTransport.
func NewNoop() *NoopTransport {
	return &NoopTransport{events: NewEmitter(), status: NewEmitter()}
}

func (t *NoopTransport) Connect(ctx context.Context) error {
	return errors.New("no live channel configured")
}

func (t *NoopTransport) Emit(env Envelope) error {
	return errNotConnected
}

func (t *NoopTransport) Subscribe(conversationID string) error {
	return errNotConnected
}

func (t *NoopTransport) On(event string, h Handler) (cancel func()) {
	return t.events.Subscribe(event, h)
}

func (t *NoopTransport) OnStatus(h func(connected bool)) (cancel func()) {
	return t.status.Subscribe("status", func(env Envelope) {
		connected, _ := env.Payload.(bool)
		h(connected)
	})
}

func (t *NoopTransport) Connected() bool { return false }

func (t *NoopTransport) Close() error { return nil }

var _ Transport = (*NoopTransport)(nil)
