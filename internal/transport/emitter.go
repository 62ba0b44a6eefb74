package transport

import "sync"

// Emitter is a multi-subscriber event dispatcher. Registrations do not
// clobber each other: every handler subscribed to an event sees every
// dispatch until its cancel func runs.
type Emitter struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

// NewEmitter creates an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers h for event and returns its cancel func. Cancelling
// twice is a no-op.
func (e *Emitter) Subscribe(event string, h Handler) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[event]; !ok {
		e.subs[event] = make(map[int]Handler)
	}
	e.nextID++
	id := e.nextID
	e.subs[event][id] = h

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if handlers, ok := e.subs[event]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(e.subs, event)
			}
		}
	}
}

// Dispatch delivers env to every handler subscribed to its event.
func (e *Emitter) Dispatch(env Envelope) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.subs[env.Event]))
	for _, h := range e.subs[env.Event] {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

// Clear drops every registration.
func (e *Emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = make(map[string]map[int]Handler)
}
