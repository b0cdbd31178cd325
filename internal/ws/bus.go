package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/clicker-client/pkg/types"
)

var ErrNotRaw = errors.New("event payload is not a raw message")

// Event is what a Handler receives. Server message types carry the raw "data"
// field as json.RawMessage; EventMessage carries the whole types.Envelope.
type Event struct {
	Name    string
	Payload any
}

// Decode unmarshals a raw payload into v.
func (e Event) Decode(v any) error {
	raw, ok := e.Payload.(json.RawMessage)
	if !ok {
		return fmt.Errorf("%s: %w", e.Name, ErrNotRaw)
	}
	return json.Unmarshal(raw, v)
}

type Handler func(Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	bus  *Bus
	name string
	id   uint64
	once sync.Once
}

// Unsubscribe removes the handler. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s.name, s.id) })
}

type subscriber struct {
	id uint64
	h  Handler
}

// Bus fans events out to named subscribers, in subscription order.
type Bus struct {
	log *zap.Logger

	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]subscriber
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, handlers: make(map[string][]subscriber)}
}

func (b *Bus) Subscribe(name string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[name] = append(b.handlers[name], subscriber{id: b.nextID, h: h})
	return &Subscription{bus: b, name: name, id: b.nextID}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[name]
	for i, s := range subs {
		if s.id == id {
			b.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[name]) == 0 {
		delete(b.handlers, name)
	}
}

// Emit calls every handler for name on the caller's goroutine. A panicking handler
// is logged and does not stop the others.
func (b *Bus) Emit(name string, payload any) {
	b.mu.RLock()
	subs := b.handlers[name]
	b.mu.RUnlock()

	ev := Event{Name: name, Payload: payload}
	for _, s := range subs {
		b.call(s.h, ev)
	}
}

func (b *Bus) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", zap.String("event", ev.Name), zap.Any("panic", r))
		}
	}()
	h(ev)
}

// Count returns the number of handlers registered for name.
func (b *Bus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// DispatchFrame parses one inbound frame and emits it as EventMessage with the
// envelope, then under its own type with the raw data when a type is present.
// Malformed frames are dropped.
func (b *Bus) DispatchFrame(frame []byte) {
	var env types.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		b.log.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(frame)))
		return
	}
	b.Emit(EventMessage, env)
	if env.Type != "" {
		b.Emit(env.Type, env.Data)
	}
}
