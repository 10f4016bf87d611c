package ivxp

import (
	"reflect"
	"sync"
	"time"
)

// Handler receives an Event. A Handler that panics is isolated by the
// EventEmitter and never reaches the emitting operation's caller.
type Handler func(Event)

// EventEmitter is a typed, in-process event bus. All handlers registered
// for a type are invoked synchronously, in registration order, on Emit.
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	onPanic  func(EventType, interface{})
}

// NewEventEmitter creates an empty EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{handlers: make(map[EventType][]Handler)}
}

// OnPanic registers a callback invoked (best-effort) when a handler panics.
// Primarily used to route failures into structured logging.
func (e *EventEmitter) OnPanic(fn func(EventType, interface{})) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPanic = fn
}

// On registers handler for event type t.
func (e *EventEmitter) On(t EventType, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = append(e.handlers[t], handler)
}

// Off removes the first handler registered for t whose underlying function
// pointer matches handler (functions aren't comparable in Go, so identity is
// taken via reflect, same as handler de-registration in most Go event
// buses — it matches a bound method or named func but not two equivalent
// closures). Off on an unregistered handler is a no-op. Removing the last
// handler of an event reclaims the map entry.
func (e *EventEmitter) Off(t EventType, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hs, ok := e.handlers[t]
	if !ok {
		return
	}
	target := reflect.ValueOf(handler).Pointer()
	for i, h := range hs {
		if reflect.ValueOf(h).Pointer() == target {
			hs = append(hs[:i], hs[i+1:]...)
			break
		}
	}
	if len(hs) == 0 {
		delete(e.handlers, t)
		return
	}
	e.handlers[t] = hs
}

// Emit invokes every handler registered for t, in registration order. A
// handler that panics is recovered and does not prevent subsequent handlers
// from running, and never propagates to Emit's caller.
func (e *EventEmitter) Emit(t EventType, payload interface{}) {
	e.mu.RLock()
	hs := make([]Handler, len(e.handlers[t]))
	copy(hs, e.handlers[t])
	onPanic := e.onPanic
	e.mu.RUnlock()

	evt := Event{Type: t, Payload: payload, ReceivedAt: time.Now()}
	for _, h := range hs {
		e.invoke(h, evt, onPanic)
	}
}

func (e *EventEmitter) invoke(h Handler, evt Event, onPanic func(EventType, interface{})) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(evt.Type, r)
		}
	}()
	h(evt)
}

// HandlerCount returns the number of handlers registered for t, for tests
// and diagnostics.
func (e *EventEmitter) HandlerCount(t EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[t])
}
