package event

import (
	"reflect"
	"sync"
)

// Bus queues events during a tick and delivers them when Flush is called.
// Delivery follows emission order across all event types, so a listener
// observing both TileChanged and GridBoundsChanged sees them in the order the
// grid produced them. Events emitted by handlers during a flush are delivered
// by the next flush.
type Bus struct {
	mu       sync.Mutex // only protects handler registration
	queue    []queued
	spare    []queued
	handlers map[reflect.Type][]func(any)
}

type queued struct {
	typ reflect.Type
	ev  any
}

func NewBus() *Bus {
	return &Bus{
		queue:    make([]queued, 0, 64),
		spare:    make([]queued, 0, 64),
		handlers: make(map[reflect.Type][]func(any)),
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues an event. A nil bus drops it, which lets headless tools run
// grids without wiring listeners.
func Emit[T any](b *Bus, event T) {
	if b == nil {
		return
	}
	b.queue = append(b.queue, queued{typ: typeOf[T](), ev: event})
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeOf[T]()
	b.handlers[t] = append(b.handlers[t], func(ev any) { fn(ev.(T)) })
}

// Pending returns the number of queued, undelivered events.
func (b *Bus) Pending() int {
	return len(b.queue)
}

// Flush delivers every queued event to its subscribers and returns how many
// events were drained.
func (b *Bus) Flush() int {
	batch := b.queue
	b.queue = b.spare[:0]

	b.mu.Lock()
	handlers := b.handlers
	b.mu.Unlock()

	for _, q := range batch {
		for _, h := range handlers[q.typ] {
			h(q.ev)
		}
	}
	n := len(batch)
	clear(batch)
	b.spare = batch[:0]
	return n
}

// Discard drops queued events without delivering them.
func (b *Bus) Discard() {
	clear(b.queue)
	b.queue = b.queue[:0]
}
