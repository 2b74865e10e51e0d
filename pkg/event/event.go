// Package event is a small synchronous event bus. Listeners subscribe to
// event classes and may capture an event to stop further delivery.
package event

import (
	"sync"
	"time"
)

// Class names a kind of event listeners can subscribe to.
type Class string

const (
	ClassPositionStateChanged Class = "position_state_changed"
	ClassSensor               Class = "sensor_event"
)

// Event is anything raised on the bus.
type Event interface {
	Class() Class
}

// PositionStateChanged is raised when a key position is pressed or released.
type PositionStateChanged struct {
	Position  uint32
	Pressed   bool
	Timestamp time.Time
}

func (PositionStateChanged) Class() Class { return ClassPositionStateChanged }

// SensorEvent is raised when a keymap sensor (e.g. an encoder) reports activity.
type SensorEvent struct {
	Sensor    uint8
	Timestamp time.Time
}

func (SensorEvent) Class() Class { return ClassSensor }

// Disposition tells the bus whether delivery continues after a listener.
type Disposition int

const (
	Bubble Disposition = iota
	Captured
)

func (d Disposition) String() string {
	if d == Captured {
		return "captured"
	}
	return "bubble"
}

// ListenerFunc handles an event delivered by the bus.
type ListenerFunc func(Event) Disposition

type subscription struct {
	name string
	fn   ListenerFunc
}

// Bus delivers events to subscribed listeners in subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs map[Class][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Class][]subscription)}
}

// Subscribe registers fn under name for events of the given class.
func (b *Bus) Subscribe(name string, class Class, fn ListenerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[class] = append(b.subs[class], subscription{name: name, fn: fn})
}

// Subscribers returns the listener names subscribed to class, in delivery order.
func (b *Bus) Subscribers(class Class) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subs[class]))
	for _, s := range b.subs[class] {
		names = append(names, s.name)
	}
	return names
}

// Raise delivers ev synchronously and returns Captured if a listener captured it.
func (b *Bus) Raise(ev Event) Disposition {
	b.mu.RLock()
	subs := b.subs[ev.Class()]
	b.mu.RUnlock()

	for _, s := range subs {
		if s.fn(ev) == Captured {
			return Captured
		}
	}
	return Bubble
}
