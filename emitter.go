// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"slices"
	"sync"
)

// Event is the name of a notification channel.
type Event string

const (
	// EventConnect is emitted once the stream is connected.
	EventConnect = Event("connect")

	// EventError is emitted for every failure without a callback to report it.
	EventError = Event("error")

	// EventFinish is emitted once all the writes before End have completed.
	EventFinish = Event("finish")

	// EventClose is emitted once the socket has been released.
	EventClose = Event("close")
)

// Listener receives notifications. The err argument is only
// meaningful for [EventError] and is nil otherwise.
type Listener func(err error)

// ListenerID identifies a registered [Listener].
type ListenerID uint64

// Emitter dispatches notifications to ordered lists of listeners.
//
// The zero value is ready to use. Methods are safe for concurrent use; listeners
// run on the goroutine calling [*Emitter.Emit] and may call back into the emitter.
type Emitter struct {
	mu        sync.Mutex
	listeners map[Event][]*registration
	nextID    ListenerID
}

// registration is a [Listener] registered with an [*Emitter].
type registration struct {
	id   ListenerID
	fn   Listener
	once bool
}

// On registers fn for every ev notification.
func (e *Emitter) On(ev Event, fn Listener) ListenerID {
	return e.add(ev, fn, false)
}

// Once registers fn for the next ev notification only.
func (e *Emitter) Once(ev Event, fn Listener) ListenerID {
	return e.add(ev, fn, true)
}

func (e *Emitter) add(ev Event, fn Listener, once bool) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[Event][]*registration)
	}
	e.nextID++
	e.listeners[ev] = append(e.listeners[ev], &registration{id: e.nextID, fn: fn, once: once})
	return e.nextID
}

// RemoveListener unregisters the listener with the given id.
//
// Removing an unknown or already removed listener is a no-op.
func (e *Emitter) RemoveListener(ev Event, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.listeners[ev]) <= 0 {
		return
	}
	e.listeners[ev] = slices.DeleteFunc(e.listeners[ev], func(r *registration) bool {
		return r.id == id
	})
}

// ListenerCount returns the number of listeners registered for ev.
func (e *Emitter) ListenerCount(ev Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[ev])
}

// Emit invokes the listeners registered for ev in registration order
// and returns whether there was at least one listener.
func (e *Emitter) Emit(ev Event, err error) bool {
	e.mu.Lock()
	regs := slices.Clone(e.listeners[ev])
	if len(regs) > 0 {
		e.listeners[ev] = slices.DeleteFunc(e.listeners[ev], func(r *registration) bool {
			return r.once
		})
	}
	e.mu.Unlock()

	for _, r := range regs {
		r.fn(err)
	}
	return len(regs) > 0
}
