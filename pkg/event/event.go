// Package event provides typed publish/subscribe topics for bus notifications.
//
// Each component owns one Topic per notification kind and exposes it to
// callers. Listeners are invoked synchronously, in registration order, on the
// goroutine that publishes. A listener registered with Once is removed before
// it runs, so it fires at most one time even if it publishes recursively.
package event

import (
	"context"
	"sync"
)

//go:generate go tool stringer -type=Kind

// Kind identifies a notification.
type Kind uint8

const (
	// DeviceConnect fires when a device announces for the first time.
	DeviceConnect Kind = iota

	// DeviceAnnounce fires for every announce of a known device.
	DeviceAnnounce

	// DeviceServicesChange fires when a device's service list changes.
	DeviceServicesChange

	// DeviceRestart fires when a device's restart counter goes backwards.
	DeviceRestart

	// DeviceLost fires when a device misses its liveness window.
	DeviceLost

	// DeviceFound fires when a lost device announces again.
	DeviceFound

	// DeviceDisconnect fires when a device is purged from the directory.
	DeviceDisconnect

	// RoleBound fires when a role is bound to a service.
	RoleBound

	// RoleUnbound fires when a role loses its service.
	RoleUnbound

	// RolesChange fires after any change to the role table.
	RolesChange

	// RolesAllBound fires when the last unbound role gets bound.
	RolesAllBound

	// StreamingStart fires when a server begins streaming its reading.
	StreamingStart

	// StreamingStop fires when a streaming loop has exited.
	StreamingStop

	// PacketReceive fires for every packet decoded by a bus endpoint.
	PacketReceive

	// Identify fires when the local device is asked to identify itself.
	Identify

	// RegisterChange fires when a SET command changes a register value.
	RegisterChange

	// SensorReading fires for every reading a sensor client decodes.
	SensorReading
)

// Cancel removes a listener. Calling it more than once is harmless.
type Cancel func()

type listener[T any] struct {
	id   uint64
	fn   func(T)
	once bool
}

// Topic is a list of listeners for one notification kind carrying payload T.
// The zero value is not usable; create topics with NewTopic.
type Topic[T any] struct {
	kind Kind

	mu        sync.Mutex
	listeners []*listener[T]
	nextID    uint64
}

// NewTopic creates a topic for kind.
func NewTopic[T any](kind Kind) *Topic[T] {
	return &Topic[T]{kind: kind}
}

// Kind returns the notification kind of the topic.
func (t *Topic[T]) Kind() Kind {
	return t.kind
}

// Subscribe registers fn for every publication.
func (t *Topic[T]) Subscribe(fn func(T)) Cancel {
	return t.add(fn, false)
}

// Once registers fn for the next publication only.
func (t *Topic[T]) Once(fn func(T)) Cancel {
	return t.add(fn, true)
}

func (t *Topic[T]) add(fn func(T), once bool) Cancel {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, &listener[T]{id: id, fn: fn, once: once})
	t.mu.Unlock()

	return func() { t.remove(id) }
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, l := range t.listeners {
		if l.id == id {
			t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
			return
		}
	}
}

// Publish delivers v to the listeners registered at the time of the call.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	snapshot := make([]*listener[T], len(t.listeners))
	copy(snapshot, t.listeners)
	if hasOnce(snapshot) {
		kept := t.listeners[:0:0]
		for _, l := range t.listeners {
			if !l.once {
				kept = append(kept, l)
			}
		}
		t.listeners = kept
	}
	t.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

func hasOnce[T any](ls []*listener[T]) bool {
	for _, l := range ls {
		if l.once {
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}

// Next waits for the next publication on t for which match returns true.
// A nil match accepts any value.
func Next[T any](ctx context.Context, t *Topic[T], match func(T) bool) (T, error) {
	ch := make(chan T, 1)
	cancel := t.Subscribe(func(v T) {
		if match != nil && !match(v) {
			return
		}
		select {
		case ch <- v:
		default:
		}
	})
	defer cancel()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
