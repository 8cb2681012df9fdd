package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the number of frames buffered per Medium endpoint.
const DefaultQueueSize = 256

// DropFunc decides whether the frame sent by endpoint from is lost on its
// way to endpoint to. It is used to simulate a noisy wire.
type DropFunc func(frame []byte, from, to int) bool

// Medium is an in-process simulated bus. Frames sent by one endpoint reach
// every other attached endpoint; a sender never hears its own frames.
type Medium struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	nextID    int
	queueSize int
	drop      DropFunc
}

// NewMedium creates an empty medium.
func NewMedium() *Medium {
	return &Medium{queueSize: DefaultQueueSize}
}

// SetDrop installs a loss function. Pass nil for a lossless wire.
func (m *Medium) SetDrop(fn DropFunc) {
	m.mu.Lock()
	m.drop = fn
	m.mu.Unlock()
}

// Attach creates a new endpoint on the medium.
func (m *Medium) Attach() *Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	ep := &Endpoint{
		medium: m,
		id:     m.nextID,
		queue:  make(chan []byte, m.queueSize),
		done:   make(chan struct{}),
	}
	m.nextID++
	m.endpoints = append(m.endpoints, ep)
	go ep.deliver()
	return ep
}

// Len returns the number of attached endpoints.
func (m *Medium) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.endpoints)
}

func (m *Medium) detach(ep *Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.endpoints {
		if e == ep {
			m.endpoints = append(m.endpoints[:i], m.endpoints[i+1:]...)
			return
		}
	}
}

func (m *Medium) broadcast(from *Endpoint, frame []byte) {
	m.mu.RLock()
	targets := make([]*Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		if ep != from {
			targets = append(targets, ep)
		}
	}
	drop := m.drop
	m.mu.RUnlock()

	for _, ep := range targets {
		if drop != nil && drop(frame, from.id, ep.id) {
			continue
		}
		ep.enqueue(append([]byte(nil), frame...))
	}
}

// Endpoint is one attachment to a Medium.
type Endpoint struct {
	medium *Medium
	id     int

	mu       sync.Mutex
	receiver Receiver
	closed   bool
	queue    chan []byte
	done     chan struct{}

	dropped atomic.Uint64
}

// ID returns the endpoint number used by DropFunc.
func (e *Endpoint) ID() int {
	return e.id
}

// Send broadcasts frame to every other endpoint.
func (e *Endpoint) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	e.medium.broadcast(e, frame)
	return nil
}

// SetReceiver installs the frame callback.
func (e *Endpoint) SetReceiver(fn Receiver) {
	e.mu.Lock()
	e.receiver = fn
	e.mu.Unlock()
}

// Connected reports whether the endpoint is still attached.
func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed
}

// Dropped returns the number of frames lost because the queue was full.
func (e *Endpoint) Dropped() uint64 {
	return e.dropped.Load()
}

// Close detaches the endpoint and waits for pending deliveries to finish.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	e.medium.detach(e)
	<-e.done
	return nil
}

// enqueue never blocks; a full queue loses the frame like a busy wire.
func (e *Endpoint) enqueue(frame []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- frame:
	default:
		e.dropped.Add(1)
	}
}

func (e *Endpoint) deliver() {
	defer close(e.done)
	for frame := range e.queue {
		e.mu.Lock()
		fn := e.receiver
		e.mu.Unlock()
		if fn != nil {
			fn(frame)
		}
	}
}

var _ Transport = (*Endpoint)(nil)
