package transport

//go:generate go tool mockery --name=Transport --output=mocks --outpkg=mocks --with-expecter

import (
	"context"
	"errors"
)

// Transport errors.
var (
	// ErrClosed indicates the transport was closed.
	ErrClosed = errors.New("transport closed")

	// ErrNotConnected indicates the transport is currently detached.
	ErrNotConnected = errors.New("transport not connected")
)

// Receiver is called with every frame received from the bus. The slice is
// owned by the receiver.
type Receiver func(frame []byte)

// Transport is a point of attachment to a bus.
type Transport interface {
	// Send transmits one frame. It returns when the frame has been handed
	// to the medium; it does not wait for the destination.
	Send(ctx context.Context, frame []byte) error

	// SetReceiver installs the callback for incoming frames. Frames are
	// delivered one at a time, in arrival order.
	SetReceiver(fn Receiver)

	// Connected reports whether frames can currently be sent.
	Connected() bool

	// Close detaches from the bus.
	Close() error
}
