package pipe

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Pipe errors.
var (
	// ErrClosed indicates an operation on a closed pipe.
	ErrClosed = errors.New("pipe closed")

	// ErrNoAck indicates a record was never acknowledged. The pipe is
	// closed for good.
	ErrNoAck = bus.ErrNoAck

	// ErrNoPort indicates every pipe port is in use.
	ErrNoPort = errors.New("no free pipe port")

	// ErrOpenPayload indicates a malformed open command payload.
	ErrOpenPayload = errors.New("malformed pipe open payload")
)

// OpenPayloadSize is the size of the payload that opens a pipe.
const OpenPayloadSize = wire.DeviceIDSize + 4

const portAttempts = 64

// InPipe is the receiving end of a pipe.
type InPipe struct {
	bus  *bus.Bus
	port uint16

	mu       sync.Mutex
	expected uint8
	queue    [][]byte
	closed   bool
	released bool
	wake     chan struct{}
	onMeta   func([]byte)
}

// NewInPipe allocates a random free port on b.
func NewInPipe(b *bus.Bus) (*InPipe, error) {
	p := &InPipe{bus: b, wake: make(chan struct{})}
	for range portAttempts {
		port := uint16(rand.IntN(wire.PipeMaxPort)) + 1
		if b.RegisterPort(port, p.handle) {
			p.port = port
			p.log("OPEN")
			return p, nil
		}
	}
	for port := uint16(1); port <= wire.PipeMaxPort; port++ {
		if b.RegisterPort(port, p.handle) {
			p.port = port
			p.log("OPEN")
			return p, nil
		}
	}
	return nil, ErrNoPort
}

// Port returns the allocated port.
func (p *InPipe) Port() uint16 { return p.port }

// OnMetadata installs the callback for metadata records.
func (p *InPipe) OnMetadata(fn func(data []byte)) {
	p.mu.Lock()
	p.onMeta = fn
	p.mu.Unlock()
}

// OpenPayload returns the local device id and port, as carried by the
// command that asks a remote service to respond through this pipe.
func (p *InPipe) OpenPayload() []byte {
	var w wire.PayloadWriter
	return w.DeviceID(p.bus.SelfID()).U16(p.port).U16(0).Payload()
}

// OpenCommand returns a command packet with code cmd carrying the open
// payload. The caller addresses it by setting DeviceID and ServiceIndex.
func (p *InPipe) OpenCommand(cmd uint16) *wire.Packet {
	return wire.NewCommand(wire.DeviceID{}, 0, cmd, p.OpenPayload())
}

// Closed reports whether the sender closed the pipe or Close was called.
func (p *InPipe) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || p.released
}

// Read returns the next data record. It returns io.EOF once the pipe is
// closed and every queued record has been read.
func (p *InPipe) Read(ctx context.Context) ([]byte, error) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			data := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return data, nil
		}
		if p.closed || p.released {
			p.mu.Unlock()
			return nil, io.EOF
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ReadAll reads until the pipe closes and returns the non-empty records.
func (p *InPipe) ReadAll(ctx context.Context) ([][]byte, error) {
	var out [][]byte
	for {
		data, err := p.Read(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if len(data) > 0 {
			out = append(out, data)
		}
	}
}

// Close releases the port and wakes blocked readers.
func (p *InPipe) Close() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	p.signal()
	p.mu.Unlock()

	p.bus.UnregisterPort(p.port)
	p.log("CLOSED")
	return nil
}

// handle runs on the bus receive goroutine.
func (p *InPipe) handle(pkt *wire.Packet) {
	cmd := pkt.ServiceCommand

	p.mu.Lock()
	if p.released || p.closed {
		p.mu.Unlock()
		return
	}
	if wire.PipeCounter(cmd) != p.expected {
		p.mu.Unlock()
		p.bus.Logger().Debug("pipe record out of order", "port", p.port,
			"counter", wire.PipeCounter(cmd), "expected", p.expected)
		return
	}
	p.expected = (p.expected + 1) & wire.PipeCounterMask

	flags := wire.PipeFlags(cmd)
	var meta func([]byte)
	if flags&wire.PipeMetadata != 0 {
		meta = p.onMeta
	} else {
		p.queue = append(p.queue, pkt.Payload)
	}
	if flags&wire.PipeClose != 0 {
		p.closed = true
	}
	p.signal()
	p.mu.Unlock()

	if meta != nil {
		meta(pkt.Payload)
	}
	if flags&wire.PipeClose != 0 {
		p.bus.UnregisterPort(p.port)
		p.log("CLOSED")
	}
}

// signal wakes every blocked reader. Caller holds mu.
func (p *InPipe) signal() {
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *InPipe) log(state string) {
	p.bus.ProtocolLogger().Log(log.NewStateEvent(log.StateEntityPipe,
		"in:"+portString(p.port), "", state, ""))
}
