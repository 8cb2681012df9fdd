package pipe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// ChunkSize is the record size SendBytes splits blobs into.
const ChunkSize = 224

// ParseOpen extracts the destination device and port from an open payload.
func ParseOpen(payload []byte) (wire.DeviceID, uint16, error) {
	if len(payload) < wire.DeviceIDSize+2 {
		return wire.DeviceID{}, 0, fmt.Errorf("%w: %d bytes", ErrOpenPayload, len(payload))
	}
	r := wire.NewPayloadReader(payload)
	id := r.DeviceID()
	port := r.U16()
	if port == 0 || port > wire.PipeMaxPort {
		return wire.DeviceID{}, 0, fmt.Errorf("%w: port %d", ErrOpenPayload, port)
	}
	return id, port, nil
}

// OutPipe is the sending end of a pipe.
type OutPipe struct {
	bus    *bus.Bus
	device wire.DeviceID
	port   uint16

	mu      sync.Mutex
	counter uint8
	closed  bool
}

// OutPipeFrom builds an OutPipe from the command that opened it.
func OutPipeFrom(b *bus.Bus, open *wire.Packet) (*OutPipe, error) {
	id, port, err := ParseOpen(open.Payload)
	if err != nil {
		return nil, err
	}
	return &OutPipe{bus: b, device: id, port: port}, nil
}

// Device returns the receiving device.
func (o *OutPipe) Device() wire.DeviceID { return o.device }

// Port returns the receiver's port.
func (o *OutPipe) Port() uint16 { return o.port }

// Closed reports whether the pipe can no longer be written.
func (o *OutPipe) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Write sends one data record.
func (o *OutPipe) Write(ctx context.Context, data []byte) error {
	return o.send(ctx, data, 0)
}

// WriteMeta sends one metadata record.
func (o *OutPipe) WriteMeta(ctx context.Context, data []byte) error {
	return o.send(ctx, data, wire.PipeMetadata)
}

// WriteAndClose sends a final data record.
func (o *OutPipe) WriteAndClose(ctx context.Context, data []byte) error {
	return o.send(ctx, data, wire.PipeClose)
}

// Close sends an empty closing record. Closing a closed pipe is a no-op.
func (o *OutPipe) Close(ctx context.Context) error {
	err := o.send(ctx, nil, wire.PipeClose)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (o *OutPipe) send(ctx context.Context, data []byte, flags uint16) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}

	cmd := wire.PipeCommand(o.port, o.counter, flags)
	err := o.bus.SendWithAck(ctx, wire.NewCommand(o.device, wire.ServiceIndexPipe, cmd, data))
	if err != nil {
		// the receiver's counter is unknown now, so the pipe cannot continue
		o.closed = true
		o.log("FAILED", err.Error())
		return err
	}
	o.counter = (o.counter + 1) & wire.PipeCounterMask
	if flags&wire.PipeClose != 0 {
		o.closed = true
		o.log("CLOSED", "")
	}
	return nil
}

func (o *OutPipe) log(state, reason string) {
	ev := log.NewStateEvent(log.StateEntityPipe, "out:"+portString(o.port), "", state, reason)
	ev.DeviceID = o.device.String()
	o.bus.ProtocolLogger().Log(ev)
}

func portString(port uint16) string {
	return strconv.Itoa(int(port))
}
