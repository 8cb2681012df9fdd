package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/wirebus/wirebus-go/pkg/event"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// DefaultRegisterRetry is the interval at which GetRegister repeats its
// query until a report arrives.
const DefaultRegisterRetry = 100 * time.Millisecond

// Client drives a service hosted by a remote device.
type Client struct {
	bus    *Bus
	device wire.DeviceID
	index  uint8
}

// NewClient returns a client for the service at index on device.
func NewClient(b *Bus, device wire.DeviceID, index uint8) *Client {
	return &Client{bus: b, device: device, index: index}
}

// Device returns the remote device identifier.
func (c *Client) Device() wire.DeviceID { return c.device }

// ServiceIndex returns the remote service index.
func (c *Client) ServiceIndex() uint8 { return c.index }

// Bus returns the local endpoint.
func (c *Client) Bus() *Bus { return c.bus }

// SendCommand sends a command and waits for the CRC-ack.
func (c *Client) SendCommand(ctx context.Context, cmd uint16, payload []byte) error {
	return c.bus.SendWithAck(ctx, wire.NewCommand(c.device, c.index, cmd, payload))
}

// SendCommandNoAck sends a command without asking for an ack.
func (c *Client) SendCommandNoAck(ctx context.Context, cmd uint16, payload []byte) error {
	return c.bus.Send(ctx, wire.NewCommand(c.device, c.index, cmd, payload))
}

// SetRegister writes a register and waits for the CRC-ack.
func (c *Client) SetRegister(ctx context.Context, reg uint16, value []byte) error {
	cmd, err := wire.SetRegCommand(reg)
	if err != nil {
		return err
	}
	return c.SendCommand(ctx, cmd, value)
}

// GetRegister queries a register and returns the value of the first
// matching report. The query is repeated until ctx is done.
func (c *Client) GetRegister(ctx context.Context, reg uint16) ([]byte, error) {
	cmd, err := wire.GetRegCommand(reg)
	if err != nil {
		return nil, err
	}

	got := make(chan []byte, 1)
	cancel := c.OnReport(func(pkt *wire.Packet) {
		if pkt.ServiceCommand != cmd {
			return
		}
		select {
		case got <- pkt.Payload:
		default:
		}
	})
	defer cancel()

	ticker := time.NewTicker(DefaultRegisterRetry)
	defer ticker.Stop()
	for {
		if err := c.SendCommandNoAck(ctx, cmd, nil); err != nil {
			return nil, err
		}
		select {
		case v := <-got:
			return v, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("register 0x%03x of %s/%d: %w", reg, c.device.ShortID(), c.index, ctx.Err())
		case <-ticker.C:
		}
	}
}

// OnReport calls fn for every report from the remote service.
func (c *Client) OnReport(fn func(pkt *wire.Packet)) event.Cancel {
	return c.bus.OnPacket().Subscribe(func(pkt *wire.Packet) {
		if pkt.IsReport() && pkt.DeviceID == c.device && pkt.ServiceIndex == c.index {
			fn(pkt)
		}
	})
}

// OnEvent calls fn for every event report with code from the remote service.
func (c *Client) OnEvent(code uint8, fn func(pkt *wire.Packet)) event.Cancel {
	return c.OnReport(func(pkt *wire.Packet) {
		if wire.IsEvent(pkt.ServiceCommand) && wire.EventCode(pkt.ServiceCommand) == code {
			fn(pkt)
		}
	})
}
