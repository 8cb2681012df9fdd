package sensor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/directory"
	"github.com/wirebus/wirebus-go/pkg/event"
	"github.com/wirebus/wirebus-go/pkg/role"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Errors returned by Client.
var (
	ErrNoBus   = errors.New("sensor client requires a bus")
	ErrNoRoles = errors.New("sensor client requires a role manager")
	ErrUnbound = errors.New("role is not bound")
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Bus   *bus.Bus
	Roles *role.Manager

	// Role names the role the client follows.
	Role string

	// Decode converts readings. Nil decodes a plain int32.
	Decode Decoder
}

// Client reads a sensor through a role. Streaming is requested again
// whenever the role gets bound and whenever the bound device announces,
// so a restarted or replaced sensor resumes pushing.
type Client struct {
	bus    *bus.Bus
	roles  *role.Manager
	name   string
	decode Decoder

	mu        sync.Mutex
	streaming bool
	interval  time.Duration

	readings *event.Topic[Reading]
	cancels  []event.Cancel
}

// NewClient creates a client and starts following the role.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Bus == nil {
		return nil, ErrNoBus
	}
	if cfg.Roles == nil {
		return nil, ErrNoRoles
	}
	decode := cfg.Decode
	if decode == nil {
		decode = DecodeFixed(0)
	}

	c := &Client{
		bus:      cfg.Bus,
		roles:    cfg.Roles,
		name:     cfg.Role,
		decode:   decode,
		readings: event.NewTopic[Reading](event.SensorReading),
	}
	c.cancels = []event.Cancel{
		c.bus.OnPacket().Subscribe(c.handle),
		c.roles.OnBound().Subscribe(func(b role.Binding) {
			if b.Name == c.name {
				c.resume()
			}
		}),
		c.bus.Directory().OnAnnounce().Subscribe(func(ev directory.DeviceEvent) {
			if b, ok := c.Binding(); ok && b.Device == ev.Device.ID {
				c.resume()
			}
		}),
	}
	return c, nil
}

// Close stops following the role.
func (c *Client) Close() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}

// Role returns the followed role name.
func (c *Client) Role() string { return c.name }

// Binding returns the current binding of the role.
func (c *Client) Binding() (role.Binding, bool) {
	b, ok := c.roles.Role(c.name)
	if !ok || !b.Bound {
		return role.Binding{}, false
	}
	return b, true
}

// OnReading calls fn for every reading report of the bound service.
func (c *Client) OnReading(fn func(Reading)) event.Cancel {
	return c.readings.Subscribe(fn)
}

// OnReadingChangedBy calls fn with the value whenever it moved by at
// least threshold since the last call. Missing readings are ignored.
func (c *Client) OnReadingChangedBy(threshold float64, fn func(float64)) event.Cancel {
	w := NewThresholdWatcher(threshold, fn)
	return c.OnReading(func(r Reading) { w.Observe(r.Value, r.Valid) })
}

// Buffer feeds a new window of size samples with every valid reading.
// The window's interval is the streaming interval requested so far, or
// the default when none was.
func (c *Client) Buffer(size int) (*Window, event.Cancel) {
	c.mu.Lock()
	interval := c.interval
	c.mu.Unlock()
	if interval <= 0 {
		interval = time.Duration(wire.DefaultStreamingInterval) * time.Millisecond
	}

	w := NewWindow(size, interval)
	cancel := c.OnReading(func(r Reading) {
		if r.Valid {
			w.Add(r.Value, r.At)
		}
	})
	return w, cancel
}

// SetStreaming asks the bound service to stream continuously, or to stop.
// A positive interval also sets StreamingInterval. While the role is
// unbound the request is only remembered and ErrUnbound is returned; it is
// applied when the role gets bound.
func (c *Client) SetStreaming(ctx context.Context, on bool, interval time.Duration) error {
	c.mu.Lock()
	c.streaming = on
	if interval > 0 {
		c.interval = interval
	}
	c.mu.Unlock()

	remote, ok := c.remote()
	if !ok {
		return ErrUnbound
	}
	return c.apply(ctx, remote, true)
}

// Read queries the Reading register once.
func (c *Client) Read(ctx context.Context) (Reading, error) {
	remote, ok := c.remote()
	if !ok {
		return Reading{}, ErrUnbound
	}
	raw, err := remote.GetRegister(ctx, wire.RegReading)
	if err != nil {
		return Reading{}, err
	}
	return c.reading(raw), nil
}

func (c *Client) remote() (*bus.Client, bool) {
	b, ok := c.Binding()
	if !ok {
		return nil, false
	}
	return bus.NewClient(c.bus, b.Device, b.ServiceIndex), true
}

// resume repeats a streaming request without waiting for acks; it runs on
// the bus receive goroutine.
func (c *Client) resume() {
	c.mu.Lock()
	on := c.streaming
	c.mu.Unlock()
	if !on {
		return
	}
	if remote, ok := c.remote(); ok {
		if err := c.apply(c.bus.Context(), remote, false); err != nil {
			c.bus.Logger().Debug("resume streaming", "role", c.name, "error", err)
		}
	}
}

func (c *Client) apply(ctx context.Context, remote *bus.Client, ack bool) error {
	c.mu.Lock()
	on, interval := c.streaming, c.interval
	c.mu.Unlock()

	send := remote.SendCommand
	if !ack {
		send = remote.SendCommandNoAck
	}
	if on && interval > 0 {
		var w wire.PayloadWriter
		if err := send(ctx, wire.CmdSetReg|wire.RegStreamingInterval, w.U32(uint32(interval/time.Millisecond)).Payload()); err != nil {
			return err
		}
	}
	samples := uint8(0)
	if on {
		samples = wire.StreamingContinuous
	}
	return send(ctx, wire.CmdSetReg|wire.RegStreamingSamples, []byte{samples})
}

func (c *Client) handle(pkt *wire.Packet) {
	if !pkt.IsReport() || pkt.ServiceCommand != wire.CmdGetReg|wire.RegReading {
		return
	}
	b, ok := c.Binding()
	if !ok || pkt.DeviceID != b.Device || pkt.ServiceIndex != b.ServiceIndex {
		return
	}
	c.readings.Publish(c.reading(pkt.Payload))
}

func (c *Client) reading(raw []byte) Reading {
	v, ok := c.decode(raw)
	return Reading{Value: v, Valid: ok, Raw: raw, At: c.bus.Clock().Now()}
}
