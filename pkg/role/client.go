package role

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/pipe"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Client drives the role manager service of a remote device.
type Client struct {
	*bus.Client
}

// NewClient returns a client for the role manager at index on device.
func NewClient(b *bus.Bus, device wire.DeviceID, index uint8) *Client {
	return &Client{Client: bus.NewClient(b, device, index)}
}

// ListRequired returns the roles declared on the remote device.
func (c *Client) ListRequired(ctx context.Context) ([]Binding, error) {
	return c.list(ctx, CmdListRequiredRoles, DecodeRequired)
}

// ListStored returns the remote binding cache.
func (c *Client) ListStored(ctx context.Context) ([]Binding, error) {
	return c.list(ctx, CmdListStoredRoles, DecodeStored)
}

func (c *Client) list(ctx context.Context, cmd uint16, decode func([]byte) (Binding, error)) ([]Binding, error) {
	in, err := pipe.NewInPipe(c.Bus())
	if err != nil {
		return nil, err
	}
	defer in.Close()

	if err := c.SendCommand(ctx, cmd, in.OpenPayload()); err != nil {
		return nil, fmt.Errorf("open role list: %w", err)
	}
	records, err := in.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Binding, 0, len(records))
	for _, rec := range records {
		b, err := decode(rec)
		if err != nil {
			c.Bus().Logger().Debug("skipping malformed role record", "error", err)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// GetRole returns the name of the role bound to a slot of the remote
// manager, or "" when the slot is free.
func (c *Client) GetRole(ctx context.Context, device wire.DeviceID, index uint8) (string, error) {
	var w wire.PayloadWriter
	query := w.DeviceID(device).U8(index).Payload()

	got := make(chan string, 1)
	cancel := c.OnReport(func(pkt *wire.Packet) {
		if pkt.ServiceCommand != CmdGetRole || !bytes.HasPrefix(pkt.Payload, query) {
			return
		}
		select {
		case got <- string(pkt.Payload[len(query):]):
		default:
		}
	})
	defer cancel()

	if err := c.SendCommand(ctx, CmdGetRole, query); err != nil {
		return "", err
	}
	select {
	case name := <-got:
		return name, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SetRole assigns name to a slot. An empty name clears the slot.
func (c *Client) SetRole(ctx context.Context, name string, device wire.DeviceID, index uint8) error {
	var w wire.PayloadWriter
	return c.SendCommand(ctx, CmdSetRole, w.DeviceID(device).U8(index).Bytes([]byte(name)).Payload())
}

// ClearAll wipes every binding of the remote manager.
func (c *Client) ClearAll(ctx context.Context) error {
	return c.SendCommand(ctx, CmdClearAllRoles, nil)
}

// SetAutoBind switches the remote periodic matching pass.
func (c *Client) SetAutoBind(ctx context.Context, on bool) error {
	var v uint8
	if on {
		v = 1
	}
	return c.SetRegister(ctx, RegAutoBind, []byte{v})
}

// AllRolesAllocated reports whether every remote role is bound.
func (c *Client) AllRolesAllocated(ctx context.Context) (bool, error) {
	v, err := c.GetRegister(ctx, RegAllRolesAllocated)
	if err != nil {
		return false, err
	}
	return len(v) > 0 && v[0] != 0, nil
}
