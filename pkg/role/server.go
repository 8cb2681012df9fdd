package role

import (
	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/pipe"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Role manager service registers.
const (
	RegAutoBind          uint16 = 0x080
	RegAllRolesAllocated uint16 = 0x181
)

// Role manager service commands.
const (
	CmdGetRole           uint16 = 0x80
	CmdSetRole           uint16 = 0x81
	CmdListStoredRoles   uint16 = 0x82
	CmdListRequiredRoles uint16 = 0x83
	CmdClearAllRoles     uint16 = 0x84
)

// slotPayloadSize is the device identifier plus the service index.
const slotPayloadSize = wire.DeviceIDSize + 1

// Server hosts the role manager service for a Manager.
type Server struct {
	*bus.Server

	manager  *Manager
	autoBind *bus.Register
}

// NewServer creates the service. Add it to a bus with AddService.
func NewServer(m *Manager) *Server {
	s := &Server{
		Server:  bus.NewServer(wire.ServiceClassRoleManager),
		manager: m,
	}

	s.autoBind = s.HandleRegBool(RegAutoBind, m.AutoBind())
	s.HandleRegFunc(RegAllRolesAllocated, func() []byte {
		if m.AllBound() {
			return []byte{1}
		}
		return []byte{0}
	})
	s.OnRegisterChange().Subscribe(func(code uint16) {
		if code == RegAutoBind {
			m.SetAutoBind(s.autoBind.Bool())
		}
	})

	s.HandleCommand(CmdGetRole, s.getRole)
	s.HandleCommand(CmdSetRole, s.setRole)
	s.HandleCommand(CmdListStoredRoles, s.listStored)
	s.HandleCommand(CmdListRequiredRoles, s.listRequired)
	s.HandleCommand(CmdClearAllRoles, func(*wire.Packet) { m.ClearAll() })

	m.OnChange().Subscribe(func([]Binding) { s.sendChange() })
	return s
}

// Manager returns the served manager.
func (s *Server) Manager() *Manager { return s.manager }

func (s *Server) getRole(pkt *wire.Packet) {
	if len(pkt.Payload) != slotPayloadSize {
		return
	}
	r := wire.NewPayloadReader(pkt.Payload)
	dev, idx := r.DeviceID(), r.U8()

	var name string
	if b, ok := s.manager.RoleAt(dev, idx); ok {
		name = b.Name
	}
	w := &wire.PayloadWriter{}
	w.Bytes(pkt.Payload).Bytes([]byte(name))
	s.reply(CmdGetRole, w.Payload())
}

// setRole assigns the named role to a slot. An empty name clears the slot.
func (s *Server) setRole(pkt *wire.Packet) {
	if len(pkt.Payload) < slotPayloadSize {
		return
	}
	r := wire.NewPayloadReader(pkt.Payload)
	dev, idx := r.DeviceID(), r.U8()
	name := string(r.Rest())

	if name == "" {
		s.manager.ClearSlot(dev, idx)
		return
	}
	if err := s.manager.SetBinding(name, dev, idx); err != nil {
		s.Bus().Logger().Debug("set role rejected", "role", name, "error", err)
	}
}

func (s *Server) listStored(pkt *wire.Packet) {
	if _, err := pipe.RespondForEach(s.Bus(), pkt, s.manager.Stored(), encodeStored); err != nil {
		s.Bus().Logger().Debug("list stored roles", "error", err)
	}
}

func (s *Server) listRequired(pkt *wire.Packet) {
	if _, err := pipe.RespondForEach(s.Bus(), pkt, s.manager.Roles(), EncodeRequired); err != nil {
		s.Bus().Logger().Debug("list required roles", "error", err)
	}
}

func (s *Server) reply(cmd uint16, payload []byte) {
	b := s.Bus()
	if b == nil {
		return
	}
	if err := s.SendReport(b.Context(), cmd, payload); err != nil {
		b.Logger().Debug("role report failed", "cmd", cmd, "error", err)
	}
}

func (s *Server) sendChange() {
	b := s.Bus()
	if b == nil {
		return
	}
	if err := s.SendEvent(b.Context(), wire.EventChange, nil); err != nil {
		b.Logger().Debug("role change event failed", "error", err)
	}
}

// encodeStored packs a cache entry as device, index, name.
func encodeStored(b Binding) []byte {
	w := &wire.PayloadWriter{}
	w.DeviceID(b.Device).U8(b.ServiceIndex).Bytes([]byte(b.Name))
	return w.Payload()
}

// EncodeRequired packs a role as device, class, index, name. An unbound
// role carries a zero device and index.
func EncodeRequired(b Binding) []byte {
	w := &wire.PayloadWriter{}
	if b.Bound {
		w.DeviceID(b.Device).U32(b.ServiceClass).U8(b.ServiceIndex)
	} else {
		w.DeviceID(wire.DeviceID{}).U32(b.ServiceClass).U8(0)
	}
	w.Bytes([]byte(b.Name))
	return w.Payload()
}

// DecodeRequired parses a record written by EncodeRequired.
func DecodeRequired(data []byte) (Binding, error) {
	r := wire.NewPayloadReader(data)
	dev := r.DeviceID()
	class := r.U32()
	idx := r.U8()
	if r.Err != nil {
		return Binding{}, r.Err
	}
	return Binding{
		Role:         Role{Name: string(r.Rest()), ServiceClass: class},
		Device:       dev,
		ServiceIndex: idx,
		Bound:        !dev.IsZero(),
	}, nil
}

// DecodeStored parses a ListStoredRoles record.
func DecodeStored(data []byte) (Binding, error) {
	r := wire.NewPayloadReader(data)
	dev := r.DeviceID()
	idx := r.U8()
	if r.Err != nil {
		return Binding{}, r.Err
	}
	return Binding{Role: Role{Name: string(r.Rest())}, Device: dev, ServiceIndex: idx, Bound: true}, nil
}

var _ bus.Service = (*Server)(nil)
