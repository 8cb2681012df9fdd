package bus

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/wirebus/wirebus-go/pkg/event"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Service is a service hosted by the local device.
type Service interface {
	// ServiceClass returns the class announced for the service.
	ServiceClass() uint32

	// Attach is called once when the service is added to a bus.
	Attach(b *Bus, index uint8)

	// HandlePacket receives commands addressed to the service.
	HandlePacket(pkt *wire.Packet)
}

// CommandHandler handles one command code.
type CommandHandler func(pkt *wire.Packet)

// Server is the base of every hosted service. It implements Service and the
// register convention; concrete services embed it and register handlers.
type Server struct {
	class uint32

	mu        sync.RWMutex
	bus       *Bus
	index     uint8
	registers map[uint16]*Register
	commands  map[uint16]CommandHandler
	fallback  CommandHandler

	eventMu      sync.Mutex
	eventCounter uint8

	changed *event.Topic[uint16]
}

// NewServer creates a service base for class.
func NewServer(class uint32) *Server {
	return &Server{
		class:     class,
		registers: make(map[uint16]*Register),
		commands:  make(map[uint16]CommandHandler),
		changed:   event.NewTopic[uint16](event.RegisterChange),
	}
}

// ServiceClass returns the service class.
func (s *Server) ServiceClass() uint32 { return s.class }

// Attach binds the server to its bus slot.
func (s *Server) Attach(b *Bus, index uint8) {
	s.mu.Lock()
	s.bus = b
	s.index = index
	s.mu.Unlock()
}

// Bus returns the hosting bus, or nil before Attach.
func (s *Server) Bus() *Bus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bus
}

// ServiceIndex returns the slot the server occupies.
func (s *Server) ServiceIndex() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

// OnRegisterChange fires with the register number after a SET command
// changed a value.
func (s *Server) OnRegisterChange() *event.Topic[uint16] { return s.changed }

// HandleCommand installs the handler for an action command.
func (s *Server) HandleCommand(cmd uint16, h CommandHandler) {
	s.mu.Lock()
	s.commands[cmd] = h
	s.mu.Unlock()
}

// HandleUnknown installs the handler for commands without a dedicated one.
func (s *Server) HandleUnknown(h CommandHandler) {
	s.mu.Lock()
	s.fallback = h
	s.mu.Unlock()
}

// HandleRegBytes serves a register holding raw bytes.
func (s *Server) HandleRegBytes(code uint16, initial []byte) *Register {
	r := newRegister(code, initial)
	s.addRegister(r)
	return r
}

// HandleRegU8 serves a one-byte register.
func (s *Server) HandleRegU8(code uint16, initial uint8) *Register {
	return s.HandleRegBytes(code, []byte{initial})
}

// HandleRegU32 serves a little-endian uint32 register.
func (s *Server) HandleRegU32(code uint16, initial uint32) *Register {
	return s.HandleRegBytes(code, binary.LittleEndian.AppendUint32(nil, initial))
}

// HandleRegBool serves a boolean register.
func (s *Server) HandleRegBool(code uint16, initial bool) *Register {
	var v uint8
	if initial {
		v = 1
	}
	return s.HandleRegU8(code, v)
}

// HandleRegFunc serves a read-only register computed on every GET. A nil
// value means no reading is available and the GET goes unanswered.
func (s *Server) HandleRegFunc(code uint16, get func() []byte) *Register {
	r := &Register{code: code, get: get}
	s.addRegister(r)
	return r
}

// Register returns a served register.
func (s *Server) Register(code uint16) (*Register, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registers[code]
	return r, ok
}

func (s *Server) addRegister(r *Register) {
	s.mu.Lock()
	s.registers[r.code] = r
	s.mu.Unlock()
}

// HandlePacket dispatches a command by its class.
func (s *Server) HandlePacket(pkt *wire.Packet) {
	switch wire.Classify(pkt.ServiceCommand) {
	case wire.ClassGetRegister:
		reg, ok := s.Register(wire.RegisterOf(pkt.ServiceCommand))
		if !ok {
			s.unknown(pkt)
			return
		}
		v := reg.Bytes()
		if v == nil {
			return
		}
		s.sendReport(pkt.ServiceCommand, v)

	case wire.ClassSetRegister:
		code := wire.RegisterOf(pkt.ServiceCommand)
		reg, ok := s.Register(code)
		if !ok || !reg.Writable() {
			s.unknown(pkt)
			return
		}
		if reg.SetBytes(pkt.Payload) {
			s.changed.Publish(code)
		}

	default:
		s.mu.RLock()
		h := s.commands[pkt.ServiceCommand]
		s.mu.RUnlock()
		if h == nil {
			s.unknown(pkt)
			return
		}
		h(pkt)
	}
}

func (s *Server) unknown(pkt *wire.Packet) {
	s.mu.RLock()
	h, b := s.fallback, s.bus
	s.mu.RUnlock()
	if h != nil {
		h(pkt)
		return
	}
	if b != nil {
		b.logger.Debug("unhandled command", "index", pkt.ServiceIndex, "cmd", pkt.ServiceCommand)
	}
}

func (s *Server) sendReport(cmd uint16, payload []byte) {
	b := s.Bus()
	if b == nil {
		return
	}
	if err := s.SendReport(b.Context(), cmd, payload); err != nil {
		b.logger.Debug("report failed", "index", s.ServiceIndex(), "cmd", cmd, "error", err)
	}
}

// SendReport sends a report from this service.
func (s *Server) SendReport(ctx context.Context, cmd uint16, payload []byte) error {
	s.mu.RLock()
	b, idx := s.bus, s.index
	s.mu.RUnlock()
	if b == nil {
		return ErrNotAttached
	}
	return b.Send(ctx, wire.NewReport(b.SelfID(), idx, cmd, payload))
}

// SendRegister reports the current value of a register, as if answering
// a GET.
func (s *Server) SendRegister(ctx context.Context, code uint16) error {
	reg, ok := s.Register(code)
	if !ok {
		return nil
	}
	return s.SendReport(ctx, wire.CmdGetReg|code, reg.Bytes())
}

// SendEvent reports an event. Each event carries the next value of the
// service's 7-bit event counter.
func (s *Server) SendEvent(ctx context.Context, code uint8, payload []byte) error {
	s.eventMu.Lock()
	s.eventCounter = (s.eventCounter + 1) & uint8(wire.CmdEventCounterMask)
	cmd := wire.EventCommand(code, s.eventCounter)
	s.eventMu.Unlock()
	return s.SendReport(ctx, cmd, payload)
}

var _ Service = (*Server)(nil)
