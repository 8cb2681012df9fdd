package bus

import (
	"encoding/binary"

	"github.com/wirebus/wirebus-go/pkg/wire"
)

// newControlServer builds the control service every device hosts at index 0.
func newControlServer(b *Bus) *Server {
	s := NewServer(wire.ServiceClassControl)

	s.HandleRegBytes(wire.RegControlDeviceDescription, []byte(b.config.Description))
	s.HandleRegBytes(wire.RegControlFirmwareVersion, []byte(b.config.FirmwareVersion))
	s.HandleRegFunc(wire.RegControlUptime, func() []byte {
		return binary.LittleEndian.AppendUint64(nil, uint64(b.Uptime().Microseconds()))
	})

	s.HandleCommand(wire.CmdControlServices, func(*wire.Packet) {
		if err := b.Announce(b.Context()); err != nil {
			b.logger.Debug("announce on request failed", "error", err)
		}
	})
	s.HandleCommand(wire.CmdControlNoop, func(*wire.Packet) {})
	s.HandleCommand(wire.CmdControlIdentify, func(*wire.Packet) {
		b.logger.Info("identify requested")
		b.identify.Publish(b.config.SelfID)
	})
	s.HandleCommand(wire.CmdControlReset, func(*wire.Packet) {
		b.logger.Info("reset requested")
		b.mu.Lock()
		b.restarts = 1
		b.mu.Unlock()
		if b.config.OnReset != nil {
			b.config.OnReset()
		}
	})
	// the control service answers nothing to commands it does not know
	s.HandleUnknown(func(*wire.Packet) {})
	return s
}
