package wire

import (
	"errors"
	"fmt"
)

// Service command layout.
const (
	// CmdGetReg is the class prefix of register reads (and read reports).
	CmdGetReg uint16 = 0x1000

	// CmdSetReg is the class prefix of register writes. The value matches
	// deployed devices; 0x4xxx codes classify as ClassUnknown.
	CmdSetReg uint16 = 0x2000

	// CmdTopMask selects the class nibble of a non-event command.
	CmdTopMask uint16 = 0xf000

	// CmdRegMask selects the register number of a get/set command.
	CmdRegMask uint16 = 0x0fff

	// CmdEventFlag marks an event report.
	CmdEventFlag uint16 = 0x8000

	// CmdEventCodeMask selects the event code of an event command.
	CmdEventCodeMask uint16 = 0x00ff

	// CmdEventCounterMask is the width of the anti-replay event counter.
	CmdEventCounterMask uint16 = 0x7f

	// CmdEventCounterShift is the bit position of the event counter.
	CmdEventCounterShift = 8
)

// ErrReservedRegister is returned when a reserved register would be placed on the wire.
var ErrReservedRegister = errors.New("register number is reserved")

// CommandClass is the classification of a 16-bit service command.
type CommandClass uint8

const (
	// ClassAction is a plain service command (top nibble zero).
	ClassAction CommandClass = iota

	// ClassGetRegister reads a register, or reports its value.
	ClassGetRegister

	// ClassSetRegister writes a register.
	ClassSetRegister

	// ClassEvent is an event report.
	ClassEvent

	// ClassUnknown covers the reserved class nibbles 0x3 to 0x7.
	ClassUnknown
)

// String returns the class name.
func (c CommandClass) String() string {
	switch c {
	case ClassAction:
		return "ACTION"
	case ClassGetRegister:
		return "GET"
	case ClassSetRegister:
		return "SET"
	case ClassEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// Classify returns the class of cmd. The event flag takes precedence over
// the class nibble, so at most one of event, get and set applies.
func Classify(cmd uint16) CommandClass {
	if cmd&CmdEventFlag != 0 {
		return ClassEvent
	}
	switch cmd & CmdTopMask {
	case 0:
		return ClassAction
	case CmdGetReg:
		return ClassGetRegister
	case CmdSetReg:
		return ClassSetRegister
	default:
		return ClassUnknown
	}
}

// IsEvent reports whether cmd is an event report.
func IsEvent(cmd uint16) bool { return Classify(cmd) == ClassEvent }

// IsGetRegister reports whether cmd reads a register.
func IsGetRegister(cmd uint16) bool { return Classify(cmd) == ClassGetRegister }

// IsSetRegister reports whether cmd writes a register.
func IsSetRegister(cmd uint16) bool { return Classify(cmd) == ClassSetRegister }

// RegisterOf returns the register number addressed by a get/set command.
func RegisterOf(cmd uint16) uint16 {
	return cmd & CmdRegMask
}

// GetRegCommand returns the read command for reg.
func GetRegCommand(reg uint16) (uint16, error) {
	if err := checkRegister(reg); err != nil {
		return 0, err
	}
	return CmdGetReg | reg, nil
}

// SetRegCommand returns the write command for reg.
func SetRegCommand(reg uint16) (uint16, error) {
	if err := checkRegister(reg); err != nil {
		return 0, err
	}
	if !RangeOf(reg).Writable() {
		return 0, fmt.Errorf("register 0x%03x is read-only", reg)
	}
	return CmdSetReg | reg, nil
}

func checkRegister(reg uint16) error {
	if reg > CmdRegMask || RangeOf(reg) == RangeReserved {
		return fmt.Errorf("%w: 0x%x", ErrReservedRegister, reg)
	}
	return nil
}

// RegisterRange is the fixed range convention shared by every service.
type RegisterRange uint8

const (
	// RangeRWCommon is 0x001-0x07f, read/write registers common to all services.
	RangeRWCommon RegisterRange = iota

	// RangeRWService is 0x080-0x0ff, read/write registers of one service.
	RangeRWService

	// RangeROCommon is 0x100-0x17f, read-only registers common to all services.
	RangeROCommon

	// RangeROService is 0x180-0x1ff, read-only registers of one service.
	RangeROService

	// RangeCustom is 0x200-0xeff, custom registers of one service.
	RangeCustom

	// RangeReserved is 0xf00-0xfff, never placed on the wire.
	RangeReserved
)

// RangeOf returns the range reg falls into. Register 0 is treated as part
// of the common read/write range.
func RangeOf(reg uint16) RegisterRange {
	reg &= CmdRegMask
	switch {
	case reg < 0x080:
		return RangeRWCommon
	case reg < 0x100:
		return RangeRWService
	case reg < 0x180:
		return RangeROCommon
	case reg < 0x200:
		return RangeROService
	case reg < 0xf00:
		return RangeCustom
	default:
		return RangeReserved
	}
}

// Writable reports whether registers in the range accept SET commands.
func (r RegisterRange) Writable() bool {
	return r == RangeRWCommon || r == RangeRWService || r == RangeCustom
}

// String returns the range name.
func (r RegisterRange) String() string {
	switch r {
	case RangeRWCommon:
		return "RW_COMMON"
	case RangeRWService:
		return "RW_SERVICE"
	case RangeROCommon:
		return "RO_COMMON"
	case RangeROService:
		return "RO_SERVICE"
	case RangeCustom:
		return "CUSTOM"
	case RangeReserved:
		return "RESERVED"
	default:
		return "UNKNOWN"
	}
}

// EventCommand builds an event report command.
func EventCommand(code uint8, counter uint8) uint16 {
	return CmdEventFlag |
		(uint16(counter)&CmdEventCounterMask)<<CmdEventCounterShift |
		uint16(code)
}

// EventCode returns the event code of an event command.
func EventCode(cmd uint16) uint8 {
	return uint8(cmd & CmdEventCodeMask)
}

// EventCounter returns the anti-replay counter of an event command.
func EventCounter(cmd uint16) uint8 {
	return uint8((cmd >> CmdEventCounterShift) & CmdEventCounterMask)
}

// Pipe command layout. A pipe packet command is
// port<<7 | metadata<<6 | close<<5 | counter.
const (
	PipePortShift   = 7
	PipeCounterMask = 0x1f
	PipeClose       = 0x20
	PipeMetadata    = 0x40
	PipeMaxPort     = 0x1ff
)

// PipeCommand builds the command of a pipe data packet.
func PipeCommand(port uint16, counter uint8, flags uint16) uint16 {
	return (port&PipeMaxPort)<<PipePortShift |
		flags&(PipeClose|PipeMetadata) |
		uint16(counter)&PipeCounterMask
}

// PipePort returns the port of a pipe packet command.
func PipePort(cmd uint16) uint16 {
	return cmd >> PipePortShift
}

// PipeCounter returns the sequence counter of a pipe packet command.
func PipeCounter(cmd uint16) uint8 {
	return uint8(cmd & PipeCounterMask)
}

// PipeFlags returns the close and metadata bits of a pipe packet command.
func PipeFlags(cmd uint16) uint16 {
	return cmd & (PipeClose | PipeMetadata)
}
