package wire

import "fmt"

// Reserved service indices.
const (
	// ServiceIndexControl is the control service every device hosts at slot 0.
	ServiceIndexControl uint8 = 0x00

	// ServiceIndexMaxNormal is the highest index a regular service may use.
	ServiceIndexMaxNormal uint8 = 0x30

	// ServiceIndexBroadcast addresses every service of a class (multicast).
	ServiceIndexBroadcast uint8 = 0x3d

	// ServiceIndexPipe carries pipe data packets.
	ServiceIndexPipe uint8 = 0x3e

	// ServiceIndexCRCAck carries CRC-ack reports.
	ServiceIndexCRCAck uint8 = 0x3f

	// ServiceIndexMask selects the index bits of the record header.
	ServiceIndexMask uint8 = 0x3f
)

// System commands shared by every service.
const (
	CmdAnnounce              uint16 = 0x00
	CmdEvent                 uint16 = 0x01
	CmdCalibrate             uint16 = 0x02
	CmdCommandNotImplemented uint16 = 0x03
)

// Control service commands (service index 0).
const (
	CmdControlServices uint16 = 0x00
	CmdControlNoop     uint16 = 0x80
	CmdControlIdentify uint16 = 0x81
	CmdControlReset    uint16 = 0x82
)

// Registers shared by every service.
const (
	RegIntensity                  uint16 = 0x001
	RegValue                      uint16 = 0x002
	RegStreamingSamples           uint16 = 0x003
	RegStreamingInterval          uint16 = 0x004
	RegReading                    uint16 = 0x101
	RegStreamingPreferredInterval uint16 = 0x102
	RegStatusCode                 uint16 = 0x103
	RegMinReading                 uint16 = 0x104
	RegMaxReading                 uint16 = 0x105
	RegReadingError               uint16 = 0x106
	RegVariant                    uint16 = 0x107
	RegReadingResolution          uint16 = 0x108
	RegInstanceName               uint16 = 0x109
)

// Control service registers.
const (
	RegControlResetIn           uint16 = 0x080
	RegControlDeviceDescription uint16 = 0x180
	RegControlMcuTemperature    uint16 = 0x182
	RegControlFirmwareVersion   uint16 = 0x185
	RegControlUptime            uint16 = 0x186
)

// Event codes shared by every service.
const (
	EventActive            uint8 = 0x01
	EventInactive          uint8 = 0x02
	EventChange            uint8 = 0x03
	EventStatusCodeChanged uint8 = 0x04
)

// StreamingContinuous is the StreamingSamples value that never counts down.
const StreamingContinuous uint8 = 0xff

// DefaultStreamingInterval is the streaming interval in milliseconds used
// when a service does not set one.
const DefaultStreamingInterval uint32 = 100

// AnnounceFlags is the first 32-bit word of an announce payload.
type AnnounceFlags uint32

const (
	// AnnounceRestartCounterMask holds the restart counter. The counter
	// climbs from 1 after a reset and stays at 0xf once it gets there.
	AnnounceRestartCounterMask AnnounceFlags = 0x0f

	// AnnounceRestartCounterSteady is the saturated restart counter.
	AnnounceRestartCounterSteady AnnounceFlags = 0x0f

	AnnounceStatusLightMask   AnnounceFlags = 0x30
	AnnounceIsClient          AnnounceFlags = 0x800
	AnnounceSupportsACK       AnnounceFlags = 0x100
	AnnounceSupportsBroadcast AnnounceFlags = 0x200
	AnnounceSupportsFrames    AnnounceFlags = 0x400
)

// RestartCounter returns the restart counter bits.
func (f AnnounceFlags) RestartCounter() uint8 {
	return uint8(f & AnnounceRestartCounterMask)
}

// Has reports whether all bits of mask are set.
func (f AnnounceFlags) Has(mask AnnounceFlags) bool {
	return f&mask == mask
}

// Well-known service classes.
const (
	ServiceClassControl       uint32 = 0x00000000
	ServiceClassRoleManager   uint32 = 0x1e4b7e66
	ServiceClassButton        uint32 = 0x1473a263
	ServiceClassPotentiometer uint32 = 0x1f274746
	ServiceClassThermometer   uint32 = 0x1421bac7
	ServiceClassHumidity      uint32 = 0x16c810b8
	ServiceClassAccelerometer uint32 = 0x1f140409
	ServiceClassLED           uint32 = 0x1609d4f0
	ServiceClassSettings      uint32 = 0x1107dc4a
)

var serviceClassNames = map[uint32]string{
	ServiceClassControl:       "control",
	ServiceClassRoleManager:   "roleManager",
	ServiceClassButton:        "button",
	ServiceClassPotentiometer: "potentiometer",
	ServiceClassThermometer:   "thermometer",
	ServiceClassHumidity:      "humidity",
	ServiceClassAccelerometer: "accelerometer",
	ServiceClassLED:           "led",
	ServiceClassSettings:      "settings",
}

// ServiceClassName returns the short name of a well-known service class,
// or its hex value.
func ServiceClassName(class uint32) string {
	if name, ok := serviceClassNames[class]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", class)
}

// ServiceClassByName resolves a well-known service class name.
func ServiceClassByName(name string) (uint32, bool) {
	for class, n := range serviceClassNames {
		if n == name {
			return class, true
		}
	}
	return 0, false
}
