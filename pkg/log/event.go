package log

import (
	"time"

	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Event represents a protocol event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the transport attachment (UUID), if any.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates frame flow relative to the local endpoint.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"5,keyasint"`

	// LocalDevice is the hex device id of the capturing endpoint.
	LocalDevice string `cbor:"6,keyasint,omitempty"`

	// DeviceID is the hex device id carried in the frame header, or the
	// subject device of a state change.
	DeviceID string `cbor:"7,keyasint,omitempty"`

	// RemoteAddr is the peer address for stream transports.
	RemoteAddr string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Packet      *PacketEvent      `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of frame flow.
type Direction uint8

const (
	// DirectionIn indicates a received frame.
	DirectionIn Direction = 0
	// DirectionOut indicates a sent frame.
	DirectionOut Direction = 1
	// DirectionNone is used for local state changes.
	DirectionNone Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "-"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the byte transport (stream framing, medium).
	LayerTransport Layer = 0
	// LayerFrame is the frame codec (decoded packets, CRC).
	LayerFrame Layer = 1
	// LayerBus is the endpoint runtime (directory, pipes, roles, streaming).
	LayerBus Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerFrame:
		return "FRAME"
	case LayerBus:
		return "BUS"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	// CategoryPacket indicates frame or packet traffic.
	CategoryPacket Category = 0
	// CategoryAck indicates CRC-ack traffic and ack timeouts.
	CategoryAck Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPacket:
		return "PACKET"
	case CategoryAck:
		return "ACK"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MaxCapturedFrame is the number of frame bytes kept in a FrameEvent.
const MaxCapturedFrame = wire.MaxFrameSize

// FrameEvent captures raw frame bytes at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame (truncated past MaxCapturedFrame).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// CRC is the checksum stored in the frame header.
	CRC uint16 `cbor:"4,keyasint"`
}

// PacketEvent captures one decoded packet.
type PacketEvent struct {
	Flags          uint8  `cbor:"1,keyasint"`
	ServiceIndex   uint8  `cbor:"2,keyasint"`
	ServiceCommand uint16 `cbor:"3,keyasint"`
	Class          string `cbor:"4,keyasint"`
	Payload        []byte `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures lifecycle changes.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// Subject names the entity instance (role name, pipe port, ...).
	Subject string `cbor:"2,keyasint,omitempty"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"3,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"4,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntityDevice     StateEntity = 1
	StateEntityRole       StateEntity = 2
	StateEntityPipe       StateEntity = 3
	StateEntityStreaming  StateEntity = 4
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntityRole:
		return "ROLE"
	case StateEntityPipe:
		return "PIPE"
	case StateEntityStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}

// NewFrameEvent builds a transport-layer frame event.
func NewFrameEvent(dir Direction, frame []byte) Event {
	fe := &FrameEvent{Size: len(frame), CRC: wire.FrameCRC(frame)}
	data := frame
	if len(data) > MaxCapturedFrame {
		data = data[:MaxCapturedFrame]
		fe.Truncated = true
	}
	fe.Data = append([]byte(nil), data...)

	ev := Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     LayerTransport,
		Category:  CategoryPacket,
		Frame:     fe,
	}
	if len(frame) >= wire.FrameHeaderSize {
		var id wire.DeviceID
		copy(id[:], frame[4:12])
		ev.DeviceID = id.String()
	}
	return ev
}

// NewPacketEvent builds a frame-layer event for a decoded packet.
func NewPacketEvent(dir Direction, pkt *wire.Packet) Event {
	cat := CategoryPacket
	if pkt.IsCRCAck() || pkt.RequiresAck() {
		cat = CategoryAck
	}
	return Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     LayerFrame,
		Category:  cat,
		DeviceID:  pkt.DeviceID.String(),
		Packet: &PacketEvent{
			Flags:          uint8(pkt.Flags),
			ServiceIndex:   pkt.ServiceIndex,
			ServiceCommand: pkt.ServiceCommand,
			Class:          wire.Classify(pkt.ServiceCommand).String(),
			Payload:        append([]byte(nil), pkt.Payload...),
		},
	}
}

// NewStateEvent builds a bus-layer state change event.
func NewStateEvent(entity StateEntity, subject, oldState, newState, reason string) Event {
	return Event{
		Timestamp: time.Now(),
		Direction: DirectionNone,
		Layer:     LayerBus,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			Subject:  subject,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(layer Layer, err error, context string) Event {
	return Event{
		Timestamp: time.Now(),
		Direction: DirectionNone,
		Layer:     layer,
		Category:  CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: context,
		},
	}
}
