package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout constants.
const (
	// FrameHeaderSize is the size of the CRC, size, flags and device id header.
	FrameHeaderSize = 12

	// RecordHeaderSize is the size of the per-packet record header.
	RecordHeaderSize = 4

	// MaxFrameSize is the largest frame a transport has to carry.
	MaxFrameSize = 252

	// MaxPayloadSize is the largest payload a single packet can carry.
	MaxPayloadSize = 236

	// maxRecordsSize is the largest value the size byte may hold.
	maxRecordsSize = MaxFrameSize - FrameHeaderSize
)

// Flags are the per-frame flag bits in header byte 3.
type Flags uint8

const (
	// FlagCommand marks a frame addressed to the device in the header.
	// Without it the frame is a report from that device.
	FlagCommand Flags = 0x01

	// FlagAckRequested asks the destination to answer with a CRC-ack.
	FlagAckRequested Flags = 0x02

	// FlagIdentifierIsServiceClass marks multicast commands where the
	// header carries a service class instead of a device id.
	FlagIdentifierIsServiceClass Flags = 0x04
)

// Frame decoding errors.
var (
	ErrFrameTooShort   = errors.New("frame shorter than header")
	ErrFrameLength     = errors.New("frame length does not match declared size")
	ErrEmptyFrame      = errors.New("frame carries no packets")
	ErrCRCMismatch     = errors.New("frame CRC mismatch")
	ErrRecordOverrun   = errors.New("packet record overruns frame")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrServiceIndex    = errors.New("service index out of range")
)

// Packet is one addressed unit carried in a frame.
//
// Packets decoded from a frame share its Flags, DeviceID and CRC. Packets are
// not modified after decoding; build a new one for every send.
type Packet struct {
	Flags          Flags
	DeviceID       DeviceID
	ServiceIndex   uint8
	ServiceCommand uint16
	Payload        []byte

	// CRC is the checksum of the frame the packet was decoded from.
	// It is zero for packets that were constructed locally.
	CRC uint16
}

// NewCommand builds a command packet addressed to a service on device dst.
func NewCommand(dst DeviceID, serviceIndex uint8, cmd uint16, payload []byte) *Packet {
	return &Packet{
		Flags:          FlagCommand,
		DeviceID:       dst,
		ServiceIndex:   serviceIndex,
		ServiceCommand: cmd,
		Payload:        payload,
	}
}

// NewReport builds a report packet sent from device src.
func NewReport(src DeviceID, serviceIndex uint8, cmd uint16, payload []byte) *Packet {
	return &Packet{
		DeviceID:       src,
		ServiceIndex:   serviceIndex,
		ServiceCommand: cmd,
		Payload:        payload,
	}
}

// IsCommand reports whether the packet is a command to DeviceID.
func (p *Packet) IsCommand() bool {
	return p.Flags&FlagCommand != 0
}

// IsReport reports whether the packet was sent by DeviceID.
func (p *Packet) IsReport() bool {
	return p.Flags&FlagCommand == 0
}

// RequiresAck reports whether the sender asked for a CRC-ack.
func (p *Packet) RequiresAck() bool {
	return p.Flags&FlagAckRequested != 0
}

// IsMulticast reports whether DeviceID carries a service class.
func (p *Packet) IsMulticast() bool {
	return p.Flags&FlagIdentifierIsServiceClass != 0
}

// IsAnnounce reports whether the packet is a device announcement.
func (p *Packet) IsAnnounce() bool {
	return p.IsReport() && p.ServiceIndex == ServiceIndexControl && p.ServiceCommand == CmdAnnounce
}

// IsPipe reports whether the packet belongs to a pipe.
func (p *Packet) IsPipe() bool {
	return p.ServiceIndex == ServiceIndexPipe
}

// IsCRCAck reports whether the packet acknowledges a frame.
func (p *Packet) IsCRCAck() bool {
	return p.IsReport() && p.ServiceIndex == ServiceIndexCRCAck
}

// Encode returns a single-packet frame carrying p.
func (p *Packet) Encode() ([]byte, error) {
	return EncodeFrame(p.Flags, p.DeviceID, p)
}

// String returns a compact human readable form used in logs.
func (p *Packet) String() string {
	dir := "from"
	if p.IsCommand() {
		dir = "to"
	}
	return fmt.Sprintf("%s %s/%d cmd=0x%04x (%s) %d bytes",
		dir, p.DeviceID.ShortID(), p.ServiceIndex, p.ServiceCommand,
		Classify(p.ServiceCommand), len(p.Payload))
}

// EncodeFrame serializes packets into a frame with the given header.
// The packets' own Flags and DeviceID fields are ignored.
func EncodeFrame(flags Flags, id DeviceID, packets ...*Packet) ([]byte, error) {
	if len(packets) == 0 {
		return nil, ErrEmptyFrame
	}

	size := 0
	for _, p := range packets {
		if len(p.Payload) > MaxPayloadSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p.Payload))
		}
		if p.ServiceIndex > ServiceIndexMask {
			return nil, fmt.Errorf("%w: %d", ErrServiceIndex, p.ServiceIndex)
		}
		size += align4(RecordHeaderSize + len(p.Payload))
	}
	if size > maxRecordsSize {
		return nil, fmt.Errorf("%w: %d bytes of records", ErrFrameTooLarge, size)
	}

	frame := make([]byte, FrameHeaderSize+size)
	frame[2] = byte(size)
	frame[3] = byte(flags)
	copy(frame[4:12], id[:])

	off := FrameHeaderSize
	for _, p := range packets {
		frame[off] = byte(len(p.Payload))
		frame[off+1] = p.ServiceIndex
		binary.LittleEndian.PutUint16(frame[off+2:], p.ServiceCommand)
		copy(frame[off+RecordHeaderSize:], p.Payload)
		off += align4(RecordHeaderSize + len(p.Payload))
	}

	binary.LittleEndian.PutUint16(frame[0:2], CRC16(frame[2:]))
	return frame, nil
}

// DecodeFrame validates a frame and returns the packets it carries.
// Any framing error rejects the whole frame.
func DecodeFrame(frame []byte) ([]*Packet, error) {
	if len(frame) < FrameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}
	size := int(frame[2])
	if len(frame) != FrameHeaderSize+size {
		return nil, fmt.Errorf("%w: declared %d, have %d", ErrFrameLength, FrameHeaderSize+size, len(frame))
	}
	if len(frame) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameLength, len(frame), MaxFrameSize)
	}
	if size < RecordHeaderSize {
		return nil, ErrEmptyFrame
	}

	crc := binary.LittleEndian.Uint16(frame[0:2])
	if computed := CRC16(frame[2:]); computed != crc {
		return nil, fmt.Errorf("%w: got 0x%04x, want 0x%04x", ErrCRCMismatch, crc, computed)
	}

	flags := Flags(frame[3])
	var id DeviceID
	copy(id[:], frame[4:12])

	var packets []*Packet
	end := len(frame)
	for off := FrameHeaderSize; off < end; {
		if off+RecordHeaderSize > end {
			return nil, fmt.Errorf("%w: header at %d", ErrRecordOverrun, off)
		}
		n := int(frame[off])
		if n > MaxPayloadSize {
			return nil, fmt.Errorf("%w: record at %d carries %d payload bytes", ErrRecordOverrun, off, n)
		}
		recEnd := off + RecordHeaderSize + n
		if recEnd > end {
			return nil, fmt.Errorf("%w: record at %d needs %d bytes", ErrRecordOverrun, off, RecordHeaderSize+n)
		}

		pktFlags := flags
		if len(packets) > 0 {
			// only the first packet of a frame is acknowledged
			pktFlags &^= FlagAckRequested
		}
		payload := make([]byte, n)
		copy(payload, frame[off+RecordHeaderSize:recEnd])

		packets = append(packets, &Packet{
			Flags:          pktFlags,
			DeviceID:       id,
			ServiceIndex:   frame[off+1] & ServiceIndexMask,
			ServiceCommand: binary.LittleEndian.Uint16(frame[off+2:]),
			Payload:        payload,
			CRC:            crc,
		})
		off += align4(RecordHeaderSize + n)
	}
	return packets, nil
}

// FrameCRC returns the checksum stored in a frame header without validating it.
func FrameCRC(frame []byte) uint16 {
	if len(frame) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(frame[0:2])
}

func align4(n int) int {
	return (n + 3) &^ 3
}
