package wire

import (
	"bytes"
	"errors"
	"testing"
)

var testDevice = DeviceID{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}

func TestCRC16(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0xffff},
		{"check string", []byte("123456789"), 0x29b1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC16(tt.data); got != tt.want {
				t.Errorf("CRC16() = 0x%04x, want 0x%04x", got, tt.want)
			}
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		flags   Flags
		packets []*Packet
	}{
		{
			name:    "empty payload report",
			packets: []*Packet{{ServiceIndex: 1, ServiceCommand: 0x1101}},
		},
		{
			name:  "command with payload",
			flags: FlagCommand | FlagAckRequested,
			packets: []*Packet{
				{ServiceIndex: 2, ServiceCommand: 0x2003, Payload: []byte{0xff}},
			},
		},
		{
			name: "multi packet frame",
			packets: []*Packet{
				{ServiceIndex: 0, ServiceCommand: CmdAnnounce, Payload: EncodeAnnounce(0x10f, []uint32{ServiceClassButton})},
				{ServiceIndex: 1, ServiceCommand: 0x1101, Payload: []byte{1, 2, 3}},
				{ServiceIndex: 3, ServiceCommand: EventCommand(EventChange, 5), Payload: []byte{9, 8, 7, 6, 5}},
			},
		},
		{
			name:    "max payload",
			packets: []*Packet{{ServiceIndex: 5, ServiceCommand: 0x1234, Payload: bytes.Repeat([]byte{0xaa}, MaxPayloadSize)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeFrame(tt.flags, testDevice, tt.packets...)
			if err != nil {
				t.Fatalf("EncodeFrame failed: %v", err)
			}
			if len(frame)%4 != 0 {
				t.Errorf("frame length %d not 4-byte aligned", len(frame))
			}
			if len(frame) > MaxFrameSize {
				t.Errorf("frame length %d exceeds maximum", len(frame))
			}

			decoded, err := DecodeFrame(frame)
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}
			if len(decoded) != len(tt.packets) {
				t.Fatalf("got %d packets, want %d", len(decoded), len(tt.packets))
			}
			for i, p := range decoded {
				want := tt.packets[i]
				if p.DeviceID != testDevice {
					t.Errorf("packet %d: device = %s, want %s", i, p.DeviceID, testDevice)
				}
				if p.ServiceIndex != want.ServiceIndex || p.ServiceCommand != want.ServiceCommand {
					t.Errorf("packet %d: got %d/0x%04x, want %d/0x%04x",
						i, p.ServiceIndex, p.ServiceCommand, want.ServiceIndex, want.ServiceCommand)
				}
				if !bytes.Equal(p.Payload, want.Payload) {
					t.Errorf("packet %d: payload = %x, want %x", i, p.Payload, want.Payload)
				}
				if p.CRC != FrameCRC(frame) {
					t.Errorf("packet %d: CRC = 0x%04x, want 0x%04x", i, p.CRC, FrameCRC(frame))
				}
				if p.IsCommand() != (tt.flags&FlagCommand != 0) {
					t.Errorf("packet %d: IsCommand = %v", i, p.IsCommand())
				}
			}
		})
	}
}

func TestDecodeFrameAckOnlyOnFirstPacket(t *testing.T) {
	frame, err := EncodeFrame(FlagCommand|FlagAckRequested, testDevice,
		&Packet{ServiceIndex: 1, ServiceCommand: 0x80},
		&Packet{ServiceIndex: 2, ServiceCommand: 0x81},
	)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	pkts, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if !pkts[0].RequiresAck() {
		t.Error("first packet should keep ack flag")
	}
	if pkts[1].RequiresAck() {
		t.Error("second packet should not keep ack flag")
	}
}

func TestDecodeFrameBitFlip(t *testing.T) {
	frame, err := NewReport(testDevice, 1, 0x1101, []byte{1, 2, 3, 4, 5, 6}).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	for i := 0; i < len(frame); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), frame...)
			corrupted[i] ^= 1 << bit
			if _, err := DecodeFrame(corrupted); err == nil {
				t.Fatalf("flip of byte %d bit %d was accepted", i, bit)
			}
		}
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	valid, err := NewReport(testDevice, 1, 0x1101, []byte{1, 2, 3, 4}).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// frame whose record claims more payload than the frame holds
	overrun := append([]byte(nil), valid...)
	overrun[FrameHeaderSize] = 40
	fixCRC(overrun)

	empty := make([]byte, FrameHeaderSize)
	fixCRC(empty)

	// a well-formed single record that is too large for the bus
	oversized := rawFrame(248, 248)
	// a maximum-size frame whose record claims one byte past the payload limit
	longRecord := rawFrame(MaxFrameSize-FrameHeaderSize-RecordHeaderSize, MaxPayloadSize+1)

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"too short", valid[:8], ErrFrameTooShort},
		{"truncated", valid[:len(valid)-4], ErrFrameLength},
		{"trailing bytes", append(append([]byte(nil), valid...), 0, 0, 0, 0), ErrFrameLength},
		{"no records", empty, ErrEmptyFrame},
		{"overrun", overrun, ErrRecordOverrun},
		{"oversized frame", oversized, ErrFrameLength},
		{"payload over limit", longRecord, ErrRecordOverrun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkts, err := DecodeFrame(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeFrame() error = %v, want %v", err, tt.want)
			}
			if pkts != nil {
				t.Errorf("DecodeFrame() returned %d packets for a rejected frame", len(pkts))
			}
		})
	}
}

// rawFrame builds a frame with one record of payload bytes whose header
// declares claimed payload bytes.
func rawFrame(payload, claimed int) []byte {
	records := align4(RecordHeaderSize + payload)
	frame := make([]byte, FrameHeaderSize+records)
	frame[2] = byte(records)
	copy(frame[4:12], testDevice[:])
	frame[FrameHeaderSize] = byte(claimed)
	frame[FrameHeaderSize+1] = 1
	fixCRC(frame)
	return frame
}

func TestEncodeFrameErrors(t *testing.T) {
	big := &Packet{ServiceIndex: 1, Payload: make([]byte, MaxPayloadSize+1)}
	if _, err := EncodeFrame(0, testDevice, big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("oversized payload: error = %v", err)
	}

	half := &Packet{ServiceIndex: 1, Payload: make([]byte, 200)}
	if _, err := EncodeFrame(0, testDevice, half, half); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversized frame: error = %v", err)
	}

	if _, err := EncodeFrame(0, testDevice); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("no packets: error = %v", err)
	}

	if _, err := EncodeFrame(0, testDevice, &Packet{ServiceIndex: 0x40}); !errors.Is(err, ErrServiceIndex) {
		t.Errorf("bad index: error = %v", err)
	}
}

func TestPacketPredicates(t *testing.T) {
	announce := NewReport(testDevice, ServiceIndexControl, CmdAnnounce, EncodeAnnounce(0, nil))
	if !announce.IsAnnounce() || !announce.IsReport() {
		t.Error("announce report not recognized")
	}
	cmd := NewCommand(testDevice, ServiceIndexControl, CmdControlServices, nil)
	if cmd.IsAnnounce() {
		t.Error("services command should not be an announce")
	}
	ack := NewReport(testDevice, ServiceIndexCRCAck, 0x1234, nil)
	if !ack.IsCRCAck() {
		t.Error("crc ack not recognized")
	}
	pipe := NewCommand(testDevice, ServiceIndexPipe, PipeCommand(5, 0, 0), nil)
	if !pipe.IsPipe() {
		t.Error("pipe packet not recognized")
	}
}

func fixCRC(frame []byte) {
	crc := CRC16(frame[2:])
	frame[0] = byte(crc)
	frame[1] = byte(crc >> 8)
}
