package log

import (
	"bytes"
	"testing"

	"github.com/wirebus/wirebus-go/pkg/wire"
)

func TestNewPacketEvent(t *testing.T) {
	dev := wire.DeviceID{0xaa, 0, 0, 0, 0, 0, 0, 1}
	pkt := wire.NewReport(dev, wire.ServiceIndexCRCAck, 0xbeef, nil)
	ev := NewPacketEvent(DirectionIn, pkt)

	if ev.Category != CategoryAck {
		t.Errorf("Category = %s, want ACK", ev.Category)
	}
	if ev.Layer != LayerFrame {
		t.Errorf("Layer = %s", ev.Layer)
	}
	if ev.Packet.ServiceCommand != 0xbeef || ev.Packet.ServiceIndex != wire.ServiceIndexCRCAck {
		t.Errorf("Packet = %+v", ev.Packet)
	}

	reading := NewPacketEvent(DirectionOut, wire.NewReport(dev, 1, 0x1101, []byte{1, 2}))
	if reading.Category != CategoryPacket || reading.Packet.Class != "GET" {
		t.Errorf("reading event = %+v / %+v", reading, reading.Packet)
	}
}

func TestNewFrameEventTruncates(t *testing.T) {
	big := bytes.Repeat([]byte{7}, MaxCapturedFrame+10)
	ev := NewFrameEvent(DirectionOut, big)
	if !ev.Frame.Truncated || len(ev.Frame.Data) != MaxCapturedFrame || ev.Frame.Size != len(big) {
		t.Errorf("frame event = size %d, data %d, truncated %v", ev.Frame.Size, len(ev.Frame.Data), ev.Frame.Truncated)
	}
}

func TestEventCBORRoundTrip(t *testing.T) {
	ev := NewStateEvent(StateEntityPipe, "port 17", "OPEN", "CLOSED", "close flag")
	ev.LocalDevice = "0102030405060708"

	data, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if !decoded.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, ev.Timestamp)
	}
	if *decoded.StateChange != *ev.StateChange || decoded.LocalDevice != ev.LocalDevice {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestStringers(t *testing.T) {
	if DirectionNone.String() != "-" || Direction(9).String() != "UNKNOWN" {
		t.Error("Direction strings")
	}
	if LayerBus.String() != "BUS" || CategoryAck.String() != "ACK" || StateEntityStreaming.String() != "STREAMING" {
		t.Error("enum strings")
	}
}
