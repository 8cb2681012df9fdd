package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "single byte", frame: []byte{0x42}},
		{name: "header sized", frame: bytes.Repeat([]byte{0xa5}, wire.FrameHeaderSize)},
		{name: "max size", frame: bytes.Repeat([]byte{0x7f}, wire.MaxFrameSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			if err := NewFrameWriter(buf).WriteFrame(tt.frame); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if buf.Len() != LengthPrefixSize+len(tt.frame) {
				t.Errorf("stream size = %d, want %d", buf.Len(), LengthPrefixSize+len(tt.frame))
			}

			got, err := NewFrameReader(buf).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.frame) {
				t.Errorf("frame mismatch: got %x, want %x", got, tt.frame)
			}
		})
	}
}

func TestFrameWriterRejects(t *testing.T) {
	w := NewFrameWriter(new(bytes.Buffer))
	if err := w.WriteFrame(nil); !errors.Is(err, ErrFrameEmpty) {
		t.Errorf("empty frame: got %v", err)
	}
	if err := w.WriteFrame(make([]byte, wire.MaxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversized frame: got %v", err)
	}
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name   string
		stream []byte
		want   error
	}{
		{name: "clean eof", stream: nil, want: io.EOF},
		{name: "partial prefix", stream: []byte{0x05}, want: ErrFrameTruncated},
		{name: "zero length", stream: []byte{0x00, 0x00}, want: ErrFrameEmpty},
		{name: "too large", stream: []byte{0xff, 0x00}, want: ErrFrameTooLarge},
		{name: "short body", stream: []byte{0x04, 0x00, 0x01, 0x02}, want: ErrFrameTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReader(bytes.NewReader(tt.stream)).ReadFrame()
			if !errors.Is(err, tt.want) {
				t.Errorf("ReadFrame() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFramerCapturesFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	capture := log.NewMemoryLogger(0)
	f := NewFramer(buf)
	f.SetLogger(capture, "conn-1")

	frame, err := wire.EncodeFrame(wire.FlagCommand, wire.DeviceID{1, 2, 3, 4, 5, 6, 7, 8},
		wire.NewCommand(wire.DeviceID{}, 1, 0x80, []byte{1}))
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	if err := f.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if _, err := f.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	events := capture.Events(log.Filter{})
	if len(events) != 2 {
		t.Fatalf("captured %d events, want 2", len(events))
	}
	if events[0].Direction != log.DirectionOut || events[1].Direction != log.DirectionIn {
		t.Errorf("directions = %v, %v", events[0].Direction, events[1].Direction)
	}
	for _, ev := range events {
		if ev.ConnectionID != "conn-1" {
			t.Errorf("connection id = %q", ev.ConnectionID)
		}
		if ev.Frame == nil || ev.Frame.CRC != wire.FrameCRC(frame) {
			t.Errorf("frame capture = %+v", ev.Frame)
		}
	}
}
