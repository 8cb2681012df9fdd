package wire

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		cmd  uint16
		want CommandClass
	}{
		{0x0000, ClassAction},
		{0x0081, ClassAction},
		{0x1101, ClassGetRegister},
		{0x1003, ClassGetRegister},
		{0x2003, ClassSetRegister},
		{0x8003, ClassEvent},
		{0x9101, ClassEvent},
		{EventCommand(EventChange, 0x7f), ClassEvent},
		{0x3000, ClassUnknown},
		{0x4005, ClassUnknown},
		{0x7fff, ClassUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.cmd); got != tt.want {
			t.Errorf("Classify(0x%04x) = %s, want %s", tt.cmd, got, tt.want)
		}
	}
}

func TestClassifyExclusive(t *testing.T) {
	for cmd := 0; cmd <= 0xffff; cmd++ {
		c := uint16(cmd)
		n := 0
		for _, ok := range []bool{IsEvent(c), IsGetRegister(c), IsSetRegister(c)} {
			if ok {
				n++
			}
		}
		if n > 1 {
			t.Fatalf("command 0x%04x has %d classifications", c, n)
		}
	}
}

func TestRangeOf(t *testing.T) {
	tests := []struct {
		reg  uint16
		want RegisterRange
	}{
		{0x001, RangeRWCommon},
		{0x07f, RangeRWCommon},
		{0x080, RangeRWService},
		{0x0ff, RangeRWService},
		{0x100, RangeROCommon},
		{0x17f, RangeROCommon},
		{0x180, RangeROService},
		{0x1ff, RangeROService},
		{0x200, RangeCustom},
		{0xeff, RangeCustom},
		{0xf00, RangeReserved},
		{0xfff, RangeReserved},
	}
	for _, tt := range tests {
		if got := RangeOf(tt.reg); got != tt.want {
			t.Errorf("RangeOf(0x%03x) = %s, want %s", tt.reg, got, tt.want)
		}
		if got := RangeOf(RegisterOf(CmdGetReg | tt.reg)); got != tt.want {
			t.Errorf("RangeOf(RegisterOf(get 0x%03x)) = %s, want %s", tt.reg, got, tt.want)
		}
	}
}

func TestRegisterCommands(t *testing.T) {
	cmd, err := GetRegCommand(RegReading)
	if err != nil || cmd != 0x1101 {
		t.Errorf("GetRegCommand(Reading) = 0x%04x, %v", cmd, err)
	}
	cmd, err = SetRegCommand(RegStreamingSamples)
	if err != nil || cmd != 0x2003 {
		t.Errorf("SetRegCommand(StreamingSamples) = 0x%04x, %v", cmd, err)
	}
	if _, err := SetRegCommand(RegReading); err == nil {
		t.Error("SetRegCommand on read-only register should fail")
	}
	if _, err := GetRegCommand(0xf01); !errors.Is(err, ErrReservedRegister) {
		t.Errorf("GetRegCommand(reserved) error = %v", err)
	}
	if _, err := SetRegCommand(0xfff); !errors.Is(err, ErrReservedRegister) {
		t.Errorf("SetRegCommand(reserved) error = %v", err)
	}
}

func TestEventCommand(t *testing.T) {
	cmd := EventCommand(EventStatusCodeChanged, 0x85)
	if !IsEvent(cmd) {
		t.Fatalf("0x%04x not an event", cmd)
	}
	if got := EventCode(cmd); got != EventStatusCodeChanged {
		t.Errorf("EventCode = %d", got)
	}
	if got := EventCounter(cmd); got != 0x05 {
		t.Errorf("EventCounter = 0x%02x, want counter masked to 7 bits", got)
	}
}

func TestPipeCommand(t *testing.T) {
	cmd := PipeCommand(0x1ab, 33, PipeClose)
	if got := PipePort(cmd); got != 0x1ab {
		t.Errorf("PipePort = 0x%x", got)
	}
	if got := PipeCounter(cmd); got != 1 {
		t.Errorf("PipeCounter = %d, want wrap to 1", got)
	}
	if got := PipeFlags(cmd); got != PipeClose {
		t.Errorf("PipeFlags = 0x%x", got)
	}
	if PipeFlags(PipeCommand(3, 0, PipeMetadata)) != PipeMetadata {
		t.Error("metadata flag lost")
	}
}
