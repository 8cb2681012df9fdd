package wire

import (
	"encoding/json"
	"testing"
)

func TestDeviceIDStringRoundTrip(t *testing.T) {
	s := testDevice.String()
	if s != "0123456789abcdef" {
		t.Fatalf("String() = %q", s)
	}
	id, err := ParseDeviceID(s)
	if err != nil {
		t.Fatalf("ParseDeviceID failed: %v", err)
	}
	if id != testDevice {
		t.Errorf("ParseDeviceID = %s, want %s", id, testDevice)
	}
}

func TestParseDeviceIDInvalid(t *testing.T) {
	for _, s := range []string{"", "0123", "zz23456789abcdef", "0123456789abcdef00"} {
		if _, err := ParseDeviceID(s); err == nil {
			t.Errorf("ParseDeviceID(%q) should fail", s)
		}
	}
}

func TestDeviceIDFromSeed(t *testing.T) {
	a := DeviceIDFromSeed([]byte("sensor-1"))
	b := DeviceIDFromSeed([]byte("sensor-1"))
	c := DeviceIDFromSeed([]byte("sensor-2"))
	if a != b {
		t.Error("same seed produced different ids")
	}
	if a == c {
		t.Error("different seeds produced the same id")
	}
	if a.IsZero() {
		t.Error("derived id is zero")
	}
}

func TestDeviceIDCompare(t *testing.T) {
	lo, _ := ParseDeviceID("0000000000000001")
	hi, _ := ParseDeviceID("ff00000000000000")
	if lo.Compare(hi) >= 0 || hi.Compare(lo) <= 0 || lo.Compare(lo) != 0 {
		t.Error("Compare does not follow hex order")
	}
}

func TestDeviceIDShortID(t *testing.T) {
	short := testDevice.ShortID()
	if len(short) != 4 {
		t.Fatalf("ShortID() = %q", short)
	}
	if short[0] < 'A' || short[0] > 'Z' || short[1] < 'A' || short[1] > 'Z' {
		t.Errorf("ShortID() letters = %q", short[:2])
	}
	if short[2] < '0' || short[2] > '9' || short[3] < '0' || short[3] > '9' {
		t.Errorf("ShortID() digits = %q", short[2:])
	}
	if testDevice.ShortID() != short {
		t.Error("ShortID not stable")
	}
}

func TestDeviceIDJSON(t *testing.T) {
	data, err := json.Marshal(map[string]DeviceID{"dev": testDevice})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"dev":"0123456789abcdef"}` {
		t.Errorf("Marshal = %s", data)
	}
	var out map[string]DeviceID
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out["dev"] != testDevice {
		t.Errorf("Unmarshal = %s", out["dev"])
	}
}

func TestAnnouncePayload(t *testing.T) {
	classes := []uint32{ServiceClassButton, ServiceClassThermometer}
	flags := AnnounceSupportsACK | 3
	payload := EncodeAnnounce(flags, classes)

	gotFlags, gotClasses := DecodeAnnounce(payload)
	if gotFlags != flags {
		t.Errorf("flags = 0x%x, want 0x%x", gotFlags, flags)
	}
	if gotFlags.RestartCounter() != 3 || !gotFlags.Has(AnnounceSupportsACK) {
		t.Errorf("flag accessors wrong for 0x%x", gotFlags)
	}
	if len(gotClasses) != 2 || gotClasses[0] != ServiceClassButton || gotClasses[1] != ServiceClassThermometer {
		t.Errorf("classes = %x", gotClasses)
	}
}

func TestPayloadReader(t *testing.T) {
	w := &PayloadWriter{}
	w.DeviceID(testDevice).U16(0x1234).U8(7).U32(0xdeadbeef).Bytes([]byte("left"))
	r := NewPayloadReader(w.Payload())

	if id := r.DeviceID(); id != testDevice {
		t.Errorf("DeviceID = %s", id)
	}
	if v := r.U16(); v != 0x1234 {
		t.Errorf("U16 = 0x%x", v)
	}
	if v := r.U8(); v != 7 {
		t.Errorf("U8 = %d", v)
	}
	if v := r.U32(); v != 0xdeadbeef {
		t.Errorf("U32 = 0x%x", v)
	}
	if s := string(r.Rest()); s != "left" {
		t.Errorf("Rest = %q", s)
	}
	if r.Err != nil {
		t.Errorf("unexpected error %v", r.Err)
	}
	r.U8()
	if r.Err == nil {
		t.Error("reading past end should set Err")
	}
}
