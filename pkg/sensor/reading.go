package sensor

import (
	"encoding/binary"
	"math"
	"time"
)

// Reading is one decoded value of a remote sensor.
type Reading struct {
	// Value is meaningful only when Valid is set.
	Value float64
	Valid bool
	Raw   []byte

	// At is the bus clock time at which the report was received.
	At time.Time
}

// Decoder converts a Reading register value to a number. It reports false
// for a value it cannot decode.
type Decoder func(data []byte) (float64, bool)

// DecodeFixed returns a decoder for a little-endian signed 32-bit value
// with frac fractional bits, such as the i22.10 format of thermometers.
func DecodeFixed(frac uint) Decoder {
	scale := math.Ldexp(1, -int(frac))
	return func(data []byte) (float64, bool) {
		if len(data) < 4 {
			return 0, false
		}
		return float64(int32(binary.LittleEndian.Uint32(data))) * scale, true
	}
}

// EncodeFixed is the inverse of DecodeFixed.
func EncodeFixed(v float64, frac uint) []byte {
	raw := int32(math.Round(math.Ldexp(v, int(frac))))
	return binary.LittleEndian.AppendUint32(nil, uint32(raw))
}

// DecodeU8 decodes a one-byte reading, such as a button state.
func DecodeU8(data []byte) (float64, bool) {
	if len(data) < 1 {
		return 0, false
	}
	return float64(data[0]), true
}
