package wire

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DeviceIDSize is the length of a device identifier on the wire.
const DeviceIDSize = 8

// DeviceID is the 64-bit globally unique identifier of a bus participant,
// kept in wire byte order. The zero value means "no device".
type DeviceID [DeviceIDSize]byte

// ErrInvalidDeviceID is returned when a device identifier cannot be parsed.
var ErrInvalidDeviceID = errors.New("invalid device identifier")

// ParseDeviceID parses the 16-character hex form produced by String.
func ParseDeviceID(s string) (DeviceID, error) {
	var id DeviceID
	s = strings.TrimSpace(s)
	if len(s) != 2*DeviceIDSize {
		return id, fmt.Errorf("%w: %q", ErrInvalidDeviceID, s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidDeviceID, err)
	}
	return id, nil
}

// DeviceIDFromBytes copies the first eight bytes of b into a DeviceID.
func DeviceIDFromBytes(b []byte) (DeviceID, error) {
	var id DeviceID
	if len(b) < DeviceIDSize {
		return id, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidDeviceID, DeviceIDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// DeviceIDFromSeed derives a stable identifier from an arbitrary seed, such
// as a hardware serial number or a configured name.
func DeviceIDFromSeed(seed []byte) DeviceID {
	sum := blake2b.Sum256(seed)
	var id DeviceID
	copy(id[:], sum[:DeviceIDSize])
	return id
}

// String returns the lowercase hex form in wire byte order.
func (id DeviceID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero identifier.
func (id DeviceID) IsZero() bool {
	return id == DeviceID{}
}

// Compare orders identifiers the same way their hex strings sort.
func (id DeviceID) Compare(other DeviceID) int {
	return bytes.Compare(id[:], other[:])
}

// ShortID returns a four character human-friendly name such as "AB12".
// It is not unique; use it for display only.
func (id DeviceID) ShortID() string {
	h := fnv.New32()
	_, _ = h.Write(id[:])
	v := h.Sum32()
	// fold to 30 bits
	v = (v ^ (v >> 30)) & (1<<30 - 1)
	return string([]byte{
		byte('A' + v%26),
		byte('A' + (v/26)%26),
		byte('0' + (v/(26*26))%10),
		byte('0' + (v/(26*26*10))%10),
	})
}

// MarshalText implements encoding.TextMarshaler.
func (id DeviceID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *DeviceID) UnmarshalText(text []byte) error {
	parsed, err := ParseDeviceID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
