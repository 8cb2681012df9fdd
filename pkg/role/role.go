package role

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Errors returned by the role manager.
var (
	ErrNoDirectory  = errors.New("role manager requires a directory")
	ErrEmptyName    = errors.New("role name is empty")
	ErrInvalidSlot  = errors.New("service index 0 cannot be bound")
	ErrInvalidCache = errors.New("malformed role cache entry")
)

// Role is a named requirement for one service of a class.
type Role struct {
	Name         string
	ServiceClass uint32
}

// Binding is the current state of a role.
type Binding struct {
	Role

	// Device and ServiceIndex are meaningful only when Bound is set.
	Device       wire.DeviceID
	ServiceIndex uint8
	Bound        bool
}

// String renders the binding for logs and the host console.
func (b Binding) String() string {
	if !b.Bound {
		return fmt.Sprintf("%s (%s) unbound", b.Name, wire.ServiceClassName(b.ServiceClass))
	}
	return fmt.Sprintf("%s (%s) -> %s/%d", b.Name, wire.ServiceClassName(b.ServiceClass), b.Device.ShortID(), b.ServiceIndex)
}

// slot identifies one service on one device.
type slot struct {
	device wire.DeviceID
	index  uint8
}

// encodeCache renders a cache value.
func encodeCache(device wire.DeviceID, index uint8) string {
	return device.String() + ":" + strconv.Itoa(int(index))
}

// decodeCache parses a cache value written by encodeCache.
func decodeCache(v string) (wire.DeviceID, uint8, error) {
	hex, idx, ok := strings.Cut(v, ":")
	if !ok {
		return wire.DeviceID{}, 0, ErrInvalidCache
	}
	id, err := wire.ParseDeviceID(hex)
	if err != nil {
		return wire.DeviceID{}, 0, fmt.Errorf("%w: %v", ErrInvalidCache, err)
	}
	n, err := strconv.ParseUint(idx, 10, 8)
	if err != nil || n == 0 || uint8(n) > wire.ServiceIndexMaxNormal {
		return wire.DeviceID{}, 0, ErrInvalidCache
	}
	return id, uint8(n), nil
}
