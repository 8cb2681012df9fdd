package directory

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/wirebus/wirebus-go/pkg/event"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Default liveness windows.
const (
	DefaultLostAfter       = 1500 * time.Millisecond
	DefaultDisconnectAfter = 5 * time.Second
)

// State is the lifecycle state of a device.
type State uint8

const (
	// StateUnknown is the state of a device that never announced.
	StateUnknown State = iota

	// StateAnnounced means the device announced within the liveness window.
	StateAnnounced

	// StateStale means the device missed its liveness window and will be
	// removed unless it announces again.
	StateStale

	// StateRemoved means the device was purged from the directory.
	StateRemoved
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateAnnounced:
		return "ANNOUNCED"
	case StateStale:
		return "STALE"
	case StateRemoved:
		return "REMOVED"
	default:
		return "INVALID"
	}
}

// DeviceInfo is an immutable snapshot of a device.
type DeviceInfo struct {
	ID wire.DeviceID

	// Services lists service classes by index; Services[0] is the control service.
	Services []uint32

	Flags wire.AnnounceFlags
	State State

	FirstSeen         time.Time
	LastSeen          time.Time
	LastServiceUpdate time.Time

	// Announces counts the announce packets received from the device.
	Announces uint32

	// Restarts counts detected restarts since the device was first seen.
	Restarts uint32
}

// ServiceClass returns the class at index.
func (d DeviceInfo) ServiceClass(index uint8) (uint32, bool) {
	if int(index) >= len(d.Services) {
		return 0, false
	}
	return d.Services[index], true
}

// ServiceIndices returns the indices of all non-control services of class.
func (d DeviceInfo) ServiceIndices(class uint32) []uint8 {
	var out []uint8
	for i := 1; i < len(d.Services); i++ {
		if d.Services[i] == class {
			out = append(out, uint8(i))
		}
	}
	return out
}

// ShortID returns the display name of the device.
func (d DeviceInfo) ShortID() string {
	return d.ID.ShortID()
}

// DeviceEvent is the payload of every device notification.
type DeviceEvent struct {
	Kind   event.Kind
	Device DeviceInfo

	// Previous is the snapshot before the change, for DeviceServicesChange
	// and DeviceRestart. It is the zero value otherwise.
	Previous DeviceInfo
}

// Config configures a Directory.
type Config struct {
	// LostAfter is the silence after which a device becomes Stale.
	LostAfter time.Duration

	// DisconnectAfter is the silence after which a device is removed.
	DisconnectAfter time.Duration

	// Clock supplies timestamps. Defaults to SystemClock.
	Clock Clock

	// Logger for operational messages. Nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger receives device state changes. Nil disables capture.
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default liveness configuration.
func DefaultConfig() Config {
	return Config{
		LostAfter:       DefaultLostAfter,
		DisconnectAfter: DefaultDisconnectAfter,
		Clock:           SystemClock{},
	}
}

type device struct {
	info DeviceInfo
}

// Directory is the set of devices currently present on the bus.
type Directory struct {
	config Config
	logger *slog.Logger
	plog   log.Logger

	// opMu serializes state changes together with their notifications, so
	// listeners observe events in the order they happened.
	opMu sync.Mutex

	mu      sync.RWMutex
	devices map[wire.DeviceID]*device

	connect        *event.Topic[DeviceEvent]
	announce       *event.Topic[DeviceEvent]
	servicesChange *event.Topic[DeviceEvent]
	restart        *event.Topic[DeviceEvent]
	lost           *event.Topic[DeviceEvent]
	found          *event.Topic[DeviceEvent]
	disconnect     *event.Topic[DeviceEvent]
}

// New creates an empty Directory.
func New(cfg Config) *Directory {
	def := DefaultConfig()
	if cfg.LostAfter <= 0 {
		cfg.LostAfter = def.LostAfter
	}
	if cfg.DisconnectAfter <= 0 {
		cfg.DisconnectAfter = def.DisconnectAfter
	}
	if cfg.DisconnectAfter < cfg.LostAfter {
		cfg.DisconnectAfter = cfg.LostAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Directory{
		config:         cfg,
		logger:         logger,
		plog:           log.OrNoop(cfg.ProtocolLogger),
		devices:        make(map[wire.DeviceID]*device),
		connect:        event.NewTopic[DeviceEvent](event.DeviceConnect),
		announce:       event.NewTopic[DeviceEvent](event.DeviceAnnounce),
		servicesChange: event.NewTopic[DeviceEvent](event.DeviceServicesChange),
		restart:        event.NewTopic[DeviceEvent](event.DeviceRestart),
		lost:           event.NewTopic[DeviceEvent](event.DeviceLost),
		found:          event.NewTopic[DeviceEvent](event.DeviceFound),
		disconnect:     event.NewTopic[DeviceEvent](event.DeviceDisconnect),
	}
}

// Config returns the effective configuration.
func (d *Directory) Config() Config {
	return d.config
}

// OnConnect fires when an unknown device announces.
func (d *Directory) OnConnect() *event.Topic[DeviceEvent] { return d.connect }

// OnAnnounce fires for every processed announce.
func (d *Directory) OnAnnounce() *event.Topic[DeviceEvent] { return d.announce }

// OnServicesChange fires when a known device reports a different service
// list, or restarts.
func (d *Directory) OnServicesChange() *event.Topic[DeviceEvent] { return d.servicesChange }

// OnRestart fires when a device's restart counter decreases.
func (d *Directory) OnRestart() *event.Topic[DeviceEvent] { return d.restart }

// OnLost fires when a device becomes Stale.
func (d *Directory) OnLost() *event.Topic[DeviceEvent] { return d.lost }

// OnFound fires when a Stale device announces again.
func (d *Directory) OnFound() *event.Topic[DeviceEvent] { return d.found }

// OnDisconnect fires when a device is removed.
func (d *Directory) OnDisconnect() *event.Topic[DeviceEvent] { return d.disconnect }

type pending struct {
	topic *event.Topic[DeviceEvent]
	ev    DeviceEvent
}

// ProcessAnnounce applies an announce packet. It returns the updated device
// snapshot, or false if pkt is not an announce.
func (d *Directory) ProcessAnnounce(pkt *wire.Packet) (DeviceInfo, bool) {
	if !pkt.IsAnnounce() {
		return DeviceInfo{}, false
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	now := d.config.Clock.Now()
	flags, classes := wire.DecodeAnnounce(pkt.Payload)
	services := make([]uint32, 0, len(classes)+1)
	services = append(services, wire.ServiceClassControl)
	services = append(services, classes...)

	var events []pending

	d.mu.Lock()
	dev, known := d.devices[pkt.DeviceID]
	if !known {
		dev = &device{info: DeviceInfo{
			ID:                pkt.DeviceID,
			Services:          services,
			Flags:             flags,
			State:             StateAnnounced,
			FirstSeen:         now,
			LastSeen:          now,
			LastServiceUpdate: now,
			Announces:         1,
		}}
		d.devices[pkt.DeviceID] = dev
		info := dev.snapshot()
		events = append(events, pending{d.connect, DeviceEvent{Kind: event.DeviceConnect, Device: info}})
	} else {
		prev := dev.snapshot()
		info := &dev.info
		info.LastSeen = now
		info.Announces++

		restarted := flags.RestartCounter() < prev.Flags.RestartCounter()
		info.Flags = flags

		if prev.State == StateStale {
			info.State = StateAnnounced
			events = append(events, pending{d.found, DeviceEvent{Kind: event.DeviceFound, Device: dev.snapshot()}})
		}
		if restarted {
			info.Restarts++
			events = append(events, pending{d.restart, DeviceEvent{Kind: event.DeviceRestart, Device: dev.snapshot(), Previous: prev}})
		}
		if restarted || !slices.Equal(prev.Services, services) {
			info.Services = services
			info.LastServiceUpdate = now
			events = append(events, pending{d.servicesChange, DeviceEvent{Kind: event.DeviceServicesChange, Device: dev.snapshot(), Previous: prev}})
		}
	}
	info := dev.snapshot()
	d.mu.Unlock()

	events = append(events, pending{d.announce, DeviceEvent{Kind: event.DeviceAnnounce, Device: info}})

	for _, p := range events {
		d.record(p.ev)
		p.topic.Publish(p.ev)
	}
	return info, true
}

// Sweep applies the liveness windows at the current clock time.
func (d *Directory) Sweep() {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	now := d.config.Clock.Now()
	var events []pending

	d.mu.Lock()
	for id, dev := range d.devices {
		silence := now.Sub(dev.info.LastSeen)
		switch {
		case silence > d.config.DisconnectAfter:
			dev.info.State = StateRemoved
			delete(d.devices, id)
			events = append(events, pending{d.disconnect, DeviceEvent{Kind: event.DeviceDisconnect, Device: dev.snapshot()}})
		case silence > d.config.LostAfter && dev.info.State == StateAnnounced:
			dev.info.State = StateStale
			events = append(events, pending{d.lost, DeviceEvent{Kind: event.DeviceLost, Device: dev.snapshot()}})
		}
	}
	d.mu.Unlock()

	slices.SortFunc(events, func(a, b pending) int {
		return a.ev.Device.ID.Compare(b.ev.Device.ID)
	})
	for _, p := range events {
		d.record(p.ev)
		p.topic.Publish(p.ev)
	}
}

// Remove purges a device immediately, for example after it was reset.
// It reports whether the device was present.
func (d *Directory) Remove(id wire.DeviceID) bool {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.mu.Lock()
	dev, ok := d.devices[id]
	if ok {
		dev.info.State = StateRemoved
		delete(d.devices, id)
	}
	d.mu.Unlock()

	if !ok {
		return false
	}
	ev := DeviceEvent{Kind: event.DeviceDisconnect, Device: dev.snapshot()}
	d.record(ev)
	d.disconnect.Publish(ev)
	return true
}

// Devices returns snapshots of all present devices sorted by identifier.
func (d *Directory) Devices() []DeviceInfo {
	d.mu.RLock()
	out := make([]DeviceInfo, 0, len(d.devices))
	for _, dev := range d.devices {
		out = append(out, dev.snapshot())
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b DeviceInfo) int { return a.ID.Compare(b.ID) })
	return out
}

// Device returns the snapshot of one device.
func (d *Directory) Device(id wire.DeviceID) (DeviceInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[id]
	if !ok {
		return DeviceInfo{}, false
	}
	return dev.snapshot(), true
}

// Len returns the number of present devices.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.devices)
}

func (dev *device) snapshot() DeviceInfo {
	info := dev.info
	info.Services = slices.Clone(dev.info.Services)
	return info
}

func (d *Directory) record(ev DeviceEvent) {
	var oldState, newState string
	switch ev.Kind {
	case event.DeviceConnect:
		oldState, newState = StateUnknown.String(), StateAnnounced.String()
	case event.DeviceLost:
		oldState, newState = StateAnnounced.String(), StateStale.String()
	case event.DeviceFound:
		oldState, newState = StateStale.String(), StateAnnounced.String()
	case event.DeviceDisconnect:
		newState = StateRemoved.String()
	case event.DeviceServicesChange, event.DeviceRestart:
		newState = ev.Device.State.String()
	default:
		return
	}

	d.logger.Debug("device state change",
		"device", ev.Device.ID.String(),
		"short", ev.Device.ShortID(),
		"kind", ev.Kind.String(),
		"services", len(ev.Device.Services)-1)

	sev := log.NewStateEvent(log.StateEntityDevice, ev.Device.ID.String(), oldState, newState, ev.Kind.String())
	sev.DeviceID = ev.Device.ID.String()
	d.plog.Log(sev)
}
