package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebus/wirebus-go/pkg/event"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

var (
	devA = wire.DeviceID{0, 0, 0, 0, 0, 0, 0, 0x0a}
	devB = wire.DeviceID{0, 0, 0, 0, 0, 0, 0, 0x0b}
)

func announce(id wire.DeviceID, restart uint8, classes ...uint32) *wire.Packet {
	flags := wire.AnnounceFlags(restart) | wire.AnnounceSupportsACK
	return wire.NewReport(id, wire.ServiceIndexControl, wire.CmdAnnounce, wire.EncodeAnnounce(flags, classes))
}

type recorder struct {
	events []DeviceEvent
}

func (r *recorder) attach(d *Directory) {
	for _, topic := range []*event.Topic[DeviceEvent]{
		d.OnConnect(), d.OnServicesChange(), d.OnRestart(), d.OnLost(), d.OnFound(), d.OnDisconnect(),
	} {
		topic.Subscribe(func(ev DeviceEvent) { r.events = append(r.events, ev) })
	}
}

func (r *recorder) kinds() []event.Kind {
	var out []event.Kind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestDirectory(t *testing.T) (*Directory, *ManualClock, *recorder) {
	t.Helper()
	clock := NewManualClock(time.Unix(1000, 0))
	d := New(Config{Clock: clock, LostAfter: 1500 * time.Millisecond, DisconnectAfter: 5 * time.Second})
	rec := &recorder{}
	rec.attach(d)
	return d, clock, rec
}

func TestProcessAnnounceConnect(t *testing.T) {
	d, clock, rec := newTestDirectory(t)

	info, ok := d.ProcessAnnounce(announce(devA, 1, wire.ServiceClassButton, wire.ServiceClassThermometer))
	require.True(t, ok)

	assert.Equal(t, StateAnnounced, info.State)
	assert.Equal(t, []uint32{wire.ServiceClassControl, wire.ServiceClassButton, wire.ServiceClassThermometer}, info.Services)
	assert.Equal(t, clock.Now(), info.LastSeen)
	assert.Equal(t, clock.Now(), info.LastServiceUpdate)
	assert.Equal(t, []event.Kind{event.DeviceConnect}, rec.kinds())

	class, ok := info.ServiceClass(2)
	assert.True(t, ok)
	assert.Equal(t, wire.ServiceClassThermometer, class)
	_, ok = info.ServiceClass(3)
	assert.False(t, ok)
}

func TestProcessAnnounceIgnoresOtherPackets(t *testing.T) {
	d, _, rec := newTestDirectory(t)
	_, ok := d.ProcessAnnounce(wire.NewReport(devA, 1, 0x1101, nil))
	assert.False(t, ok)
	assert.Equal(t, 0, d.Len())
	assert.Empty(t, rec.events)
}

func TestRepeatedAnnounceRefreshesOnly(t *testing.T) {
	d, clock, rec := newTestDirectory(t)
	first, _ := d.ProcessAnnounce(announce(devA, 1, wire.ServiceClassButton))

	clock.Advance(500 * time.Millisecond)
	second, _ := d.ProcessAnnounce(announce(devA, 2, wire.ServiceClassButton))

	assert.Equal(t, clock.Now(), second.LastSeen)
	assert.Equal(t, first.LastServiceUpdate, second.LastServiceUpdate, "service update must not move without a change")
	assert.Equal(t, uint32(2), second.Announces)
	assert.Equal(t, []event.Kind{event.DeviceConnect}, rec.kinds())
}

func TestServiceChange(t *testing.T) {
	d, clock, rec := newTestDirectory(t)
	d.ProcessAnnounce(announce(devA, 1, wire.ServiceClassButton))

	clock.Advance(time.Second)
	info, _ := d.ProcessAnnounce(announce(devA, 2, wire.ServiceClassButton, wire.ServiceClassLED))

	assert.Equal(t, clock.Now(), info.LastServiceUpdate)
	require.Equal(t, []event.Kind{event.DeviceConnect, event.DeviceServicesChange}, rec.kinds())
	change := rec.events[1]
	assert.Len(t, change.Previous.Services, 2)
	assert.Len(t, change.Device.Services, 3)
}

func TestRestartDetection(t *testing.T) {
	d, clock, rec := newTestDirectory(t)
	d.ProcessAnnounce(announce(devA, 0xf, wire.ServiceClassButton))

	clock.Advance(time.Second)
	info, _ := d.ProcessAnnounce(announce(devA, 1, wire.ServiceClassButton))

	assert.Equal(t, uint32(1), info.Restarts)
	assert.Equal(t, []event.Kind{event.DeviceConnect, event.DeviceRestart, event.DeviceServicesChange}, rec.kinds())
}

func TestLivenessLostFoundAndRemoved(t *testing.T) {
	d, clock, rec := newTestDirectory(t)
	d.ProcessAnnounce(announce(devA, 1, wire.ServiceClassButton))

	clock.Advance(time.Second)
	d.Sweep()
	info, ok := d.Device(devA)
	require.True(t, ok)
	assert.Equal(t, StateAnnounced, info.State)

	clock.Advance(time.Second)
	d.Sweep()
	info, _ = d.Device(devA)
	assert.Equal(t, StateStale, info.State)

	d.ProcessAnnounce(announce(devA, 2, wire.ServiceClassButton))
	info, _ = d.Device(devA)
	assert.Equal(t, StateAnnounced, info.State)

	clock.Advance(6 * time.Second)
	d.Sweep()
	_, ok = d.Device(devA)
	assert.False(t, ok, "silent device must be purged")
	assert.Equal(t, 0, d.Len())

	assert.Equal(t, []event.Kind{
		event.DeviceConnect, event.DeviceLost, event.DeviceFound, event.DeviceDisconnect,
	}, rec.kinds())
	assert.Equal(t, StateRemoved, rec.events[3].Device.State)
}

func TestReconnectAfterRemoval(t *testing.T) {
	d, clock, rec := newTestDirectory(t)
	d.ProcessAnnounce(announce(devA, 0xf, wire.ServiceClassButton))
	clock.Advance(10 * time.Second)
	d.Sweep()
	d.ProcessAnnounce(announce(devA, 0xf, wire.ServiceClassButton))

	assert.Equal(t, []event.Kind{event.DeviceConnect, event.DeviceDisconnect, event.DeviceConnect}, rec.kinds())
}

func TestDevicesSortedAndSnapshotsImmutable(t *testing.T) {
	d, _, _ := newTestDirectory(t)
	d.ProcessAnnounce(announce(devB, 1, wire.ServiceClassButton))
	d.ProcessAnnounce(announce(devA, 1, wire.ServiceClassButton))

	devices := d.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, devA, devices[0].ID)
	assert.Equal(t, devB, devices[1].ID)

	devices[0].Services[1] = 0xdead
	again, _ := d.Device(devA)
	assert.Equal(t, wire.ServiceClassButton, again.Services[1])
}

func TestRemove(t *testing.T) {
	d, _, rec := newTestDirectory(t)
	d.ProcessAnnounce(announce(devA, 1))
	assert.True(t, d.Remove(devA))
	assert.False(t, d.Remove(devA))
	assert.Equal(t, []event.Kind{event.DeviceConnect, event.DeviceDisconnect}, rec.kinds())
}

func TestServiceIndices(t *testing.T) {
	info := DeviceInfo{Services: []uint32{0, wire.ServiceClassButton, wire.ServiceClassLED, wire.ServiceClassButton}}
	assert.Equal(t, []uint8{1, 3}, info.ServiceIndices(wire.ServiceClassButton))
	assert.Empty(t, info.ServiceIndices(wire.ServiceClassControl), "slot 0 is never returned")
}

func TestProtocolCapture(t *testing.T) {
	capture := log.NewMemoryLogger(0)
	clock := NewManualClock(time.Unix(0, 0))
	d := New(Config{Clock: clock, ProtocolLogger: capture})

	d.ProcessAnnounce(announce(devA, 1))
	entity := log.StateEntityDevice
	events := capture.Events(log.Filter{Entity: &entity})
	require.Len(t, events, 1)
	assert.Equal(t, "ANNOUNCED", events[0].StateChange.NewState)
	assert.Equal(t, devA.String(), events[0].DeviceID)
}

func TestNewAppliesDefaults(t *testing.T) {
	d := New(Config{})
	cfg := d.Config()
	assert.Equal(t, DefaultLostAfter, cfg.LostAfter)
	assert.Equal(t, DefaultDisconnectAfter, cfg.DisconnectAfter)
	assert.NotNil(t, cfg.Clock)
}
