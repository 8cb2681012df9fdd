package sensor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/role"
	"github.com/wirebus/wirebus-go/pkg/transport"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

func startBus(t *testing.T, m *transport.Medium, seed string, plog log.Logger) *bus.Bus {
	t.Helper()
	tr := m.Attach()
	b, err := bus.New(bus.Config{
		SelfID:           wire.DeviceIDFromSeed([]byte(seed)),
		Transport:        tr,
		AnnounceInterval: 20 * time.Millisecond,
		ProtocolLogger:   plog,
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		b.Stop()
		tr.Close()
	})
	return b
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// thermometer serves a temperature that rises by one degree per read.
type thermometer struct {
	reads atomic.Int32
}

func (th *thermometer) serialize() []byte {
	n := th.reads.Add(1)
	return EncodeFixed(20+float64(n), 10)
}

// readingCounter counts reading reports from one device.
func readingCounter(b *bus.Bus, from wire.DeviceID) *atomic.Int32 {
	var n atomic.Int32
	b.OnPacket().Subscribe(func(pkt *wire.Packet) {
		if pkt.IsReport() && pkt.DeviceID == from && pkt.ServiceCommand == wire.CmdGetReg|wire.RegReading {
			n.Add(1)
		}
	})
	return &n
}

func TestServerStreamsCountedSamples(t *testing.T) {
	m := transport.NewMedium()
	capture := log.NewMemoryLogger(0)
	host := startBus(t, m, "host", nil)
	dev := startBus(t, m, "device", capture)

	th := &thermometer{}
	srv := NewServer(ServerConfig{Class: wire.ServiceClassThermometer, Serialize: th.serialize})
	var stops atomic.Int32
	srv.OnStreamingStop().Subscribe(func(struct{}) { stops.Add(1) })
	idx, err := dev.AddService(srv)
	require.NoError(t, err)

	got := readingCounter(host, dev.SelfID())
	ctx := testContext(t)
	client := bus.NewClient(host, dev.SelfID(), idx)

	var w wire.PayloadWriter
	require.NoError(t, client.SetRegister(ctx, wire.RegStreamingInterval, w.U32(10).Payload()))
	require.NoError(t, client.SetRegister(ctx, wire.RegStreamingSamples, []byte{3}))

	require.Eventually(t, func() bool { return stops.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, srv.Streaming())
	assert.Equal(t, uint8(0), srv.Remaining())
	require.Eventually(t, func() bool { return got.Load() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, srv.Interval())

	entity := log.StateEntityStreaming
	states := capture.Events(log.Filter{Entity: &entity})
	require.Len(t, states, 2)
	assert.Equal(t, "STREAMING", states[0].StateChange.NewState)
	assert.Equal(t, "STOPPED", states[1].StateChange.NewState)
}

func TestServerAnswersReadingAndSamples(t *testing.T) {
	m := transport.NewMedium()
	host := startBus(t, m, "host", nil)
	dev := startBus(t, m, "device", nil)

	th := &thermometer{}
	idx, err := dev.AddService(NewServer(ServerConfig{
		Class:             wire.ServiceClassThermometer,
		Serialize:         th.serialize,
		PreferredInterval: 250 * time.Millisecond,
	}))
	require.NoError(t, err)

	ctx := testContext(t)
	client := bus.NewClient(host, dev.SelfID(), idx)

	v, err := client.GetRegister(ctx, wire.RegReading)
	require.NoError(t, err)
	value, ok := DecodeFixed(10)(v)
	require.True(t, ok)
	assert.Greater(t, value, 20.0)

	v, err = client.GetRegister(ctx, wire.RegStreamingSamples)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, v)

	v, err = client.GetRegister(ctx, wire.RegStreamingPreferredInterval)
	require.NoError(t, err)
	assert.Equal(t, uint32(250), wire.NewPayloadReader(v).U32())
}

func TestServerWithoutReadingStaysQuiet(t *testing.T) {
	m := transport.NewMedium()
	host := startBus(t, m, "host", nil)
	dev := startBus(t, m, "device", nil)

	srv := NewServer(ServerConfig{Class: wire.ServiceClassButton, Serialize: func() []byte { return nil }})
	idx, err := dev.AddService(srv)
	require.NoError(t, err)
	got := readingCounter(host, dev.SelfID())

	srv.SetInterval(5 * time.Millisecond)
	srv.SetStreaming(wire.StreamingContinuous)
	defer srv.StopStreaming()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = bus.NewClient(host, dev.SelfID(), idx).GetRegister(ctx, wire.RegReading)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, got.Load())
	assert.True(t, srv.Streaming())
}

func TestStopStreamingJoinsLoop(t *testing.T) {
	m := transport.NewMedium()
	host := startBus(t, m, "host", nil)
	dev := startBus(t, m, "device", nil)

	th := &thermometer{}
	srv := NewServer(ServerConfig{Class: wire.ServiceClassThermometer, Serialize: th.serialize, StreamingInterval: 5 * time.Millisecond})
	_, err := dev.AddService(srv)
	require.NoError(t, err)
	got := readingCounter(host, dev.SelfID())

	var (
		mu     sync.Mutex
		events []string
	)
	srv.OnStreamingStart().Subscribe(func(n uint8) {
		mu.Lock()
		events = append(events, "start")
		mu.Unlock()
	})
	srv.OnStreamingStop().Subscribe(func(struct{}) {
		mu.Lock()
		events = append(events, "stop")
		mu.Unlock()
	})

	srv.SetStreaming(wire.StreamingContinuous)
	srv.SetStreaming(wire.StreamingContinuous)
	require.Eventually(t, func() bool { return got.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, wire.StreamingContinuous, srv.Remaining(), "continuous streaming never counts down")

	srv.StopStreaming()
	assert.False(t, srv.Streaming())
	mu.Lock()
	assert.Equal(t, []string{"start", "stop"}, events, "the loop has exited when StopStreaming returns")
	mu.Unlock()

	reads := th.reads.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, reads, th.reads.Load(), "no sample after stop")

	srv.StopStreaming()
	srv.SetStreaming(wire.StreamingContinuous)
	assert.True(t, srv.Streaming(), "a stopped server can start again")
}

func TestClientFollowsRole(t *testing.T) {
	m := transport.NewMedium()
	host := startBus(t, m, "host", nil)
	dev := startBus(t, m, "device", nil)

	th := &thermometer{}
	srv := NewServer(ServerConfig{Class: wire.ServiceClassThermometer, Serialize: th.serialize})
	_, err := dev.AddService(srv)
	require.NoError(t, err)

	roles, err := role.New(role.Config{
		Directory:      host.Directory(),
		SelfID:         host.SelfID(),
		AutoBindPeriod: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	roles.Start(context.Background())
	t.Cleanup(roles.Stop)

	c, err := NewClient(ClientConfig{Bus: host, Roles: roles, Role: "temperature", Decode: DecodeFixed(10)})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	ctx := testContext(t)
	require.ErrorIs(t, c.SetStreaming(ctx, true, 10*time.Millisecond), ErrUnbound)
	require.NoError(t, roles.AddRole("temperature", wire.ServiceClassThermometer))

	readings := make(chan Reading, 64)
	c.OnReading(func(r Reading) {
		select {
		case readings <- r:
		default:
		}
	})
	var changes atomic.Int32
	c.OnReadingChangedBy(3, func(float64) { changes.Add(1) })
	window, cancel := c.Buffer(4)
	defer cancel()

	require.Eventually(t, srv.Streaming, 2*time.Second, 5*time.Millisecond, "binding applies the remembered request")
	assert.Equal(t, 10*time.Millisecond, srv.Interval())

	select {
	case r := <-readings:
		assert.True(t, r.Valid)
		assert.Greater(t, r.Value, 20.0)
	case <-ctx.Done():
		t.Fatal("no reading")
	}
	require.Eventually(t, func() bool { return window.Samples() != nil }, time.Second, 5*time.Millisecond)

	srv.StopStreaming()
	require.Eventually(t, srv.Streaming, time.Second, 5*time.Millisecond, "the next announce resumes streaming")

	require.NoError(t, c.SetStreaming(ctx, false, 0))
	require.Eventually(t, func() bool { return !srv.Streaming() }, time.Second, 5*time.Millisecond)
	assert.Positive(t, changes.Load())

	r, err := c.Read(ctx)
	require.NoError(t, err)
	assert.True(t, r.Valid)
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.ErrorIs(t, err, ErrNoBus)

	m := transport.NewMedium()
	_, err = NewClient(ClientConfig{Bus: startBus(t, m, "host", nil)})
	assert.ErrorIs(t, err, ErrNoRoles)
}
