package wirebus_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wirebus/wirebus-go/internal/endpoint"
	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/config"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/persistence"
	"github.com/wirebus/wirebus-go/pkg/role"
	"github.com/wirebus/wirebus-go/pkg/sensor"
	"github.com/wirebus/wirebus-go/pkg/transport"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

func startHub(t *testing.T, capture log.Logger) *transport.Hub {
	t.Helper()
	hub := transport.NewHub(transport.HubConfig{Address: "127.0.0.1:0", ProtocolLogger: capture})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { hub.Stop() })
	return hub
}

func endpointConfig(hub *transport.Hub, seed string) *config.Config {
	cfg := config.Default()
	cfg.Device.Seed = seed
	cfg.Transport.Address = hub.Addr().String()
	cfg.Liveness.AnnounceInterval = 20 * time.Millisecond
	return cfg
}

func openEndpoint(t *testing.T, cfg *config.Config, setup func(*bus.Bus) error) *endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.Open(context.Background(), cfg, endpoint.Options{Setup: setup})
	if err != nil {
		t.Fatalf("Failed to open endpoint %s: %v", cfg.Device.Seed, err)
	}
	t.Cleanup(func() { ep.Close() })
	return ep
}

// startSensor attaches a thermometer that reads 20 degrees plus the number
// of readings served so far.
func startSensor(t *testing.T, hub *transport.Hub, seed string) (*endpoint.Endpoint, *sensor.Server) {
	t.Helper()
	var n atomic.Int32
	srv := sensor.NewServer(sensor.ServerConfig{
		Class: wire.ServiceClassThermometer,
		Serialize: func() []byte {
			return sensor.EncodeFixed(20+float64(n.Add(1)), 10)
		},
	})
	ep := openEndpoint(t, endpointConfig(hub, seed), func(b *bus.Bus) error {
		_, err := b.AddService(srv)
		return err
	})
	return ep, srv
}

// startHost attaches a host with a role manager over store.
func startHost(t *testing.T, hub *transport.Hub, seed string, store persistence.Store, autoBind bool, roles ...role.Role) (*endpoint.Endpoint, *role.Manager) {
	t.Helper()
	var m *role.Manager
	ep := openEndpoint(t, endpointConfig(hub, seed), func(b *bus.Bus) error {
		cfg := role.DefaultConfig()
		cfg.Directory = b.Directory()
		cfg.Store = store
		cfg.SelfID = b.SelfID()
		cfg.AutoBindPeriod = 20 * time.Millisecond
		cfg.DisableAutoBind = !autoBind
		cfg.ProtocolLogger = b.ProtocolLogger()
		var err error
		if m, err = role.New(cfg); err != nil {
			return err
		}
		if err := m.SetRoles(roles); err != nil {
			return err
		}
		_, err = b.AddService(role.NewServer(m))
		return err
	})
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return ep, m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestE2E_BindAndStream attaches a sensor and a host to one hub, lets the
// host bind its role automatically and streams readings.
func TestE2E_BindAndStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	capture := log.NewMemoryLogger(0)
	hub := startHub(t, capture)
	sensorEP, srv := startSensor(t, hub, "kitchen")
	hostEP, roles := startHost(t, hub, "host", nil, true, role.Role{Name: "temp", ServiceClass: wire.ServiceClassThermometer})

	waitFor(t, "role binding", roles.AllBound)
	b, _ := roles.Role("temp")
	if b.Device != sensorEP.Bus.SelfID() || b.ServiceIndex != 1 {
		t.Fatalf("temp bound to %s, want %s/1", b, sensorEP.Bus.SelfID().ShortID())
	}

	client, err := sensor.NewClient(sensor.ClientConfig{
		Bus:    hostEP.Bus,
		Roles:  roles,
		Role:   "temp",
		Decode: sensor.DecodeFixed(10),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	r, err := client.Read(testContext(t))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !r.Valid || r.Value <= 20 {
		t.Errorf("reading = %+v, want a valid value above 20", r)
	}

	var readings atomic.Int32
	client.OnReading(func(sensor.Reading) { readings.Add(1) })
	if err := client.SetStreaming(testContext(t), true, 20*time.Millisecond); err != nil {
		t.Fatalf("SetStreaming failed: %v", err)
	}
	waitFor(t, "streamed readings", func() bool { return readings.Load() >= 5 })
	if !srv.Streaming() {
		t.Error("sensor should be streaming")
	}

	if err := client.SetStreaming(testContext(t), false, 0); err != nil {
		t.Fatalf("SetStreaming(off) failed: %v", err)
	}
	waitFor(t, "streaming to stop", func() bool { return !srv.Streaming() })

	if hub.Relayed() == 0 {
		t.Error("hub relayed no frames")
	}
	layer := log.LayerTransport
	if len(capture.Events(log.Filter{Layer: &layer})) == 0 {
		t.Error("hub captured no transport events")
	}
}

// TestE2E_RemoteRoleManager inspects and drives one host's role manager
// from another host.
func TestE2E_RemoteRoleManager(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	hub := startHub(t, nil)
	sensorEP, _ := startSensor(t, hub, "porch")
	hostEP, roles := startHost(t, hub, "host", nil, false,
		role.Role{Name: "outside", ServiceClass: wire.ServiceClassThermometer},
		role.Role{Name: "door", ServiceClass: wire.ServiceClassButton},
	)
	adminEP, _ := startHost(t, hub, "admin", nil, false)

	waitFor(t, "admin to see the host's role manager", func() bool {
		d, ok := adminEP.Bus.Directory().Device(hostEP.Bus.SelfID())
		return ok && len(d.ServiceIndices(wire.ServiceClassRoleManager)) == 1
	})
	d, _ := adminEP.Bus.Directory().Device(hostEP.Bus.SelfID())
	remote := role.NewClient(adminEP.Bus, hostEP.Bus.SelfID(), d.ServiceIndices(wire.ServiceClassRoleManager)[0])

	ctx := testContext(t)
	required, err := remote.ListRequired(ctx)
	if err != nil {
		t.Fatalf("ListRequired failed: %v", err)
	}
	if len(required) != 2 {
		t.Fatalf("got %d required roles, want 2", len(required))
	}
	for _, b := range required {
		if b.Bound {
			t.Errorf("%s should be unbound with auto-bind off", b)
		}
	}

	if err := remote.SetRole(ctx, "outside", sensorEP.Bus.SelfID(), 1); err != nil {
		t.Fatalf("SetRole failed: %v", err)
	}
	waitFor(t, "remote assignment", func() bool {
		b, _ := roles.Role("outside")
		return b.Bound && b.Device == sensorEP.Bus.SelfID()
	})

	all, err := remote.AllRolesAllocated(ctx)
	if err != nil {
		t.Fatalf("AllRolesAllocated failed: %v", err)
	}
	if all {
		t.Error("door is unbound, all roles cannot be allocated")
	}

	if err := remote.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	waitFor(t, "roles to clear", func() bool {
		b, _ := roles.Role("outside")
		return !b.Bound
	})
}

// TestE2E_BindingSurvivesRestart restarts a host on the same state file
// and checks that the cached binding is reclaimed without auto-binding,
// even though another matching sensor is present.
func TestE2E_BindingSurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	hub := startHub(t, nil)
	first, _ := startSensor(t, hub, "first")
	second, _ := startSensor(t, hub, "second")
	state := filepath.Join(t.TempDir(), "host.state")
	temp := role.Role{Name: "temp", ServiceClass: wire.ServiceClassThermometer}

	store, err := persistence.OpenFileStore(state)
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}
	hostEP, roles := startHost(t, hub, "host", store, false, temp)
	waitFor(t, "both sensors", func() bool { return hostEP.Bus.Directory().Len() >= 2 })
	if err := roles.SetBinding("temp", second.Bus.SelfID(), 1); err != nil {
		t.Fatalf("SetBinding failed: %v", err)
	}
	roles.Stop()
	hostEP.Close()

	reopened, err := persistence.OpenFileStore(state)
	if err != nil {
		t.Fatalf("reopen state failed: %v", err)
	}
	_, roles = startHost(t, hub, "host", reopened, false, temp)
	waitFor(t, "cached binding", func() bool {
		b, _ := roles.Role("temp")
		return b.Bound
	})
	b, _ := roles.Role("temp")
	if b.Device != second.Bus.SelfID() {
		t.Errorf("temp bound to %s, want the cached %s (not %s)", b.Device.ShortID(), second.Bus.SelfID().ShortID(), first.Bus.SelfID().ShortID())
	}
}
