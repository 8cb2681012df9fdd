package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

const sample = `
device:
  seed: kitchen-brain
  description: kitchen controller
  firmware: 1.4.2
transport:
  discover: true
  hub_name: lab
liveness:
  announce_interval: 250ms
  lost_after: 1s
  disconnect_after: 3s
  auto_bind_period: 2s
roles:
  - name: temperature
    class: thermometer
  - name: custom
    class: "0x12345678"
state_file: /var/lib/wirebus/roles.json
capture_file: /tmp/capture.cbor
log_level: debug
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wirebus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(true))

	assert.Equal(t, "kitchen-brain", cfg.Device.Seed)
	assert.True(t, cfg.Transport.Discover)
	assert.Equal(t, "lab", cfg.Transport.HubName)
	assert.Equal(t, 250*time.Millisecond, cfg.Liveness.AnnounceInterval)
	assert.Equal(t, 2*time.Second, cfg.Liveness.AutoBindPeriod)
	assert.Equal(t, "/var/lib/wirebus/roles.json", cfg.StateFile)
	assert.Equal(t, "/tmp/capture.cbor", cfg.CaptureFile)

	require.Len(t, cfg.Roles, 2)
	class, err := cfg.Roles[0].ServiceClass()
	require.NoError(t, err)
	assert.Equal(t, wire.ServiceClassThermometer, class)
	class, err = cfg.Roles[1].ServiceClass()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), class)
}

func TestLoadEmptyFileGivesDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.ErrorIs(t, cfg.Validate(true), ErrNoTransport)
	assert.NoError(t, cfg.Validate(false))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "transport:\n  adress: localhost:1\n"))
	assert.ErrorContains(t, err, "adress")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"negative", "transport: {address: h:1}\nliveness: {lost_after: -1s}", ErrBadTiming},
		{"disconnect before lost", "transport: {address: h:1}\nliveness: {lost_after: 3s, disconnect_after: 1s}", ErrBadTiming},
		{"empty role", "transport: {address: h:1}\nroles: [{class: button}]", ErrBadRole},
		{"unknown class", "transport: {address: h:1}\nroles: [{name: x, class: toaster}]", ErrBadRole},
		{"duplicate role", "transport: {address: h:1}\nroles: [{name: x, class: button}, {name: x, class: led}]", ErrDuplicateRole},
		{"log level", "transport: {address: h:1}\nlog_level: loud", ErrBadLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			assert.ErrorIs(t, cfg.Validate(true), tt.want)
		})
	}
}

func TestBusConfig(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	bc := cfg.BusConfig()
	assert.Equal(t, wire.DeviceIDFromSeed([]byte("kitchen-brain")), bc.SelfID)
	assert.Equal(t, "kitchen controller", bc.Description)
	assert.Equal(t, "1.4.2", bc.FirmwareVersion)
	assert.Equal(t, 250*time.Millisecond, bc.AnnounceInterval)
	assert.Equal(t, time.Second, bc.Directory.LostAfter)
	assert.Equal(t, 3*time.Second, bc.Directory.DisconnectAfter)

	defaults := Default().BusConfig()
	assert.Equal(t, bus.DefaultConfig().AnnounceInterval, defaults.AnnounceInterval)
	assert.False(t, defaults.SelfID.IsZero(), "the host name seeds the identifier")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}
