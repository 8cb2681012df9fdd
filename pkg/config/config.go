// Package config loads the YAML configuration shared by the wirebus
// binaries. Command-line flags override file values after loading.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Validation errors.
var (
	ErrNoTransport   = errors.New("either transport.address or transport.discover is required")
	ErrBadTiming     = errors.New("invalid liveness timing")
	ErrBadRole       = errors.New("invalid role declaration")
	ErrDuplicateRole = errors.New("duplicate role name")
	ErrBadLogLevel   = errors.New("invalid log level")
)

// Config is the file format.
type Config struct {
	Device      Device    `yaml:"device"`
	Transport   Transport `yaml:"transport"`
	Liveness    Liveness  `yaml:"liveness"`
	Roles       []Role    `yaml:"roles"`
	StateFile   string    `yaml:"state_file"`
	CaptureFile string    `yaml:"capture_file"`
	LogLevel    string    `yaml:"log_level"`
}

// Device identifies the local endpoint.
type Device struct {
	// Seed derives the device identifier. Empty uses the host name.
	Seed        string `yaml:"seed"`
	Description string `yaml:"description"`
	Firmware    string `yaml:"firmware"`
}

// Transport selects how the endpoint reaches the bus.
type Transport struct {
	// Address of a hub (host:port). For the hub itself, the listen address.
	Address string `yaml:"address"`

	// Discover finds a hub over mDNS when Address is empty.
	Discover bool `yaml:"discover"`

	// HubName selects a hub by name when discovering, or names the
	// advertised hub.
	HubName string `yaml:"hub_name"`

	// Interface restricts mDNS to one network interface.
	Interface string `yaml:"interface"`
}

// Liveness holds announce and directory timing. Zero values keep the
// library defaults.
type Liveness struct {
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	LostAfter        time.Duration `yaml:"lost_after"`
	DisconnectAfter  time.Duration `yaml:"disconnect_after"`
	AutoBindPeriod   time.Duration `yaml:"auto_bind_period"`
}

// Role declares a role by name and service class. Class is a well-known
// class name such as "thermometer" or a number like "0x1421bac7".
type Role struct {
	Name  string `yaml:"name"`
	Class string `yaml:"class"`
}

// ServiceClass resolves Class.
func (r Role) ServiceClass() (uint32, error) {
	if class, ok := wire.ServiceClassByName(r.Class); ok {
		return class, nil
	}
	v, err := strconv.ParseUint(r.Class, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: role %q: unknown service class %q", ErrBadRole, r.Name, r.Class)
	}
	return uint32(v), nil
}

// Default returns a configuration with library defaults.
func Default() *Config {
	return &Config{LogLevel: "info"}
}

// Load reads a YAML file. Unknown keys are rejected and an empty file
// yields the defaults. Call Validate before use.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML bytes without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration of an endpoint that attaches to a
// hub. Hubs skip the transport check.
func (c *Config) Validate(needTransport bool) error {
	if needTransport && c.Transport.Address == "" && !c.Transport.Discover {
		return ErrNoTransport
	}

	l := c.Liveness
	if l.AnnounceInterval < 0 || l.LostAfter < 0 || l.DisconnectAfter < 0 || l.AutoBindPeriod < 0 {
		return fmt.Errorf("%w: negative duration", ErrBadTiming)
	}
	if l.LostAfter > 0 && l.DisconnectAfter > 0 && l.DisconnectAfter < l.LostAfter {
		return fmt.Errorf("%w: disconnect_after %s is shorter than lost_after %s", ErrBadTiming, l.DisconnectAfter, l.LostAfter)
	}

	seen := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		if r.Name == "" {
			return fmt.Errorf("%w: empty name", ErrBadRole)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateRole, r.Name)
		}
		seen[r.Name] = true
		if _, err := r.ServiceClass(); err != nil {
			return err
		}
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SelfID derives the device identifier from the seed, or from the host
// name when no seed is set.
func (c *Config) SelfID() wire.DeviceID {
	seed := c.Device.Seed
	if seed == "" {
		seed, _ = os.Hostname()
	}
	return wire.DeviceIDFromSeed([]byte(seed))
}

// BusConfig returns a bus configuration with the file's identity and
// timing applied on top of bus.DefaultConfig.
func (c *Config) BusConfig() bus.Config {
	cfg := bus.DefaultConfig()
	cfg.SelfID = c.SelfID()
	cfg.Description = c.Device.Description
	cfg.FirmwareVersion = c.Device.Firmware
	if c.Liveness.AnnounceInterval > 0 {
		cfg.AnnounceInterval = c.Liveness.AnnounceInterval
	}
	if c.Liveness.LostAfter > 0 {
		cfg.Directory.LostAfter = c.Liveness.LostAfter
	}
	if c.Liveness.DisconnectAfter > 0 {
		cfg.Directory.DisconnectAfter = c.Liveness.DisconnectAfter
	}
	return cfg
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrBadLogLevel, s)
}

// NewLogger returns a text logger on stderr at the configured level.
func (c *Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
