// Command wirebus-host is the application side of a wirebus. It attaches
// to a hub, follows the device directory, binds the configured roles to
// devices and serves its role manager so other hosts can inspect it.
//
// Usage:
//
//	wirebus-host [flags]
//
// Flags:
//
//	-config string     Configuration file path
//	-hub string        Hub address (host:port)
//	-discover          Find the hub over mDNS
//	-hub-name string   Hub to select when discovering
//	-seed string       Device identifier seed (default: host name)
//	-role value        Declare a role as name=class (repeatable)
//	-state string      Persist role bindings in this file
//	-capture string    Write bus traffic to a capture file
//	-log-level string  Log level: debug, info, warn, error
//	-interactive       Start the interactive console (default true)
//	-version           Print the version and exit
//
// Examples:
//
//	# Bind a thermometer role on a local hub
//	wirebus-host -hub localhost:8642 -role temp=thermometer
//
//	# Run headless with roles and state from a file
//	wirebus-host -config host.yaml -interactive=false
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/wirebus/wirebus-go/cmd/wirebus-host/interactive"
	"github.com/wirebus/wirebus-go/internal/endpoint"
	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/config"
	"github.com/wirebus/wirebus-go/pkg/persistence"
	"github.com/wirebus/wirebus-go/pkg/role"
	"github.com/wirebus/wirebus-go/pkg/version"
)

// roleFlags collects repeated -role name=class flags.
type roleFlags []config.Role

func (r *roleFlags) String() string {
	parts := make([]string, len(*r))
	for i, role := range *r {
		parts[i] = role.Name + "=" + role.Class
	}
	return strings.Join(parts, ",")
}

func (r *roleFlags) Set(v string) error {
	name, class, ok := strings.Cut(v, "=")
	if !ok || name == "" || class == "" {
		return fmt.Errorf("expected name=class, got %q", v)
	}
	*r = append(*r, config.Role{Name: name, Class: class})
	return nil
}

var (
	configFile  string
	hubAddr     string
	discover    bool
	hubName     string
	seed        string
	roles       roleFlags
	stateFile   string
	captureFile string
	logLevel    string
	interact    bool
	showVersion bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.StringVar(&hubAddr, "hub", "", "Hub address (host:port)")
	flag.BoolVar(&discover, "discover", false, "Find the hub over mDNS")
	flag.StringVar(&hubName, "hub-name", "", "Hub to select when discovering")
	flag.StringVar(&seed, "seed", "", "Device identifier seed (default: host name)")
	flag.Var(&roles, "role", "Declare a role as name=class (repeatable)")
	flag.StringVar(&stateFile, "state", "", "Persist role bindings in this file")
	flag.StringVar(&captureFile, "capture", "", "Write bus traffic to a capture file")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&interact, "interactive", true, "Start the interactive console")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
}

func main() {
	flag.Parse()
	if showVersion {
		fmt.Println(version.Banner("wirebus-host"))
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	logger.Info(version.Banner("wirebus-host"), "id", cfg.SelfID().String())

	if err := run(cfg, logger); err != nil {
		logger.Error("host failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}
	if hubAddr != "" {
		cfg.Transport.Address = hubAddr
	}
	if discover {
		cfg.Transport.Discover = true
	}
	if hubName != "" {
		cfg.Transport.HubName = hubName
	}
	if seed != "" {
		cfg.Device.Seed = seed
	}
	if cfg.Device.Description == "" {
		cfg.Device.Description = "wirebus host"
	}
	if cfg.Device.Firmware == "" {
		cfg.Device.Firmware = version.Build
	}
	cfg.Roles = append(cfg.Roles, roles...)
	if stateFile != "" {
		cfg.StateFile = stateFile
	}
	if captureFile != "" {
		cfg.CaptureFile = captureFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate(true)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	declared, err := declaredRoles(cfg)
	if err != nil {
		return err
	}

	var store persistence.Store
	if cfg.StateFile != "" {
		fs, err := openStateFile(cfg.StateFile, logger)
		if err != nil {
			return err
		}
		store = fs
	}

	var manager *role.Manager
	ep, err := endpoint.Open(ctx, cfg, endpoint.Options{
		Logger: logger,
		Setup: func(b *bus.Bus) error {
			mcfg := role.DefaultConfig()
			mcfg.Directory = b.Directory()
			mcfg.Store = store
			mcfg.SelfID = b.SelfID()
			mcfg.Logger = logger
			mcfg.ProtocolLogger = b.ProtocolLogger()
			if cfg.Liveness.AutoBindPeriod > 0 {
				mcfg.AutoBindPeriod = cfg.Liveness.AutoBindPeriod
			}
			var err error
			if manager, err = role.New(mcfg); err != nil {
				return err
			}
			if err := manager.SetRoles(declared); err != nil {
				return err
			}
			_, err = b.AddService(role.NewServer(manager))
			return err
		},
	})
	if err != nil {
		return err
	}
	defer ep.Close()

	manager.Start(ctx)
	defer manager.Stop()
	logger.Info("attached", "hub", ep.Addr, "roles", len(declared))

	host := interactive.New(ep.Bus, manager)
	defer host.Close()

	if interact {
		if err := host.Run(ctx, cancel); err != nil {
			return err
		}
	}
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// openStateFile opens the role cache. A corrupt file starts an empty cache
// that overwrites it on the next binding.
func openStateFile(path string, logger *slog.Logger) (*persistence.FileStore, error) {
	fs, err := persistence.OpenFileStore(path)
	switch {
	case errors.Is(err, persistence.ErrCorruptState):
		logger.Warn("ignoring corrupt role cache", "file", path, "error", err)
	case err != nil:
		return nil, fmt.Errorf("open state file: %w", err)
	}
	logger.Info("role cache", "file", fs.Path(), "entries", len(fs.Keys()))
	return fs, nil
}

func declaredRoles(cfg *config.Config) ([]role.Role, error) {
	out := make([]role.Role, 0, len(cfg.Roles))
	for _, r := range cfg.Roles {
		class, err := r.ServiceClass()
		if err != nil {
			return nil, err
		}
		out = append(out, role.Role{Name: r.Name, ServiceClass: class})
	}
	return out, nil
}
