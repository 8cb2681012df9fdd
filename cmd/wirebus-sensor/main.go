// Command wirebus-sensor is a simulated sensor device. It attaches to a
// hub, announces one sensor service and streams its reading on request.
//
// Usage:
//
//	wirebus-sensor [flags]
//
// Flags:
//
//	-config string     Configuration file path
//	-hub string        Hub address (host:port)
//	-discover          Find the hub over mDNS
//	-hub-name string   Hub to select when discovering
//	-type string       Sensor type: thermometer, humidity, button (default "thermometer")
//	-seed string       Device identifier seed (default: host name)
//	-period duration   Simulation step (default 1s)
//	-capture string    Write bus traffic to a capture file
//	-log-level string  Log level: debug, info, warn, error
//	-version           Print the version and exit
//
// Examples:
//
//	# Attach a thermometer to a local hub
//	wirebus-sensor -hub localhost:8642 -seed kitchen
//
//	# Find the hub named "lab" and run a button
//	wirebus-sensor -discover -hub-name lab -type button -seed door
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wirebus/wirebus-go/internal/endpoint"
	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/config"
	"github.com/wirebus/wirebus-go/pkg/sensor"
	"github.com/wirebus/wirebus-go/pkg/task"
	"github.com/wirebus/wirebus-go/pkg/version"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

var (
	configFile  string
	hubAddr     string
	discover    bool
	hubName     string
	kind        string
	seed        string
	period      time.Duration
	captureFile string
	logLevel    string
	showVersion bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.StringVar(&hubAddr, "hub", "", "Hub address (host:port)")
	flag.BoolVar(&discover, "discover", false, "Find the hub over mDNS")
	flag.StringVar(&hubName, "hub-name", "", "Hub to select when discovering")
	flag.StringVar(&kind, "type", string(KindThermometer), "Sensor type: thermometer, humidity, button")
	flag.StringVar(&seed, "seed", "", "Device identifier seed (default: host name)")
	flag.DurationVar(&period, "period", time.Second, "Simulation step")
	flag.StringVar(&captureFile, "capture", "", "Write bus traffic to a capture file")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
}

func main() {
	flag.Parse()
	if showVersion {
		fmt.Println(version.Banner("wirebus-sensor"))
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	sim, err := newSimulator(SensorKind(kind))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	logger.Info(version.Banner("wirebus-sensor"), "type", kind, "id", cfg.SelfID().String())

	if err := run(cfg, sim, logger); err != nil {
		logger.Error("sensor failed", "error", err)
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
		cfg.Device.Description = "simulated " + kind
	}
	if cfg.Device.Firmware == "" {
		cfg.Device.Firmware = version.Build
	}
	if captureFile != "" {
		cfg.CaptureFile = captureFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate(true)
}

func run(cfg *config.Config, sim *simulator, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := sensor.NewServer(sensor.ServerConfig{
		Class:             sim.class,
		Serialize:         sim.Serialize,
		PreferredInterval: period,
	})
	srv.OnStreamingStart().Subscribe(func(samples uint8) {
		logger.Info("streaming started", "samples", samples, "interval", srv.Interval())
	})
	srv.OnStreamingStop().Subscribe(func(struct{}) {
		logger.Info("streaming stopped")
	})

	ep, err := endpoint.Open(ctx, cfg, endpoint.Options{
		Logger: logger,
		Setup: func(b *bus.Bus) error {
			index, err := b.AddService(srv)
			if err == nil {
				logger.Info("service added", "class", wire.ServiceClassName(sim.class), "index", index)
			}
			return err
		},
	})
	if err != nil {
		return err
	}
	defer ep.Close()
	logger.Info("attached", "hub", ep.Addr)

	sim.step()
	simulation := task.Go(ctx, func(ctx context.Context) error { return sim.run(ctx, period) })

	<-ctx.Done()
	logger.Info("shutting down", "last", sim.Value())
	srv.StopStreaming()
	_ = simulation.Stop()
	return nil
}
