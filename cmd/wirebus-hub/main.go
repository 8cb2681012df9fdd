// Command wirebus-hub runs the TCP relay that stands in for the shared
// wire. Every frame a participant sends is forwarded to all others. The
// hub advertises itself over mDNS so endpoints can find it with
// transport.discover.
//
// Usage:
//
//	wirebus-hub [flags]
//
// Flags:
//
//	-config string     Configuration file path
//	-listen string     Listen address (default ":8642")
//	-name string       Advertised hub name (default: host name)
//	-no-mdns           Do not advertise over mDNS
//	-interface string  Restrict mDNS to one network interface
//	-capture string    Write relayed frames to a capture file
//	-log-level string  Log level: debug, info, warn, error
//	-version           Print the version and exit
//
// Examples:
//
//	# Start a hub on the default port
//	wirebus-hub
//
//	# Start a named hub and capture all traffic
//	wirebus-hub -name lab -capture lab.wlog
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"

	"github.com/wirebus/wirebus-go/internal/endpoint"
	"github.com/wirebus/wirebus-go/pkg/config"
	"github.com/wirebus/wirebus-go/pkg/discovery"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/transport"
	"github.com/wirebus/wirebus-go/pkg/version"
)

var (
	configFile  string
	listen      string
	hubName     string
	noMDNS      bool
	iface       string
	captureFile string
	logLevel    string
	showVersion bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "Configuration file path")
	flag.StringVar(&listen, "listen", "", "Listen address (default \""+transport.DefaultHubAddress+"\")")
	flag.StringVar(&hubName, "name", "", "Advertised hub name (default: host name)")
	flag.BoolVar(&noMDNS, "no-mdns", false, "Do not advertise over mDNS")
	flag.StringVar(&iface, "interface", "", "Restrict mDNS to one network interface")
	flag.StringVar(&captureFile, "capture", "", "Write relayed frames to a capture file")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Print the version and exit")
}

func main() {
	flag.Parse()
	if showVersion {
		fmt.Println(version.Banner("wirebus-hub"))
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	logger.Info(version.Banner("wirebus-hub"))

	if err := run(cfg, logger); err != nil {
		logger.Error("hub failed", "error", err)
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
	if listen != "" {
		cfg.Transport.Address = listen
	}
	if hubName != "" {
		cfg.Transport.HubName = hubName
	}
	if iface != "" {
		cfg.Transport.Interface = iface
	}
	if captureFile != "" {
		cfg.CaptureFile = captureFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfg.Transport.HubName == "" {
		cfg.Transport.HubName, _ = os.Hostname()
	}
	return cfg, cfg.Validate(false)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var fl *log.FileLogger
	if cfg.CaptureFile != "" {
		var err error
		if fl, err = log.NewFileLogger(cfg.CaptureFile); err != nil {
			return fmt.Errorf("open capture: %w", err)
		}
		defer fl.Close()
		logger.Info("capturing", "file", cfg.CaptureFile)
	}
	capture := endpoint.ProtocolLogger(ctx, logger, fl)

	info := &discovery.HubInfo{
		Name:    cfg.Transport.HubName,
		ID:      uuid.New().String(),
		Version: version.Current,
	}
	var adv atomic.Pointer[discovery.MDNSAdvertiser]

	var hub *transport.Hub
	update := func(*transport.HubConn) {
		a := adv.Load()
		if a == nil {
			return
		}
		next := *info
		next.Connections = hub.ConnectionCount()
		if err := a.Update(&next); err != nil {
			logger.Debug("advertisement update failed", "error", err)
		}
	}
	hub = transport.NewHub(transport.HubConfig{
		Address:        cfg.Transport.Address,
		Logger:         logger,
		ProtocolLogger: capture,
		OnConnect: func(c *transport.HubConn) {
			logger.Info("participant joined", "conn", c.ConnID(), "remote", c.RemoteAddr())
			update(c)
		},
		OnDisconnect: func(c *transport.HubConn) {
			logger.Info("participant left", "conn", c.ConnID())
			update(c)
		},
	})
	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer hub.Stop()

	if !noMDNS {
		if tcp, ok := hub.Addr().(*net.TCPAddr); ok {
			info.Port = uint16(tcp.Port)
		}
		acfg := discovery.DefaultAdvertiserConfig()
		acfg.Interface = cfg.Transport.Interface
		acfg.Logger = logger
		mdns := discovery.NewMDNSAdvertiser(acfg)
		if err := mdns.Advertise(ctx, info); err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			adv.Store(mdns)
			defer mdns.Stop()
		}
	}

	<-ctx.Done()
	logger.Info("shutting down", "relayed", hub.Relayed())
	return nil
}
