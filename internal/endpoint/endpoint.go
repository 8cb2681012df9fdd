// Package endpoint assembles a bus endpoint from a configuration file: the
// hub connection (direct or discovered over mDNS), the optional capture
// file and the bus itself. It is shared by the wirebus binaries.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/config"
	"github.com/wirebus/wirebus-go/pkg/discovery"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/transport"
)

// ErrNoHub is returned when neither an address nor discovery is configured.
var ErrNoHub = errors.New("no hub address")

// Options adjust Open.
type Options struct {
	// Logger for operational messages. Nil uses cfg.NewLogger.
	Logger *slog.Logger

	// Browser resolves hubs when discovery is enabled. Nil uses mDNS.
	Browser discovery.Browser

	// Setup is called after the bus is created and before it starts, so
	// services get their indices before the first announce.
	Setup func(b *bus.Bus) error
}

// Endpoint is a running bus attached to a hub.
type Endpoint struct {
	Bus    *bus.Bus
	Client *transport.Client
	Addr   string

	Logger  *slog.Logger
	Capture log.Logger

	capture *log.FileLogger
}

// Open resolves the hub, connects and starts the bus. The connection is
// retried in the background, so Open does not wait for the hub.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Endpoint, error) {
	logger := opts.Logger
	if logger == nil {
		logger = cfg.NewLogger()
	}

	addr := cfg.Transport.Address
	if addr == "" {
		if !cfg.Transport.Discover {
			return nil, ErrNoHub
		}
		browser := opts.Browser
		if browser == nil {
			bcfg := discovery.DefaultBrowserConfig()
			bcfg.Interface = cfg.Transport.Interface
			bcfg.Logger = logger
			browser = discovery.NewMDNSBrowser(bcfg)
		}
		hub, err := browser.FindHub(ctx, cfg.Transport.HubName)
		browser.Stop()
		if err != nil {
			return nil, fmt.Errorf("discover hub: %w", err)
		}
		addr = hub.Addr()
		logger.Info("hub discovered", "name", hub.Name, "addr", addr)
	}

	e := &Endpoint{Addr: addr, Logger: logger, Capture: log.NoopLogger{}}
	if cfg.CaptureFile != "" {
		fl, err := log.NewFileLogger(cfg.CaptureFile)
		if err != nil {
			return nil, fmt.Errorf("open capture: %w", err)
		}
		e.capture = fl
	}
	e.Capture = ProtocolLogger(ctx, logger, e.capture)

	e.Client = transport.NewClient(transport.ClientConfig{
		Address:        addr,
		Logger:         logger,
		ProtocolLogger: e.Capture,
		OnStateChange: func(old, new transport.ClientState) {
			logger.Info("hub link", "from", old.String(), "to", new.String())
		},
	})

	bcfg := cfg.BusConfig()
	bcfg.Transport = e.Client
	bcfg.Logger = logger
	bcfg.ProtocolLogger = e.Capture

	b, err := bus.New(bcfg)
	if err != nil {
		e.closeCapture()
		return nil, err
	}
	e.Bus = b

	if opts.Setup != nil {
		if err := opts.Setup(b); err != nil {
			e.closeCapture()
			return nil, err
		}
	}
	if err := e.Client.Start(ctx); err != nil {
		e.closeCapture()
		return nil, err
	}
	if err := b.Start(ctx); err != nil {
		e.Client.Close()
		e.closeCapture()
		return nil, err
	}
	return e, nil
}

// Close stops the bus, drops the hub link and flushes the capture file.
func (e *Endpoint) Close() error {
	return errors.Join(e.Bus.Stop(), e.Client.Close(), e.closeCapture())
}

// ProtocolLogger traces bus events to the console at debug level and to the
// capture file when one is open.
func ProtocolLogger(ctx context.Context, logger *slog.Logger, capture *log.FileLogger) log.Logger {
	var sinks []log.Logger
	if capture != nil {
		sinks = append(sinks, capture)
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		sinks = append(sinks, log.NewSlogAdapter(logger))
	}
	switch len(sinks) {
	case 0:
		return log.NoopLogger{}
	case 1:
		return sinks[0]
	}
	return log.NewMultiLogger(sinks...)
}

func (e *Endpoint) closeCapture() error {
	if e.capture == nil {
		return nil
	}
	err := e.capture.Close()
	e.capture = nil
	return err
}
