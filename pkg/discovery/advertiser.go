package discovery

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser publishes a hub on the local network.
type Advertiser interface {
	// Advertise starts advertising the hub, replacing a previous
	// advertisement.
	Advertise(ctx context.Context, info *HubInfo) error

	// Update replaces the TXT records of the running advertisement.
	Update(info *HubInfo) error

	// Stop withdraws the advertisement.
	Stop() error
}

// Server is a running mDNS registration.
type Server interface {
	SetText(text []string)
	Shutdown()
}

// RegisterFunc registers a DNS-SD service. It matches zeroconf.Register
// apart from the concrete server type.
type RegisterFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface, opts ...zeroconf.ServerOption) (Server, error)

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface.
	// Empty string means all interfaces.
	Interface string

	// TTL is the record TTL. Zero uses DefaultTTL.
	TTL time.Duration

	// Register creates registrations. Nil uses zeroconf.Register.
	Register RegisterFunc

	// Logger receives advertisement lifecycle messages.
	Logger *slog.Logger
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{TTL: DefaultTTL}
}

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface, opts ...zeroconf.ServerOption) (Server, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces, opts...)
}
