package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service type and domain.
const (
	// ServiceTypeHub is the DNS-SD service type of a bus hub.
	ServiceTypeHub = "_wirebus._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default hub port.
	DefaultPort = 8642

	// InstancePrefix starts every hub instance name.
	InstancePrefix = "wirebus-"
)

// TXT record keys.
const (
	TXTKeyVersion     = "v"
	TXTKeyHubID       = "id"
	TXTKeyConnections = "conn"
)

// Timing and limits.
const (
	// BrowseTimeout is the default timeout for FindHub.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the record TTL used when none is configured.
	DefaultTTL = 120 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Errors.
var (
	ErrInvalidTXTRecord = errors.New("invalid TXT record format")
	ErrMissingRequired  = errors.New("missing required field")
	ErrIncompatible     = errors.New("incompatible protocol version")
	ErrNotAdvertising   = errors.New("hub is not advertised")
	ErrNotFound         = errors.New("hub not found")
	ErrStopped          = errors.New("discovery stopped")
)

// HubInfo is what a hub publishes about itself.
type HubInfo struct {
	// Name is appended to InstancePrefix to form the instance name.
	Name string

	// ID identifies the hub process; it changes on every start.
	ID string

	// Version is the protocol version the hub relays.
	Version string

	// Port is the TCP port. Zero uses DefaultPort.
	Port uint16

	// Connections is the number of connected endpoints.
	Connections int
}

// InstanceName returns the DNS-SD instance name of the hub.
func (h *HubInfo) InstanceName() string {
	name := InstancePrefix + h.Name
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// HubService is a hub found on the network.
type HubService struct {
	HubInfo

	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// Host is the target host name.
	Host string

	// Addresses holds the resolved IPv4 and IPv6 addresses.
	Addresses []string
}

// Addr returns "host:port" for the first address, or for Host when no
// address was resolved.
func (s *HubService) Addr() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
