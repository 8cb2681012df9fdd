package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Browser finds hubs on the local network.
type Browser interface {
	// Browse reports hub changes until ctx is done. The channel is closed
	// when browsing ends.
	Browse(ctx context.Context) (<-chan HubEvent, error)

	// FindHub returns the first compatible hub whose name matches, or any
	// hub when name is empty.
	FindHub(ctx context.Context, name string) (*HubService, error)

	// Stop ends all running browse operations.
	Stop()
}

// HubEvent reports a hub that appeared, changed or disappeared.
type HubEvent struct {
	Hub     *HubService
	Removed bool
}

// BrowseFunc browses for a DNS-SD service type. It matches zeroconf.Browse.
type BrowseFunc func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindHub when ctx has no deadline.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface restricts browsing to one network interface.
	// Empty string means all interfaces.
	Interface string

	// Browse runs the query. Nil uses zeroconf.Browse.
	Browse BrowseFunc

	// Logger receives skipped-entry messages.
	Logger *slog.Logger
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{BrowseTimeout: BrowseTimeout}
}
