package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// MDNSAdvertiser implements the Advertiser interface using zeroconf.
type MDNSAdvertiser struct {
	config   AdvertiserConfig
	register RegisterFunc
	logger   *slog.Logger

	mu       sync.Mutex
	server   Server
	instance string
}

// NewMDNSAdvertiser creates a new mDNS advertiser.
func NewMDNSAdvertiser(config AdvertiserConfig) *MDNSAdvertiser {
	a := &MDNSAdvertiser{
		config:   config,
		register: config.Register,
		logger:   config.Logger,
	}
	if a.register == nil {
		a.register = zeroconfRegister
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	return a
}

// getInterfaces returns the network interfaces to use for advertising.
// Returns nil to use all interfaces.
func (a *MDNSAdvertiser) getInterfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		a.logger.Warn("advertise on all interfaces", "interface", a.config.Interface, "error", err)
		return nil
	}
	return []net.Interface{*iface}
}

// Advertise starts advertising the hub.
func (a *MDNSAdvertiser) Advertise(ctx context.Context, info *HubInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}
	ttl := a.config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts := []zeroconf.ServerOption{zeroconf.TTL(uint32(ttl.Seconds()))}

	instance := info.InstanceName()
	server, err := a.register(
		instance,
		ServiceTypeHub,
		Domain,
		port,
		TXTRecordsToStrings(EncodeHubTXT(info)),
		a.getInterfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register hub service: %w", err)
	}

	a.server = server
	a.instance = instance
	a.logger.Info("advertising hub", "instance", instance, "port", port)
	return nil
}

// Update replaces the TXT records of the running advertisement.
func (a *MDNSAdvertiser) Update(info *HubInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return ErrNotAdvertising
	}
	a.server.SetText(TXTRecordsToStrings(EncodeHubTXT(info)))
	return nil
}

// Stop withdraws the advertisement.
func (a *MDNSAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.logger.Info("stopped advertising hub", "instance", a.instance)
	}
	return nil
}

// MDNSBrowser implements the Browser interface using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	browse BrowseFunc
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	next    int
	stopped bool
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	b := &MDNSBrowser{
		config:  config,
		browse:  config.Browse,
		logger:  config.Logger,
		cancels: make(map[int]context.CancelFunc),
	}
	if b.browse == nil {
		b.browse = func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
			return zeroconf.Browse(ctx, service, domain, entries, removed, opts...)
		}
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

// Browse searches for hubs. Services are aggregated by instance name:
// addresses seen on several interfaces are combined into one hub, and a
// hub is reported removed once its last address is gone.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan HubEvent, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	id := b.next
	b.next++
	b.cancels[id] = cancel
	b.mu.Unlock()

	out := make(chan HubEvent)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.cancels, id)
			b.mu.Unlock()
			cancel()
			close(out)
		}()

		hubs := make(map[string]*HubService)
		emit := func(ev HubEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := b.entryToHub(entry)
				if svc == nil {
					continue
				}
				existing, found := hubs[svc.InstanceName]
				if !found {
					hubs[svc.InstanceName] = svc
					if !emit(HubEvent{Hub: svc.clone()}) {
						return
					}
					continue
				}
				before := len(existing.Addresses)
				existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				if existing.HubInfo != svc.HubInfo || len(existing.Addresses) != before {
					existing.HubInfo = svc.HubInfo
					if !emit(HubEvent{Hub: existing.clone()}) {
						return
					}
				}

			case entry, ok := <-removed:
				if !ok {
					removed = nil
					continue
				}
				existing, found := hubs[entry.Instance]
				if !found {
					continue
				}
				existing.Addresses = removeAddresses(existing.Addresses, entry)
				if len(existing.Addresses) == 0 || len(entry.AddrIPv4)+len(entry.AddrIPv6) == 0 {
					delete(hubs, entry.Instance)
					if !emit(HubEvent{Hub: existing.clone(), Removed: true}) {
						return
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := b.browse(ctx, ServiceTypeHub, Domain, entries, removed, b.browserOptions()...); err != nil && ctx.Err() == nil {
			b.logger.Warn("mdns browse failed", "error", err)
			cancel()
		}
	}()

	return out, nil
}

// FindHub returns the first compatible hub matching name, or any hub when
// name is empty.
func (b *MDNSBrowser) FindHub(ctx context.Context, name string) (*HubService, error) {
	if _, ok := ctx.Deadline(); !ok {
		timeout := b.config.BrowseTimeout
		if timeout <= 0 {
			timeout = BrowseTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("%w: %w", ErrNotFound, ctx.Err())
				}
				return nil, ErrNotFound
			}
			if ev.Removed {
				continue
			}
			if name == "" || ev.Hub.Name == name {
				return ev.Hub, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNotFound, ctx.Err())
		}
	}
}

// Stop ends all running browse operations. Later calls to Browse fail.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	for _, cancel := range b.cancels {
		cancel()
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToHub converts a zeroconf entry. Entries that are not compatible
// hubs return nil.
func (b *MDNSBrowser) entryToHub(entry *zeroconf.ServiceEntry) *HubService {
	info, err := DecodeHubTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		b.logger.Debug("skipping mdns entry", "instance", entry.Instance, "error", err)
		return nil
	}
	info.Name = strings.TrimPrefix(entry.Instance, InstancePrefix)
	info.Port = uint16(entry.Port)

	return &HubService{
		HubInfo:      *info,
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Addresses:    entryAddresses(entry),
	}
}

func (s *HubService) clone() *HubService {
	c := *s
	c.Addresses = slices.Clone(s.Addresses)
	return &c
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, add []string) []string {
	for _, addr := range add {
		if !slices.Contains(existing, addr) {
			existing = append(existing, addr)
		}
	}
	return existing
}

// removeAddresses removes the addresses of a zeroconf entry from the list.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	gone := entryAddresses(entry)
	return slices.DeleteFunc(addresses, func(addr string) bool {
		return slices.Contains(gone, addr)
	})
}

var (
	_ Advertiser = (*MDNSAdvertiser)(nil)
	_ Browser    = (*MDNSBrowser)(nil)
)
