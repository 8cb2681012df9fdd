package role

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/wirebus/wirebus-go/pkg/directory"
	"github.com/wirebus/wirebus-go/pkg/event"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/persistence"
	"github.com/wirebus/wirebus-go/pkg/task"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// DefaultAutoBindPeriod is the interval of the automatic matching pass.
const DefaultAutoBindPeriod = time.Second

// Directory is the device source the manager binds against.
type Directory interface {
	Devices() []directory.DeviceInfo
	OnConnect() *event.Topic[directory.DeviceEvent]
	OnServicesChange() *event.Topic[directory.DeviceEvent]
	OnDisconnect() *event.Topic[directory.DeviceEvent]
}

var _ Directory = (*directory.Directory)(nil)

// Config configures a Manager.
type Config struct {
	// Directory supplies device snapshots and lifecycle events. Required.
	Directory Directory

	// Store persists the binding cache, one entry per role name with the
	// value "<hex device id>:<service index>". Nil keeps the cache in memory.
	Store persistence.Store

	// CachePrefix namespaces the cache entries when Store is shared with
	// other data. Empty keys entries by the bare role name.
	CachePrefix string

	// AutoBindPeriod is the interval of the matching pass started by Start.
	AutoBindPeriod time.Duration

	// DisableAutoBind turns the periodic matching pass off. Bind can still
	// be called directly and the cache is still honored.
	DisableAutoBind bool

	// SelfID is the local device. Its services are not bound unless
	// BindLocal is set.
	SelfID    wire.DeviceID
	BindLocal bool

	// Logger for operational messages. Nil disables logging.
	Logger *slog.Logger

	// ProtocolLogger receives role state changes. Nil disables capture.
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{AutoBindPeriod: DefaultAutoBindPeriod}
}

type entry struct {
	role  Role
	slot  slot
	bound bool
}

func (e *entry) binding() Binding {
	b := Binding{Role: e.role, Bound: e.bound}
	if e.bound {
		b.Device = e.slot.device
		b.ServiceIndex = e.slot.index
	}
	return b
}

// notes collects what a locked operation changed so that listeners run
// after the lock is released.
type notes struct {
	bound      []Binding
	unbound    []Binding
	reasons    []string
	changed    bool
	allocation *bool
}

// Manager owns the role table and the binding cache.
type Manager struct {
	config Config
	dir    Directory
	cache  persistence.Store
	logger *slog.Logger
	plog   log.Logger

	mu       sync.Mutex
	roles    map[string]*entry
	autoBind bool
	allBound bool

	bound      *event.Topic[Binding]
	unbound    *event.Topic[Binding]
	change     *event.Topic[[]Binding]
	allocation *event.Topic[bool]

	runMu   sync.Mutex
	run     *task.Task
	cancels []event.Cancel
}

// New creates a manager. Call Start to follow the directory.
func New(cfg Config) (*Manager, error) {
	if cfg.Directory == nil {
		return nil, ErrNoDirectory
	}
	if cfg.AutoBindPeriod <= 0 {
		cfg.AutoBindPeriod = DefaultAutoBindPeriod
	}
	store := cfg.Store
	if store == nil {
		store = persistence.NewMemoryStore()
	}
	if cfg.CachePrefix != "" {
		store = persistence.Prefixed(store, cfg.CachePrefix)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Manager{
		config:     cfg,
		dir:        cfg.Directory,
		cache:      store,
		logger:     logger,
		plog:       log.OrNoop(cfg.ProtocolLogger),
		roles:      make(map[string]*entry),
		autoBind:   !cfg.DisableAutoBind,
		allBound:   true,
		bound:      event.NewTopic[Binding](event.RoleBound),
		unbound:    event.NewTopic[Binding](event.RoleUnbound),
		change:     event.NewTopic[[]Binding](event.RolesChange),
		allocation: event.NewTopic[bool](event.RolesAllBound),
	}, nil
}

// OnBound fires for every new binding.
func (m *Manager) OnBound() *event.Topic[Binding] { return m.bound }

// OnUnbound fires with the previous binding when a role loses its service.
func (m *Manager) OnUnbound() *event.Topic[Binding] { return m.unbound }

// OnChange fires with the full table after any change to it.
func (m *Manager) OnChange() *event.Topic[[]Binding] { return m.change }

// OnAllBound fires true when the last unbound role gets bound and false
// when a role becomes unbound after that.
func (m *Manager) OnAllBound() *event.Topic[bool] { return m.allocation }

// Start subscribes to the directory, reclaims cached bindings and starts
// the periodic matching pass.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.run != nil {
		return
	}

	m.cancels = append(m.cancels,
		m.dir.OnConnect().Subscribe(m.deviceUp),
		m.dir.OnServicesChange().Subscribe(m.servicesChanged),
		m.dir.OnDisconnect().Subscribe(m.deviceDown),
	)
	m.Rebind()

	m.run = task.Go(ctx, func(ctx context.Context) error {
		return task.Every(ctx, m.config.AutoBindPeriod, func(context.Context) error {
			if m.AutoBind() && !m.AllBound() {
				m.Bind()
			}
			return nil
		})
	})
}

// Stop ends the matching pass and the directory subscriptions.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
	if m.run != nil {
		_ = m.run.Stop()
		m.run = nil
	}
}

// AutoBind reports whether the periodic matching pass is enabled.
func (m *Manager) AutoBind() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoBind
}

// SetAutoBind enables or disables the periodic matching pass.
func (m *Manager) SetAutoBind(on bool) {
	m.mu.Lock()
	m.autoBind = on
	m.mu.Unlock()
	m.logger.Debug("auto-bind", "enabled", on)
}

// AddRole declares a role, or changes the class of an existing one. A new
// role immediately reclaims its cached slot when that slot is available.
func (m *Manager) AddRole(name string, class uint32) error {
	if name == "" {
		return ErrEmptyName
	}
	devices := m.devices()

	var n notes
	m.mu.Lock()
	m.addLocked(Role{Name: name, ServiceClass: class}, devices, &n)
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
	return nil
}

// SetRoles replaces the role table. Roles missing from roles are removed;
// roles whose class is unchanged keep their binding.
func (m *Manager) SetRoles(roles []Role) error {
	for _, r := range roles {
		if r.Name == "" {
			return ErrEmptyName
		}
	}
	devices := m.devices()

	var n notes
	m.mu.Lock()
	keep := make(map[string]bool, len(roles))
	for _, r := range roles {
		keep[r.Name] = true
	}
	for _, name := range m.sortedNamesLocked() {
		if !keep[name] {
			m.removeLocked(name, &n)
		}
	}
	for _, r := range roles {
		m.addLocked(r, devices, &n)
	}
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
	return nil
}

// RemoveRole drops a role from the table. Its cache entry is kept.
func (m *Manager) RemoveRole(name string) bool {
	var n notes
	m.mu.Lock()
	ok := m.removeLocked(name, &n)
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
	return ok
}

// Roles returns every role sorted by name.
func (m *Manager) Roles() []Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Role returns the state of one role.
func (m *Manager) Role(name string) (Binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.roles[name]
	if !ok {
		return Binding{}, false
	}
	return e.binding(), true
}

// RoleAt returns the role bound to a slot.
func (m *Manager) RoleAt(device wire.DeviceID, index uint8) (Binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.occupantLocked(slot{device, index})
	if e == nil {
		return Binding{}, false
	}
	return e.binding(), true
}

// AllBound reports whether every declared role is bound. It is true when
// no role is declared.
func (m *Manager) AllBound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allBoundLocked()
}

// Bind runs one matching pass and returns the number of roles it bound.
// Unbound roles are visited in name order; each takes the first free slot
// of its class on the first device, in identifier order, that has one.
func (m *Manager) Bind() int {
	devices := m.devices()

	var n notes
	m.mu.Lock()
	used := m.usedLocked()
	for _, name := range m.sortedNamesLocked() {
		e := m.roles[name]
		if e.bound {
			continue
		}
		if s, ok := m.firstFree(e.role.ServiceClass, devices, used); ok {
			used[s] = true
			m.bindLocked(e, s, "auto-bind", &n)
		}
	}
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
	return len(n.bound)
}

// Rebind reclaims the cached slot of every unbound role.
func (m *Manager) Rebind() int {
	devices := m.devices()

	var n notes
	m.mu.Lock()
	for _, name := range m.sortedNamesLocked() {
		m.rebindLocked(m.roles[name], devices, &n)
	}
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
	return len(n.bound)
}

// SetBinding assigns a role to a slot directly, unbinding whatever role
// held that slot. The slot is not checked against the directory. For a
// role that is not declared only the cache is written, so the binding
// applies once the role is declared and the device is present.
func (m *Manager) SetBinding(name string, device wire.DeviceID, index uint8) error {
	if name == "" {
		return ErrEmptyName
	}
	if index == wire.ServiceIndexControl {
		return ErrInvalidSlot
	}
	s := slot{device, index}

	var n notes
	m.mu.Lock()
	e, declared := m.roles[name]
	if occupant := m.occupantLocked(s); occupant != nil && occupant != e {
		m.unbindLocked(occupant, "slot reassigned", &n)
		m.forget(occupant.role.Name)
	}
	if declared {
		if !e.bound || e.slot != s {
			m.unbindLocked(e, "slot reassigned", &n)
			m.bindLocked(e, s, "assigned", &n)
		}
	} else {
		m.store(name, s)
	}
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
	return nil
}

// ClearSlot unbinds the role holding a slot, if any, and forgets it.
func (m *Manager) ClearSlot(device wire.DeviceID, index uint8) bool {
	var n notes
	m.mu.Lock()
	e := m.occupantLocked(slot{device, index})
	if e != nil {
		m.unbindLocked(e, "slot cleared", &n)
		m.forget(e.role.Name)
	}
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
	return e != nil
}

// ClearRole unbinds a role and deletes its cache entry.
func (m *Manager) ClearRole(name string) {
	var n notes
	m.mu.Lock()
	if e, ok := m.roles[name]; ok {
		m.unbindLocked(e, "cleared", &n)
	}
	m.forget(name)
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
}

// ClearAll unbinds every role and wipes the cache.
func (m *Manager) ClearAll() {
	var n notes
	m.mu.Lock()
	for _, name := range m.sortedNamesLocked() {
		m.unbindLocked(m.roles[name], "cleared", &n)
	}
	for _, key := range m.cache.Keys() {
		m.forget(key)
	}
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
}

// Stored returns the cache entries sorted by role name. Malformed entries
// are skipped.
func (m *Manager) Stored() []Binding {
	var out []Binding
	for _, name := range m.cache.Keys() {
		v, _ := m.cache.Get(name)
		dev, idx, err := decodeCache(v)
		if err != nil {
			continue
		}
		b := Binding{Role: Role{Name: name}, Device: dev, ServiceIndex: idx, Bound: true}
		if r, ok := m.Role(name); ok {
			b.ServiceClass = r.ServiceClass
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b Binding) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (m *Manager) deviceUp(ev directory.DeviceEvent) {
	var n notes
	m.mu.Lock()
	for _, name := range m.sortedNamesLocked() {
		m.rebindLocked(m.roles[name], []directory.DeviceInfo{ev.Device}, &n)
	}
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
}

// servicesChanged unbinds roles whose slot no longer hosts their class.
func (m *Manager) servicesChanged(ev directory.DeviceEvent) {
	var n notes
	m.mu.Lock()
	for _, name := range m.sortedNamesLocked() {
		e := m.roles[name]
		if !e.bound || e.slot.device != ev.Device.ID {
			continue
		}
		if class, ok := ev.Device.ServiceClass(e.slot.index); !ok || class != e.role.ServiceClass {
			m.unbindLocked(e, "service changed", &n)
		}
	}
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
}

func (m *Manager) deviceDown(ev directory.DeviceEvent) {
	var n notes
	m.mu.Lock()
	for _, name := range m.sortedNamesLocked() {
		if e := m.roles[name]; e.bound && e.slot.device == ev.Device.ID {
			m.unbindLocked(e, "device disconnected", &n)
		}
	}
	m.finishLocked(&n)
	m.mu.Unlock()

	m.emit(&n)
}

func (m *Manager) devices() []directory.DeviceInfo {
	all := m.dir.Devices()
	out := all[:0]
	for _, d := range all {
		if m.eligible(d.ID) {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) eligible(id wire.DeviceID) bool {
	return m.config.BindLocal || m.config.SelfID.IsZero() || id != m.config.SelfID
}

func (m *Manager) addLocked(r Role, devices []directory.DeviceInfo, n *notes) {
	e, ok := m.roles[r.Name]
	switch {
	case !ok:
		e = &entry{role: r}
		m.roles[r.Name] = e
		n.changed = true
	case e.role.ServiceClass != r.ServiceClass:
		m.unbindLocked(e, "class changed", n)
		e.role = r
		n.changed = true
	default:
		return
	}
	m.rebindLocked(e, devices, n)
}

func (m *Manager) removeLocked(name string, n *notes) bool {
	e, ok := m.roles[name]
	if !ok {
		return false
	}
	m.unbindLocked(e, "removed", n)
	delete(m.roles, name)
	n.changed = true
	return true
}

// rebindLocked binds e to its cached slot when the cached device is among
// devices, the slot still hosts the role's class and no other role holds it.
func (m *Manager) rebindLocked(e *entry, devices []directory.DeviceInfo, n *notes) {
	if e.bound {
		return
	}
	v, ok := m.cache.Get(e.role.Name)
	if !ok {
		return
	}
	dev, idx, err := decodeCache(v)
	if err != nil {
		m.logger.Warn("ignoring role cache entry", "role", e.role.Name, "value", v, "error", err)
		return
	}
	for _, d := range devices {
		if d.ID != dev || !m.eligible(dev) {
			continue
		}
		class, ok := d.ServiceClass(idx)
		if !ok || class != e.role.ServiceClass {
			return
		}
		if m.occupantLocked(slot{dev, idx}) != nil {
			return
		}
		m.bindLocked(e, slot{dev, idx}, "cache", n)
		return
	}
}

func (m *Manager) firstFree(class uint32, devices []directory.DeviceInfo, used map[slot]bool) (slot, bool) {
	for _, d := range devices {
		for _, idx := range d.ServiceIndices(class) {
			s := slot{d.ID, idx}
			if !used[s] {
				return s, true
			}
		}
	}
	return slot{}, false
}

func (m *Manager) bindLocked(e *entry, s slot, reason string, n *notes) {
	e.slot = s
	e.bound = true
	n.bound = append(n.bound, e.binding())
	n.reasons = append(n.reasons, reason)
	n.changed = true
	m.store(e.role.Name, s)
}

func (m *Manager) unbindLocked(e *entry, reason string, n *notes) {
	if !e.bound {
		return
	}
	prev := e.binding()
	e.bound = false
	e.slot = slot{}
	n.unbound = append(n.unbound, prev)
	n.changed = true
	m.record(prev.Name, "BOUND", "UNBOUND", reason)
}

func (m *Manager) store(name string, s slot) {
	if err := m.cache.Set(name, encodeCache(s.device, s.index)); err != nil {
		m.logger.Warn("role cache write failed", "role", name, "error", err)
	}
}

func (m *Manager) forget(name string) {
	if err := m.cache.Delete(name); err != nil {
		m.logger.Warn("role cache delete failed", "role", name, "error", err)
	}
}

func (m *Manager) occupantLocked(s slot) *entry {
	for _, e := range m.roles {
		if e.bound && e.slot == s {
			return e
		}
	}
	return nil
}

func (m *Manager) usedLocked() map[slot]bool {
	used := make(map[slot]bool, len(m.roles))
	for _, e := range m.roles {
		if e.bound {
			used[e.slot] = true
		}
	}
	return used
}

func (m *Manager) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.roles))
	for name := range m.roles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Manager) snapshotLocked() []Binding {
	out := make([]Binding, 0, len(m.roles))
	for _, name := range m.sortedNamesLocked() {
		out = append(out, m.roles[name].binding())
	}
	return out
}

func (m *Manager) allBoundLocked() bool {
	for _, e := range m.roles {
		if !e.bound {
			return false
		}
	}
	return true
}

func (m *Manager) finishLocked(n *notes) {
	all := m.allBoundLocked()
	if all != m.allBound {
		m.allBound = all
		n.allocation = &all
	}
}

func (m *Manager) emit(n *notes) {
	for _, b := range n.unbound {
		m.logger.Info("role unbound", "role", b.Name, "device", b.Device.ShortID(), "index", b.ServiceIndex)
		m.unbound.Publish(b)
	}
	for i, b := range n.bound {
		m.logger.Info("role bound", "role", b.Name, "device", b.Device.ShortID(), "index", b.ServiceIndex, "via", n.reasons[i])
		m.record(b.Name, "UNBOUND", "BOUND", fmt.Sprintf("%s/%d %s", b.Device, b.ServiceIndex, n.reasons[i]))
		m.bound.Publish(b)
	}
	if n.changed {
		m.change.Publish(m.Roles())
	}
	if n.allocation != nil {
		m.allocation.Publish(*n.allocation)
	}
}

func (m *Manager) record(name, oldState, newState, reason string) {
	m.plog.Log(log.NewStateEvent(log.StateEntityRole, name, oldState, newState, reason))
}
