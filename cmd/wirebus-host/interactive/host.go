// Package interactive provides the interactive command-line interface
// for the wirebus host.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/directory"
	"github.com/wirebus/wirebus-go/pkg/event"
	"github.com/wirebus/wirebus-go/pkg/role"
	"github.com/wirebus/wirebus-go/pkg/sensor"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// commandTimeout bounds commands that wait for acknowledgements.
const commandTimeout = 3 * time.Second

var errUsage = errors.New("usage")

// Host handles interactive mode for wirebus-host.
type Host struct {
	bus   *bus.Bus
	roles *role.Manager

	outMu sync.Mutex
	out   io.Writer

	mu       sync.Mutex
	sensors  map[string]*sensor.Client
	watching bool
	cancels  []event.Cancel
}

// New creates a host console over a running bus and role manager. Output
// goes to stdout until Run switches it to the readline terminal.
func New(b *bus.Bus, m *role.Manager) *Host {
	h := &Host{
		bus:     b,
		roles:   m,
		out:     os.Stdout,
		sensors: make(map[string]*sensor.Client),
	}
	h.cancels = []event.Cancel{
		m.OnBound().Subscribe(func(bd role.Binding) { h.notify("bound %s", bd) }),
		m.OnUnbound().Subscribe(func(bd role.Binding) { h.notify("unbound %s", bd.Name) }),
		b.Directory().OnConnect().Subscribe(func(ev directory.DeviceEvent) { h.notify("device %s connected", ev.Device.ID.ShortID()) }),
		b.Directory().OnDisconnect().Subscribe(func(ev directory.DeviceEvent) { h.notify("device %s disconnected", ev.Device.ID.ShortID()) }),
	}
	return h
}

// SetOutput redirects command output.
func (h *Host) SetOutput(w io.Writer) {
	h.outMu.Lock()
	h.out = w
	h.outMu.Unlock()
}

// Close releases the sensor clients and subscriptions.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.sensors {
		c.Close()
	}
	clear(h.sensors)
	for _, cancel := range h.cancels {
		cancel()
	}
	h.cancels = nil
}

// Run starts the interactive command loop. It returns when the user quits
// or ctx is done, and calls cancel on quit.
func (h *Host) Run(ctx context.Context, cancel context.CancelFunc) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "wirebus> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	h.SetOutput(rl.Stdout())

	h.printHelp()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			h.printf("Exiting...\n")
			cancel()
			return nil
		}
		if !h.Execute(ctx, line) {
			cancel()
			return nil
		}
	}
}

// Execute runs one command line. It returns false when the user asked to
// quit.
func (h *Host) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		h.printHelp()
	case "devices", "ls":
		h.cmdDevices()
	case "roles":
		h.cmdRoles()
	case "add-role":
		err = h.cmdAddRole(args)
	case "remove-role":
		err = h.cmdRemoveRole(args)
	case "bind":
		err = h.cmdBind(args)
	case "clear":
		h.cmdClear(args)
	case "autobind":
		err = h.cmdAutoBind(args)
	case "stream":
		err = h.cmdStream(ctx, args)
	case "read", "r":
		err = h.cmdRead(ctx, args)
	case "watch":
		err = h.cmdWatch(args)
	case "remote":
		err = h.cmdRemote(ctx, args)
	case "identify":
		err = h.cmdIdentify(ctx, args)
	case "status":
		h.cmdStatus()
	case "quit", "exit", "q":
		return false
	default:
		h.printf("Unknown command: %s (type 'help')\n", cmd)
	}

	if errors.Is(err, errUsage) {
		h.printf("Usage: %s\n", usage[cmd])
	} else if err != nil {
		h.printf("Error: %v\n", err)
	}
	return true
}

var usage = map[string]string{
	"add-role":    "add-role <name> <class>",
	"remove-role": "remove-role <name>",
	"bind":        "bind <role> <device> <index>",
	"autobind":    "autobind [on|off]",
	"stream":      "stream <role> on [interval-ms] | stream <role> off",
	"read":        "read <role>",
	"r":           "read <role>",
	"watch":       "watch [on|off]",
	"remote":      "remote <device> roles|stored|clear|autobind on|off|set <role> <device> <index>",
	"identify":    "identify <device>",
}

func (h *Host) printHelp() {
	h.printf(`Commands:
  devices                         List devices on the bus
  roles                           List declared roles and bindings
  add-role <name> <class>         Declare a role (class name or number)
  remove-role <name>              Remove a role
  bind <role> <device> <index>    Bind a role to a service explicitly
  clear [role]                    Unbind one role or all roles
  autobind [on|off]               Show or switch automatic binding
  stream <role> on [ms] | off     Start or stop streaming of a sensor role
  read <role>                     Read a sensor role once
  watch [on|off]                  Print sensor readings as they arrive
  remote <device> <command>       Talk to another device's role manager
  identify <device>               Ask a device to identify itself
  status                          Show local status
  quit                            Exit
`)
}

func (h *Host) cmdDevices() {
	devices := h.bus.Directory().Devices()
	if len(devices) == 0 {
		h.printf("No devices.\n")
		return
	}
	for _, d := range devices {
		self := ""
		if d.ID == h.bus.SelfID() {
			self = " (self)"
		}
		h.printf("%s %s  %-12s announces=%d restarts=%d%s\n", d.ID.ShortID(), d.ID, d.State, d.Announces, d.Restarts, self)
		for i, class := range d.Services {
			if i == 0 {
				continue
			}
			suffix := ""
			if b, ok := h.roles.RoleAt(d.ID, uint8(i)); ok {
				suffix = "  <- " + b.Name
			}
			h.printf("    [%d] %s%s\n", i, wire.ServiceClassName(class), suffix)
		}
	}
}

func (h *Host) cmdRoles() {
	bindings := h.roles.Roles()
	if len(bindings) == 0 {
		h.printf("No roles declared.\n")
		return
	}
	for _, b := range bindings {
		h.printf("  %s\n", b)
	}
	h.printf("All bound: %v\n", h.roles.AllBound())
}

func (h *Host) cmdAddRole(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	class, err := ParseClass(args[1])
	if err != nil {
		return err
	}
	if err := h.roles.AddRole(args[0], class); err != nil {
		return err
	}
	h.printf("Role %s added.\n", args[0])
	return nil
}

func (h *Host) cmdRemoveRole(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	h.dropSensor(args[0])
	if !h.roles.RemoveRole(args[0]) {
		return fmt.Errorf("no role %q", args[0])
	}
	h.printf("Role %s removed.\n", args[0])
	return nil
}

func (h *Host) cmdBind(args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	device, index, err := h.parseSlot(args[1], args[2])
	if err != nil {
		return err
	}
	return h.roles.SetBinding(args[0], device, index)
}

func (h *Host) cmdClear(args []string) {
	if len(args) == 0 {
		h.roles.ClearAll()
		h.printf("All roles cleared.\n")
		return
	}
	for _, name := range args {
		h.roles.ClearRole(name)
	}
}

func (h *Host) cmdAutoBind(args []string) error {
	switch {
	case len(args) == 0:
		h.printf("Auto-bind: %s\n", onOff(h.roles.AutoBind()))
		return nil
	case len(args) == 1:
		on, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		h.roles.SetAutoBind(on)
		h.printf("Auto-bind %s.\n", onOff(on))
		return nil
	}
	return errUsage
}

func (h *Host) cmdStream(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	on, err := parseOnOff(args[1])
	if err != nil {
		return err
	}
	var interval time.Duration
	if len(args) == 3 {
		ms, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil || ms == 0 {
			return fmt.Errorf("invalid interval %q", args[2])
		}
		interval = time.Duration(ms) * time.Millisecond
	}

	c, err := h.sensor(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := c.SetStreaming(ctx, on, interval); err != nil {
		if errors.Is(err, sensor.ErrUnbound) {
			h.printf("Role %s is unbound; streaming starts when it binds.\n", args[0])
			return nil
		}
		return err
	}
	if on {
		h.watch(true)
	}
	h.printf("Streaming %s for %s.\n", onOff(on), args[0])
	return nil
}

func (h *Host) cmdRead(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	c, err := h.sensor(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	r, err := c.Read(ctx)
	if err != nil {
		return err
	}
	h.printf("%s = %s\n", args[0], formatReading(r))
	return nil
}

func (h *Host) cmdWatch(args []string) error {
	on := true
	if len(args) == 1 {
		var err error
		if on, err = parseOnOff(args[0]); err != nil {
			return err
		}
	} else if len(args) > 1 {
		return errUsage
	}
	h.watch(on)
	h.printf("Watching %s.\n", onOff(on))
	return nil
}

func (h *Host) cmdRemote(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	device, err := h.parseDevice(args[0])
	if err != nil {
		return err
	}
	index, ok := h.findService(device, wire.ServiceClassRoleManager)
	if !ok {
		return fmt.Errorf("device %s has no role manager", device.ShortID())
	}
	client := role.NewClient(h.bus, device, index)

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch strings.ToLower(args[1]) {
	case "roles", "stored":
		list := client.ListRequired
		if strings.ToLower(args[1]) == "stored" {
			list = client.ListStored
		}
		bindings, err := list(ctx)
		if err != nil {
			return err
		}
		for _, b := range bindings {
			h.printf("  %s\n", b)
		}
		if all, err := client.AllRolesAllocated(ctx); err == nil {
			h.printf("All bound: %v\n", all)
		}
	case "clear":
		return client.ClearAll(ctx)
	case "autobind":
		if len(args) != 3 {
			return errUsage
		}
		on, err := parseOnOff(args[2])
		if err != nil {
			return err
		}
		return client.SetAutoBind(ctx, on)
	case "set":
		if len(args) != 5 {
			return errUsage
		}
		target, index, err := h.parseSlot(args[3], args[4])
		if err != nil {
			return err
		}
		return client.SetRole(ctx, args[2], target, index)
	default:
		return errUsage
	}
	return nil
}

func (h *Host) cmdIdentify(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	device, err := h.parseDevice(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return bus.NewClient(h.bus, device, wire.ServiceIndexControl).SendCommand(ctx, wire.CmdControlIdentify, nil)
}

func (h *Host) cmdStatus() {
	h.printf("Device:    %s\n", h.bus.SelfID())
	h.printf("Connected: %v\n", h.bus.Connected())
	h.printf("Uptime:    %s\n", h.bus.Uptime().Round(time.Second))
	h.printf("Devices:   %d\n", h.bus.Directory().Len())
	h.printf("Roles:     %d (all bound: %v)\n", len(h.roles.Roles()), h.roles.AllBound())
	h.printf("Auto-bind: %s\n", onOff(h.roles.AutoBind()))
	if n := h.bus.Dropped(); n > 0 {
		h.printf("Dropped:   %d frames\n", n)
	}
}

// sensor returns the client following a declared role, creating it on
// first use.
func (h *Host) sensor(name string) (*sensor.Client, error) {
	b, ok := h.roles.Role(name)
	if !ok {
		return nil, fmt.Errorf("no role %q", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.sensors[name]; ok {
		return c, nil
	}
	c, err := sensor.NewClient(sensor.ClientConfig{
		Bus:    h.bus,
		Roles:  h.roles,
		Role:   name,
		Decode: DecoderFor(b.ServiceClass),
	})
	if err != nil {
		return nil, err
	}
	c.OnReading(func(r sensor.Reading) {
		h.mu.Lock()
		on := h.watching
		h.mu.Unlock()
		if on {
			h.printf("[%s] %s\n", name, formatReading(r))
		}
	})
	h.sensors[name] = c
	return c, nil
}

func (h *Host) dropSensor(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.sensors[name]; ok {
		c.Close()
		delete(h.sensors, name)
	}
}

func (h *Host) watch(on bool) {
	h.mu.Lock()
	h.watching = on
	h.mu.Unlock()
}

func (h *Host) notify(format string, args ...any) {
	h.printf("* "+format+"\n", args...)
}

func (h *Host) printf(format string, args ...any) {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	fmt.Fprintf(h.out, format, args...)
}

// parseDevice accepts a full device identifier, a unique prefix of one or
// a short name such as "AB12".
func (h *Host) parseDevice(s string) (wire.DeviceID, error) {
	if id, err := wire.ParseDeviceID(s); err == nil {
		return id, nil
	}
	var matches []wire.DeviceID
	for _, d := range h.bus.Directory().Devices() {
		if strings.HasPrefix(d.ID.String(), strings.ToLower(s)) || strings.EqualFold(d.ID.ShortID(), s) {
			matches = append(matches, d.ID)
		}
	}
	switch len(matches) {
	case 0:
		return wire.DeviceID{}, fmt.Errorf("unknown device %q", s)
	case 1:
		return matches[0], nil
	}
	return wire.DeviceID{}, fmt.Errorf("device prefix %q is ambiguous", s)
}

func (h *Host) parseSlot(device, index string) (wire.DeviceID, uint8, error) {
	id, err := h.parseDevice(device)
	if err != nil {
		return wire.DeviceID{}, 0, err
	}
	n, err := strconv.ParseUint(index, 10, 6)
	if err != nil {
		return wire.DeviceID{}, 0, fmt.Errorf("invalid service index %q", index)
	}
	return id, uint8(n), nil
}

func (h *Host) findService(device wire.DeviceID, class uint32) (uint8, bool) {
	d, ok := h.bus.Directory().Device(device)
	if !ok {
		return 0, false
	}
	i := slices.Index(d.Services, class)
	if i <= 0 {
		return 0, false
	}
	return uint8(i), true
}

// ParseClass resolves a service class name or number.
func ParseClass(s string) (uint32, error) {
	if class, ok := wire.ServiceClassByName(s); ok {
		return class, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown service class %q", s)
	}
	return uint32(v), nil
}

// DecoderFor returns the reading decoder of a service class.
func DecoderFor(class uint32) sensor.Decoder {
	switch class {
	case wire.ServiceClassThermometer, wire.ServiceClassHumidity:
		return sensor.DecodeFixed(10)
	case wire.ServiceClassButton:
		return sensor.DecodeU8
	}
	return sensor.DecodeFixed(0)
}

func formatReading(r sensor.Reading) string {
	if !r.Valid {
		return fmt.Sprintf("invalid (%x)", r.Raw)
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
