package bus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wirebus/wirebus-go/pkg/directory"
	"github.com/wirebus/wirebus-go/pkg/event"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/task"
	"github.com/wirebus/wirebus-go/pkg/transport"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Bus errors.
var (
	// ErrNoAck indicates a command was not acknowledged after all retries.
	ErrNoAck = errors.New("no acknowledgment")

	// ErrNoTransport indicates a Config without a Transport.
	ErrNoTransport = errors.New("transport is required")

	// ErrNoSelfID indicates a Config without a device identifier.
	ErrNoSelfID = errors.New("self device identifier is required")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("bus already started")

	// ErrNotAttached indicates a service that is not hosted by a bus.
	ErrNotAttached = errors.New("service not attached to a bus")

	// ErrNoServiceSlot indicates every service index is taken.
	ErrNoServiceSlot = errors.New("no free service index")
)

// Timing defaults.
const (
	DefaultAnnounceInterval = 500 * time.Millisecond
	DefaultSweepInterval    = 100 * time.Millisecond
	DefaultAckFirstDelay    = 40 * time.Millisecond
	DefaultAckRetryMin      = 90 * time.Millisecond
	DefaultAckRetryMax      = 120 * time.Millisecond
	DefaultAckRetries       = 4
	DefaultInboxSize        = 64
)

// Clock is the monotonic time source used for liveness and uptime.
type Clock = directory.Clock

// PacketHandler receives a decoded packet on the receive goroutine.
type PacketHandler func(pkt *wire.Packet)

// Config configures a Bus.
type Config struct {
	// SelfID identifies the local device.
	SelfID wire.DeviceID

	// Transport attaches the endpoint to the bus.
	Transport transport.Transport

	// Directory configures device liveness. Its Clock defaults to Clock.
	Directory directory.Config

	// Clock supplies timestamps (default: wall clock).
	Clock Clock

	// AnnounceInterval is the self-announce period. Negative disables
	// announcing, which turns the endpoint into a passive sniffer.
	AnnounceInterval time.Duration

	// SweepInterval is how often the directory is aged.
	SweepInterval time.Duration

	// Ack retransmission schedule: the first retry waits AckFirstDelay,
	// later ones a random delay in [AckRetryMin, AckRetryMax].
	AckFirstDelay time.Duration
	AckRetryMin   time.Duration
	AckRetryMax   time.Duration
	AckRetries    int

	// Description and FirmwareVersion are served by the control service.
	Description     string
	FirmwareVersion string

	// OnReset is called when a reset command reaches the control service.
	OnReset func()

	// Logger for operational messages. Nil discards them.
	Logger *slog.Logger

	// ProtocolLogger captures decoded packets (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default timing configuration.
func DefaultConfig() Config {
	return Config{
		Directory:        directory.DefaultConfig(),
		Clock:            directory.SystemClock{},
		AnnounceInterval: DefaultAnnounceInterval,
		SweepInterval:    DefaultSweepInterval,
		AckFirstDelay:    DefaultAckFirstDelay,
		AckRetryMin:      DefaultAckRetryMin,
		AckRetryMax:      DefaultAckRetryMax,
		AckRetries:       DefaultAckRetries,
	}
}

type ackKey struct {
	device wire.DeviceID
	crc    uint16
}

// Bus is one endpoint on a wirebus.
type Bus struct {
	config Config
	logger *slog.Logger
	plog   log.Logger
	dir    *directory.Directory

	startedAt time.Time
	control   *Server

	mu       sync.RWMutex
	services []Service
	ports    map[uint16]PacketHandler
	acks     map[ackKey][]chan struct{}
	restarts uint8

	packets  *event.Topic[*wire.Packet]
	identify *event.Topic[wire.DeviceID]

	inbox   chan []byte
	dropped atomic.Uint64
	running atomic.Bool
	group   *task.Group
}

// New creates a Bus. Zero fields in cfg take the values of DefaultConfig.
func New(cfg Config) (*Bus, error) {
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}
	if cfg.SelfID.IsZero() {
		return nil, ErrNoSelfID
	}

	def := DefaultConfig()
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = def.AnnounceInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.AckFirstDelay <= 0 {
		cfg.AckFirstDelay = def.AckFirstDelay
	}
	if cfg.AckRetryMin <= 0 {
		cfg.AckRetryMin = def.AckRetryMin
	}
	if cfg.AckRetryMax < cfg.AckRetryMin {
		cfg.AckRetryMax = max(def.AckRetryMax, cfg.AckRetryMin)
	}
	if cfg.AckRetries <= 0 {
		cfg.AckRetries = def.AckRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("device", cfg.SelfID.ShortID())
	plog := log.WithLocal(cfg.ProtocolLogger, cfg.SelfID.String(), "")

	dcfg := cfg.Directory
	if dcfg.Clock == nil {
		dcfg.Clock = cfg.Clock
	}
	if dcfg.Logger == nil {
		dcfg.Logger = logger
	}
	if dcfg.ProtocolLogger == nil {
		dcfg.ProtocolLogger = plog
	}

	b := &Bus{
		config:    cfg,
		logger:    logger,
		plog:      plog,
		dir:       directory.New(dcfg),
		startedAt: cfg.Clock.Now(),
		ports:     make(map[uint16]PacketHandler),
		acks:      make(map[ackKey][]chan struct{}),
		restarts:  1,
		packets:   event.NewTopic[*wire.Packet](event.PacketReceive),
		identify:  event.NewTopic[wire.DeviceID](event.Identify),
		inbox:     make(chan []byte, DefaultInboxSize),
	}
	b.control = newControlServer(b)
	b.control.Attach(b, wire.ServiceIndexControl)
	b.services = []Service{b.control}
	return b, nil
}

// SelfID returns the local device identifier.
func (b *Bus) SelfID() wire.DeviceID { return b.config.SelfID }

// Directory returns the device directory fed by this endpoint.
func (b *Bus) Directory() *directory.Directory { return b.dir }

// Clock returns the endpoint's time source.
func (b *Bus) Clock() Clock { return b.config.Clock }

// Logger returns the operational logger.
func (b *Bus) Logger() *slog.Logger { return b.logger }

// ProtocolLogger returns the capture logger stamped with the local device.
func (b *Bus) ProtocolLogger() log.Logger { return b.plog }

// Control returns the control service hosted at index 0.
func (b *Bus) Control() *Server { return b.control }

// Connected reports whether the transport can currently send.
func (b *Bus) Connected() bool {
	return b.config.Transport.Connected()
}

// Uptime returns the time since the bus was created.
func (b *Bus) Uptime() time.Duration {
	return b.config.Clock.Now().Sub(b.startedAt)
}

// OnPacket fires for every decoded packet, before it is dispatched.
func (b *Bus) OnPacket() *event.Topic[*wire.Packet] { return b.packets }

// OnIdentify fires when the local device receives an identify command.
func (b *Bus) OnIdentify() *event.Topic[wire.DeviceID] { return b.identify }

// Dropped returns the number of inbound frames discarded because the
// receive queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// AddService hosts svc at the next free service index and returns it.
func (b *Bus) AddService(svc Service) (uint8, error) {
	b.mu.Lock()
	idx := len(b.services)
	if idx > int(wire.ServiceIndexMaxNormal) {
		b.mu.Unlock()
		return 0, ErrNoServiceSlot
	}
	b.services = append(b.services, svc)
	b.mu.Unlock()

	svc.Attach(b, uint8(idx))
	b.logger.Debug("service added", "index", idx, "class", wire.ServiceClassName(svc.ServiceClass()))
	return uint8(idx), nil
}

// ServiceClasses returns the classes of the hosted services by index.
func (b *Bus) ServiceClasses() []uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]uint32, len(b.services))
	for i, svc := range b.services {
		out[i] = svc.ServiceClass()
	}
	return out
}

// Service returns the service hosted at index.
func (b *Bus) Service(index uint8) (Service, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(index) >= len(b.services) {
		return nil, false
	}
	return b.services[index], true
}

// RegisterPort routes pipe packets for port to h. It reports false if the
// port is already taken or out of range.
func (b *Bus) RegisterPort(port uint16, h PacketHandler) bool {
	if port == 0 || port > wire.PipeMaxPort {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.ports[port]; taken {
		return false
	}
	b.ports[port] = h
	return true
}

// UnregisterPort releases a pipe port.
func (b *Bus) UnregisterPort(port uint16) {
	b.mu.Lock()
	delete(b.ports, port)
	b.mu.Unlock()
}

// PortInUse reports whether a pipe port is registered.
func (b *Bus) PortInUse(port uint16) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ports[port]
	return ok
}

// Context returns the context of the running bus. Handlers use it for
// replies. Before Start it is context.Background.
func (b *Bus) Context() context.Context {
	b.mu.RLock()
	g := b.group
	b.mu.RUnlock()
	if g == nil {
		return context.Background()
	}
	return g.Context()
}

// Start installs the receiver and launches the receive, announce and sweep
// loops. They run until Stop or until ctx is done.
func (b *Bus) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	g := task.NewGroup(ctx)
	b.mu.Lock()
	b.group = g
	b.mu.Unlock()

	b.config.Transport.SetReceiver(b.receive)
	g.Go(b.receiveLoop)
	if b.config.AnnounceInterval > 0 {
		g.Go(b.announceLoop)
	}
	g.Go(func(ctx context.Context) error {
		return task.Every(ctx, b.config.SweepInterval, func(context.Context) error {
			b.dir.Sweep()
			return nil
		})
	})

	b.logger.Info("bus started", "id", b.config.SelfID.String())
	return nil
}

// Stop halts the loops and detaches the receiver. The transport is left open.
func (b *Bus) Stop() error {
	if !b.running.CompareAndSwap(true, false) {
		return nil
	}
	b.config.Transport.SetReceiver(nil)

	b.mu.RLock()
	g := b.group
	b.mu.RUnlock()
	err := g.Stop()

	b.logger.Info("bus stopped")
	return err
}

// Send transmits pkt as a single-packet frame.
func (b *Bus) Send(ctx context.Context, pkt *wire.Packet) error {
	frame, err := pkt.Encode()
	if err != nil {
		return err
	}
	return b.sendFrame(ctx, frame, pkt)
}

// SendWithAck transmits a command with the ack-requested flag and waits for
// the destination's CRC-ack, retransmitting on the configured schedule.
// It must not be called from a packet handler.
func (b *Bus) SendWithAck(ctx context.Context, pkt *wire.Packet) error {
	if !pkt.IsCommand() {
		return fmt.Errorf("ack requested for a report: %s", pkt)
	}
	p := *pkt
	p.Flags |= wire.FlagAckRequested
	frame, err := p.Encode()
	if err != nil {
		return err
	}

	key := ackKey{device: p.DeviceID, crc: wire.FrameCRC(frame)}
	acked := make(chan struct{})
	b.mu.Lock()
	b.acks[key] = append(b.acks[key], acked)
	b.mu.Unlock()
	defer b.dropAckWaiter(key, acked)

	for attempt := 0; attempt <= b.config.AckRetries; attempt++ {
		if err := b.sendFrame(ctx, frame, &p); err != nil {
			return err
		}
		delay := b.config.AckFirstDelay
		if attempt > 0 {
			delay = b.retryDelay()
		}
		timer := time.NewTimer(delay)
		select {
		case <-acked:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	b.logger.Debug("command not acknowledged", "packet", p.String(), "crc", key.crc)
	return fmt.Errorf("%w: %s", ErrNoAck, p.String())
}

// Announce sends the local announce immediately.
func (b *Bus) Announce(ctx context.Context) error {
	b.mu.Lock()
	flags := wire.AnnounceFlags(b.restarts) | wire.AnnounceSupportsACK | wire.AnnounceSupportsFrames
	if b.restarts < uint8(wire.AnnounceRestartCounterSteady) {
		b.restarts++
	}
	classes := make([]uint32, 0, len(b.services)-1)
	for _, svc := range b.services[1:] {
		classes = append(classes, svc.ServiceClass())
	}
	b.mu.Unlock()

	pkt := wire.NewReport(b.config.SelfID, wire.ServiceIndexControl, wire.CmdAnnounce,
		wire.EncodeAnnounce(flags, classes))
	// the local device is part of its own directory
	b.dir.ProcessAnnounce(pkt)
	return b.Send(ctx, pkt)
}

func (b *Bus) announceLoop(ctx context.Context) error {
	for {
		if err := b.Announce(ctx); err != nil && ctx.Err() == nil {
			b.logger.Debug("announce failed", "error", err)
		}
		if err := task.Sleep(ctx, b.config.AnnounceInterval); err != nil {
			return err
		}
	}
}

func (b *Bus) retryDelay() time.Duration {
	spread := b.config.AckRetryMax - b.config.AckRetryMin
	if spread <= 0 {
		return b.config.AckRetryMin
	}
	return b.config.AckRetryMin + time.Duration(rand.Int64N(int64(spread)+1))
}

func (b *Bus) dropAckWaiter(key ackKey, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	waiters := b.acks[key]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(b.acks, key)
	} else {
		b.acks[key] = waiters
	}
}

func (b *Bus) resolveAck(device wire.DeviceID, crc uint16) {
	key := ackKey{device: device, crc: crc}
	b.mu.Lock()
	waiters := b.acks[key]
	delete(b.acks, key)
	b.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func (b *Bus) sendFrame(ctx context.Context, frame []byte, pkt *wire.Packet) error {
	if err := b.config.Transport.Send(ctx, frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", pkt, err)
	}
	b.plog.Log(log.NewPacketEvent(log.DirectionOut, pkt))
	return nil
}

// receive is the transport callback. It never blocks the transport.
func (b *Bus) receive(frame []byte) {
	select {
	case b.inbox <- frame:
	default:
		b.dropped.Add(1)
		b.logger.Debug("receive queue full, frame dropped", "size", len(frame))
	}
}

func (b *Bus) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-b.inbox:
			b.HandleFrame(frame)
		}
	}
}

// HandleFrame decodes and dispatches one inbound frame. It is normally
// called by the receive loop; tests may call it directly.
func (b *Bus) HandleFrame(frame []byte) {
	packets, err := wire.DecodeFrame(frame)
	if err != nil {
		b.logger.Debug("dropping frame", "size", len(frame), "error", err)
		b.plog.Log(log.NewErrorEvent(log.LayerFrame, err, "decode frame"))
		return
	}
	for _, pkt := range packets {
		b.plog.Log(log.NewPacketEvent(log.DirectionIn, pkt))
		b.handlePacket(pkt)
	}
}

func (b *Bus) handlePacket(pkt *wire.Packet) {
	if pkt.IsReport() {
		switch {
		case pkt.IsCRCAck():
			b.resolveAck(pkt.DeviceID, pkt.ServiceCommand)
			return
		case pkt.IsAnnounce():
			if pkt.DeviceID == b.config.SelfID {
				b.logger.Warn("another device announces our identifier")
				return
			}
			b.dir.ProcessAnnounce(pkt)
		}
		b.packets.Publish(pkt)
		return
	}

	if pkt.IsMulticast() {
		class := binary.LittleEndian.Uint32(pkt.DeviceID[:4])
		b.packets.Publish(pkt)
		for _, svc := range b.servicesOfClass(class) {
			svc.HandlePacket(pkt)
		}
		return
	}

	b.packets.Publish(pkt)
	if pkt.DeviceID != b.config.SelfID {
		return
	}
	if pkt.RequiresAck() {
		b.sendAck(pkt)
	}

	if pkt.IsPipe() {
		b.mu.RLock()
		h := b.ports[wire.PipePort(pkt.ServiceCommand)]
		b.mu.RUnlock()
		if h != nil {
			h(pkt)
		}
		return
	}
	if svc, ok := b.Service(pkt.ServiceIndex); ok {
		svc.HandlePacket(pkt)
	}
}

func (b *Bus) sendAck(pkt *wire.Packet) {
	ack := wire.NewReport(b.config.SelfID, wire.ServiceIndexCRCAck, pkt.CRC, nil)
	if err := b.Send(b.Context(), ack); err != nil {
		b.logger.Debug("ack failed", "crc", pkt.CRC, "error", err)
	}
}

func (b *Bus) servicesOfClass(class uint32) []Service {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Service
	for _, svc := range b.services[1:] {
		if svc.ServiceClass() == class {
			out = append(out, svc)
		}
	}
	return out
}
