package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wirebus/wirebus-go/pkg/log"
)

// DefaultHubAddress is the listen address used when none is configured.
const DefaultHubAddress = ":8642"

// HubConfig configures a Hub.
type HubConfig struct {
	// Address to listen on (e.g. ":8642" or "127.0.0.1:0").
	Address string

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger

	// ProtocolLogger captures every frame relayed by the hub (optional).
	ProtocolLogger log.Logger

	// OnConnect is called when a participant joins.
	OnConnect func(conn *HubConn)

	// OnDisconnect is called when a participant leaves.
	OnDisconnect func(conn *HubConn)
}

// Hub is a TCP relay that plays the role of the shared wire: every frame a
// participant sends is forwarded to all other participants.
type Hub struct {
	config   HubConfig
	logger   *slog.Logger
	listener net.Listener

	conns   map[*HubConn]struct{}
	connsMu sync.RWMutex

	relayed atomic.Uint64

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHub creates a hub. Call Start to begin listening.
func NewHub(config HubConfig) *Hub {
	if config.Address == "" {
		config.Address = DefaultHubAddress
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		config: config,
		logger: logger,
		conns:  make(map[*HubConn]struct{}),
	}
}

// Start begins accepting participants.
func (h *Hub) Start(ctx context.Context) error {
	if h.running.Load() {
		return errors.New("hub already running")
	}

	listener, err := net.Listen("tcp", h.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	h.listener = listener
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running.Store(true)

	h.logger.Info("hub listening", "addr", listener.Addr().String())

	h.wg.Add(1)
	go h.acceptLoop()
	return nil
}

// Stop closes the listener and every participant connection.
func (h *Hub) Stop() error {
	if !h.running.Swap(false) {
		return nil
	}
	h.cancel()
	h.listener.Close()

	h.connsMu.Lock()
	for conn := range h.conns {
		conn.Close()
	}
	h.connsMu.Unlock()

	h.wg.Wait()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (h *Hub) Addr() net.Addr {
	if h.listener != nil {
		return h.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of connected participants.
func (h *Hub) ConnectionCount() int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return len(h.conns)
}

// Relayed returns the number of frames received and forwarded.
func (h *Hub) Relayed() uint64 {
	return h.relayed.Load()
}

func (h *Hub) acceptLoop() {
	defer h.wg.Done()

	for h.running.Load() {
		conn, err := h.listener.Accept()
		if err != nil {
			if h.running.Load() {
				h.logger.Warn("accept failed", "error", err)
			}
			continue
		}
		h.wg.Add(1)
		go h.handleConnection(conn)
	}
}

func (h *Hub) handleConnection(conn net.Conn) {
	defer h.wg.Done()

	connID := uuid.New().String()
	framer := NewFramer(conn)
	if h.config.ProtocolLogger != nil {
		framer.SetLogger(h.config.ProtocolLogger, connID)
	}

	hc := &HubConn{
		conn:    conn,
		framer:  framer,
		connID:  connID,
		closeCh: make(chan struct{}),
	}

	h.connsMu.Lock()
	h.conns[hc] = struct{}{}
	h.connsMu.Unlock()

	h.logState(hc, "", "CONNECTED")
	h.logger.Debug("participant connected", "conn", connID, "remote", conn.RemoteAddr().String())
	if h.config.OnConnect != nil {
		h.config.OnConnect(hc)
	}

	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !hc.isClosed() && h.running.Load() {
				h.logger.Debug("participant read failed", "conn", connID, "error", err)
			}
			break
		}
		h.relayed.Add(1)
		h.relay(hc, frame)
	}

	h.connsMu.Lock()
	delete(h.conns, hc)
	h.connsMu.Unlock()
	hc.Close()

	h.logState(hc, "CONNECTED", "DISCONNECTED")
	h.logger.Debug("participant disconnected", "conn", connID)
	if h.config.OnDisconnect != nil {
		h.config.OnDisconnect(hc)
	}
}

func (h *Hub) relay(from *HubConn, frame []byte) {
	h.connsMu.RLock()
	targets := make([]*HubConn, 0, len(h.conns))
	for c := range h.conns {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.connsMu.RUnlock()

	for _, c := range targets {
		if err := c.Send(frame); err != nil {
			h.logger.Debug("relay failed", "conn", c.connID, "error", err)
		}
	}
}

func (h *Hub) logState(hc *HubConn, oldState, newState string) {
	if h.config.ProtocolLogger == nil {
		return
	}
	ev := log.NewStateEvent(log.StateEntityConnection, hc.connID, oldState, newState, "")
	ev.Layer = log.LayerTransport
	ev.ConnectionID = hc.connID
	ev.RemoteAddr = hc.conn.RemoteAddr().String()
	h.config.ProtocolLogger.Log(ev)
}

// HubConn is one participant connected to a Hub.
type HubConn struct {
	conn      net.Conn
	framer    *Framer
	connID    string
	closeCh   chan struct{}
	closeOnce sync.Once
}

// ConnID returns the unique connection identifier.
func (c *HubConn) ConnID() string {
	return c.connID
}

// RemoteAddr returns the participant's address.
func (c *HubConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one frame to the participant.
func (c *HubConn) Send(frame []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.framer.WriteFrame(frame)
}

// Close closes the participant connection.
func (c *HubConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *HubConn) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}
