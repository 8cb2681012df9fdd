package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/task"
)

// ClientState is the link state of a Client.
type ClientState uint8

const (
	// ClientDisconnected means no link; a reconnect is pending.
	ClientDisconnected ClientState = iota

	// ClientConnecting means a dial is in progress.
	ClientConnecting

	// ClientConnected means frames flow in both directions.
	ClientConnected

	// ClientClosed means Close was called.
	ClientClosed
)

// String returns the state name.
func (s ClientState) String() string {
	switch s {
	case ClientDisconnected:
		return "DISCONNECTED"
	case ClientConnecting:
		return "CONNECTING"
	case ClientConnected:
		return "CONNECTED"
	case ClientClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DefaultConnectTimeout bounds a single dial.
const DefaultConnectTimeout = 5 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// Address of the hub (host:port).
	Address string

	// ConnectTimeout bounds each dial (default: 5s).
	ConnectTimeout time.Duration

	// Backoff configures the delay between reconnect attempts.
	Backoff BackoffConfig

	// Logger receives operational messages. Nil discards them.
	Logger *slog.Logger

	// ProtocolLogger captures frames on this link (optional).
	ProtocolLogger log.Logger

	// OnStateChange is called on every link state transition.
	OnStateChange func(old, new ClientState)
}

// Client is a Transport that attaches to a Hub over TCP and reconnects
// with exponential backoff whenever the link drops.
type Client struct {
	config  ClientConfig
	logger  *slog.Logger
	backoff *Backoff

	mu        sync.Mutex
	state     ClientState
	framer    *Framer
	receiver  Receiver
	connected chan struct{}

	run *task.Task
}

// NewClient creates a client. Call Start to begin connecting.
func NewClient(config ClientConfig) *Client {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		config:    config,
		logger:    logger,
		backoff:   NewBackoff(config.Backoff),
		connected: make(chan struct{}),
	}
}

// Start launches the connect loop. It returns immediately.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ClientClosed {
		return ErrClosed
	}
	if c.run != nil {
		return errors.New("client already started")
	}
	c.run = task.Go(ctx, c.loop)
	return nil
}

// WaitConnected blocks until the link is up or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	ch := c.connected
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current link state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send writes one frame to the hub.
func (c *Client) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	framer, state := c.framer, c.state
	c.mu.Unlock()

	switch {
	case state == ClientClosed:
		return ErrClosed
	case framer == nil:
		return ErrNotConnected
	}
	return framer.WriteFrame(frame)
}

// SetReceiver installs the frame callback.
func (c *Client) SetReceiver(fn Receiver) {
	c.mu.Lock()
	c.receiver = fn
	c.mu.Unlock()
}

// Connected reports whether the link is up.
func (c *Client) Connected() bool {
	return c.State() == ClientConnected
}

// Close stops reconnecting and drops the link.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == ClientClosed {
		c.mu.Unlock()
		return nil
	}
	run := c.run
	c.mu.Unlock()

	if run != nil {
		run.Stop()
	}
	c.setState(ClientClosed)
	return nil
}

func (c *Client) loop(ctx context.Context) error {
	for {
		c.setState(ClientConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.setState(ClientDisconnected)
			delay := c.backoff.Next()
			c.logger.Debug("hub dial failed", "addr", c.config.Address, "error", err,
				"attempt", c.backoff.Attempts(), "retry_in", delay)
			if err := task.Sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		c.backoff.Reset()
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.setState(ClientDisconnected)
		if err := task.Sleep(ctx, c.backoff.Next()); err != nil {
			return err
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", c.config.Address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return conn, nil
}

// serve runs the read side of one link until it fails or ctx is done.
func (c *Client) serve(ctx context.Context, conn net.Conn) {
	connID := uuid.New().String()
	framer := NewFramer(conn)
	if c.config.ProtocolLogger != nil {
		framer.SetLogger(c.config.ProtocolLogger, connID)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	c.mu.Lock()
	c.framer = framer
	c.mu.Unlock()
	c.setState(ClientConnected)
	c.logger.Info("connected to hub", "addr", c.config.Address, "conn", connID)

	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				c.logger.Debug("hub read failed", "conn", connID, "error", err)
			}
			break
		}
		c.mu.Lock()
		fn := c.receiver
		c.mu.Unlock()
		if fn != nil {
			fn(frame)
		}
	}

	c.mu.Lock()
	c.framer = nil
	c.mu.Unlock()
	c.logger.Info("disconnected from hub", "addr", c.config.Address, "conn", connID)
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	old := c.state
	if old == s || old == ClientClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	switch {
	case s == ClientConnected:
		close(c.connected)
	case old == ClientConnected:
		c.connected = make(chan struct{})
	}
	c.mu.Unlock()

	if c.config.ProtocolLogger != nil {
		ev := log.NewStateEvent(log.StateEntityConnection, c.config.Address, old.String(), s.String(), "")
		ev.Layer = log.LayerTransport
		c.config.ProtocolLogger.Log(ev)
	}
	if c.config.OnStateChange != nil {
		c.config.OnStateChange(old, s)
	}
}

var _ Transport = (*Client)(nil)
